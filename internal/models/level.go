package models

import "fmt"

// Level a station level from levels.txt
type Level struct {
	LevelID    string  `json:"level_id"`             // primary key
	LevelIndex float64 `json:"level_index"`          // relative height, ground is 0
	LevelName  *string `json:"level_name,omitempty"` // rider-facing label
}

// Validate checks required fields
func (l *Level) Validate() error {
	if l.LevelID == "" {
		return fmt.Errorf("level_id must not be empty")
	}
	return nil
}
