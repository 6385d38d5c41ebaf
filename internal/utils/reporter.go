package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// Reporter writes command results as JSON files under a reports directory,
// so audits of the scraper can be diffed between runs.
type Reporter struct {
	outputDir string
}

// NewReporter creates a reporter rooted at outputDir
func NewReporter(outputDir string) *Reporter {
	return &Reporter{outputDir: outputDir}
}

// Save writes data as indented JSON to <outputDir>/reports/<filename> and
// returns the full path.
func (r *Reporter) Save(filename string, data any) (string, error) {
	reportsDir := filepath.Join(r.outputDir, "reports")
	if err := os.MkdirAll(reportsDir, 0755); err != nil {
		return "", fmt.Errorf("creating reports directory: %w", err)
	}

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding report: %w", err)
	}

	path := filepath.Join(reportsDir, filename)
	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return "", fmt.Errorf("writing report file: %w", err)
	}

	log.Debug().Msgf("saved report: %s", path)
	return path, nil
}
