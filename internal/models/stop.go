package models

import (
	"fmt"
	"strconv"
)

// LocationType GTFS location_type code
type LocationType int

const (
	LocationStopOrPlatform LocationType = 0 // stop or platform
	LocationStation        LocationType = 1 // physical station
	LocationEntranceExit   LocationType = 2 // station entrance/exit
	LocationGenericNode    LocationType = 3 // pathway node
	LocationBoardingArea   LocationType = 4 // boarding area on a platform
)

func (l LocationType) String() string {
	switch l {
	case LocationStopOrPlatform:
		return "STOP_OR_PLATFORM"
	case LocationStation:
		return "STATION"
	case LocationEntranceExit:
		return "ENTRANCE_EXIT"
	case LocationGenericNode:
		return "GENERIC_NODE"
	case LocationBoardingArea:
		return "BOARDING_AREA"
	default:
		return fmt.Sprintf("LocationType(%d)", int(l))
	}
}

// ParseLocationType reads a GTFS location_type field. Blank or malformed
// values map to nil rather than an error: feeds in the wild carry both.
func ParseLocationType(s string) *LocationType {
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 4 {
		return nil
	}
	l := LocationType(n)
	return &l
}

// WheelchairBoarding GTFS wheelchair_boarding code
type WheelchairBoarding int

const (
	WheelchairNoInformation WheelchairBoarding = 0
	WheelchairSomeYes       WheelchairBoarding = 1
	WheelchairNo            WheelchairBoarding = 2
)

func (w WheelchairBoarding) String() string {
	switch w {
	case WheelchairNoInformation:
		return "NO_INFORMATION"
	case WheelchairSomeYes:
		return "SOME_YES"
	case WheelchairNo:
		return "NO"
	default:
		return fmt.Sprintf("WheelchairBoarding(%d)", int(w))
	}
}

// ParseWheelchairBoarding reads a GTFS wheelchair_boarding field with the
// same tolerance as ParseLocationType.
func ParseWheelchairBoarding(s string) *WheelchairBoarding {
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 2 {
		return nil
	}
	w := WheelchairBoarding(n)
	return &w
}

// Stop a station, platform or related node from stops.txt
type Stop struct {
	StopID             string              `json:"stop_id"`                       // primary key
	StopCode           *string             `json:"stop_code,omitempty"`           // rider-facing short code
	StopName           *string             `json:"stop_name,omitempty"`           // display name
	TTSStopName        *string             `json:"tts_stop_name,omitempty"`       // text-to-speech name
	StopDesc           *string             `json:"stop_desc,omitempty"`           // free-form description
	StopLat            *float64            `json:"stop_lat,omitempty"`            // WGS84 latitude
	StopLon            *float64            `json:"stop_lon,omitempty"`            // WGS84 longitude
	ZoneID             *string             `json:"zone_id,omitempty"`             // fare zone
	StopURL            *string             `json:"stop_url,omitempty"`            // agency page for the stop
	LocationType       *LocationType       `json:"location_type,omitempty"`       // nil when the feed omits it
	ParentStationID    *string             `json:"parent_station_id,omitempty"`   // FK to the enclosing station
	StopTimezone       *string             `json:"stop_timezone,omitempty"`       // overrides agency timezone
	WheelchairBoarding *WheelchairBoarding `json:"wheelchair_boarding,omitempty"` // nil when the feed omits it
	LevelID            *string             `json:"level_id,omitempty"`            // FK to levels
	PlatformCode       *string             `json:"platform_code,omitempty"`       // platform identifier
}

// Validate checks required fields and coordinate ranges
func (s *Stop) Validate() error {
	if s.StopID == "" {
		return fmt.Errorf("stop_id must not be empty")
	}
	if s.StopLat != nil && (*s.StopLat < -90 || *s.StopLat > 90) {
		return fmt.Errorf("stop_lat must be between -90 and 90, got %f", *s.StopLat)
	}
	if s.StopLon != nil && (*s.StopLon < -180 || *s.StopLon > 180) {
		return fmt.Errorf("stop_lon must be between -180 and 180, got %f", *s.StopLon)
	}
	if s.LocationType != nil && (*s.LocationType < 0 || *s.LocationType > 4) {
		return fmt.Errorf("location_type must be between 0 and 4, got %d", *s.LocationType)
	}
	if s.WheelchairBoarding != nil && (*s.WheelchairBoarding < 0 || *s.WheelchairBoarding > 2) {
		return fmt.Errorf("wheelchair_boarding must be between 0 and 2, got %d", *s.WheelchairBoarding)
	}
	return nil
}
