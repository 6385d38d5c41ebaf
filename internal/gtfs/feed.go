// Package gtfs reads Renfe's static GTFS feeds and fetches realtime
// snapshots. The static side opens the published zip, parses the CSV
// members tolerantly and turns stops and levels into model records; the
// download side keeps dated copies on disk with resume and deduplication.
package gtfs

import (
	"archive/zip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/adiftools/stopscrap/internal/models"
)

// Feed is a GTFS zip opened for reading. Member files are parsed lazily,
// one pass per call.
type Feed struct {
	zr     *zip.Reader
	closer io.Closer
}

// OpenFeed opens a GTFS zip from disk
func OpenFeed(path string) (*Feed, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open gtfs %s: %w", path, err)
	}
	return &Feed{zr: &rc.Reader, closer: rc}, nil
}

// NewFeed reads a GTFS zip already held in memory
func NewFeed(r io.ReaderAt, size int64) (*Feed, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("open gtfs: %w", err)
	}
	return &Feed{zr: zr}, nil
}

// Close releases the underlying zip file
func (f *Feed) Close() error {
	if f.closer != nil {
		return f.closer.Close()
	}
	return nil
}

func (f *Feed) findFile(name string) (*zip.File, error) {
	for _, file := range f.zr.File {
		if strings.EqualFold(file.Name, name) {
			return file, nil
		}
	}
	return nil, fmt.Errorf("%s not found in feed", name)
}

// eachRecord parses one member file and hands every data row to fn along
// with the header index. Malformed rows are skipped, not fatal; real feeds
// carry quoting glitches and ragged records.
func (f *Feed) eachRecord(name string, fn func(idx map[string]int, record []string)) error {
	file, err := f.findFile(name)
	if err != nil {
		return err
	}
	rc, err := file.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()

	reader := csv.NewReader(rc)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read %s header: %w", name, err)
	}
	idx := headerIndex(header)

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Debug().Msgf("skipping malformed record in %s: %v", name, err)
			continue
		}
		fn(idx, record)
	}
	return nil
}

func headerIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, field := range header {
		field = strings.TrimPrefix(field, "﻿") // exports often lead with a BOM
		idx[strings.TrimSpace(strings.ToLower(field))] = i
	}
	return idx
}

func safeField(record []string, idx map[string]int, key string) string {
	if pos, ok := idx[key]; ok && pos < len(record) {
		return strings.TrimSpace(record[pos])
	}
	return ""
}

func optField(record []string, idx map[string]int, key string) *string {
	if v := safeField(record, idx, key); v != "" {
		return &v
	}
	return nil
}

func optFloat(record []string, idx map[string]int, key string) *float64 {
	v := safeField(record, idx, key)
	if v == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &parsed
}

// Stops parses stops.txt into stop models and reports how many rows were
// dropped for missing a stop_id. Unparseable enums and coordinates degrade
// to nil rather than killing the import. Renfe names the parent column
// parent_station_id while the GTFS reference calls it parent_station; both
// are accepted and the Renfe spelling wins when present.
func (f *Feed) Stops() ([]models.Stop, int, error) {
	var stops []models.Stop
	skipped := 0
	err := f.eachRecord("stops.txt", func(idx map[string]int, record []string) {
		stopID := safeField(record, idx, "stop_id")
		if stopID == "" {
			skipped++
			return
		}

		parentKey := "parent_station"
		if _, ok := idx["parent_station_id"]; ok {
			parentKey = "parent_station_id"
		}

		stops = append(stops, models.Stop{
			StopID:             stopID,
			StopCode:           optField(record, idx, "stop_code"),
			StopName:           optField(record, idx, "stop_name"),
			TTSStopName:        optField(record, idx, "tts_stop_name"),
			StopDesc:           optField(record, idx, "stop_desc"),
			StopLat:            optFloat(record, idx, "stop_lat"),
			StopLon:            optFloat(record, idx, "stop_lon"),
			ZoneID:             optField(record, idx, "zone_id"),
			StopURL:            optField(record, idx, "stop_url"),
			LocationType:       models.ParseLocationType(safeField(record, idx, "location_type")),
			ParentStationID:    optField(record, idx, parentKey),
			StopTimezone:       optField(record, idx, "stop_timezone"),
			WheelchairBoarding: models.ParseWheelchairBoarding(safeField(record, idx, "wheelchair_boarding")),
			LevelID:            optField(record, idx, "level_id"),
			PlatformCode:       optField(record, idx, "platform_code"),
		})
	})
	if err != nil {
		return nil, 0, err
	}
	return stops, skipped, nil
}

// Levels parses levels.txt. Rows missing an id or a numeric index are
// counted and dropped.
func (f *Feed) Levels() ([]models.Level, int, error) {
	var levels []models.Level
	skipped := 0
	err := f.eachRecord("levels.txt", func(idx map[string]int, record []string) {
		levelID := safeField(record, idx, "level_id")
		index := optFloat(record, idx, "level_index")
		if levelID == "" || index == nil {
			skipped++
			return
		}
		levels = append(levels, models.Level{
			LevelID:    levelID,
			LevelIndex: *index,
			LevelName:  optField(record, idx, "level_name"),
		})
	})
	if err != nil {
		return nil, 0, err
	}
	return levels, skipped, nil
}

// Version returns feed_info.txt's feed_version, or "" when absent
func (f *Feed) Version() string {
	version := ""
	if err := f.eachRecord("feed_info.txt", func(idx map[string]int, record []string) {
		if version == "" {
			version = safeField(record, idx, "feed_version")
		}
	}); err != nil {
		return ""
	}
	return version
}

// Route the routes.txt fields the inspector prints
type Route struct {
	RouteID   string
	ShortName string
	LongName  string
}

// Trip one trips.txt row
type Trip struct {
	TripID    string
	RouteID   string
	ServiceID string
	Headsign  string
}

// StopTime one stop_times.txt row of a trip
type StopTime struct {
	TripID       string
	StopID       string
	Arrival      string
	Departure    string
	StopSequence int
}

// Service the weekly pattern and date exceptions of one service_id.
// Dates keep GTFS's YYYYMMDD spelling.
type Service struct {
	ServiceID string
	Weekdays  [7]bool // Monday first
	StartDate string
	EndDate   string
	Added     []string // exception_type 1
	Removed   []string // exception_type 2
}

// RoutesByShortName returns the routes whose short name matches, case
// insensitively. An empty shortName returns every route.
func (f *Feed) RoutesByShortName(shortName string) ([]Route, error) {
	var routes []Route
	err := f.eachRecord("routes.txt", func(idx map[string]int, record []string) {
		r := Route{
			RouteID:   safeField(record, idx, "route_id"),
			ShortName: safeField(record, idx, "route_short_name"),
			LongName:  safeField(record, idx, "route_long_name"),
		}
		if r.RouteID == "" {
			return
		}
		if shortName != "" && !strings.EqualFold(r.ShortName, shortName) {
			return
		}
		routes = append(routes, r)
	})
	if err != nil {
		return nil, err
	}
	return routes, nil
}

// TripsForRoute lists the trips that run on one route
func (f *Feed) TripsForRoute(routeID string) ([]Trip, error) {
	var trips []Trip
	err := f.eachRecord("trips.txt", func(idx map[string]int, record []string) {
		t := tripFromRecord(idx, record)
		if t.TripID == "" || t.RouteID != routeID {
			return
		}
		trips = append(trips, t)
	})
	if err != nil {
		return nil, err
	}
	return trips, nil
}

// TripByID finds one trip
func (f *Feed) TripByID(tripID string) (Trip, error) {
	var (
		trip  Trip
		found bool
	)
	err := f.eachRecord("trips.txt", func(idx map[string]int, record []string) {
		if found {
			return
		}
		t := tripFromRecord(idx, record)
		if t.TripID == tripID {
			trip = t
			found = true
		}
	})
	if err != nil {
		return Trip{}, err
	}
	if !found {
		return Trip{}, fmt.Errorf("trip %s not found in feed", tripID)
	}
	return trip, nil
}

func tripFromRecord(idx map[string]int, record []string) Trip {
	return Trip{
		TripID:    safeField(record, idx, "trip_id"),
		RouteID:   safeField(record, idx, "route_id"),
		ServiceID: safeField(record, idx, "service_id"),
		Headsign:  safeField(record, idx, "trip_headsign"),
	}
}

// ServiceFor assembles the calendar row and the calendar_dates exceptions
// of one service id. Feeds may carry either file or both; a missing member
// just leaves its part empty.
func (f *Feed) ServiceFor(serviceID string) (Service, error) {
	svc := Service{ServiceID: serviceID}

	weekdays := []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}
	if err := f.eachRecord("calendar.txt", func(idx map[string]int, record []string) {
		if safeField(record, idx, "service_id") != serviceID {
			return
		}
		for i, day := range weekdays {
			svc.Weekdays[i] = safeField(record, idx, day) == "1"
		}
		svc.StartDate = safeField(record, idx, "start_date")
		svc.EndDate = safeField(record, idx, "end_date")
	}); err != nil {
		log.Debug().Msgf("no calendar entry for %s: %v", serviceID, err)
	}

	if err := f.eachRecord("calendar_dates.txt", func(idx map[string]int, record []string) {
		if safeField(record, idx, "service_id") != serviceID {
			return
		}
		date := safeField(record, idx, "date")
		switch safeField(record, idx, "exception_type") {
		case "1":
			svc.Added = append(svc.Added, date)
		case "2":
			svc.Removed = append(svc.Removed, date)
		}
	}); err != nil {
		log.Debug().Msgf("no calendar exceptions for %s: %v", serviceID, err)
	}

	sort.Strings(svc.Added)
	sort.Strings(svc.Removed)
	return svc, nil
}

// StopTimesForTrip returns a trip's stop_times sorted by stop_sequence
func (f *Feed) StopTimesForTrip(tripID string) ([]StopTime, error) {
	var times []StopTime
	err := f.eachRecord("stop_times.txt", func(idx map[string]int, record []string) {
		if safeField(record, idx, "trip_id") != tripID {
			return
		}
		seq := 0
		if v := safeField(record, idx, "stop_sequence"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				seq = parsed
			}
		}
		times = append(times, StopTime{
			TripID:       tripID,
			StopID:       safeField(record, idx, "stop_id"),
			Arrival:      safeField(record, idx, "arrival_time"),
			Departure:    safeField(record, idx, "departure_time"),
			StopSequence: seq,
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(times, func(i, j int) bool { return times[i].StopSequence < times[j].StopSequence })
	return times, nil
}

// FirstDeparture the departure at the lowest stop_sequence, "" for an
// empty trip. Expects the sorted output of StopTimesForTrip.
func FirstDeparture(times []StopTime) string {
	if len(times) == 0 {
		return ""
	}
	return times[0].Departure
}
