package gtfs

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/adiftools/stopscrap/internal/models"
)

func buildFeed(t *testing.T, files map[string]string) *Feed {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("creating %s in fixture: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("writing %s in fixture: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing fixture zip: %v", err)
	}
	feed, err := NewFeed(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("NewFeed() error = %v", err)
	}
	return feed
}

func TestFeedStops(t *testing.T) {
	feed := buildFeed(t, map[string]string{
		"stops.txt": "﻿stop_id,stop_name,stop_lat,stop_lon,location_type,parent_station_id,wheelchair_boarding\n" +
			"71801,BARCELONA-SANTS,41.379777,2.140572,1,,1\n" +
			"71801-1,Andana 1,41.379777,2.140572,0,71801,\n" +
			",Fantasma,0,0,,,\n" +
			"79009,MALGRAT DE MAR,41.645004,not-a-number,9,,\n",
	})

	stops, skipped, err := feed.Stops()
	if err != nil {
		t.Fatalf("Stops() error = %v", err)
	}
	if skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}
	if len(stops) != 3 {
		t.Fatalf("Stops() returned %d stops, want 3", len(stops))
	}

	sants := stops[0]
	if sants.StopID != "71801" {
		t.Errorf("StopID = %s, want 71801", sants.StopID)
	}
	if sants.StopName == nil || *sants.StopName != "BARCELONA-SANTS" {
		t.Errorf("StopName = %v, want BARCELONA-SANTS", sants.StopName)
	}
	if sants.StopLat == nil || *sants.StopLat != 41.379777 {
		t.Errorf("StopLat = %v, want 41.379777", sants.StopLat)
	}
	if sants.LocationType == nil || *sants.LocationType != models.LocationStation {
		t.Errorf("LocationType = %v, want STATION", sants.LocationType)
	}
	if sants.WheelchairBoarding == nil || *sants.WheelchairBoarding != models.WheelchairSomeYes {
		t.Errorf("WheelchairBoarding = %v, want SOME_YES", sants.WheelchairBoarding)
	}

	platform := stops[1]
	if platform.ParentStationID == nil || *platform.ParentStationID != "71801" {
		t.Errorf("ParentStationID = %v, want 71801", platform.ParentStationID)
	}

	malgrat := stops[2]
	if malgrat.StopLon != nil {
		t.Errorf("StopLon = %v, want nil for unparseable value", malgrat.StopLon)
	}
	if malgrat.LocationType != nil {
		t.Errorf("LocationType = %v, want nil for out-of-range value", malgrat.LocationType)
	}
}

func TestFeedStopsParentStationFallback(t *testing.T) {
	feed := buildFeed(t, map[string]string{
		"stops.txt": "stop_id,stop_name,parent_station\n71802,Sant Andreu Comtal,71801\n",
	})

	stops, _, err := feed.Stops()
	if err != nil {
		t.Fatalf("Stops() error = %v", err)
	}
	if len(stops) != 1 {
		t.Fatalf("Stops() returned %d stops, want 1", len(stops))
	}
	if stops[0].ParentStationID == nil || *stops[0].ParentStationID != "71801" {
		t.Errorf("ParentStationID = %v, want 71801 from parent_station column", stops[0].ParentStationID)
	}
}

func TestFeedStopsMissingMember(t *testing.T) {
	feed := buildFeed(t, map[string]string{"routes.txt": "route_id\nR2N\n"})
	if _, _, err := feed.Stops(); err == nil {
		t.Error("Stops() error = nil, want missing stops.txt failure")
	}
}

func TestFeedLevels(t *testing.T) {
	feed := buildFeed(t, map[string]string{
		"levels.txt": "level_id,level_index,level_name\n" +
			"L0,0,Carrer\n" +
			"L-1,-1,Andanes\n" +
			",2,Sense id\n" +
			"L9,alt,Index dolent\n",
	})

	levels, skipped, err := feed.Levels()
	if err != nil {
		t.Fatalf("Levels() error = %v", err)
	}
	if skipped != 2 {
		t.Errorf("skipped = %d, want 2", skipped)
	}
	if len(levels) != 2 {
		t.Fatalf("Levels() returned %d levels, want 2", len(levels))
	}
	if levels[1].LevelID != "L-1" || levels[1].LevelIndex != -1 {
		t.Errorf("levels[1] = %+v, want L-1 at index -1", levels[1])
	}
}

func TestFeedVersion(t *testing.T) {
	feed := buildFeed(t, map[string]string{
		"feed_info.txt": "feed_publisher_name,feed_version\nRenfe,2025-03-01\n",
	})
	if got := feed.Version(); got != "2025-03-01" {
		t.Errorf("Version() = %q, want 2025-03-01", got)
	}

	bare := buildFeed(t, map[string]string{"stops.txt": "stop_id\n71801\n"})
	if got := bare.Version(); got != "" {
		t.Errorf("Version() = %q, want empty for feed without feed_info.txt", got)
	}
}

func TestOpenFeedFromDisk(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("stops.txt")
	if err != nil {
		t.Fatalf("creating fixture member: %v", err)
	}
	if _, err := w.Write([]byte("stop_id,stop_name\n71801,BARCELONA-SANTS\n")); err != nil {
		t.Fatalf("writing fixture member: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing fixture zip: %v", err)
	}

	path := filepath.Join(t.TempDir(), "gtfs.zip")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("writing fixture zip: %v", err)
	}

	feed, err := OpenFeed(path)
	if err != nil {
		t.Fatalf("OpenFeed() error = %v", err)
	}
	defer feed.Close()

	stops, _, err := feed.Stops()
	if err != nil {
		t.Fatalf("Stops() error = %v", err)
	}
	if len(stops) != 1 || stops[0].StopID != "71801" {
		t.Errorf("Stops() = %+v, want single stop 71801", stops)
	}
}

func TestRoutesByShortName(t *testing.T) {
	feed := buildFeed(t, map[string]string{
		"routes.txt": "route_id,route_short_name,route_long_name\n" +
			"51T0291,R2N,Aeroport - Sant Celoni\n" +
			"51T0290,R2S,Estació de França - Vilanova\n" +
			"51T0301,R3,L'Hospitalet - La Tor de Querol\n",
	})

	matches, err := feed.RoutesByShortName("r2n")
	if err != nil {
		t.Fatalf("RoutesByShortName() error = %v", err)
	}
	if len(matches) != 1 || matches[0].RouteID != "51T0291" {
		t.Errorf("RoutesByShortName(r2n) = %+v, want 51T0291", matches)
	}

	all, err := feed.RoutesByShortName("")
	if err != nil {
		t.Fatalf("RoutesByShortName() error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("RoutesByShortName(\"\") returned %d routes, want 3", len(all))
	}
}

func TestTripLookups(t *testing.T) {
	feed := buildFeed(t, map[string]string{
		"trips.txt": "route_id,service_id,trip_id,trip_headsign\n" +
			"51T0291,WD,T1,Sant Celoni\n" +
			"51T0291,WE,T2,Aeroport\n" +
			"51T0301,WD,T3,Puigcerdà\n",
	})

	trips, err := feed.TripsForRoute("51T0291")
	if err != nil {
		t.Fatalf("TripsForRoute() error = %v", err)
	}
	if len(trips) != 2 {
		t.Fatalf("TripsForRoute() returned %d trips, want 2", len(trips))
	}

	trip, err := feed.TripByID("T3")
	if err != nil {
		t.Fatalf("TripByID() error = %v", err)
	}
	want := Trip{TripID: "T3", RouteID: "51T0301", ServiceID: "WD", Headsign: "Puigcerdà"}
	if trip != want {
		t.Errorf("TripByID(T3) = %+v, want %+v", trip, want)
	}

	if _, err := feed.TripByID("missing"); err == nil {
		t.Error("TripByID(missing) error = nil, want not found")
	}
}

func TestServiceFor(t *testing.T) {
	feed := buildFeed(t, map[string]string{
		"calendar.txt": "service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date\n" +
			"WD,1,1,1,1,1,0,0,20250301,20250630\n",
		"calendar_dates.txt": "service_id,date,exception_type\n" +
			"WD,20250418,2\n" +
			"WD,20250321,1\n" +
			"WE,20250322,1\n",
	})

	svc, err := feed.ServiceFor("WD")
	if err != nil {
		t.Fatalf("ServiceFor() error = %v", err)
	}
	if svc.StartDate != "20250301" || svc.EndDate != "20250630" {
		t.Errorf("service window = %s..%s, want 20250301..20250630", svc.StartDate, svc.EndDate)
	}
	wantDays := [7]bool{true, true, true, true, true, false, false}
	if svc.Weekdays != wantDays {
		t.Errorf("Weekdays = %v, want %v", svc.Weekdays, wantDays)
	}
	if !reflect.DeepEqual(svc.Added, []string{"20250321"}) {
		t.Errorf("Added = %v, want [20250321]", svc.Added)
	}
	if !reflect.DeepEqual(svc.Removed, []string{"20250418"}) {
		t.Errorf("Removed = %v, want [20250418]", svc.Removed)
	}
}

func TestServiceForWithoutCalendar(t *testing.T) {
	feed := buildFeed(t, map[string]string{
		"calendar_dates.txt": "service_id,date,exception_type\nHOL,20250101,1\n",
	})

	svc, err := feed.ServiceFor("HOL")
	if err != nil {
		t.Fatalf("ServiceFor() error = %v", err)
	}
	if svc.StartDate != "" {
		t.Errorf("StartDate = %q, want empty without calendar.txt", svc.StartDate)
	}
	if !reflect.DeepEqual(svc.Added, []string{"20250101"}) {
		t.Errorf("Added = %v, want [20250101]", svc.Added)
	}
}

func TestStopTimesForTrip(t *testing.T) {
	feed := buildFeed(t, map[string]string{
		"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
			"T1,06:31:00,06:32:00,72210,3\n" +
			"T1,06:05:00,06:05:30,71801,1\n" +
			"T2,07:00:00,07:00:30,71801,1\n" +
			"T1,06:15:00,06:16:00,79009,2\n",
	})

	times, err := feed.StopTimesForTrip("T1")
	if err != nil {
		t.Fatalf("StopTimesForTrip() error = %v", err)
	}
	if len(times) != 3 {
		t.Fatalf("StopTimesForTrip() returned %d rows, want 3", len(times))
	}
	for i := 1; i < len(times); i++ {
		if times[i-1].StopSequence > times[i].StopSequence {
			t.Errorf("rows out of order: seq %d before %d", times[i-1].StopSequence, times[i].StopSequence)
		}
	}
	if got := FirstDeparture(times); got != "06:05:30" {
		t.Errorf("FirstDeparture() = %q, want 06:05:30", got)
	}
	if got := FirstDeparture(nil); got != "" {
		t.Errorf("FirstDeparture(nil) = %q, want empty", got)
	}
}
