package gtfs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

func newTestFetcher(cfg RealtimeConfig) *RealtimeFetcher {
	rf := NewRealtimeFetcher(cfg)
	rf.now = func() time.Time { return time.Date(2025, 3, 14, 9, 0, 5, 0, time.UTC) }
	return rf
}

func TestRealtimeFetchSavesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("request carried no User-Agent")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"entity":[{"id":"1"}]}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	rf := newTestFetcher(RealtimeConfig{URL: srv.URL, OutDir: dir})

	path, err := rf.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	want := filepath.Join(dir, "2025-03-14-09-00-05-renfe.json")
	if path != want {
		t.Errorf("Fetch() path = %s, want %s", path, want)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading snapshot: %v", err)
	}
	if !strings.Contains(string(data), "\n  \"entity\"") {
		t.Errorf("snapshot not indented: %q", data)
	}
}

func TestRealtimeFetchAbortsOnAccessDenied(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	rf := newTestFetcher(RealtimeConfig{URL: srv.URL, OutDir: t.TempDir()})
	_, err := rf.Fetch(context.Background())
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("Fetch() error = %v, want ErrAccessDenied", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server saw %d requests, want 1 (no retry on denial)", got)
	}
}

func TestRealtimeFetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"entity":[]}`))
	}))
	defer srv.Close()

	rf := newTestFetcher(RealtimeConfig{URL: srv.URL, OutDir: t.TempDir(), MaxAttempts: 3})
	if _, err := rf.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server saw %d requests, want 2", got)
	}
}

func TestRealtimeFetchRejectsUnparseableBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>maintenance</html>"))
	}))
	defer srv.Close()

	rf := newTestFetcher(RealtimeConfig{URL: srv.URL, OutDir: t.TempDir(), MaxAttempts: 1})
	if _, err := rf.Fetch(context.Background()); err == nil {
		t.Error("Fetch() error = nil, want parse failure")
	}
}

func TestRealtimeFetchProtobuf(t *testing.T) {
	feed := &gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{GtfsRealtimeVersion: proto.String("2.0")},
		Entity: []*gtfsrt.FeedEntity{
			{Id: proto.String("vehicle-1")},
			{Id: proto.String("vehicle-2")},
		},
	}
	raw, err := proto.Marshal(feed)
	if err != nil {
		t.Fatalf("building fixture message: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-protobuf")
		w.Write(raw)
	}))
	defer srv.Close()

	dir := t.TempDir()
	rf := newTestFetcher(RealtimeConfig{URL: srv.URL, OutDir: dir, Format: FormatProtobuf})

	path, err := rf.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if want := filepath.Join(dir, "2025-03-14-09-00-05-renfe.pb"); path != want {
		t.Errorf("Fetch() path = %s, want %s", path, want)
	}

	saved, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading snapshot: %v", err)
	}
	var decoded gtfsrt.FeedMessage
	if err := proto.Unmarshal(saved, &decoded); err != nil {
		t.Fatalf("decoding saved snapshot: %v", err)
	}
	if len(decoded.GetEntity()) != 2 {
		t.Errorf("saved snapshot has %d entities, want 2", len(decoded.GetEntity()))
	}

	dump, err := os.ReadFile(filepath.Join(dir, "2025-03-14-09-00-05-renfe.json"))
	if err != nil {
		t.Fatalf("reading decoded copy: %v", err)
	}
	if !strings.Contains(string(dump), "vehicle-1") {
		t.Errorf("decoded copy missing entity id: %q", dump)
	}
}

func TestRealtimeFetchRequiresURL(t *testing.T) {
	rf := NewRealtimeFetcher(RealtimeConfig{OutDir: t.TempDir()})
	if _, err := rf.Fetch(context.Background()); err == nil {
		t.Error("Fetch() error = nil, want empty url failure")
	}
}
