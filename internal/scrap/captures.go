package scrap

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"github.com/adiftools/stopscrap/internal/models"
)

// CaptureInfo one audited capture file
type CaptureInfo struct {
	File        string
	StopID      string
	ScheduledAt time.Time
	Category    models.URLType
	Size        int64
	Title       string
	BoardRows   int  // rows in the departures table (outer document)
	HasBoard    bool // the content the wait strategy demanded is present
}

// ParseCaptureName splits {stop_id}_{timestamp}_{category}.html back into
// its parts. Stop ids must not contain underscores; the feed's numeric ids
// never do.
func ParseCaptureName(name string) (string, time.Time, models.URLType, error) {
	base := strings.TrimSuffix(name, ".html")
	if base == name {
		return "", time.Time{}, 0, fmt.Errorf("not a capture file: %s", name)
	}

	fields := strings.Split(base, "_")
	if len(fields) < 8 {
		return "", time.Time{}, 0, fmt.Errorf("malformed capture name: %s", name)
	}

	stopID := fields[0]
	at, err := time.Parse(CaptureTimeFormat, strings.Join(fields[1:7], "_"))
	if err != nil {
		return "", time.Time{}, 0, fmt.Errorf("capture timestamp in %s: %w", name, err)
	}
	urlType, err := models.ParseURLType(strings.Join(fields[7:], "_"))
	if err != nil {
		return "", time.Time{}, 0, fmt.Errorf("capture category in %s: %w", name, err)
	}
	return stopID, at, urlType, nil
}

// AuditCaptures scans a capture directory and verifies each file still
// holds what its wait strategy demanded: a populated departures table for
// the regular page, the stop's info frame for the embedded one. Results
// come back sorted by file name.
func AuditCaptures(dir string) ([]CaptureInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read capture directory: %w", err)
	}

	var infos []CaptureInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".html") {
			continue
		}
		stopID, at, urlType, err := ParseCaptureName(e.Name())
		if err != nil {
			log.Debug().Msgf("skipping %s: %v", e.Name(), err)
			continue
		}

		info := CaptureInfo{File: e.Name(), StopID: stopID, ScheduledAt: at, Category: urlType}
		if fi, err := e.Info(); err == nil {
			info.Size = fi.Size()
		}

		f, err := os.Open(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		doc, err := goquery.NewDocumentFromReader(f)
		f.Close()
		if err != nil {
			log.Warn().Msgf("parsing capture %s failed: %v", e.Name(), err)
			infos = append(infos, info)
			continue
		}

		info.Title = strings.TrimSpace(doc.Find("title").First().Text())
		info.BoardRows = doc.Find(departureRowSelector).Length()
		switch urlType {
		case models.URLTypeAdifJSInfo:
			// The frame document is a separate page; the outer capture
			// only proves the frame element was there.
			sel := fmt.Sprintf("iframe[src*='%s']", stopID)
			info.HasBoard = doc.Find(sel).Length() > 0
		default:
			info.HasBoard = info.BoardRows > 0
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].File < infos[j].File })

	healthy := 0
	for _, info := range infos {
		if info.HasBoard {
			healthy++
		}
	}
	log.Info().Msgf("audited %d captures: %d healthy, %d suspect", len(infos), healthy, len(infos)-healthy)
	return infos, nil
}
