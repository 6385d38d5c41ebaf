package scrap

import (
	"fmt"
	"time"

	"github.com/go-rod/rod"

	"github.com/adiftools/stopscrap/internal/models"
)

// departureRowSelector matches a rendered departures row. Both page shapes
// show the board as a plain table once their scripts have run.
const departureRowSelector = "table tbody tr"

// WaitConfig bounds for the readiness waits
type WaitConfig struct {
	FrameWait  time.Duration // locating the embedded info frame
	MarkerWait time.Duration // rows appearing on a rendered board
}

// WaitStrategy blocks until a navigated page is ready for capture. Each
// URL category has its own notion of ready.
type WaitStrategy interface {
	Wait(page *rod.Page, stopID string) error
}

// waitForCategory picks the strategy for a URL category
func waitForCategory(t models.URLType, cfg WaitConfig) WaitStrategy {
	switch t {
	case models.URLTypeAdifJSInfo:
		return &embeddedInfoWait{frameWait: cfg.FrameWait, markerWait: cfg.MarkerWait}
	default:
		return &departureBoardWait{markerWait: cfg.MarkerWait}
	}
}

// departureBoardWait readiness for the regular station page: at least one
// row in the departures table.
type departureBoardWait struct {
	markerWait time.Duration
}

func (w *departureBoardWait) Wait(page *rod.Page, stopID string) error {
	if _, err := page.Timeout(w.markerWait).Element(departureRowSelector); err != nil {
		return fmt.Errorf("departure rows for stop %s not rendered: %w", stopID, err)
	}
	return nil
}

// embeddedInfoWait readiness for the script-driven page: the info board
// lives in an iframe whose src carries the stop id. Find the frame, switch
// into it, then wait for its rows.
type embeddedInfoWait struct {
	frameWait  time.Duration
	markerWait time.Duration
}

func (w *embeddedInfoWait) Wait(page *rod.Page, stopID string) error {
	el, err := page.Timeout(w.frameWait).Element(frameSelector(stopID))
	if err != nil {
		return fmt.Errorf("info frame for stop %s not found: %w", stopID, err)
	}
	frame, err := el.Frame()
	if err != nil {
		return fmt.Errorf("switching into info frame for stop %s: %w", stopID, err)
	}
	if _, err := frame.Timeout(w.markerWait).Element(departureRowSelector); err != nil {
		return fmt.Errorf("info board for stop %s not rendered: %w", stopID, err)
	}
	return nil
}

func frameSelector(stopID string) string {
	return fmt.Sprintf(`iframe[src*=%q]`, stopID)
}
