package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/adiftools/stopscrap/internal/models"
)

func seedTestStops(t *testing.T, s *Store) {
	t.Helper()
	stops := []models.Stop{
		{StopID: "71801", StopName: strp("Barcelona-Sants")},
		{StopID: "72210", StopName: strp("Mataró")},
	}
	if _, err := s.InsertStops(context.Background(), stops); err != nil {
		t.Fatalf("seeding stops: %v", err)
	}
}

func TestSeedURLs(t *testing.T) {
	s := newTestStore(t)
	seedTestStops(t, s)
	ctx := context.Background()

	urls := []models.URLScrap{
		{URL: "https://www.adif.es/w/71801-barcelona-sants", URLType: models.URLTypeAdifWeb, StopID: strp("71801")},
		{URL: "https://www.adif.es/w/72210-mataro", URLType: models.URLTypeAdifWeb, StopID: strp("72210")},
	}

	added, err := s.SeedURLs(ctx, urls, false)
	if err != nil {
		t.Fatalf("SeedURLs() error = %v", err)
	}
	if added != 2 {
		t.Errorf("SeedURLs() added = %d, want 2", added)
	}

	stored, err := s.AllURLs(ctx)
	if err != nil {
		t.Fatalf("AllURLs() error = %v", err)
	}
	if len(stored) != 2 {
		t.Errorf("AllURLs() returned %d urls, want 2", len(stored))
	}
}

func TestSeedURLsAbortsOnDuplicate(t *testing.T) {
	s := newTestStore(t)
	seedTestStops(t, s)
	ctx := context.Background()

	existing := models.URLScrap{URL: "https://www.adif.es/w/71801-barcelona-sants", URLType: models.URLTypeAdifWeb, StopID: strp("71801")}
	if _, err := s.SeedURLs(ctx, []models.URLScrap{existing}, false); err != nil {
		t.Fatalf("seeding first batch: %v", err)
	}

	// The new URL sits before the duplicate; the abort must roll it back.
	batch := []models.URLScrap{
		{URL: "https://www.adif.es/w/72210-mataro", URLType: models.URLTypeAdifWeb, StopID: strp("72210")},
		existing,
	}
	_, err := s.SeedURLs(ctx, batch, false)
	if !errors.Is(err, ErrDuplicateURL) {
		t.Fatalf("SeedURLs() error = %v, want ErrDuplicateURL", err)
	}

	stored, err := s.AllURLs(ctx)
	if err != nil {
		t.Fatalf("AllURLs() error = %v", err)
	}
	if len(stored) != 1 {
		t.Errorf("AllURLs() returned %d urls after aborted batch, want 1", len(stored))
	}
}

func TestSeedURLsSkipExisting(t *testing.T) {
	s := newTestStore(t)
	seedTestStops(t, s)
	ctx := context.Background()

	existing := models.URLScrap{URL: "https://www.adif.es/w/71801-barcelona-sants", URLType: models.URLTypeAdifWeb, StopID: strp("71801")}
	if _, err := s.SeedURLs(ctx, []models.URLScrap{existing}, false); err != nil {
		t.Fatalf("seeding first batch: %v", err)
	}

	batch := []models.URLScrap{
		existing,
		{URL: "https://www.adif.es/w/72210-mataro", URLType: models.URLTypeAdifWeb, StopID: strp("72210")},
	}
	added, err := s.SeedURLs(ctx, batch, true)
	if err != nil {
		t.Fatalf("SeedURLs() error = %v", err)
	}
	if added != 1 {
		t.Errorf("SeedURLs() added = %d, want 1", added)
	}
}

func TestSeedURLsRejectsUnknownStop(t *testing.T) {
	s := newTestStore(t)
	seedTestStops(t, s)

	batch := []models.URLScrap{
		{URL: "https://www.adif.es/w/99999-enlloc", URLType: models.URLTypeAdifWeb, StopID: strp("99999")},
	}
	_, err := s.SeedURLs(context.Background(), batch, false)
	if !errors.Is(err, ErrStopNotFound) {
		t.Errorf("SeedURLs() error = %v, want ErrStopNotFound", err)
	}
}
