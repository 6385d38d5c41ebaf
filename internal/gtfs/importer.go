package gtfs

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/adiftools/stopscrap/internal/storage"
)

// Importer moves parsed feed entities into the station store
type Importer struct {
	store *storage.Store
}

// NewImporter builds an importer backed by store
func NewImporter(store *storage.Store) *Importer {
	return &Importer{store: store}
}

// ImportStops reads stops.txt, and levels.txt when present, from the feed
// at path and upserts the rows. Rows that fail validation are counted and
// skipped rather than aborting the import; public feeds are never fully
// clean. Returns the number of stops written.
func (im *Importer) ImportStops(ctx context.Context, path string) (int, error) {
	feed, err := OpenFeed(path)
	if err != nil {
		return 0, err
	}
	defer feed.Close()
	return im.importFeed(ctx, feed)
}

func (im *Importer) importFeed(ctx context.Context, feed *Feed) (int, error) {
	if version := feed.Version(); version != "" {
		log.Info().Msgf("importing from feed version %s", version)
	}

	// Levels go first, stops reference them.
	if err := im.importLevels(ctx, feed); err != nil {
		return 0, err
	}

	stops, skipped, err := feed.Stops()
	if err != nil {
		return 0, err
	}
	valid := stops[:0]
	for i := range stops {
		if err := stops[i].Validate(); err != nil {
			skipped++
			log.Debug().Msgf("skipping stop %s: %v", stops[i].StopID, err)
			continue
		}
		valid = append(valid, stops[i])
	}
	log.Info().Msgf("prepared %d stop models (%d skipped)", len(valid), skipped)
	if len(valid) == 0 {
		log.Warn().Msg("no stops found in the feed")
		return 0, nil
	}

	n, err := im.store.InsertStops(ctx, valid)
	if err != nil {
		return 0, fmt.Errorf("import stops: %w", err)
	}
	log.Info().Msgf("persisted %d stop records to the database", n)
	return n, nil
}

func (im *Importer) importLevels(ctx context.Context, feed *Feed) error {
	levels, skipped, err := feed.Levels()
	if err != nil {
		// levels.txt is optional in Renfe's exports
		log.Debug().Msgf("no levels to import: %v", err)
		return nil
	}

	valid := levels[:0]
	for i := range levels {
		if err := levels[i].Validate(); err != nil {
			skipped++
			continue
		}
		valid = append(valid, levels[i])
	}
	if len(valid) == 0 {
		return nil
	}

	n, err := im.store.InsertLevels(ctx, valid)
	if err != nil {
		return fmt.Errorf("import levels: %w", err)
	}
	log.Info().Msgf("persisted %d level records (%d skipped)", n, skipped)
	return nil
}
