package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/adiftools/stopscrap/internal/models"
)

// ErrDuplicateURL the seed list holds a URL that is already stored
var ErrDuplicateURL = errors.New("url already stored")

// SeedURLs loads scrap URLs from a seed list inside one transaction. Every
// URL must reference a known stop and must not already be stored; a
// violation aborts the whole batch and nothing is committed, unless
// skipExisting forgives duplicates. Returns how many URLs were added.
func (s *Store) SeedURLs(ctx context.Context, urls []models.URLScrap, skipExisting bool) (int, error) {
	log.Info().Msgf("found %d URLs", len(urls))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin seed transaction: %w", err)
	}
	defer tx.Rollback()

	added := 0
	for _, u := range urls {
		stop := ""
		if u.StopID != nil {
			stop = *u.StopID
		}

		var countURL int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM scrap_urls WHERE url = ?`, u.URL).Scan(&countURL); err != nil {
			return 0, fmt.Errorf("count url %s: %w", u.URL, err)
		}
		var countStop int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM stops WHERE stop_id = ?`, stop).Scan(&countStop); err != nil {
			return 0, fmt.Errorf("count stop %s: %w", stop, err)
		}

		switch {
		case countURL == 0 && countStop == 1:
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO scrap_urls(url, url_type, stop_id) VALUES(?,?,?)`,
				u.URL, int(u.URLType), nullString(u.StopID)); err != nil {
				return 0, fmt.Errorf("insert url %s: %w", u.URL, err)
			}
			added++
		case countURL > 0:
			if !skipExisting {
				return 0, fmt.Errorf("%w: found existing URL %s for stop %s", ErrDuplicateURL, u.URL, stop)
			}
		default:
			return 0, fmt.Errorf("%w for URL %s with stop %s", ErrStopNotFound, u.URL, stop)
		}
	}

	log.Info().Msgf("adding %d new URLs", added)
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit seed transaction: %w", err)
	}
	return added, nil
}
