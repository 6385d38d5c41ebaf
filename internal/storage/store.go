// Package storage persists stops, levels and scrap URLs in an embedded
// SQLite database. A single file on disk replaces the usual client/server
// setup; the schema is embedded and applied on open.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/adiftools/stopscrap/internal/models"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// ErrStopNotFound no stop row for the requested id
var ErrStopNotFound = errors.New("stop not found")

// Store wraps the SQLite handle
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// embedded schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA busy_timeout = 5000")
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

// Schema returns the embedded DDL text
func Schema() string {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return ""
	}
	return string(b)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InsertLevels upserts level rows in one transaction and returns the number
// written.
func (s *Store) InsertLevels(ctx context.Context, levels []models.Level) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO levels(level_id, level_index, level_name) VALUES(?,?,?)
		 ON CONFLICT(level_id) DO UPDATE SET level_index=excluded.level_index, level_name=excluded.level_name`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for i := range levels {
		l := &levels[i]
		if err := l.Validate(); err != nil {
			return 0, fmt.Errorf("level %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, l.LevelID, l.LevelIndex, nullString(l.LevelName)); err != nil {
			return 0, fmt.Errorf("insert level %s: %w", l.LevelID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(levels), nil
}

// InsertStops upserts stop rows in one transaction and returns the number
// written.
func (s *Store) InsertStops(ctx context.Context, stops []models.Stop) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO stops(stop_id, stop_code, stop_name, tts_stop_name, stop_desc,
		                   stop_lat, stop_lon, zone_id, stop_url, location_type,
		                   parent_station_id, stop_timezone, wheelchair_boarding,
		                   level_id, platform_code)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(stop_id) DO UPDATE SET
		   stop_code=excluded.stop_code, stop_name=excluded.stop_name,
		   tts_stop_name=excluded.tts_stop_name, stop_desc=excluded.stop_desc,
		   stop_lat=excluded.stop_lat, stop_lon=excluded.stop_lon,
		   zone_id=excluded.zone_id, stop_url=excluded.stop_url,
		   location_type=excluded.location_type, parent_station_id=excluded.parent_station_id,
		   stop_timezone=excluded.stop_timezone, wheelchair_boarding=excluded.wheelchair_boarding,
		   level_id=excluded.level_id, platform_code=excluded.platform_code`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for i := range stops {
		st := &stops[i]
		if err := st.Validate(); err != nil {
			return 0, fmt.Errorf("stop %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx,
			st.StopID, nullString(st.StopCode), nullString(st.StopName),
			nullString(st.TTSStopName), nullString(st.StopDesc),
			nullFloat(st.StopLat), nullFloat(st.StopLon),
			nullString(st.ZoneID), nullString(st.StopURL),
			nullLocation(st.LocationType), nullString(st.ParentStationID),
			nullString(st.StopTimezone), nullWheelchair(st.WheelchairBoarding),
			nullString(st.LevelID), nullString(st.PlatformCode),
		); err != nil {
			return 0, fmt.Errorf("insert stop %s: %w", st.StopID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(stops), nil
}

// InsertURL adds one scrap URL row
func (s *Store) InsertURL(ctx context.Context, u models.URLScrap) error {
	if err := u.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scrap_urls(url, url_type, stop_id) VALUES(?,?,?)`,
		u.URL, int(u.URLType), nullString(u.StopID))
	return err
}

// CountURL returns how many rows exist for the exact URL (0 or 1 given the
// unique constraint).
func (s *Store) CountURL(ctx context.Context, url string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scrap_urls WHERE url = ?`, url).Scan(&n)
	return n, err
}

// CountStop returns how many stop rows exist for the id (0 or 1)
func (s *Store) CountStop(ctx context.Context, stopID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stops WHERE stop_id = ?`, stopID).Scan(&n)
	return n, err
}

// GetStop fetches one stop by id
func (s *Store) GetStop(ctx context.Context, stopID string) (*models.Stop, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT stop_id, stop_code, stop_name, tts_stop_name, stop_desc,
		        stop_lat, stop_lon, zone_id, stop_url, location_type,
		        parent_station_id, stop_timezone, wheelchair_boarding,
		        level_id, platform_code
		 FROM stops WHERE stop_id = ?`, stopID)

	var st models.Stop
	var code, name, tts, desc, zone, url, parent, tz, level, platform sql.NullString
	var lat, lon sql.NullFloat64
	var loc, wheel sql.NullInt64
	err := row.Scan(&st.StopID, &code, &name, &tts, &desc, &lat, &lon, &zone,
		&url, &loc, &parent, &tz, &wheel, &level, &platform)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrStopNotFound, stopID)
	}
	if err != nil {
		return nil, err
	}

	st.StopCode = strPtr(code)
	st.StopName = strPtr(name)
	st.TTSStopName = strPtr(tts)
	st.StopDesc = strPtr(desc)
	st.StopLat = floatPtr(lat)
	st.StopLon = floatPtr(lon)
	st.ZoneID = strPtr(zone)
	st.StopURL = strPtr(url)
	if loc.Valid {
		l := models.LocationType(loc.Int64)
		st.LocationType = &l
	}
	st.ParentStationID = strPtr(parent)
	st.StopTimezone = strPtr(tz)
	if wheel.Valid {
		w := models.WheelchairBoarding(wheel.Int64)
		st.WheelchairBoarding = &w
	}
	st.LevelID = strPtr(level)
	st.PlatformCode = strPtr(platform)
	return &st, nil
}

// URLsForStop returns the stop's scrap URLs in insertion order
func (s *Store) URLsForStop(ctx context.Context, stopID string) ([]models.URLScrap, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT url_id, url, url_type, stop_id FROM scrap_urls WHERE stop_id = ? ORDER BY url_id`, stopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanURLs(rows)
}

// AllURLs returns every scrap URL in insertion order
func (s *Store) AllURLs(ctx context.Context) ([]models.URLScrap, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT url_id, url, url_type, stop_id FROM scrap_urls ORDER BY url_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanURLs(rows)
}

func scanURLs(rows *sql.Rows) ([]models.URLScrap, error) {
	var urls []models.URLScrap
	for rows.Next() {
		var u models.URLScrap
		var urlType int
		var stop sql.NullString
		if err := rows.Scan(&u.URLID, &u.URL, &urlType, &stop); err != nil {
			return nil, err
		}
		u.URLType = models.URLType(urlType)
		u.StopID = strPtr(stop)
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

func nullString(v *string) any {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil
	}
	return *v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullLocation(v *models.LocationType) any {
	if v == nil {
		return nil
	}
	return int(*v)
}

func nullWheelchair(v *models.WheelchairBoarding) any {
	if v == nil {
		return nil
	}
	return int(*v)
}

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
