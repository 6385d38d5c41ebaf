package gtfs

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/adiftools/stopscrap/internal/scrap"
)

// ErrAccessDenied means the realtime endpoint answered 401 or 403. Retrying
// with the same credentials cannot help, so the fetcher aborts.
var ErrAccessDenied = errors.New("access denied by realtime endpoint")

// Snapshot formats
const (
	FormatJSON     = "json"
	FormatProtobuf = "pb"
)

const realtimeStampLayout = "2006-01-02-15-04-05"

// RealtimeConfig snapshot fetch settings
type RealtimeConfig struct {
	URL         string
	OutDir      string
	MaxAttempts int    // total tries, default 5
	Format      string // FormatJSON or FormatProtobuf
	InsecureTLS bool
	Agents      *scrap.UserAgentPool
}

func (c RealtimeConfig) withDefaults() RealtimeConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Format == "" {
		c.Format = FormatJSON
	}
	if c.Agents == nil {
		c.Agents = scrap.NewUserAgentPool(nil)
	}
	return c
}

// RealtimeFetcher grabs one snapshot of the Renfe realtime feed. The
// endpoint throttles aggressively, so every attempt sends a fresh random
// User-Agent with a randomized timeout and pauses briefly between tries.
type RealtimeFetcher struct {
	cfg RealtimeConfig
	now func() time.Time
}

// NewRealtimeFetcher builds a fetcher
func NewRealtimeFetcher(cfg RealtimeConfig) *RealtimeFetcher {
	return &RealtimeFetcher{cfg: cfg.withDefaults(), now: time.Now}
}

// Fetch downloads one snapshot and returns the saved path. Snapshots are
// stamped with the UTC fetch time: <YYYY-MM-DD-HH-MM-SS>-renfe.json (or
// .pb in protobuf mode, with a decoded .json next to it).
func (rf *RealtimeFetcher) Fetch(ctx context.Context) (string, error) {
	if rf.cfg.URL == "" {
		return "", fmt.Errorf("realtime url is empty")
	}
	if err := os.MkdirAll(rf.cfg.OutDir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", rf.cfg.OutDir, err)
	}

	var lastErr error
	for attempt := 1; attempt <= rf.cfg.MaxAttempts; attempt++ {
		path, err := rf.fetchOnce(ctx, attempt)
		if err == nil {
			return path, nil
		}
		if errors.Is(err, ErrAccessDenied) {
			log.Error().Msgf("access denied, aborting: %v", err)
			return "", err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
		log.Warn().Msgf("attempt %d/%d failed: %v", attempt, rf.cfg.MaxAttempts, err)

		if attempt == rf.cfg.MaxAttempts {
			break
		}
		pause := time.Duration(1000+rand.Intn(2000)) * time.Millisecond
		log.Debug().Msgf("sleeping %s before next attempt", pause.Round(10*time.Millisecond))
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(pause):
		}
	}
	return "", fmt.Errorf("all %d attempts failed: %w", rf.cfg.MaxAttempts, lastErr)
}

func (rf *RealtimeFetcher) fetchOnce(ctx context.Context, attempt int) (string, error) {
	timeout := 5*time.Second + time.Duration(rand.Int63n(int64(15*time.Second)))
	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: rf.cfg.InsecureTLS},
		},
		Timeout: timeout,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rf.cfg.URL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", rf.cfg.Agents.Random())
	log.Debug().Msgf("attempt %d: GET %s timeout=%.1fs", attempt, rf.cfg.URL, timeout.Seconds())

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", fmt.Errorf("%w: status %d", ErrAccessDenied, resp.StatusCode)
	default:
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	stamp := rf.now().UTC().Format(realtimeStampLayout)
	if rf.cfg.Format == FormatProtobuf {
		return rf.saveProtobuf(stamp, body)
	}
	return rf.saveJSON(stamp, resp.Header.Get("Content-Type"), body)
}

func (rf *RealtimeFetcher) saveJSON(stamp, contentType string, body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if !strings.Contains(strings.ToLower(contentType), "json") &&
		(len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[')) {
		log.Warn().Msgf("response does not look like JSON (Content-Type: %s), parsing anyway", contentType)
	}

	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parse snapshot: %w", err)
	}
	pretty, err := json.MarshalIndent(parsed, "", "  ")
	if err != nil {
		return "", err
	}

	path := filepath.Join(rf.cfg.OutDir, stamp+"-renfe.json")
	if err := os.WriteFile(path, pretty, 0o644); err != nil {
		return "", fmt.Errorf("save snapshot: %w", err)
	}
	log.Info().Msgf("saved snapshot to %s", path)
	return path, nil
}

func (rf *RealtimeFetcher) saveProtobuf(stamp string, body []byte) (string, error) {
	feed := &gtfsrt.FeedMessage{}
	if err := proto.Unmarshal(body, feed); err != nil {
		return "", fmt.Errorf("decode feed message: %w", err)
	}
	log.Info().Msgf("decoded realtime feed: %d entities", len(feed.GetEntity()))

	path := filepath.Join(rf.cfg.OutDir, stamp+"-renfe.pb")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("save snapshot: %w", err)
	}

	dump, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(feed)
	if err != nil {
		return "", fmt.Errorf("render feed message: %w", err)
	}
	jsonPath := filepath.Join(rf.cfg.OutDir, stamp+"-renfe.json")
	if err := os.WriteFile(jsonPath, dump, 0o644); err != nil {
		return "", fmt.Errorf("save decoded snapshot: %w", err)
	}
	log.Info().Msgf("saved snapshot to %s (decoded copy at %s)", path, jsonPath)
	return path, nil
}
