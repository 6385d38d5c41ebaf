package gtfs

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/adiftools/stopscrap/internal/scrap"
	"github.com/adiftools/stopscrap/internal/utils"
)

// Feeds are published daily and mostly unchanged, hence the dated layout:
// <dir>/<YYYY-MM-DD>/<YYYY-MM-DD>_<basename>, with identical days reduced
// to symlinks.
const datedLayout = "2006-01-02"

// DownloadConfig static feed download settings
type DownloadConfig struct {
	URL           string
	OutPath       string        // base path, e.g. /var/lib/stopscrap/gtfs.zip
	MaxAttempts   int           // total tries, default 5
	ChunkSize     int           // copy buffer, default 4 MiB
	HeaderTimeout time.Duration // time allowed until response headers arrive
	InsecureTLS   bool
	Agents        *scrap.UserAgentPool
}

func (c DownloadConfig) withDefaults() DownloadConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 4 * 1024 * 1024
	}
	if c.HeaderTimeout <= 0 {
		c.HeaderTimeout = 60 * time.Second
	}
	if c.Agents == nil {
		c.Agents = scrap.NewUserAgentPool(nil)
	}
	return c
}

// Downloader streams the published GTFS zip to disk. Interrupted runs
// leave a .partial file that the next run resumes with a Range request;
// the feed runs to several hundred megabytes, so nothing is buffered in
// memory.
type Downloader struct {
	cfg    DownloadConfig
	client *http.Client
	now    func() time.Time
}

// NewDownloader builds a downloader
func NewDownloader(cfg DownloadConfig) *Downloader {
	cfg = cfg.withDefaults()
	return &Downloader{
		cfg: cfg,
		client: &http.Client{
			// No overall timeout: large bodies take minutes. The header
			// timeout still catches dead servers.
			Transport: &http.Transport{
				TLSClientConfig:       &tls.Config{InsecureSkipVerify: cfg.InsecureTLS},
				ResponseHeaderTimeout: cfg.HeaderTimeout,
			},
		},
		now: time.Now,
	}
}

// Download fetches the feed into today's dated directory and returns the
// final path.
func (d *Downloader) Download(ctx context.Context) (string, error) {
	if d.cfg.URL == "" {
		return "", fmt.Errorf("feed url is empty")
	}
	if d.cfg.OutPath == "" {
		return "", fmt.Errorf("output path is empty")
	}

	day := d.now().Format(datedLayout)
	datedDir := filepath.Join(filepath.Dir(d.cfg.OutPath), day)
	finalPath := filepath.Join(datedDir, day+"_"+filepath.Base(d.cfg.OutPath))
	if err := os.MkdirAll(datedDir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", datedDir, err)
	}
	partialPath := finalPath + ".partial"

	policy := backoff.WithContext(backoff.WithMaxRetries(&backoff.ExponentialBackOff{
		InitialInterval:     500 * time.Millisecond,
		RandomizationFactor: 0.2,
		Multiplier:          2,
		MaxInterval:         3 * time.Second,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}, uint64(d.cfg.MaxAttempts-1)), ctx)

	attempt := 0
	err := backoff.RetryNotify(
		func() error {
			attempt++
			return d.fetchOnce(ctx, attempt, partialPath, finalPath)
		},
		policy,
		func(err error, wait time.Duration) {
			log.Warn().Msgf("attempt %d failed: %v (next try in %s)", attempt, err, wait.Round(time.Millisecond))
		},
	)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", d.cfg.URL, err)
	}
	return finalPath, nil
}

func (d *Downloader) fetchOnce(ctx context.Context, attempt int, partialPath, finalPath string) error {
	var resumeFrom int64
	if fi, err := os.Stat(partialPath); err == nil {
		resumeFrom = fi.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.URL, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", d.cfg.Agents.Random())
	if resumeFrom > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
	}

	log.Info().Msgf("attempt %d/%d: GET %s -> %s (resume_from=%d bytes)",
		attempt, d.cfg.MaxAttempts, d.cfg.URL, finalPath, resumeFrom)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request feed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// Server ignored the Range header; start over.
		resumeFrom = 0
	case resp.StatusCode == http.StatusPartialContent && resumeFrom > 0:
	default:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if resumeFrom > 0 {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	out, err := os.OpenFile(partialPath, flags, 0o644)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("open %s: %w", partialPath, err))
	}

	bar := utils.NewDownloadBar(resp.ContentLength, "downloading "+filepath.Base(finalPath))
	written, copyErr := d.copyChunks(ctx, io.MultiWriter(out, bar), resp.Body)
	closeErr := out.Close()
	if copyErr != nil {
		return fmt.Errorf("stream body: %w", copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("flush %s: %w", partialPath, closeErr)
	}

	if err := os.Rename(partialPath, finalPath); err != nil {
		return backoff.Permanent(fmt.Errorf("finalize %s: %w", finalPath, err))
	}
	log.Info().Msgf("downloaded %s (%s)", finalPath, humanize.Bytes(uint64(resumeFrom+written)))
	return nil
}

func (d *Downloader) copyChunks(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, d.cfg.ChunkSize)
	var written int64
	start := d.now()
	lastLog := start
	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)

			if now := d.now(); now.Sub(lastLog) >= 5*time.Second {
				elapsed := now.Sub(start).Seconds()
				speed := uint64(float64(written) / elapsed)
				log.Info().Msgf("progress: %s at %s/s", humanize.Bytes(uint64(written)), humanize.Bytes(speed))
				lastLog = now
			}
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}

// SHA256File hashes a file in 8 MiB chunks
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.CopyBuffer(h, f, make([]byte, 8*1024*1024)); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FindLatest returns the newest dated copy of basename inside dir,
// following the <YYYY-MM-DD>_<basename> naming. A symlinked entry resolves
// to its target. Returns "" when the directory holds no candidate.
func FindLatest(dir, basename string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	suffix := "_" + basename
	var candidates []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, suffix) {
			continue
		}
		if len(strings.SplitN(name, "_", 2)[0]) != len(datedLayout) {
			continue
		}
		candidates = append(candidates, name)
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.Strings(candidates)
	latest := filepath.Join(dir, candidates[len(candidates)-1])

	if target, err := os.Readlink(latest); err == nil {
		if !filepath.IsAbs(target) {
			target = filepath.Join(dir, target)
		}
		return target
	}
	return latest
}

// CompareWithPrevious hashes today's download against yesterday's. Both
// paths come back so the caller can deduplicate; same is false when either
// day is missing or unreadable.
func (d *Downloader) CompareWithPrevious() (same bool, today, yesterday string) {
	baseDir := filepath.Dir(d.cfg.OutPath)
	baseName := filepath.Base(d.cfg.OutPath)

	now := d.now()
	today = FindLatest(filepath.Join(baseDir, now.Format(datedLayout)), baseName)
	yesterday = FindLatest(filepath.Join(baseDir, now.AddDate(0, 0, -1).Format(datedLayout)), baseName)
	if today == "" || yesterday == "" {
		return false, today, yesterday
	}

	hashToday, err := SHA256File(today)
	if err != nil {
		log.Warn().Msgf("hashing %s failed: %v", today, err)
		return false, today, yesterday
	}
	hashYesterday, err := SHA256File(yesterday)
	if err != nil {
		log.Warn().Msgf("hashing %s failed: %v", yesterday, err)
		return false, today, yesterday
	}
	return hashToday == hashYesterday, today, yesterday
}

// DeduplicateWithSymlink replaces today's identical copy with a symlink to
// yesterday's file
func DeduplicateWithSymlink(todayFile, yesterdayFile string) error {
	if err := os.Remove(todayFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", todayFile, err)
	}
	target, err := filepath.Abs(yesterdayFile)
	if err != nil {
		return err
	}
	if err := os.Symlink(target, todayFile); err != nil {
		return fmt.Errorf("link %s -> %s: %w", todayFile, target, err)
	}
	log.Info().Msgf("replaced %s with symlink to %s", todayFile, target)
	return nil
}
