package scrap

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog/log"

	"github.com/adiftools/stopscrap/internal/models"
)

// CheckResult outcome of probing one stored URL
type CheckResult struct {
	URL        string
	StopID     string
	Category   models.URLType
	StatusCode int
	OK         bool
	Reason     string // set when not OK
	Title      string
	TableRows  int
}

// CheckerConfig prober settings
type CheckerConfig struct {
	Parallelism int
	Delay       time.Duration
	Timeout     time.Duration
	InsecureTLS bool
}

func (c CheckerConfig) withDefaults() CheckerConfig {
	if c.Parallelism <= 0 {
		c.Parallelism = 2
	}
	if c.Delay < 0 {
		c.Delay = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// URLChecker probes stored scrap URLs over plain HTTP. It cannot render
// script-driven boards, but it separates dead links from pages that merely
// need a browser.
type URLChecker struct {
	cfg CheckerConfig

	mu      sync.Mutex
	results map[string]*CheckResult
}

// NewURLChecker builds a prober
func NewURLChecker(cfg CheckerConfig) *URLChecker {
	return &URLChecker{cfg: cfg.withDefaults()}
}

// Check probes every URL and returns one result per input, in input order
func (c *URLChecker) Check(ctx context.Context, urls []models.URLScrap) []CheckResult {
	c.mu.Lock()
	c.results = make(map[string]*CheckResult, len(urls))
	for _, u := range urls {
		stop := ""
		if u.StopID != nil {
			stop = *u.StopID
		}
		c.results[u.URL] = &CheckResult{URL: u.URL, StopID: stop, Category: u.URLType}
	}
	c.mu.Unlock()

	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: c.cfg.InsecureTLS},
		},
		Timeout: c.cfg.Timeout,
	}

	collector := colly.NewCollector(colly.Async(true))
	collector.SetClient(httpClient)
	collector.WithTransport(httpClient.Transport)
	collector.SetRequestTimeout(c.cfg.Timeout)
	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: c.cfg.Parallelism,
		Delay:       c.cfg.Delay,
	}); err != nil {
		log.Warn().Msgf("setting probe limits failed: %v", err)
	}

	collector.OnRequest(func(r *colly.Request) {
		select {
		case <-ctx.Done():
			r.Abort()
		default:
		}
		log.Debug().Msgf("probing %s", r.URL)
	})

	collector.OnResponse(func(r *colly.Response) {
		res := c.resultFor(r.Request.URL.String())
		if res == nil {
			return
		}

		body := r.Body
		if enc := r.Headers.Get("Content-Encoding"); enc != "" {
			decompressed, err := decompressResponse(enc, r.Body)
			if err != nil {
				log.Warn().Msgf("decompressing %s (encoding=%s) failed: %v", res.URL, enc, err)
			} else {
				body = decompressed
			}
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		res.StatusCode = r.StatusCode

		if sig, err := InspectPage(bytes.NewReader(body)); err == nil {
			res.Title = sig.Title
			res.TableRows = sig.TableRows
		}

		if r.StatusCode >= 400 {
			res.Reason = fmt.Sprintf("status %d", r.StatusCode)
			return
		}
		if !looksLikeStationPage(r.Headers.Get("Content-Type"), body) {
			res.Reason = "response does not resemble a station page"
			return
		}
		res.OK = true
	})

	collector.OnError(func(r *colly.Response, err error) {
		res := c.resultFor(r.Request.URL.String())
		if res == nil {
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		res.StatusCode = r.StatusCode
		res.Reason = err.Error()
	})

	for _, u := range urls {
		if err := collector.Visit(u.URL); err != nil {
			if res := c.resultFor(u.URL); res != nil {
				c.mu.Lock()
				res.Reason = err.Error()
				c.mu.Unlock()
			}
		}
	}

	waitDone := make(chan struct{})
	go func() {
		collector.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-ctx.Done():
		log.Warn().Msg("url check cancelled before all probes finished")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CheckResult, 0, len(urls))
	ok := 0
	for _, u := range urls {
		res := c.results[u.URL]
		if res == nil {
			res = &CheckResult{URL: u.URL, Reason: "no response recorded"}
		}
		if res.OK {
			ok++
		}
		out = append(out, *res)
	}
	log.Info().Msgf("checked %d urls: %d ok, %d broken", len(out), ok, len(out)-ok)
	return out
}

func (c *URLChecker) resultFor(url string) *CheckResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.results[url]
}

// looksLikeStationPage reports whether a probe response resembles an HTML
// station page rather than an API payload or an error document. The
// content type is the most reliable signal; otherwise sample the first
// 1KB and require at least two page markers.
func looksLikeStationPage(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return true
	}

	sample := body
	if len(body) > 1024 {
		sample = body[:1024]
	}
	lower := strings.ToLower(string(sample))

	markers := []string{"<!doctype", "<html", "<head", "<body", "adif", "estacion"}
	matchCount := 0
	for _, m := range markers {
		if strings.Contains(lower, m) {
			matchCount++
		}
	}
	return matchCount >= 2
}

// decompressResponse unpacks a probe body by Content-Encoding. Supports
// gzip, deflate and br; unknown encodings come back untouched.
func decompressResponse(contentEncoding string, body []byte) ([]byte, error) {
	encoding := strings.ToLower(strings.TrimSpace(contentEncoding))

	switch encoding {
	case "gzip":
		reader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer reader.Close()
		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("gzip read: %w", err)
		}
		return decompressed, nil

	case "deflate":
		reader := flate.NewReader(bytes.NewReader(body))
		defer reader.Close()
		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("deflate read: %w", err)
		}
		return decompressed, nil

	case "br":
		decompressed, err := io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
		if err != nil {
			return nil, fmt.Errorf("brotli read: %w", err)
		}
		return decompressed, nil

	case "":
		return body, nil

	default:
		log.Warn().Msgf("unknown Content-Encoding: %s", contentEncoding)
		return body, nil
	}
}
