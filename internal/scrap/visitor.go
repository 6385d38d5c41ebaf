package scrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/adiftools/stopscrap/internal/models"
)

var (
	// ErrBrowserCrashed the browser process or devtools session died mid-visit
	ErrBrowserCrashed = errors.New("browser crashed")
	// ErrVisitFailed a page could not be readied or captured
	ErrVisitFailed = errors.New("visit failed")
)

// CaptureTimeFormat timestamp layout inside capture file names
const CaptureTimeFormat = "2006_01_02_15_04_05"

// CaptureFileName builds {stop_id}_{timestamp}_{category}.html from the
// order's scheduled time.
func CaptureFileName(stopID string, scheduledAt time.Time, urlType models.URLType) string {
	return fmt.Sprintf("%s_%s_%s.html", stopID, scheduledAt.Format(CaptureTimeFormat), urlType)
}

// StationStore read-only station lookups a visit needs
type StationStore interface {
	GetStop(ctx context.Context, stopID string) (*models.Stop, error)
	URLsForStop(ctx context.Context, stopID string) ([]models.URLScrap, error)
}

// VisitorConfig browser and wait settings
type VisitorConfig struct {
	Headless        bool
	OutputDir       string        // where capture files land
	NavigateTimeout time.Duration // page navigation and load
	FrameWait       time.Duration // locating the embedded info frame
	MarkerWait      time.Duration // board rows appearing
}

func (c VisitorConfig) withDefaults() VisitorConfig {
	if c.OutputDir == "" {
		c.OutputDir = "captures"
	}
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.FrameWait <= 0 {
		c.FrameWait = 20 * time.Second
	}
	if c.MarkerWait <= 0 {
		c.MarkerWait = 10 * time.Second
	}
	return c
}

// Visitor captures a stop's pages, one isolated browser session per URL.
// Sessions are never reused and the page cache is disabled, so every
// capture reflects a cold load.
type Visitor struct {
	store  StationStore
	agents *UserAgentPool
	guard  *ResourceGuard
	cfg    VisitorConfig
}

// NewVisitor wires a visitor and makes sure the capture directory exists
func NewVisitor(store StationStore, agents *UserAgentPool, guard *ResourceGuard, cfg VisitorConfig) (*Visitor, error) {
	cfg = cfg.withDefaults()
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create capture directory: %w", err)
	}
	return &Visitor{store: store, agents: agents, guard: guard, cfg: cfg}, nil
}

// Visit looks up the stop and captures each of its pages in order. The
// first failing page aborts the rest of the visit; the scheduler turns the
// result into the follow-up delay.
func (v *Visitor) Visit(ctx context.Context, order ScrapOrder) VisitResult {
	stop, err := v.store.GetStop(ctx, order.StopID)
	if err != nil {
		log.Error().Err(err).Msgf("stop lookup failed [%s]", order.StopID)
		return Failed
	}
	urls, err := v.store.URLsForStop(ctx, order.StopID)
	if err != nil {
		log.Error().Err(err).Msgf("url lookup failed [%s]", order.StopID)
		return Failed
	}
	if len(urls) == 0 {
		log.Warn().Msgf("no scrap urls for stop %s", order.StopID)
		return Visited
	}

	name := order.StopID
	if stop.StopName != nil {
		name = *stop.StopName
	}
	log.Info().Msgf("visiting %s (%s), %d pages", name, order.StopID, len(urls))

	for _, u := range urls {
		if err := v.capturePage(ctx, order, u); err != nil {
			log.Error().Err(err).Msgf("visit failed [%s] %s", order.StopID, u.URL)
			return Failed
		}
	}
	return Visited
}

// capturePage runs one full browser session for one URL: launch, navigate,
// wait for the category's ready marker, save the rendered HTML. The
// browser is closed on every path out.
func (v *Visitor) capturePage(ctx context.Context, order ScrapOrder, u models.URLScrap) (err error) {
	if ok, reason := v.guard.Allow(); !ok {
		return fmt.Errorf("%w: %s", ErrVisitFailed, reason)
	}

	session := uuid.New().String()[:8]

	defer func() {
		if r := recover(); r != nil {
			log.Error().Msgf("browser panic [session %s]: %v", session, r)
			err = ErrBrowserCrashed
		}
	}()

	browser, err := v.launchBrowser()
	if err != nil {
		return err
	}
	defer v.closeBrowser(browser, session)

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}
	page = page.Context(ctx)

	agent := v.agents.Random()
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: agent}); err != nil {
		return fmt.Errorf("set user agent: %w", err)
	}
	if err := (proto.NetworkSetCacheDisabled{CacheDisabled: true}).Call(page); err != nil {
		return fmt.Errorf("disable cache: %w", err)
	}

	log.Debug().Msgf("session %s: %s as %q", session, u.URL, agent)

	if err := page.Timeout(v.cfg.NavigateTimeout).Navigate(u.URL); err != nil {
		return fmt.Errorf("navigate %s: %w", u.URL, err)
	}
	if err := page.Timeout(v.cfg.NavigateTimeout).WaitLoad(); err != nil {
		return fmt.Errorf("load %s: %w", u.URL, err)
	}

	strategy := waitForCategory(u.URLType, WaitConfig{FrameWait: v.cfg.FrameWait, MarkerWait: v.cfg.MarkerWait})
	if err := strategy.Wait(page, order.StopID); err != nil {
		return err
	}

	html, err := page.HTML()
	if err != nil {
		return fmt.Errorf("read rendered page: %w", err)
	}

	name := CaptureFileName(order.StopID, order.ScheduledAt, u.URLType)
	if err := os.WriteFile(filepath.Join(v.cfg.OutputDir, name), []byte(html), 0o644); err != nil {
		return fmt.Errorf("write capture %s: %w", name, err)
	}

	log.Info().Msgf("captured %s (%d bytes)", name, len(html))
	return nil
}

func (v *Visitor) launchBrowser() (*rod.Browser, error) {
	l := launcher.New().Headless(v.cfg.Headless)
	// Station pages sit behind TLS setups that trip strict verification.
	l = l.Set("ignore-certificate-errors")

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	return browser, nil
}

// closeBrowser shields callers from close-time panics so a finished
// capture is never turned into a crash.
func (v *Visitor) closeBrowser(b *rod.Browser, session string) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Msgf("closing browser panicked [session %s]: %v", session, r)
		}
	}()
	b.MustClose()
	log.Debug().Msgf("session %s closed", session)
}
