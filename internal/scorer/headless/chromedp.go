// Package headless scores pages by rendering them in headless Chrome.
package headless

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-auditor/internal/audit"
	"github.com/JakeFAU/site-auditor/internal/metrics"
	"github.com/JakeFAU/site-auditor/internal/scorer"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultSettleDelay       = 1500 * time.Millisecond

	mobileUserAgent = "Mozilla/5.0 (Linux; Android 11; moto g power (2022)) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/119.0.0.0 Mobile Safari/537.36"
)

// Config controls the behavior of the headless scorer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	ExecPath          string
}

// deviceEmulation describes the viewport a profile renders with.
type deviceEmulation struct {
	Width       int64
	Height      int64
	ScaleFactor float64
	Mobile      bool
	UserAgent   string
}

var devices = map[audit.DeviceProfile]deviceEmulation{
	audit.ProfileMobile:  {Width: 412, Height: 823, ScaleFactor: 1.75, Mobile: true, UserAgent: mobileUserAgent},
	audit.ProfileDesktop: {Width: 1350, Height: 940, ScaleFactor: 1},
}

// Scorer implements audit.Scorer. Every call launches its own browser process
// and tears it down before returning.
type Scorer struct {
	cfg       Config
	logger    *zap.Logger
	limiter   chan struct{}
	allocOpts []chromedp.ExecAllocatorOption
}

// New creates a headless scorer backed by chromedp.
func New(cfg Config, logger *zap.Logger) (*Scorer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-extensions", true),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	return &Scorer{
		cfg:       cfg,
		logger:    logger,
		limiter:   limiter,
		allocOpts: opts,
	}, nil
}

// Score renders url under profile and returns its category scores and vitals.
func (s *Scorer) Score(ctx context.Context, url string, profile audit.DeviceProfile) (report audit.PerformanceReport, err error) {
	device, ok := devices[profile]
	if !ok {
		return audit.PerformanceReport{}, fmt.Errorf("unknown device profile %q", profile)
	}
	if err := s.acquire(ctx); err != nil {
		return audit.PerformanceReport{}, err
	}
	defer s.release()

	start := time.Now()
	defer func() {
		metrics.ObserveProbe("score_"+string(profile), err == nil, time.Since(start))
	}()

	// The allocator owns the browser process; cancelling it kills the process
	// on every return path.
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, s.allocOpts...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, s.cfg.NavigationTimeout)
	defer cancel()

	meta := newPageMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	var signals scorer.Signals
	if err := chromedp.Run(taskCtx, s.actions(url, device, &signals)...); err != nil {
		return audit.PerformanceReport{}, fmt.Errorf("chromedp run: %w", err)
	}
	signals.DocumentStatus, signals.ConsoleErrors = meta.snapshot()

	report, err = scorer.Build(profile, signals)
	if err != nil {
		return audit.PerformanceReport{}, fmt.Errorf("score %s: %w", profile, err)
	}
	s.logger.Debug("page scored",
		zap.String("url", url),
		zap.String("profile", string(profile)),
		zap.Int("performance", report.PerformanceScore),
		zap.Int("document_status", signals.DocumentStatus),
	)
	return report, nil
}

func (s *Scorer) actions(url string, device deviceEmulation, signals *scorer.Signals) []chromedp.Action {
	actions := []chromedp.Action{
		s.emulationAction(device),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if s.cfg.SettleDelay > 0 {
		actions = append(actions, chromedp.Sleep(s.cfg.SettleDelay))
	}
	return append(actions, chromedp.Evaluate(collectSignalsScript, signals))
}

func (s *Scorer) emulationAction(device deviceEmulation) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := cdpruntime.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable runtime domain: %w", err)
		}
		if err := emulation.SetDeviceMetricsOverride(device.Width, device.Height, device.ScaleFactor, device.Mobile).Do(ctx); err != nil {
			return fmt.Errorf("set device metrics: %w", err)
		}
		if err := emulation.SetTouchEmulationEnabled(device.Mobile).Do(ctx); err != nil {
			return fmt.Errorf("set touch emulation: %w", err)
		}
		if ua := s.userAgent(device); ua != "" {
			if err := emulation.SetUserAgentOverride(ua).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(vitalsObserverScript).Do(ctx); err != nil {
			return fmt.Errorf("install vitals observer: %w", err)
		}
		return nil
	})
}

func (s *Scorer) userAgent(device deviceEmulation) string {
	if device.UserAgent != "" {
		return device.UserAgent
	}
	return s.cfg.UserAgent
}

func (s *Scorer) acquire(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	select {
	case s.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (s *Scorer) release() {
	if s.limiter == nil {
		return
	}
	select {
	case <-s.limiter:
	default:
	}
}

// pageMeta tracks browser events that the page itself cannot report.
type pageMeta struct {
	mu            sync.Mutex
	status        int
	consoleErrors int
}

func newPageMeta() *pageMeta {
	return &pageMeta{}
}

func (m *pageMeta) captureEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventResponseReceived:
		if e.Type != network.ResourceTypeDocument || e.Response == nil {
			return
		}
		m.mu.Lock()
		m.status = int(e.Response.Status)
		m.mu.Unlock()
	case *cdpruntime.EventExceptionThrown:
		m.mu.Lock()
		m.consoleErrors++
		m.mu.Unlock()
	case *cdpruntime.EventConsoleAPICalled:
		if e.Type != cdpruntime.APITypeError {
			return
		}
		m.mu.Lock()
		m.consoleErrors++
		m.mu.Unlock()
	}
}

func (m *pageMeta) snapshot() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.consoleErrors
}
