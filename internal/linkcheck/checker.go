// Package linkcheck classifies the reachability of hyperlinks found on an
// audited page.
package linkcheck

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-auditor/internal/audit"
	collyfetcher "github.com/JakeFAU/site-auditor/internal/fetcher/colly"
	"github.com/JakeFAU/site-auditor/internal/metrics"
)

// DefaultTimeout bounds a single HEAD probe.
const DefaultTimeout = 5 * time.Second

// Config controls probe behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Checker implements audit.LinkChecker with a HEAD request per link.
type Checker struct {
	cfg           Config
	logger        *zap.Logger
	baseCollector *colly.Collector
}

// New builds a Checker. A nil logger disables logging.
func New(cfg Config, logger *zap.Logger) *Checker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	// Clones share this http.Client; it is configured once, before any probe.
	c.WithTransport(collyfetcher.NewTransport())
	c.SetRequestTimeout(cfg.Timeout)

	return &Checker{
		cfg:           cfg,
		logger:        logger,
		baseCollector: c,
	}
}

// Check resolves hrefRaw against baseURL and probes it once. Unresolvable
// links map to INVALID_URL, non-http schemes to SKIPPED_PROTOCOL, the probe's
// own timeout to 408 and any other transport failure to 500. An error is
// returned only when ctx ends before the link could be classified.
func (c *Checker) Check(ctx context.Context, hrefRaw, baseURL string) (audit.LinkStatus, error) {
	status, err := c.check(ctx, hrefRaw, baseURL)
	if err != nil {
		return 0, err
	}
	metrics.ObserveLinkCheck(status.Class())
	return status, nil
}

func (c *Checker) check(ctx context.Context, hrefRaw, baseURL string) (audit.LinkStatus, error) {
	target, err := audit.ResolveLink(hrefRaw, baseURL)
	if err != nil {
		return audit.LinkStatusInvalidURL, nil
	}
	if !audit.IsHTTPScheme(target) {
		return audit.LinkStatusSkippedProtocol, nil
	}
	if target.Host == "" {
		return audit.LinkStatusInvalidURL, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("probe %s: %w", target, err)
	}

	start := time.Now()
	code, err := c.head(ctx, target.String())
	metrics.ObserveProbe("link", err == nil, time.Since(start))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, fmt.Errorf("probe %s: %w", target, ctxErr)
		}
		c.logger.Debug("link probe failed", zap.String("url", target.String()), zap.Error(err))
		if isTimeout(err) {
			return audit.LinkStatusTimeout, nil
		}
		return audit.LinkStatusTransportError, nil
	}
	return audit.LinkStatus(code), nil
}

func (c *Checker) head(ctx context.Context, target string) (int, error) {
	collector := c.baseCollector.Clone()

	var (
		status   int
		probeErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			status = r.StatusCode
			return
		}
		probeErr = err
	})

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- collector.Head(target)
	}()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case err := <-done:
		if status > 0 {
			return status, nil
		}
		if err != nil {
			return 0, err
		}
		if probeErr != nil {
			return 0, probeErr
		}
		return 0, errors.New("no response received")
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
