package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-auditor/internal/audit"
	"github.com/JakeFAU/site-auditor/internal/fanout"
	"github.com/JakeFAU/site-auditor/internal/logging"
	"github.com/JakeFAU/site-auditor/internal/markup"
	"github.com/JakeFAU/site-auditor/internal/metrics"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultLinkConcurrency = 16
	DefaultContentType     = "text/html; charset=utf-8"
)

var errEmptyBody = errors.New("empty response body")

// Config controls Orchestrator behavior.
type Config struct {
	// LinkConcurrency caps in-flight link probes per audit.
	LinkConcurrency int
	// Budget bounds a whole run. Zero means no limit.
	Budget time.Duration
	// SnapshotPrefix is prepended to snapshot object paths.
	SnapshotPrefix string
	// SnapshotContentType is stored with each snapshot.
	SnapshotContentType string
	// Topic receives audit notifications. Empty disables publishing.
	Topic string
}

// Dependencies are the collaborators of an Orchestrator. BlobStore, Publisher
// and Hasher are optional.
type Dependencies struct {
	Repository  audit.Repository
	Fetcher     audit.PageFetcher
	Scorer      audit.Scorer
	LinkChecker audit.LinkChecker
	BlobStore   audit.BlobStore
	Publisher   audit.Publisher
	Hasher      audit.Hasher
	Clock       audit.Clock
	IDs         audit.IDGenerator
}

// Orchestrator runs audits.
type Orchestrator struct {
	deps   Dependencies
	cfg    Config
	logger *zap.Logger
}

// New validates deps and returns an Orchestrator.
func New(deps Dependencies, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	switch {
	case deps.Repository == nil:
		return nil, errors.New("orchestrator: repository is required")
	case deps.Fetcher == nil:
		return nil, errors.New("orchestrator: fetcher is required")
	case deps.Scorer == nil:
		return nil, errors.New("orchestrator: scorer is required")
	case deps.LinkChecker == nil:
		return nil, errors.New("orchestrator: link checker is required")
	case deps.Clock == nil:
		return nil, errors.New("orchestrator: clock is required")
	case deps.IDs == nil:
		return nil, errors.New("orchestrator: id generator is required")
	}
	if cfg.LinkConcurrency <= 0 {
		cfg.LinkConcurrency = DefaultLinkConcurrency
	}
	if cfg.SnapshotContentType == "" {
		cfg.SnapshotContentType = DefaultContentType
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{deps: deps, cfg: cfg, logger: logger}, nil
}

// StartAudit validates rawURL, records a RUNNING audit and runs it to a
// terminal status before returning. On success it returns the audit ID. On
// failure it returns an *audit.Error whose message is safe to show callers.
//
// Cancelling ctx does not interrupt a run that has already created its
// record; only Config.Budget bounds it.
func (o *Orchestrator) StartAudit(ctx context.Context, rawURL string) (string, error) {
	target, err := audit.NormalizeTargetURL(rawURL)
	if err != nil {
		o.logger.Info("rejected audit request", zap.String("url", rawURL), zap.Error(err))
		metrics.ObserveAudit("rejected")
		return "", audit.NewError(audit.ErrValidation, audit.MsgInvalidURL, err)
	}

	id, err := o.deps.IDs.NewID()
	if err != nil {
		o.logger.Error("generate audit id", zap.Error(err))
		metrics.ObserveAudit("rejected")
		return "", audit.NewError(audit.ErrRepository, audit.MsgCreateFailed, err)
	}
	record := audit.Audit{
		ID:        id,
		URL:       target,
		Status:    audit.StatusRunning,
		CreatedAt: o.deps.Clock.Now(),
	}
	if err := o.deps.Repository.CreateAudit(ctx, record); err != nil {
		o.logger.Error("create audit record", zap.String("url", target), zap.Error(err))
		metrics.ObserveAudit("rejected")
		return "", audit.NewError(audit.ErrRepository, audit.MsgCreateFailed, err)
	}

	metrics.IncActiveAudits()
	defer metrics.DecActiveAudits()

	logger := logging.ForAudit(o.logger, id, target)
	logger.Info("audit started")

	detached := context.WithoutCancel(ctx)
	runCtx := detached
	if o.cfg.Budget > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(detached, o.cfg.Budget)
		defer cancel()
	}

	status, runErr := o.run(runCtx, record, logger)
	status, runErr = o.finish(detached, record, status, runErr, logger)
	metrics.ObserveAudit(string(status))
	o.notify(detached, record, status, logger)

	if runErr != nil {
		return "", runErr
	}
	return id, nil
}

// FailStale marks audits left RUNNING for longer than staleAfter as FAILED.
// Call it at startup, before any audit of this process has begun.
func (o *Orchestrator) FailStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	now := o.deps.Clock.Now()
	n, err := o.deps.Repository.FailStale(ctx, now.Add(-staleAfter), now)
	if err != nil {
		return 0, fmt.Errorf("fail stale audits: %w", err)
	}
	if n > 0 {
		o.logger.Warn("failed stale audits", zap.Int("count", n), zap.Duration("stale_after", staleAfter))
	}
	return n, nil
}

// finish performs the single terminal write for record. If marking it
// COMPLETED fails the run is downgraded to FAILED.
func (o *Orchestrator) finish(
	ctx context.Context,
	record audit.Audit,
	status audit.Status,
	runErr error,
	logger *zap.Logger,
) (audit.Status, error) {
	err := o.deps.Repository.TransitionStatus(ctx, record.ID, audit.StatusRunning, status, o.deps.Clock.Now())
	if err == nil {
		logger.Info("audit finished", zap.String("status", string(status)))
		return status, runErr
	}
	logger.Error("terminal status write failed", zap.String("status", string(status)), zap.Error(err))
	if runErr == nil {
		runErr = audit.NewError(audit.ErrUnexpected, audit.MsgUnexpected, err)
	}
	if status == audit.StatusCompleted && !errors.Is(err, audit.ErrInvalidTransition) {
		retryErr := o.deps.Repository.TransitionStatus(
			ctx, record.ID, audit.StatusRunning, audit.StatusFailed, o.deps.Clock.Now(),
		)
		if retryErr != nil {
			logger.Error("fallback FAILED write failed", zap.Error(retryErr))
		}
	}
	return audit.StatusFailed, runErr
}

// run executes the pipeline and reports the terminal status to write.
func (o *Orchestrator) run(
	ctx context.Context,
	record audit.Audit,
	logger *zap.Logger,
) (status audit.Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("audit pipeline panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			status = audit.StatusFailed
			err = audit.NewError(audit.ErrUnexpected, audit.MsgUnexpected, fmt.Errorf("panic: %v", r))
		}
	}()

	page, reports, fetchErr := o.collect(ctx, record.URL, logger)
	if fetchErr != nil {
		logger.Error("page fetch failed", zap.Error(fetchErr))
		return audit.StatusFailed, audit.FetchFailed(record.URL, fetchErr)
	}
	if page.URL == "" {
		page.URL = record.URL
	}

	findings := o.analyze(ctx, record.ID, page, logger)
	if err := ctx.Err(); err != nil {
		logger.Error("audit budget exhausted before findings were saved", zap.Error(err))
		return audit.StatusFailed, audit.NewError(audit.ErrUnexpected, audit.MsgUnexpected, err)
	}
	for _, rep := range reports {
		rep.AuditID = record.ID
		findings.Reports = append(findings.Reports, rep)
	}
	if err := o.deps.Repository.AppendFindings(ctx, record.ID, findings); err != nil {
		logger.Error("persist findings", zap.Error(err))
		return audit.StatusFailed, audit.NewError(audit.ErrUnexpected, audit.MsgUnexpected, err)
	}
	return audit.StatusCompleted, nil
}

// collect runs the fetch and one scorer call per profile concurrently and
// waits for all of them. Scorer failures are logged and dropped.
func (o *Orchestrator) collect(
	ctx context.Context,
	target string,
	logger *zap.Logger,
) (audit.Page, []audit.PerformanceReport, error) {
	var page audit.Page
	scored := make([]*audit.PerformanceReport, len(audit.Profiles))

	tasks := make([]fanout.Task, 0, len(audit.Profiles)+1)
	tasks = append(tasks, fanout.Task{
		Name:   "fetch",
		Policy: fanout.Fatal,
		Run: func(ctx context.Context) error {
			start := time.Now()
			p, err := o.deps.Fetcher.FetchText(ctx, target)
			if err == nil && strings.TrimSpace(p.Body) == "" {
				err = errEmptyBody
			}
			metrics.ObserveProbe("fetch", err == nil, time.Since(start))
			if err != nil {
				return err
			}
			page = p
			return nil
		},
	})
	for i, profile := range audit.Profiles {
		tasks = append(tasks, fanout.Task{
			Name:   string(profile),
			Policy: fanout.Degrading,
			Run: func(ctx context.Context) error {
				rep, err := o.deps.Scorer.Score(ctx, target, profile)
				if err != nil {
					return err
				}
				rep.Profile = profile
				scored[i] = &rep
				return nil
			},
		})
	}

	result := fanout.Run(ctx, len(tasks), tasks...)
	for _, outcome := range result.Degraded() {
		logger.Warn("performance scorer failed",
			zap.String("profile", outcome.Name),
			zap.Error(outcome.Err),
		)
		metrics.ObserveScorerFailure(outcome.Name)
	}
	if err := result.FatalErr(); err != nil {
		return audit.Page{}, nil, err
	}

	reports := make([]audit.PerformanceReport, 0, len(scored))
	for _, rep := range scored {
		if rep != nil {
			reports = append(reports, *rep)
		}
	}
	if len(reports) == 0 {
		logger.Warn("no performance reports produced")
	}
	return page, reports, nil
}

// analyze turns the fetched page into markup, image and link findings.
func (o *Orchestrator) analyze(
	ctx context.Context,
	auditID string,
	page audit.Page,
	logger *zap.Logger,
) audit.Findings {
	analysis := markup.Analyze(page.Body)

	markupFindings := analysis.Findings
	markupFindings.AuditID = auditID
	markupFindings.ContentHash, markupFindings.SnapshotURI = o.snapshot(ctx, auditID, page.Body, logger)

	findings := audit.Findings{Markup: &markupFindings}
	for _, img := range analysis.Images {
		img.AuditID = auditID
		findings.Images = append(findings.Images, img)
	}
	findings.Links = o.checkLinks(ctx, auditID, page.URL, analysis.Links, logger)
	return findings
}

// checkLinks probes every link with bounded concurrency and keeps the
// broken ones, keyed by their absolute URL. A probe that fails outright
// records nothing.
func (o *Orchestrator) checkLinks(
	ctx context.Context,
	auditID string,
	baseURL string,
	links []audit.Link,
	logger *zap.Logger,
) []audit.LinkIssue {
	settled := fanout.Map(ctx, o.cfg.LinkConcurrency, links,
		func(ctx context.Context, link audit.Link) (audit.LinkStatus, error) {
			return o.deps.LinkChecker.Check(ctx, link.Href, baseURL)
		},
	)

	var issues []audit.LinkIssue
	for i, s := range settled {
		link := links[i]
		if s.Err != nil {
			logger.Debug("link probe failed", zap.String("href", link.Href), zap.Error(s.Err))
			continue
		}
		logger.Debug("link probed", zap.String("href", link.Href), zap.Stringer("status", s.Value))
		if !s.Value.Broken() {
			continue
		}
		href := link.Href
		if resolved, err := audit.ResolveLink(link.Href, baseURL); err == nil {
			href = resolved.String()
		}
		issues = append(issues, audit.LinkIssue{
			AuditID: auditID,
			Href:    href,
			Text:    link.Text,
			Status:  s.Value,
			Issue:   audit.IssueBrokenLink,
		})
	}
	return issues
}

// snapshot hashes body and archives it when a blob store is configured.
// Failures leave the returned fields empty.
func (o *Orchestrator) snapshot(ctx context.Context, auditID, body string, logger *zap.Logger) (string, string) {
	if o.deps.Hasher == nil {
		return "", ""
	}
	hash, err := o.deps.Hasher.Hash([]byte(body))
	if err != nil {
		logger.Warn("hash page body", zap.Error(err))
		return "", ""
	}
	if o.deps.BlobStore == nil {
		return hash, ""
	}
	uri, err := o.deps.BlobStore.PutObject(
		ctx,
		o.buildSnapshotPath(auditID, hash),
		o.cfg.SnapshotContentType,
		bytes.NewReader([]byte(body)),
	)
	if err != nil {
		logger.Warn("store page snapshot", zap.Error(err))
		return hash, ""
	}
	return hash, uri
}

func (o *Orchestrator) buildSnapshotPath(auditID, hash string) string {
	prefix := strings.Trim(o.cfg.SnapshotPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", auditID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, auditID, hash)
}

// notify publishes the terminal status. Failures are logged only.
func (o *Orchestrator) notify(ctx context.Context, record audit.Audit, status audit.Status, logger *zap.Logger) {
	if o.deps.Publisher == nil || o.cfg.Topic == "" {
		return
	}
	msg := audit.Notification{
		AuditID:   record.ID,
		URL:       record.URL,
		Status:    status,
		Timestamp: o.deps.Clock.Now(),
	}
	if _, err := o.deps.Publisher.Publish(ctx, o.cfg.Topic, msg); err != nil {
		logger.Warn("publish audit notification", zap.Error(err))
	}
}
