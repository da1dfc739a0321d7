// Package postgres provides the Postgres-backed audit repository.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

//go:embed schema.sql
var schemaSQL string

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

// Repository implements audit.Repository on Postgres.
type Repository struct {
	pool pool
}

// New connects to Postgres using the provided config.
func New(ctx context.Context, cfg Config) (*Repository, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Repository{pool: p}, nil
}

// NewWithPool constructs a repository from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Repository, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Repository{pool: p}, nil
}

// Close releases the underlying pool resources.
func (r *Repository) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

// Ping verifies the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the audit tables if they do not exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// CreateAudit inserts a new audit row.
func (r *Repository) CreateAudit(ctx context.Context, a audit.Audit) error {
	const query = `
INSERT INTO audits (id, url, status, created_at)
VALUES ($1, $2, $3, $4)`
	if _, err := r.pool.Exec(ctx, query, a.ID, a.URL, string(a.Status), a.CreatedAt); err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// TransitionStatus updates the status only if the row still holds from.
func (r *Repository) TransitionStatus(ctx context.Context, auditID string, from, to audit.Status, at time.Time) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", audit.ErrInvalidTransition, from, to)
	}
	var finished *time.Time
	if to.Terminal() {
		finished = &at
	}
	const query = `
UPDATE audits
SET status = $1, finished_at = COALESCE($2, finished_at)
WHERE id = $3 AND status = $4`
	tag, err := r.pool.Exec(ctx, query, string(to), finished, auditID, string(from))
	if err != nil {
		return fmt.Errorf("update audit status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = r.pool.QueryRow(ctx, `SELECT status FROM audits WHERE id = $1`, auditID).Scan(&current)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return audit.ErrNotFound
	case err != nil:
		return fmt.Errorf("load audit status: %w", err)
	default:
		return fmt.Errorf("%w: audit is %s, not %s", audit.ErrInvalidTransition, current, from)
	}
}

// AppendFindings writes every child record of a run in one transaction.
func (r *Repository) AppendFindings(ctx context.Context, auditID string, f audit.Findings) (err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin findings tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if f.Markup != nil {
		const query = `
INSERT INTO markup_findings (audit_id, title, description, has_h1, content_hash, snapshot_uri)
VALUES ($1, $2, $3, $4, $5, $6)`
		m := f.Markup
		if _, err = tx.Exec(ctx, query, auditID, m.Title, m.Description, m.HasH1, m.ContentHash, m.SnapshotURI); err != nil {
			return fmt.Errorf("insert markup findings: %w", err)
		}
	}

	if len(f.Images) > 0 {
		rows := make([][]any, 0, len(f.Images))
		for _, img := range f.Images {
			rows = append(rows, []any{auditID, img.Src, string(img.Issue)})
		}
		if _, err = tx.CopyFrom(ctx, pgx.Identifier{"image_issues"},
			[]string{"audit_id", "src", "issue"}, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("copy image issues: %w", err)
		}
	}

	if len(f.Links) > 0 {
		rows := make([][]any, 0, len(f.Links))
		for _, link := range f.Links {
			rows = append(rows, []any{auditID, link.Href, link.Text, int(link.Status), string(link.Issue)})
		}
		if _, err = tx.CopyFrom(ctx, pgx.Identifier{"link_issues"},
			[]string{"audit_id", "href", "text", "status", "issue"}, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("copy link issues: %w", err)
		}
	}

	for _, rep := range f.Reports {
		const query = `
INSERT INTO performance_reports (
	audit_id, device_profile, performance_score, accessibility_score, best_practices_score,
	seo_score, first_contentful_paint, largest_contentful_paint, cumulative_layout_shift
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
		if _, err = tx.Exec(ctx, query,
			auditID,
			string(rep.Profile),
			rep.PerformanceScore,
			rep.AccessibilityScore,
			rep.BestPracticesScore,
			rep.SEOScore,
			rep.FirstContentfulPaint,
			rep.LargestContentfulPaint,
			rep.CumulativeLayoutShift,
		); err != nil {
			return fmt.Errorf("insert performance report %s: %w", rep.Profile, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit findings tx: %w", err)
	}
	return nil
}

// GetAudit loads an audit and all of its child records.
func (r *Repository) GetAudit(ctx context.Context, auditID string) (audit.Report, error) {
	const auditQuery = `SELECT id, url, status, created_at, finished_at FROM audits WHERE id = $1`
	a, err := scanAudit(r.pool.QueryRow(ctx, auditQuery, auditID))
	if errors.Is(err, pgx.ErrNoRows) {
		return audit.Report{}, audit.ErrNotFound
	}
	if err != nil {
		return audit.Report{}, fmt.Errorf("load audit: %w", err)
	}
	report := audit.Report{
		Audit:       a,
		ImageIssues: []audit.ImageIssue{},
		LinkIssues:  []audit.LinkIssue{},
		Performance: []audit.PerformanceReport{},
	}

	m := audit.MarkupFindings{AuditID: auditID}
	err = r.pool.QueryRow(ctx, `
SELECT title, description, has_h1, content_hash, snapshot_uri
FROM markup_findings WHERE audit_id = $1`, auditID).
		Scan(&m.Title, &m.Description, &m.HasH1, &m.ContentHash, &m.SnapshotURI)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return audit.Report{}, fmt.Errorf("load markup findings: %w", err)
	default:
		report.Markup = &m
	}

	if report.ImageIssues, err = r.imageIssues(ctx, auditID); err != nil {
		return audit.Report{}, err
	}
	if report.LinkIssues, err = r.linkIssues(ctx, auditID); err != nil {
		return audit.Report{}, err
	}
	if report.Performance, err = r.performanceReports(ctx, auditID); err != nil {
		return audit.Report{}, err
	}
	return report, nil
}

func (r *Repository) imageIssues(ctx context.Context, auditID string) ([]audit.ImageIssue, error) {
	rows, err := r.pool.Query(ctx, `SELECT src, issue FROM image_issues WHERE audit_id = $1 ORDER BY id`, auditID)
	if err != nil {
		return nil, fmt.Errorf("query image issues: %w", err)
	}
	defer rows.Close()

	out := []audit.ImageIssue{}
	for rows.Next() {
		img := audit.ImageIssue{AuditID: auditID}
		var issue string
		if err := rows.Scan(&img.Src, &issue); err != nil {
			return nil, fmt.Errorf("scan image issue: %w", err)
		}
		img.Issue = audit.IssueKind(issue)
		out = append(out, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate image issues: %w", err)
	}
	return out, nil
}

func (r *Repository) linkIssues(ctx context.Context, auditID string) ([]audit.LinkIssue, error) {
	rows, err := r.pool.Query(ctx, `SELECT href, text, status, issue FROM link_issues WHERE audit_id = $1 ORDER BY id`, auditID)
	if err != nil {
		return nil, fmt.Errorf("query link issues: %w", err)
	}
	defer rows.Close()

	out := []audit.LinkIssue{}
	for rows.Next() {
		link := audit.LinkIssue{AuditID: auditID}
		var (
			status int
			issue  string
		)
		if err := rows.Scan(&link.Href, &link.Text, &status, &issue); err != nil {
			return nil, fmt.Errorf("scan link issue: %w", err)
		}
		link.Status = audit.LinkStatus(status)
		link.Issue = audit.IssueKind(issue)
		out = append(out, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate link issues: %w", err)
	}
	return out, nil
}

func (r *Repository) performanceReports(ctx context.Context, auditID string) ([]audit.PerformanceReport, error) {
	rows, err := r.pool.Query(ctx, `
SELECT device_profile, performance_score, accessibility_score, best_practices_score, seo_score,
       first_contentful_paint, largest_contentful_paint, cumulative_layout_shift
FROM performance_reports WHERE audit_id = $1 ORDER BY device_profile DESC`, auditID)
	if err != nil {
		return nil, fmt.Errorf("query performance reports: %w", err)
	}
	defer rows.Close()

	out := []audit.PerformanceReport{}
	for rows.Next() {
		rep := audit.PerformanceReport{AuditID: auditID}
		var profile string
		if err := rows.Scan(
			&profile,
			&rep.PerformanceScore,
			&rep.AccessibilityScore,
			&rep.BestPracticesScore,
			&rep.SEOScore,
			&rep.FirstContentfulPaint,
			&rep.LargestContentfulPaint,
			&rep.CumulativeLayoutShift,
		); err != nil {
			return nil, fmt.Errorf("scan performance report: %w", err)
		}
		rep.Profile = audit.DeviceProfile(profile)
		out = append(out, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate performance reports: %w", err)
	}
	return out, nil
}

// ListAudits returns every audit, newest first.
func (r *Repository) ListAudits(ctx context.Context) ([]audit.Audit, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, url, status, created_at, finished_at
FROM audits ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query audits: %w", err)
	}
	defer rows.Close()

	out := []audit.Audit{}
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audits: %w", err)
	}
	return out, nil
}

// FailStale marks RUNNING audits created before cutoff as FAILED.
func (r *Repository) FailStale(ctx context.Context, cutoff time.Time, at time.Time) (int, error) {
	const query = `
UPDATE audits SET status = $1, finished_at = $2
WHERE status = $3 AND created_at < $4`
	tag, err := r.pool.Exec(ctx, query, string(audit.StatusFailed), at, string(audit.StatusRunning), cutoff)
	if err != nil {
		return 0, fmt.Errorf("fail stale audits: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanAudit(row pgx.Row) (audit.Audit, error) {
	var (
		a      audit.Audit
		status string
	)
	if err := row.Scan(&a.ID, &a.URL, &status, &a.CreatedAt, &a.FinishedAt); err != nil {
		return audit.Audit{}, err
	}
	parsed, err := audit.ParseStatus(status)
	if err != nil {
		return audit.Audit{}, err
	}
	a.Status = parsed
	return a, nil
}
