// Package sqlite provides a single-file audit repository on the pure-Go
// SQLite driver.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/site-auditor/internal/audit"
)

//go:embed schema.sql
var schemaSQL string

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
}

// Repository implements audit.Repository on SQLite. Timestamps are stored as
// Unix microseconds.
type Repository struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Repository, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Pragmas are per connection and SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Repository{db: db}, nil
}

// Close closes the database.
func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Ping verifies the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// CreateAudit inserts a new audit row.
func (r *Repository) CreateAudit(ctx context.Context, a audit.Audit) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audits (id, url, status, created_at) VALUES (?, ?, ?, ?)`,
		a.ID, a.URL, string(a.Status), a.CreatedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// TransitionStatus updates the status only if the row still holds from.
func (r *Repository) TransitionStatus(ctx context.Context, auditID string, from, to audit.Status, at time.Time) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", audit.ErrInvalidTransition, from, to)
	}
	var finished sql.NullInt64
	if to.Terminal() {
		finished = sql.NullInt64{Int64: at.UnixMicro(), Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE audits SET status = ?, finished_at = COALESCE(?, finished_at)
WHERE id = ? AND status = ?`, string(to), finished, auditID, string(from))
	if err != nil {
		return fmt.Errorf("update audit status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	var current string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM audits WHERE id = ?`, auditID).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return audit.ErrNotFound
	case err != nil:
		return fmt.Errorf("load audit status: %w", err)
	default:
		return fmt.Errorf("%w: audit is %s, not %s", audit.ErrInvalidTransition, current, from)
	}
}

// AppendFindings writes every child record of a run in one transaction.
func (r *Repository) AppendFindings(ctx context.Context, auditID string, f audit.Findings) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin findings tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists int
	if err = tx.QueryRowContext(ctx, `SELECT 1 FROM audits WHERE id = ?`, auditID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = audit.ErrNotFound
			return err
		}
		return fmt.Errorf("check audit: %w", err)
	}

	if m := f.Markup; m != nil {
		if _, err = tx.ExecContext(ctx, `
INSERT INTO markup_findings (audit_id, title, description, has_h1, content_hash, snapshot_uri)
VALUES (?, ?, ?, ?, ?, ?)`,
			auditID, nullString(m.Title), nullString(m.Description), m.HasH1, m.ContentHash, m.SnapshotURI); err != nil {
			return fmt.Errorf("insert markup findings: %w", err)
		}
	}

	if len(f.Images) > 0 {
		stmt, prepErr := tx.PrepareContext(ctx, `INSERT INTO image_issues (audit_id, src, issue) VALUES (?, ?, ?)`)
		if prepErr != nil {
			err = prepErr
			return fmt.Errorf("prepare image issues: %w", err)
		}
		defer stmt.Close()
		for _, img := range f.Images {
			if _, err = stmt.ExecContext(ctx, auditID, img.Src, string(img.Issue)); err != nil {
				return fmt.Errorf("insert image issue: %w", err)
			}
		}
	}

	if len(f.Links) > 0 {
		stmt, prepErr := tx.PrepareContext(ctx,
			`INSERT INTO link_issues (audit_id, href, text, status, issue) VALUES (?, ?, ?, ?, ?)`)
		if prepErr != nil {
			err = prepErr
			return fmt.Errorf("prepare link issues: %w", err)
		}
		defer stmt.Close()
		for _, link := range f.Links {
			if _, err = stmt.ExecContext(ctx, auditID, link.Href, link.Text, int(link.Status), string(link.Issue)); err != nil {
				return fmt.Errorf("insert link issue: %w", err)
			}
		}
	}

	for _, rep := range f.Reports {
		if _, err = tx.ExecContext(ctx, `
INSERT INTO performance_reports (
	audit_id, device_profile, performance_score, accessibility_score, best_practices_score,
	seo_score, first_contentful_paint, largest_contentful_paint, cumulative_layout_shift
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit findings tx: %w", err)
	}
	return nil
}

// GetAudit loads an audit and all of its child records.
func (r *Repository) GetAudit(ctx context.Context, auditID string) (audit.Report, error) {
	a, err := scanAudit(r.db.QueryRowContext(ctx,
		`SELECT id, url, status, created_at, finished_at FROM audits WHERE id = ?`, auditID))
	if errors.Is(err, sql.ErrNoRows) {
		return audit.Report{}, audit.ErrNotFound
	}
	if err != nil {
		return audit.Report{}, fmt.Errorf("load audit: %w", err)
	}
	report := audit.Report{Audit: a}

	var (
		title, description sql.NullString
		m                  = audit.MarkupFindings{AuditID: auditID}
	)
	err = r.db.QueryRowContext(ctx, `
SELECT title, description, has_h1, content_hash, snapshot_uri
FROM markup_findings WHERE audit_id = ?`, auditID).
		Scan(&title, &description, &m.HasH1, &m.ContentHash, &m.SnapshotURI)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return audit.Report{}, fmt.Errorf("load markup findings: %w", err)
	default:
		m.Title = stringPtr(title)
		m.Description = stringPtr(description)
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
	rows, err := r.db.QueryContext(ctx, `SELECT src, issue FROM image_issues WHERE audit_id = ? ORDER BY id`, auditID)
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
	rows, err := r.db.QueryContext(ctx,
		`SELECT href, text, status, issue FROM link_issues WHERE audit_id = ? ORDER BY id`, auditID)
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
	rows, err := r.db.QueryContext(ctx, `
SELECT device_profile, performance_score, accessibility_score, best_practices_score, seo_score,
       first_contentful_paint, largest_contentful_paint, cumulative_layout_shift
FROM performance_reports WHERE audit_id = ? ORDER BY device_profile DESC`, auditID)
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
	rows, err := r.db.QueryContext(ctx, `
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
	res, err := r.db.ExecContext(ctx, `
UPDATE audits SET status = ?, finished_at = ?
WHERE status = ? AND created_at < ?`,
		string(audit.StatusFailed), at.UnixMicro(), string(audit.StatusRunning), cutoff.UnixMicro())
	if err != nil {
		return 0, fmt.Errorf("fail stale audits: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAudit(row rowScanner) (audit.Audit, error) {
	var (
		a        audit.Audit
		status   string
		created  int64
		finished sql.NullInt64
	)
	if err := row.Scan(&a.ID, &a.URL, &status, &created, &finished); err != nil {
		return audit.Audit{}, err
	}
	parsed, err := audit.ParseStatus(status)
	if err != nil {
		return audit.Audit{}, err
	}
	a.Status = parsed
	a.CreatedAt = time.UnixMicro(created).UTC()
	if finished.Valid {
		t := time.UnixMicro(finished.Int64).UTC()
		a.FinishedAt = &t
	}
	return a, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
