// Package memory provides in-memory stores for development and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

// Repository implements audit.Repository in memory. Every method runs under a
// single lock, so readers never see a half-applied write.
type Repository struct {
	mu       sync.RWMutex
	audits   map[string]audit.Audit
	markup   map[string]audit.MarkupFindings
	images   map[string][]audit.ImageIssue
	links    map[string][]audit.LinkIssue
	reports  map[string][]audit.PerformanceReport
	sequence map[string]int
	next     int
}

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		audits:   make(map[string]audit.Audit),
		markup:   make(map[string]audit.MarkupFindings),
		images:   make(map[string][]audit.ImageIssue),
		links:    make(map[string][]audit.LinkIssue),
		reports:  make(map[string][]audit.PerformanceReport),
		sequence: make(map[string]int),
	}
}

// CreateAudit stores a new audit.
func (r *Repository) CreateAudit(_ context.Context, a audit.Audit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.audits[a.ID]; exists {
		return fmt.Errorf("audit %s already exists", a.ID)
	}
	r.audits[a.ID] = a
	r.next++
	r.sequence[a.ID] = r.next
	return nil
}

// TransitionStatus moves an audit from one status to another if it is still in from.
func (r *Repository) TransitionStatus(_ context.Context, auditID string, from, to audit.Status, at time.Time) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", audit.ErrInvalidTransition, from, to)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.audits[auditID]
	if !ok {
		return audit.ErrNotFound
	}
	if a.Status != from {
		return fmt.Errorf("%w: audit is %s, not %s", audit.ErrInvalidTransition, a.Status, from)
	}
	a.Status = to
	if to.Terminal() {
		finished := at
		a.FinishedAt = &finished
	}
	r.audits[auditID] = a
	return nil
}

// AppendFindings stores every child record of a run.
func (r *Repository) AppendFindings(_ context.Context, auditID string, f audit.Findings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.audits[auditID]; !ok {
		return audit.ErrNotFound
	}
	if f.Markup != nil {
		m := *f.Markup
		m.AuditID = auditID
		r.markup[auditID] = m
	}
	for _, img := range f.Images {
		img.AuditID = auditID
		r.images[auditID] = append(r.images[auditID], img)
	}
	for _, link := range f.Links {
		link.AuditID = auditID
		r.links[auditID] = append(r.links[auditID], link)
	}
	for _, rep := range f.Reports {
		rep.AuditID = auditID
		r.reports[auditID] = append(r.reports[auditID], rep)
	}
	return nil
}

// GetAudit returns an audit and copies of its child records.
func (r *Repository) GetAudit(_ context.Context, auditID string) (audit.Report, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.audits[auditID]
	if !ok {
		return audit.Report{}, audit.ErrNotFound
	}
	report := audit.Report{
		Audit:       a,
		ImageIssues: slices.Clone(r.images[auditID]),
		LinkIssues:  slices.Clone(r.links[auditID]),
		Performance: slices.Clone(r.reports[auditID]),
	}
	if m, ok := r.markup[auditID]; ok {
		report.Markup = &m
	}
	return report, nil
}

// ListAudits returns every audit, newest first.
func (r *Repository) ListAudits(_ context.Context) ([]audit.Audit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]audit.Audit, 0, len(r.audits))
	for _, a := range r.audits {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b audit.Audit) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return r.sequence[b.ID] - r.sequence[a.ID]
	})
	return out, nil
}

// FailStale marks RUNNING audits created before cutoff as FAILED.
func (r *Repository) FailStale(_ context.Context, cutoff time.Time, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for id, a := range r.audits {
		if a.Status != audit.StatusRunning || !a.CreatedAt.Before(cutoff) {
			continue
		}
		finished := at
		a.Status = audit.StatusFailed
		a.FinishedAt = &finished
		r.audits[id] = a
		count++
	}
	return count, nil
}
