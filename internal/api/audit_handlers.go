package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-auditor/internal/audit"
	idgen "github.com/JakeFAU/site-auditor/internal/id/uuid"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
	readRepoTimeout   = 3 * time.Second
)

// AuditReader is the read side of audit.Repository.
type AuditReader interface {
	GetAudit(ctx context.Context, auditID string) (audit.Report, error)
	ListAudits(ctx context.Context) ([]audit.Audit, error)
}

// AuditHandler exposes read-only audit endpoints.
type AuditHandler struct {
	repo    AuditReader
	timeout time.Duration
	logger  *zap.Logger
}

// NewAuditHandler wires the repository and logger.
func NewAuditHandler(repo AuditReader, logger *zap.Logger) *AuditHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditHandler{
		repo:    repo,
		timeout: readRepoTimeout,
		logger:  logger,
	}
}

// ListAudits handles GET /v1/audits?status=&limit=&offset=. It returns
// {"audits": [...]} newest first, 400 for invalid filters, 503 when the repo
// is unavailable, or 500 if the repository call fails.
func (h *AuditHandler) ListAudits(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "audit repository unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultAuditLimit, maxAuditLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *audit.Status
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, parseErr := audit.ParseStatus(strings.ToUpper(raw))
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		status = &parsed
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	audits, err := h.repo.ListAudits(ctx)
	if err != nil {
		h.logger.Error("list audits failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list audits")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"audits": page(filterStatus(audits, status), limit, offset),
	})
}

// GetAudit handles GET /v1/audits/{audit_id}. It returns the full report on
// success, 400 for malformed IDs, 404 when the repository reports
// audit.ErrNotFound, 503 if the repo is not initialized, or 500 otherwise.
func (h *AuditHandler) GetAudit(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "audit repository unavailable")
		return
	}
	auditID, err := parseAuditID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	report, err := h.repo.GetAudit(ctx, auditID)
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			writeError(w, http.StatusNotFound, "audit not found")
			return
		}
		h.logger.Error("get audit failed", zap.String("audit_id", auditID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load audit")
		return
	}
	writeJSON(w, http.StatusOK, withEmptySlices(report))
}

func parseAuditID(r *http.Request) (string, error) {
	auditID := chi.URLParam(r, "audit_id")
	if auditID == "" {
		return "", errors.New("audit_id is required")
	}
	if !idgen.Valid(auditID) {
		return "", errors.New("invalid audit_id")
	}
	return auditID, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func filterStatus(in []audit.Audit, status *audit.Status) []audit.Audit {
	if status == nil {
		return in
	}
	out := make([]audit.Audit, 0, len(in))
	for _, a := range in {
		if a.Status == *status {
			out = append(out, a)
		}
	}
	return out
}

func page(in []audit.Audit, limit, offset int) []audit.Audit {
	if offset >= len(in) {
		return []audit.Audit{}
	}
	end := min(offset+limit, len(in))
	return in[offset:end]
}

// withEmptySlices renders absent child collections as [] rather than null.
func withEmptySlices(r audit.Report) audit.Report {
	if r.ImageIssues == nil {
		r.ImageIssues = []audit.ImageIssue{}
	}
	if r.LinkIssues == nil {
		r.LinkIssues = []audit.LinkIssue{}
	}
	if r.Performance == nil {
		r.Performance = []audit.PerformanceReport{}
	}
	return r
}
