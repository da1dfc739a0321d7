package audit

import (
	"context"
	"io"
	"time"
)

// Repository persists audits and their child records.
type Repository interface {
	// CreateAudit inserts a new audit; the caller sets ID, URL, Status and CreatedAt.
	CreateAudit(ctx context.Context, a Audit) error
	// TransitionStatus moves an audit from one status to another only if the
	// stored status still equals from. Otherwise it returns ErrInvalidTransition.
	TransitionStatus(ctx context.Context, auditID string, from, to Status, at time.Time) error
	// AppendFindings writes all child records of a run in one unit.
	AppendFindings(ctx context.Context, auditID string, findings Findings) error
	// GetAudit loads an audit with all child records or returns ErrNotFound.
	GetAudit(ctx context.Context, auditID string) (Report, error)
	// ListAudits returns audits newest first.
	ListAudits(ctx context.Context) ([]Audit, error)
	// FailStale marks RUNNING audits created before cutoff as FAILED and
	// returns how many were transitioned.
	FailStale(ctx context.Context, cutoff time.Time, at time.Time) (int, error)
}

// PageFetcher returns the text body of a URL.
type PageFetcher interface {
	FetchText(ctx context.Context, url string) (Page, error)
}

// Scorer measures a page under a device profile.
type Scorer interface {
	Score(ctx context.Context, url string, profile DeviceProfile) (PerformanceReport, error)
}

// LinkChecker classifies the reachability of one hyperlink. It fails only
// when ctx ends before the link is classified.
type LinkChecker interface {
	Check(ctx context.Context, hrefRaw string, baseURL string) (LinkStatus, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes audit notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces audit IDs.
type IDGenerator interface {
	NewID() (string, error)
}
