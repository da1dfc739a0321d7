package audit

import (
	"fmt"
	"time"
)

// DeviceProfile parameterizes a performance scorer invocation.
type DeviceProfile string

// Supported device profiles. Every completed audit asks the scorer once per profile.
const (
	ProfileMobile  DeviceProfile = "mobile"
	ProfileDesktop DeviceProfile = "desktop"
)

// Profiles lists the profiles scored for every audit, in a stable order.
var Profiles = []DeviceProfile{ProfileMobile, ProfileDesktop}

// Valid reports whether p is one of the supported profiles.
func (p DeviceProfile) Valid() bool {
	switch p {
	case ProfileMobile, ProfileDesktop:
		return true
	default:
		return false
	}
}

// IssueKind classifies image and link findings.
type IssueKind string

// Issue kinds persisted alongside findings.
const (
	IssueMissingAlt IssueKind = "MISSING_ALT"
	IssueBrokenLink IssueKind = "BROKEN_LINK"
)

// LinkStatus is the outcome of a reachability probe: an HTTP status code or a
// negative sentinel for outcomes that never produced a response.
type LinkStatus int

// Sentinels and numeric placeholders returned by the link probe.
const (
	LinkStatusInvalidURL      LinkStatus = -1
	LinkStatusSkippedProtocol LinkStatus = -2
	LinkStatusTimeout         LinkStatus = 408
	LinkStatusTransportError  LinkStatus = 500
)

// Broken reports whether the status should be persisted as a BROKEN_LINK issue.
func (s LinkStatus) Broken() bool {
	return s >= 400
}

// String renders sentinels by name and HTTP statuses as numbers.
func (s LinkStatus) String() string {
	switch s {
	case LinkStatusInvalidURL:
		return "INVALID_URL"
	case LinkStatusSkippedProtocol:
		return "SKIPPED_PROTOCOL"
	default:
		return fmt.Sprintf("%d", int(s))
	}
}

// Class groups a status for metrics labels (2xx..5xx, or the sentinel name).
func (s LinkStatus) Class() string {
	switch {
	case s == LinkStatusInvalidURL || s == LinkStatusSkippedProtocol:
		return s.String()
	case s >= 100 && s < 600:
		return fmt.Sprintf("%dxx", int(s)/100)
	default:
		return "other"
	}
}

// Audit is the root entity of one end-to-end analysis run.
type Audit struct {
	ID         string     `json:"id"`
	URL        string     `json:"url"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// MarkupFindings summarizes the SEO-relevant head/body markup of the page.
type MarkupFindings struct {
	AuditID     string  `json:"audit_id"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	HasH1       bool    `json:"has_h1"`
	ContentHash string  `json:"content_hash,omitempty"`
	SnapshotURI string  `json:"snapshot_uri,omitempty"`
}

// ImageIssue records an image lacking alternative text.
type ImageIssue struct {
	AuditID string    `json:"audit_id"`
	Src     string    `json:"src"`
	Issue   IssueKind `json:"issue"`
}

// LinkIssue records a link whose probe concluded it is broken.
type LinkIssue struct {
	AuditID string     `json:"audit_id"`
	Href    string     `json:"href"`
	Text    string     `json:"text"`
	Status  LinkStatus `json:"status"`
	Issue   IssueKind  `json:"issue"`
}

// PerformanceReport holds one device profile's category scores and vitals.
type PerformanceReport struct {
	AuditID                string        `json:"audit_id"`
	Profile                DeviceProfile `json:"device_profile"`
	PerformanceScore       int           `json:"performance_score"`
	AccessibilityScore     int           `json:"accessibility_score"`
	BestPracticesScore     int           `json:"best_practices_score"`
	SEOScore               int           `json:"seo_score"`
	FirstContentfulPaint   string        `json:"first_contentful_paint"`
	LargestContentfulPaint string        `json:"largest_contentful_paint"`
	CumulativeLayoutShift  string        `json:"cumulative_layout_shift"`
}

// Link is one anchor discovered in the markup.
type Link struct {
	Href string `json:"href"`
	Text string `json:"text"`
}

// Findings bundles every child record produced by one run so a repository
// can append them atomically.
type Findings struct {
	Markup  *MarkupFindings
	Images  []ImageIssue
	Links   []LinkIssue
	Reports []PerformanceReport
}

// Report is an audit with all of its child records, served to readers.
type Report struct {
	Audit       Audit               `json:"audit"`
	Markup      *MarkupFindings     `json:"markup,omitempty"`
	ImageIssues []ImageIssue        `json:"image_issues"`
	LinkIssues  []LinkIssue         `json:"link_issues"`
	Performance []PerformanceReport `json:"performance_reports"`
}

// Page is the text body returned by a PageFetcher.
type Page struct {
	URL        string
	StatusCode int
	Body       string
	Duration   time.Duration
}

// Notification announces that an audit reached a terminal status.
type Notification struct {
	AuditID   string    `json:"audit_id"`
	URL       string    `json:"url"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Attributes returns routing metadata for message brokers.
func (n Notification) Attributes() map[string]string {
	return map[string]string{
		"audit_id": n.AuditID,
		"status":   string(n.Status),
	}
}
