package scorer

import (
	"context"
	"errors"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

// ErrUnavailable is returned by Noop.
var ErrUnavailable = errors.New("performance scorer not configured")

// Noop implements audit.Scorer but always fails, leaving audits without
// performance reports.
type Noop struct{}

// NewNoop creates a new Noop scorer.
func NewNoop() *Noop {
	return &Noop{}
}

// Score always returns ErrUnavailable.
func (Noop) Score(_ context.Context, _ string, _ audit.DeviceProfile) (audit.PerformanceReport, error) {
	return audit.PerformanceReport{}, ErrUnavailable
}
