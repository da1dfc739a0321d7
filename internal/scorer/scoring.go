// Package scorer turns raw page measurements into Lighthouse-style category
// scores and human-readable vital readings.
package scorer

import (
	"errors"
	"fmt"
	"math"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

// ErrNoContentfulPaint is returned when the page never painted content, so no
// performance score can be derived.
var ErrNoContentfulPaint = errors.New("page produced no contentful paint")

// inverseErfcOneFifth is erfc^-1(0.2); it maps the p10 control point to a score of 0.9.
const inverseErfcOneFifth = 0.9061938024368232

// Signals are the raw measurements collected while rendering a page.
type Signals struct {
	// Paint and responsiveness timings, in milliseconds.
	FirstContentfulPaint   float64 `json:"fcp"`
	LargestContentfulPaint float64 `json:"lcp"`
	TotalBlockingTime      float64 `json:"tbt"`
	CumulativeLayoutShift  float64 `json:"cls"`

	DOM DOMSignals `json:"dom"`

	// Filled from browser events rather than the page itself.
	DocumentStatus int `json:"-"`
	ConsoleErrors  int `json:"-"`
}

// DOMSignals are structural facts about the rendered document.
type DOMSignals struct {
	HasDoctype     bool `json:"hasDoctype"`
	HasLang        bool `json:"hasLang"`
	HasTitle       bool `json:"hasTitle"`
	HasDescription bool `json:"hasDescription"`
	HasViewport    bool `json:"hasViewport"`
	HasCharset     bool `json:"hasCharset"`
	IsHTTPS        bool `json:"isHttps"`
	Noindex        bool `json:"noindex"`

	ImagesTotal        int `json:"imagesTotal"`
	ImagesMissingAlt   int `json:"imagesMissingAlt"`
	LinksTotal         int `json:"linksTotal"`
	LinksWithoutName   int `json:"linksWithoutName"`
	LinksGenericText   int `json:"linksGenericText"`
	ButtonsTotal       int `json:"buttonsTotal"`
	ButtonsWithoutName int `json:"buttonsWithoutName"`
	InputsTotal        int `json:"inputsTotal"`
	InputsWithoutLabel int `json:"inputsWithoutLabel"`
}

// ControlPoints anchor the log-normal curve of a metric: a value at P10 scores
// 0.9 and a value at Median scores 0.5.
type ControlPoints struct {
	P10    float64
	Median float64
}

// MetricCurves holds the control points of every performance metric for one profile.
type MetricCurves struct {
	FCP ControlPoints
	LCP ControlPoints
	TBT ControlPoints
	CLS ControlPoints
}

var curves = map[audit.DeviceProfile]MetricCurves{
	audit.ProfileMobile: {
		FCP: ControlPoints{P10: 1800, Median: 3000},
		LCP: ControlPoints{P10: 2500, Median: 4000},
		TBT: ControlPoints{P10: 200, Median: 600},
		CLS: ControlPoints{P10: 0.1, Median: 0.25},
	},
	audit.ProfileDesktop: {
		FCP: ControlPoints{P10: 934, Median: 1600},
		LCP: ControlPoints{P10: 1200, Median: 2400},
		TBT: ControlPoints{P10: 150, Median: 350},
		CLS: ControlPoints{P10: 0.1, Median: 0.25},
	},
}

// Curves returns the metric control points for profile.
func Curves(profile audit.DeviceProfile) (MetricCurves, bool) {
	c, ok := curves[profile]
	return c, ok
}

// Metric weights inside the performance category.
const (
	weightFCP = 10
	weightLCP = 25
	weightTBT = 30
	weightCLS = 25
)

// LogNormalScore maps value onto [0, 1] using the complementary log-normal
// CDF anchored by cp. Lower values score higher.
func LogNormalScore(cp ControlPoints, value float64) float64 {
	if value <= 0 {
		return 1
	}
	if cp.P10 <= 0 || cp.Median <= 0 || cp.P10 >= cp.Median {
		return 0
	}
	xLogRatio := math.Log(math.Max(math.SmallestNonzeroFloat64, value/cp.Median))
	p10LogRatio := -math.Log(math.Max(math.SmallestNonzeroFloat64, cp.P10/cp.Median))
	standardized := xLogRatio * inverseErfcOneFifth / p10LogRatio
	score := math.Erfc(standardized) / 2

	// Keep the score inside the band its control points promise despite rounding.
	switch {
	case value <= cp.P10:
		return math.Max(0.9, math.Min(1, score))
	case value <= cp.Median:
		return math.Max(0.5, math.Min(0.8999999999999999, score))
	default:
		return math.Max(0, math.Min(0.49999999999999994, score))
	}
}

// PerformanceScore returns the weighted performance score in [0, 1].
func PerformanceScore(profile audit.DeviceProfile, s Signals) (float64, error) {
	c, ok := curves[profile]
	if !ok {
		return 0, fmt.Errorf("unknown device profile %q", profile)
	}
	if s.FirstContentfulPaint <= 0 {
		return 0, ErrNoContentfulPaint
	}
	lcp := s.LargestContentfulPaint
	if lcp <= 0 {
		lcp = s.FirstContentfulPaint
	}
	total := weightFCP*LogNormalScore(c.FCP, s.FirstContentfulPaint) +
		weightLCP*LogNormalScore(c.LCP, lcp) +
		weightTBT*LogNormalScore(c.TBT, s.TotalBlockingTime) +
		weightCLS*LogNormalScore(c.CLS, s.CumulativeLayoutShift)
	return total / (weightFCP + weightLCP + weightTBT + weightCLS), nil
}

// Build produces a PerformanceReport for profile. The AuditID is left to the caller.
func Build(profile audit.DeviceProfile, s Signals) (audit.PerformanceReport, error) {
	perf, err := PerformanceScore(profile, s)
	if err != nil {
		return audit.PerformanceReport{}, err
	}
	lcp := s.LargestContentfulPaint
	if lcp <= 0 {
		lcp = s.FirstContentfulPaint
	}
	return audit.PerformanceReport{
		Profile:                profile,
		PerformanceScore:       toPercent(perf),
		AccessibilityScore:     toPercent(categoryScore(accessibilityChecks(s))),
		BestPracticesScore:     toPercent(categoryScore(bestPracticeChecks(s))),
		SEOScore:               toPercent(categoryScore(seoChecks(s))),
		FirstContentfulPaint:   FormatSeconds(s.FirstContentfulPaint),
		LargestContentfulPaint: FormatSeconds(lcp),
		CumulativeLayoutShift:  FormatShift(s.CumulativeLayoutShift),
	}, nil
}

// FormatSeconds renders a millisecond timing as "1.2 s".
func FormatSeconds(ms float64) string {
	return fmt.Sprintf("%.1f s", math.Max(0, ms)/1000)
}

// FormatShift renders a layout shift value with three decimals.
func FormatShift(cls float64) string {
	return fmt.Sprintf("%.3f", math.Max(0, cls))
}

func toPercent(score float64) int {
	return int(math.Round(math.Max(0, math.Min(1, score)) * 100))
}
