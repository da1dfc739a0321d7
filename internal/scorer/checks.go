package scorer

type check struct {
	id     string
	weight float64
	passed bool
}

// categoryScore is the weighted share of passing checks.
func categoryScore(checks []check) float64 {
	var total, passed float64
	for _, c := range checks {
		total += c.weight
		if c.passed {
			passed += c.weight
		}
	}
	if total == 0 {
		return 0
	}
	return passed / total
}

func accessibilityChecks(s Signals) []check {
	d := s.DOM
	return []check{
		{id: "image-alt", weight: 10, passed: d.ImagesMissingAlt == 0},
		{id: "button-name", weight: 10, passed: d.ButtonsWithoutName == 0},
		{id: "meta-viewport", weight: 10, passed: d.HasViewport},
		{id: "link-name", weight: 7, passed: d.LinksWithoutName == 0},
		{id: "label", weight: 7, passed: d.InputsWithoutLabel == 0},
		{id: "html-has-lang", weight: 7, passed: d.HasLang},
		{id: "document-title", weight: 7, passed: d.HasTitle},
	}
}

func bestPracticeChecks(s Signals) []check {
	d := s.DOM
	return []check{
		{id: "is-on-https", weight: 5, passed: d.IsHTTPS},
		{id: "errors-in-console", weight: 1, passed: s.ConsoleErrors == 0},
		{id: "doctype", weight: 1, passed: d.HasDoctype},
		{id: "charset", weight: 1, passed: d.HasCharset},
	}
}

func seoChecks(s Signals) []check {
	d := s.DOM
	return []check{
		{id: "viewport", weight: 1, passed: d.HasViewport},
		{id: "document-title", weight: 1, passed: d.HasTitle},
		{id: "meta-description", weight: 1, passed: d.HasDescription},
		{id: "http-status-code", weight: 1, passed: s.DocumentStatus == 0 || s.DocumentStatus < 400},
		{id: "link-text", weight: 1, passed: d.LinksGenericText == 0},
		{id: "is-crawlable", weight: 1, passed: !d.Noindex},
		{id: "image-alt", weight: 1, passed: d.ImagesMissingAlt == 0},
	}
}
