// Package markup extracts SEO and accessibility findings from raw HTML.
package markup

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

// Result is everything the analyzer extracts from one document.
type Result struct {
	Findings audit.MarkupFindings
	Images   []audit.ImageIssue
	Links    []audit.Link
}

// Analyze parses htmlText and returns its findings. It never fails: markup the
// parser cannot make sense of simply yields empty findings.
func Analyze(htmlText string) Result {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlText))
	if err != nil {
		return Result{}
	}
	return Result{
		Findings: audit.MarkupFindings{
			Title:       title(doc),
			Description: description(doc),
			HasH1:       doc.Find("h1").Length() > 0,
		},
		Images: imageIssues(doc),
		Links:  links(doc),
	}
}

func title(doc *goquery.Document) *string {
	text := strings.TrimSpace(doc.Find("title").First().Text())
	if text == "" {
		return nil
	}
	return &text
}

func description(doc *goquery.Document) *string {
	var content string
	doc.Find("meta[name]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		name, _ := s.Attr("name")
		if !strings.EqualFold(strings.TrimSpace(name), "description") {
			return true
		}
		content = strings.TrimSpace(s.AttrOr("content", ""))
		return false
	})
	if content == "" {
		return nil
	}
	return &content
}

func imageIssues(doc *goquery.Document) []audit.ImageIssue {
	var issues []audit.ImageIssue
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		if alt, ok := s.Attr("alt"); ok && alt != "" {
			return
		}
		issues = append(issues, audit.ImageIssue{
			Src:   s.AttrOr("src", ""),
			Issue: audit.IssueMissingAlt,
		})
	})
	return issues
}

func links(doc *goquery.Document) []audit.Link {
	var out []audit.Link
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" {
			return
		}
		out = append(out, audit.Link{
			Href: href,
			Text: strings.TrimSpace(s.Text()),
		})
	})
	return out
}
