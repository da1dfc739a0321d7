package markup

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

const samplePage = `<!doctype html>
<html lang="en">
<head>
  <title> Example Store </title>
  <title>Second title</title>
  <meta name="Description" content="Cheap widgets">
</head>
<body>
  <h1>Widgets</h1>
  <img src="/a.png">
  <img src="/b.png" alt="">
  <img src="/c.png" alt="A widget">
  <img alt="">
  <a href="/about">  About us </a>
  <a href="">empty</a>
  <a>no href</a>
  <a href="mailto:sales@example.com">Mail</a>
</body>
</html>`

func TestAnalyzeExtractsFindings(t *testing.T) {
	t.Parallel()

	res := Analyze(samplePage)

	require.NotNil(t, res.Findings.Title)
	require.Equal(t, "Example Store", *res.Findings.Title)
	require.NotNil(t, res.Findings.Description)
	require.Equal(t, "Cheap widgets", *res.Findings.Description)
	require.True(t, res.Findings.HasH1)

	require.Equal(t, []audit.ImageIssue{
		{Src: "/a.png", Issue: audit.IssueMissingAlt},
		{Src: "/b.png", Issue: audit.IssueMissingAlt},
		{Src: "", Issue: audit.IssueMissingAlt},
	}, res.Images)

	require.Equal(t, []audit.Link{
		{Href: "/about", Text: "About us"},
		{Href: "mailto:sales@example.com", Text: "Mail"},
	}, res.Links)
}

func TestAnalyzeTrimsAnchorTextOnly(t *testing.T) {
	t.Parallel()

	res := Analyze("<a href=\"/team\">\n  Our\tteam  <b>page</b>\n</a>")

	require.Equal(t, []audit.Link{{Href: "/team", Text: "Our\tteam  page"}}, res.Links)
}

func TestAnalyzeMissingElements(t *testing.T) {
	t.Parallel()

	res := Analyze(`<html><body><p>hello</p><img src="x.png" alt="x"></body></html>`)

	require.Nil(t, res.Findings.Title)
	require.Nil(t, res.Findings.Description)
	require.False(t, res.Findings.HasH1)
	require.Empty(t, res.Images)
	require.Empty(t, res.Links)
}

func TestAnalyzeEmptyTitleAndDescriptionAreAbsent(t *testing.T) {
	t.Parallel()

	res := Analyze(`<title>   </title><meta name="description" content="">`)

	require.Nil(t, res.Findings.Title)
	require.Nil(t, res.Findings.Description)
}

func TestAnalyzeIsTotalOnMalformedMarkup(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"",
		"not html at all",
		"<h1><img src=broken.png<a href=x>",
		"<<<>>><title>unterminated",
		"\x00\xff\xfe",
	}
	for _, in := range inputs {
		require.NotPanics(t, func() { Analyze(in) })
	}

	res := Analyze("<h1><img src=broken.png>")
	require.True(t, res.Findings.HasH1)
	require.Len(t, res.Images, 1)
}

func TestAnalyzeIsIdempotent(t *testing.T) {
	t.Parallel()

	first := Analyze(samplePage)
	second := Analyze(samplePage)
	require.Equal(t, first, second)
}

func FuzzAnalyze(f *testing.F) {
	f.Add(samplePage)
	f.Add("<img>")
	f.Add("<a href='::bad'>x</a>")
	f.Fuzz(func(t *testing.T, in string) {
		res := Analyze(in)
		for _, img := range res.Images {
			if img.Issue != audit.IssueMissingAlt {
				t.Fatalf("unexpected issue kind %q", img.Issue)
			}
		}
		for _, l := range res.Links {
			if l.Href == "" {
				t.Fatal("empty href reported")
			}
		}
	})
}
