package audit

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeTargetURL trims raw and accepts it only if it is an absolute
// http(s) URL with a host.
func NormalizeTargetURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("url is required")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("url %q is not absolute", trimmed)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("url %q has no host", trimmed)
	}
	return u.String(), nil
}

// ResolveLink resolves hrefRaw against baseURL into an absolute URL.
func ResolveLink(hrefRaw, baseURL string) (*url.URL, error) {
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	ref, err := url.Parse(strings.TrimSpace(hrefRaw))
	if err != nil {
		return nil, fmt.Errorf("parse href: %w", err)
	}
	resolved := base.ResolveReference(ref)
	if !resolved.IsAbs() {
		return nil, fmt.Errorf("href %q does not resolve to an absolute url", hrefRaw)
	}
	return resolved, nil
}

// IsHTTPScheme reports whether u uses http or https.
func IsHTTPScheme(u *url.URL) bool {
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return true
	default:
		return false
	}
}
