package features

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrInvalidURL marks input that cannot be parsed into a host. Callers reject
// these immediately; nothing downstream of the extractor sees them.
var ErrInvalidURL = errors.New("invalid url")

const maxURLLength = 2000

// URLFeatures is the structured view of a URL shared by the heuristic rules
// and the ML preprocessing. Extraction is pure: no network, no state.
type URLFeatures struct {
	Raw            string
	Normalized     string
	Scheme         string
	Host           string
	Domain         string
	TLD            string
	Path           string
	Query          string
	Length         int
	HyphenCount    int
	SubdomainDepth int
	HasLiteralIP   bool
}

// Extract parses and normalizes a raw URL. Scheme-less input is treated as
// https, matching how users paste addresses out of a browser bar.
func Extract(rawURL string) (*URLFeatures, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidURL)
	}
	if len(trimmed) > maxURLLength {
		return nil, fmt.Errorf("%w: exceeds %d characters", ErrInvalidURL, maxURLLength)
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("%w: no host in %q", ErrInvalidURL, rawURL)
	}

	scheme := strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Host)
	domain := strings.ToLower(parsed.Hostname())

	normalized := scheme + "://" + host + parsed.EscapedPath()
	if parsed.RawQuery != "" {
		normalized += "?" + parsed.RawQuery
	}

	isIP := net.ParseIP(domain) != nil

	return &URLFeatures{
		Raw:            rawURL,
		Normalized:     normalized,
		Scheme:         scheme,
		Host:           host,
		Domain:         domain,
		TLD:            extractTLD(domain, isIP),
		Path:           parsed.EscapedPath(),
		Query:          parsed.RawQuery,
		Length:         len(trimmed),
		HyphenCount:    strings.Count(trimmed, "-"),
		SubdomainDepth: subdomainDepth(domain, isIP),
		HasLiteralIP:   isIP,
	}, nil
}

func extractTLD(domain string, isIP bool) string {
	if isIP {
		return ""
	}
	idx := strings.LastIndex(domain, ".")
	if idx < 0 {
		return ""
	}
	return domain[idx:]
}

// subdomainDepth counts labels left of the registrable domain, so
// "login.secure.example.com" has depth 2.
func subdomainDepth(domain string, isIP bool) int {
	if isIP {
		return 0
	}
	parts := strings.Split(domain, ".")
	depth := len(parts) - 2
	if depth < 0 {
		return 0
	}
	return depth
}
