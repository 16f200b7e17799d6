package heuristics

import (
	"fmt"
	"strings"

	"github.com/phishguard/backend/internal/features"
	"github.com/phishguard/backend/pkg/config"
)

// Rule is a single deterministic URL indicator. Evaluate returns nil when the
// indicator does not fire, or a Finding carrying its fixed point value.
type Rule interface {
	Name() string
	Evaluate(f *features.URLFeatures) *Finding
}

// Finding is one matched indicator with its contribution and evidence text.
type Finding struct {
	Rule     string  `json:"rule"`
	Points   float64 `json:"points"`
	Evidence string  `json:"evidence"`
}

var suspiciousKeywords = []string{
	"verify", "update", "confirm", "secure", "account", "login",
	"signin", "banking", "suspended", "limited", "expire", "urgent",
}

var suspiciousTLDs = []string{".tk", ".ml", ".ga", ".cf", ".pw", ".top"}

// brandDomains maps spoofing targets to the registrable domain that is
// allowed to carry the brand name.
var brandDomains = map[string]string{
	"paypal":    "paypal.com",
	"amazon":    "amazon.com",
	"microsoft": "microsoft.com",
	"apple":     "apple.com",
	"google":    "google.com",
	"facebook":  "facebook.com",
	"netflix":   "netflix.com",
	"instagram": "instagram.com",
}

// leetSubstitutions undoes the digit-for-letter swaps phishers use to dodge
// exact-match brand filters (payp4l, g00gle, micr0soft).
var leetSubstitutions = strings.NewReplacer(
	"0", "o",
	"1", "l",
	"3", "e",
	"4", "a",
	"5", "s",
	"7", "t",
)

type urlLengthRule struct {
	threshold int
	points    float64
}

func (r urlLengthRule) Name() string { return "url_length" }

func (r urlLengthRule) Evaluate(f *features.URLFeatures) *Finding {
	if f.Length < r.threshold {
		return nil
	}
	return &Finding{
		Rule:     r.Name(),
		Points:   r.points,
		Evidence: fmt.Sprintf("URL is %d characters long (threshold %d)", f.Length, r.threshold),
	}
}

type hyphenCountRule struct {
	threshold int
	points    float64
}

func (r hyphenCountRule) Name() string { return "hyphen_count" }

func (r hyphenCountRule) Evaluate(f *features.URLFeatures) *Finding {
	if f.HyphenCount < r.threshold {
		return nil
	}
	return &Finding{
		Rule:     r.Name(),
		Points:   r.points,
		Evidence: fmt.Sprintf("URL contains %d hyphens", f.HyphenCount),
	}
}

type ipPresenceRule struct {
	points float64
}

func (r ipPresenceRule) Name() string { return "ip_address" }

func (r ipPresenceRule) Evaluate(f *features.URLFeatures) *Finding {
	if !f.HasLiteralIP {
		return nil
	}
	return &Finding{
		Rule:     r.Name(),
		Points:   r.points,
		Evidence: fmt.Sprintf("host is a literal IP address (%s)", f.Domain),
	}
}

type keywordRule struct {
	keywords []string
	points   float64
}

func (r keywordRule) Name() string { return "suspicious_keyword" }

func (r keywordRule) Evaluate(f *features.URLFeatures) *Finding {
	lower := strings.ToLower(f.Normalized)
	var matched []string
	for _, kw := range r.keywords {
		if strings.Contains(lower, kw) {
			matched = append(matched, kw)
		}
	}
	if len(matched) == 0 {
		return nil
	}
	return &Finding{
		Rule:     r.Name(),
		Points:   r.points,
		Evidence: fmt.Sprintf("URL contains suspicious keywords: %s", strings.Join(matched, ", ")),
	}
}

type subdomainDepthRule struct {
	threshold int
	points    float64
}

func (r subdomainDepthRule) Name() string { return "subdomain_depth" }

func (r subdomainDepthRule) Evaluate(f *features.URLFeatures) *Finding {
	if f.SubdomainDepth < r.threshold {
		return nil
	}
	return &Finding{
		Rule:     r.Name(),
		Points:   r.points,
		Evidence: fmt.Sprintf("domain has %d subdomain levels", f.SubdomainDepth),
	}
}

type suspiciousTLDRule struct {
	tlds   []string
	points float64
}

func (r suspiciousTLDRule) Name() string { return "suspicious_tld" }

func (r suspiciousTLDRule) Evaluate(f *features.URLFeatures) *Finding {
	for _, tld := range r.tlds {
		if f.TLD == tld {
			return &Finding{
				Rule:     r.Name(),
				Points:   r.points,
				Evidence: fmt.Sprintf("top-level domain %s is frequently abused", tld),
			}
		}
	}
	return nil
}

type brandSpoofRule struct {
	points float64
}

func (r brandSpoofRule) Name() string { return "brand_spoof" }

// Evaluate fires when a brand name appears as a domain token outside the
// brand's own registrable domain, after undoing leetspeak substitutions.
func (r brandSpoofRule) Evaluate(f *features.URLFeatures) *Finding {
	deleeted := leetSubstitutions.Replace(f.Domain)
	tokens := strings.FieldsFunc(deleeted, func(c rune) bool {
		return c == '.' || c == '-' || c == '_'
	})

	for brand, legitDomain := range brandDomains {
		if f.Domain == legitDomain || strings.HasSuffix(f.Domain, "."+legitDomain) {
			continue
		}
		for _, token := range tokens {
			if token == brand {
				return &Finding{
					Rule:     r.Name(),
					Points:   r.points,
					Evidence: fmt.Sprintf("domain %q impersonates brand %q", f.Domain, brand),
				}
			}
		}
	}
	return nil
}

type noHTTPSRule struct {
	points float64
}

func (r noHTTPSRule) Name() string { return "no_https" }

func (r noHTTPSRule) Evaluate(f *features.URLFeatures) *Finding {
	if f.Scheme == "https" {
		return nil
	}
	return &Finding{
		Rule:     r.Name(),
		Points:   r.points,
		Evidence: fmt.Sprintf("connection is not secured (%s)", f.Scheme),
	}
}

// defaultRules builds the eight indicator rules from configuration. Order is
// fixed so explanations come out identically for identical input.
func defaultRules(cfg config.DetectionConfig) []Rule {
	return []Rule{
		urlLengthRule{threshold: cfg.LengthThreshold, points: cfg.URLLengthPoints},
		hyphenCountRule{threshold: cfg.HyphenThreshold, points: cfg.HyphenCountPoints},
		ipPresenceRule{points: cfg.IPPresencePoints},
		keywordRule{keywords: suspiciousKeywords, points: cfg.KeywordPoints},
		subdomainDepthRule{threshold: cfg.SubdomainThreshold, points: cfg.SubdomainDepthPoints},
		suspiciousTLDRule{tlds: suspiciousTLDs, points: cfg.SuspiciousTLDPoints},
		brandSpoofRule{points: cfg.BrandSpoofPoints},
		noHTTPSRule{points: cfg.NoHTTPSPoints},
	}
}
