package render

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/jmgilman/go/errors"
)

// Allowlist decides which image references may be loaded. Only http and
// https URLs on the base URL's host are allowed. A zero Allowlist allows
// nothing.
type Allowlist struct {
	base *url.URL
}

// NewAllowlist builds an allowlist for base. An empty base allows nothing.
func NewAllowlist(base string) (*Allowlist, error) {
	if base == "" {
		return &Allowlist{}, nil
	}

	u, err := url.Parse(base)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInvalidConfig, "parse base url %q", base)
	}
	if !allowedScheme(u.Scheme) || u.Host == "" {
		return nil, errors.Newf(errors.CodeInvalidConfig, "base url %q must be an absolute http(s) url", base)
	}
	return &Allowlist{base: u}, nil
}

// Resolve resolves ref against the base URL and reports whether the result
// may be loaded.
func (a *Allowlist) Resolve(ref string) (string, bool) {
	if a == nil || a.base == nil {
		return "", false
	}

	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	u = a.base.ResolveReference(u)
	if !allowedScheme(u.Scheme) || !strings.EqualFold(u.Host, a.base.Host) || u.User != nil {
		return "", false
	}
	return u.String(), true
}

// srcPattern matches absolute URLs on the allowed host. It is nil when
// nothing is allowed.
func (a *Allowlist) srcPattern() *regexp.Regexp {
	if a == nil || a.base == nil {
		return nil
	}
	return regexp.MustCompile(`(?i)^https?://` + regexp.QuoteMeta(a.base.Host) + `(?:[/?#]|$)`)
}

func allowedScheme(s string) bool {
	s = strings.ToLower(s)
	return s == "http" || s == "https"
}
