// Package matcher parses and evaluates author matchers: declarations by a
// page that links under a URL prefix must be signed by a specific key.
package matcher

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/webverify/webverify/trust"
)

// Wildcard is the marker every matcher prefix must end with.
const Wildcard = "*"

// ErrInvalidDirective is wrapped by every directive validation error.
var ErrInvalidDirective = errors.New("invalid matcher directive")

// dateLayouts are the accepted ISO-8601 forms of the optional date.
var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// Directive is the wire form of a matcher declaration.
type Directive struct {
	Prefix string `json:"prefix"`
	KeyID  string `json:"keyId"`
	Date   string `json:"date,omitempty"`
}

// Matcher is a validated directive with its prefix resolved to an absolute
// URL prefix.
type Matcher struct {
	Prefix    string
	KeyID     trust.KeyID
	Date      string // as declared, carried to the warning page
	NotBefore time.Time
}

// ParseTag splits the content of a matcher tag, `prefix [date] keyId`.
func ParseTag(content string) (Directive, error) {
	parts := strings.Fields(content)
	switch len(parts) {
	case 2:
		return Directive{Prefix: parts[0], KeyID: parts[1]}, nil
	case 3:
		return Directive{Prefix: parts[0], Date: parts[1], KeyID: parts[2]}, nil
	default:
		return Directive{}, fmt.Errorf("%w: %q has %d tokens, want 2 or 3", ErrInvalidDirective, content, len(parts))
	}
}

// ParseTags converts tag contents to directives, dropping malformed tags.
func ParseTags(contents []string) ([]Directive, error) {
	var (
		out  []Directive
		errs []error
	)
	for _, c := range contents {
		d, err := ParseTag(c)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, d)
	}
	return out, errors.Join(errs...)
}

// Parse validates d. A relative prefix is resolved against base, the URL of
// the declaring page; base may be nil when the prefix is absolute.
// Malformed directives are rejected, never repaired.
func Parse(d Directive, base *url.URL) (Matcher, error) {
	if !strings.HasSuffix(d.Prefix, Wildcard) {
		return Matcher{}, fmt.Errorf("%w: prefix %q does not end in %q", ErrInvalidDirective, d.Prefix, Wildcard)
	}

	id, err := trust.ParseKeyID(d.KeyID)
	if err != nil {
		return Matcher{}, fmt.Errorf("%w: %w", ErrInvalidDirective, err)
	}

	m := Matcher{KeyID: id, Date: d.Date}
	if d.Date != "" {
		ts, err := ParseDate(d.Date)
		if err != nil {
			return Matcher{}, fmt.Errorf("%w: %w", ErrInvalidDirective, err)
		}
		m.NotBefore = ts
	}

	raw := strings.TrimSuffix(d.Prefix, Wildcard)
	ref, err := url.Parse(raw)
	if err != nil {
		return Matcher{}, fmt.Errorf("%w: prefix %q: %w", ErrInvalidDirective, d.Prefix, err)
	}
	if !ref.IsAbs() {
		if base == nil {
			return Matcher{}, fmt.Errorf("%w: relative prefix %q without a page URL", ErrInvalidDirective, d.Prefix)
		}
		ref = base.ResolveReference(ref)
		// ResolveReference drops a trailing empty path segment; keep the
		// prefix exactly as declared.
		if strings.HasSuffix(raw, "/") && !strings.HasSuffix(ref.Path, "/") {
			ref.Path += "/"
		}
	}
	m.Prefix = ref.String() + Wildcard
	return m, nil
}

// ParseAll validates each directive independently. Invalid directives are
// dropped; the returned error joins the reasons and is informational.
func ParseAll(ds []Directive, base *url.URL) ([]Matcher, error) {
	var (
		out  []Matcher
		errs []error
	)
	for _, d := range ds {
		m, err := Parse(d, base)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, m)
	}
	return out, errors.Join(errs...)
}

// ParseDate parses a matcher date in any of the accepted ISO-8601 forms.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable date %q", s)
}

// Matches reports whether target falls under the matcher's prefix.
func (m Matcher) Matches(target string) bool {
	return strings.HasPrefix(target, strings.TrimSuffix(m.Prefix, Wildcard))
}

// Find returns the matcher with the longest prefix matching target.
func Find(ms []Matcher, target string) (Matcher, bool) {
	var (
		best  Matcher
		found bool
	)
	for _, m := range ms {
		if !m.Matches(target) {
			continue
		}
		if !found || len(m.Prefix) > len(best.Prefix) {
			best = m
			found = true
		}
	}
	return best, found
}

// ArchiveURL returns the Web Archive address of target as of the matcher
// date. A zero date asks the archive for every capture.
func ArchiveURL(target string, date time.Time) string {
	stamp := "*"
	if !date.IsZero() {
		stamp = date.Format("20060102150405")
	}
	return "https://web.archive.org/web/" + stamp + "/" + target
}
