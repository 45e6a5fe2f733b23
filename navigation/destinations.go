package navigation

import (
	"net/url"
	"strings"

	"github.com/webverify/webverify/trust"
)

// InternalOrigin prefixes the extension's own pages.
const InternalOrigin = "webverify://extension"

// Destinations are the interstitial pages a context is redirected to.
type Destinations struct {
	Warning   string
	Rejection string
}

// DefaultDestinations returns the built-in interstitial pages.
func DefaultDestinations() Destinations {
	return Destinations{
		Warning:   InternalOrigin + "/pages/unverified-link.html",
		Rejection: InternalOrigin + "/pages/rejected.html",
	}
}

// WarningURL is the page shown when a link's author does not match the
// referring page's matcher. date is omitted when empty.
func (d Destinations) WarningURL(target, date string) string {
	q := url.Values{"url": {target}}
	if date != "" {
		q.Set("date", date)
	}
	return d.Warning + "?" + q.Encode()
}

// RejectionURL is the page shown when the author's key was rejected.
func (d Destinations) RejectionURL(target string, keyID trust.KeyID) string {
	q := url.Values{"url": {target}, "keyId": {string(keyID)}}
	return d.Rejection + "?" + q.Encode()
}

// Verifiable reports whether documents at raw are checked at all. Only
// http and https documents are; the interstitial pages are not.
func Verifiable(raw string) bool {
	if strings.HasPrefix(raw, InternalOrigin) {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
