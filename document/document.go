// Package document scans fetched HTML for the declarations webverify acts
// on: the detached signature link and the author matcher tags.
package document

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	// SignatureRel is the link relation naming a detached signature.
	SignatureRel = "signature"
	// MatcherMetaName is the meta name carrying matcher directives.
	MatcherMetaName = "webverify"
)

// head collects the declarations found in a document's <head>.
type head struct {
	signatureHref string
	hasSignature  bool
	directives    []string
}

// scanHead tokenizes content up to the end of <head> (or the first body
// content when the head is implied) and records signature links and
// matcher meta tags.
func scanHead(content []byte) head {
	var h head
	z := html.NewTokenizer(bytes.NewReader(content))

	for {
		switch z.Next() {
		case html.ErrorToken:
			return h
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			switch atom.Lookup(name) {
			case atom.Html, atom.Head, atom.Title, atom.Style, atom.Script, atom.Base, atom.Noscript, atom.Template:
			case atom.Body:
				return h
			case atom.Link:
				if !hasAttr || h.hasSignature {
					continue
				}
				attrs := readAttrs(z)
				if hasToken(attrs["rel"], SignatureRel) {
					if href, ok := attrs["href"]; ok {
						h.signatureHref = href
						h.hasSignature = true
					}
				}
			case atom.Meta:
				if !hasAttr {
					continue
				}
				attrs := readAttrs(z)
				if strings.EqualFold(attrs["name"], MatcherMetaName) {
					if c, ok := attrs["content"]; ok {
						h.directives = append(h.directives, c)
					}
				}
			default:
				return h
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if atom.Lookup(name) == atom.Head {
				return h
			}
		}
	}
}

func readAttrs(z *html.Tokenizer) map[string]string {
	attrs := make(map[string]string)
	for {
		key, val, more := z.TagAttr()
		k := string(key)
		if _, dup := attrs[k]; !dup {
			attrs[k] = string(val)
		}
		if !more {
			return attrs
		}
	}
}

// hasToken reports whether the space-separated list contains tok,
// ignoring case.
func hasToken(list, tok string) bool {
	for _, f := range strings.Fields(list) {
		if strings.EqualFold(f, tok) {
			return true
		}
	}
	return false
}

// SignatureHref returns the href of the first signature link in <head>.
func SignatureHref(content []byte) (string, bool) {
	h := scanHead(content)
	return h.signatureHref, h.hasSignature
}

// SignatureURL resolves the declared signature reference against docURL.
// ok is false when the document declares no signature.
func SignatureURL(docURL string, content []byte) (sigURL string, ok bool, err error) {
	href, ok := SignatureHref(content)
	if !ok {
		return "", false, nil
	}
	base, err := url.Parse(docURL)
	if err != nil {
		return "", true, fmt.Errorf("parsing document URL: %w", err)
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", true, fmt.Errorf("parsing signature href %q: %w", href, err)
	}
	return base.ResolveReference(ref).String(), true, nil
}

// MatcherDirectives returns the content of every webverify meta tag in
// <head>, in document order.
func MatcherDirectives(content []byte) []string {
	return scanHead(content).directives
}
