package matcher

import (
	"errors"
	"net/url"
	"testing"
	"time"
)

func mustURL(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	if err != nil {
		t.Fatalf("parsing %q: %v", s, err)
	}
	return u
}

func TestParseTag(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Directive
		wantErr bool
	}{
		{name: "prefix and key", content: "/docs/* AAAABBBBCCCCDDDD", want: Directive{Prefix: "/docs/*", KeyID: "AAAABBBBCCCCDDDD"}},
		{name: "with date", content: "/docs/* 2021-03-04 AAAABBBBCCCCDDDD", want: Directive{Prefix: "/docs/*", Date: "2021-03-04", KeyID: "AAAABBBBCCCCDDDD"}},
		{name: "extra whitespace", content: "  /a/*   AAAABBBBCCCCDDDD ", want: Directive{Prefix: "/a/*", KeyID: "AAAABBBBCCCCDDDD"}},
		{name: "single token", content: "/docs/*", wantErr: true},
		{name: "four tokens", content: "a b c d", wantErr: true},
		{name: "empty", content: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTag(tt.content)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTag(%q) error = %v, wantErr %v", tt.content, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseTag(%q) = %+v, want %+v", tt.content, got, tt.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	base := mustURL(t, "https://example.com/index.html")

	tests := []struct {
		name       string
		in         Directive
		wantPrefix string
		wantErr    bool
	}{
		{name: "relative prefix", in: Directive{Prefix: "/docs/*", KeyID: "aaaabbbbccccdddd"}, wantPrefix: "https://example.com/docs/*"},
		{name: "absolute prefix", in: Directive{Prefix: "https://other.example/blog/*", KeyID: "AAAABBBBCCCCDDDD"}, wantPrefix: "https://other.example/blog/*"},
		{name: "with date", in: Directive{Prefix: "/x*", KeyID: "AAAABBBBCCCCDDDD", Date: "2020-01-02T03:04:05Z"}, wantPrefix: "https://example.com/x*"},
		{name: "missing wildcard", in: Directive{Prefix: "/docs/", KeyID: "AAAABBBBCCCCDDDD"}, wantErr: true},
		{name: "short key id", in: Directive{Prefix: "/docs/*", KeyID: "AAAABBBB"}, wantErr: true},
		{name: "full fingerprint", in: Directive{Prefix: "/docs/*", KeyID: "AAAABBBBCCCCDDDDAAAABBBBCCCCDDDDAAAABBBB"}, wantErr: true},
		{name: "bad date", in: Directive{Prefix: "/docs/*", KeyID: "AAAABBBBCCCCDDDD", Date: "yesterday"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Parse(tt.in, base)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidDirective) {
					t.Errorf("error %v does not wrap ErrInvalidDirective", err)
				}
				return
			}
			if m.Prefix != tt.wantPrefix {
				t.Errorf("Prefix = %q, want %q", m.Prefix, tt.wantPrefix)
			}
		})
	}
}

func TestParseDateKept(t *testing.T) {
	m, err := Parse(Directive{Prefix: "/a/*", KeyID: "AAAABBBBCCCCDDDD", Date: "2021-03-04"}, mustURL(t, "https://example.com/"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if m.Date != "2021-03-04" {
		t.Errorf("Date = %q", m.Date)
	}
	if !m.NotBefore.Equal(time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("NotBefore = %v", m.NotBefore)
	}
}

func TestParseRelativeWithoutBase(t *testing.T) {
	if _, err := Parse(Directive{Prefix: "/docs/*", KeyID: "AAAABBBBCCCCDDDD"}, nil); err == nil {
		t.Error("expected error for relative prefix without base")
	}
}

func TestParseAllDropsIndividually(t *testing.T) {
	ds := []Directive{
		{Prefix: "/docs/*", KeyID: "AAAABBBBCCCCDDDD"},
		{Prefix: "/bad/", KeyID: "AAAABBBBCCCCDDDD"},
		{Prefix: "/short/*", KeyID: "ABCD"},
		{Prefix: "/blog/*", KeyID: "EEEE1111FFFF2222", Date: "2022-01-01"},
	}

	ms, err := ParseAll(ds, mustURL(t, "https://example.com/"))
	if err == nil {
		t.Error("expected joined error describing dropped directives")
	}
	if len(ms) != 2 {
		t.Fatalf("kept %d matchers, want 2", len(ms))
	}
	if ms[0].KeyID != "AAAABBBBCCCCDDDD" || ms[1].KeyID != "EEEE1111FFFF2222" {
		t.Errorf("kept %+v", ms)
	}
}

func TestParseTags(t *testing.T) {
	ds, err := ParseTags([]string{"/a/* AAAABBBBCCCCDDDD", "broken", "/b/* 2020-01-01 AAAABBBBCCCCDDDD"})
	if err == nil {
		t.Error("expected error for malformed tag")
	}
	if len(ds) != 2 {
		t.Errorf("directives = %d, want 2", len(ds))
	}
}

func TestFind(t *testing.T) {
	base := mustURL(t, "https://example.com/")
	ms, _ := ParseAll([]Directive{
		{Prefix: "/docs/*", KeyID: "AAAABBBBCCCCDDDD"},
		{Prefix: "/docs/private/*", KeyID: "EEEE1111FFFF2222"},
	}, base)

	tests := []struct {
		target string
		want   string
		found  bool
	}{
		{"https://example.com/docs/x", "AAAABBBBCCCCDDDD", true},
		{"https://example.com/docs/private/y", "EEEE1111FFFF2222", true},
		{"https://example.com/blog/", "", false},
		{"https://evil.example/docs/x", "", false},
	}
	for _, tt := range tests {
		m, ok := Find(ms, tt.target)
		if ok != tt.found {
			t.Errorf("Find(%q) found = %v, want %v", tt.target, ok, tt.found)
			continue
		}
		if ok && string(m.KeyID) != tt.want {
			t.Errorf("Find(%q) = %s, want %s", tt.target, m.KeyID, tt.want)
		}
	}
}

func TestArchiveURL(t *testing.T) {
	date := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	if got := ArchiveURL("https://example.com/a", date); got != "https://web.archive.org/web/20200102030405/https://example.com/a" {
		t.Errorf("ArchiveURL() = %q", got)
	}
	if got := ArchiveURL("https://example.com/a", time.Time{}); got != "https://web.archive.org/web/*/https://example.com/a" {
		t.Errorf("ArchiveURL(zero) = %q", got)
	}
}
