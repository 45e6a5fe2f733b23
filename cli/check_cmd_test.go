package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/webverify/webverify/config"
	"github.com/webverify/webverify/internal/pgptest"
	"github.com/webverify/webverify/trust"
)

// testSite serves pages, detached signatures and an HKP keyserver.
type testSite struct {
	srv *httptest.Server

	mu   sync.Mutex
	docs map[string][]byte
	keys map[string][]byte
}

func newTestSite(t *testing.T) *testSite {
	t.Helper()
	s := &testSite{docs: make(map[string][]byte), keys: make(map[string][]byte)}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if r.URL.Path == "/pks/lookup" {
			key, ok := s.keys[strings.TrimPrefix(r.URL.Query().Get("search"), "0x")]
			if !ok {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write(key)
			return
		}
		doc, ok := s.docs[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if !strings.HasSuffix(r.URL.Path, ".sig") {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
		}
		_, _ = w.Write(doc)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *testSite) url(path string) string { return s.srv.URL + path }

func (s *testSite) publish(t *testing.T, signer *pgptest.Signer) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[signer.KeyID()] = signer.ArmoredPublicKey(t)
}

func (s *testSite) serve(path string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[path] = body
}

func (s *testSite) signed(t *testing.T, signer *pgptest.Signer, path, extraHead string) {
	t.Helper()
	name := path[strings.LastIndex(path, "/")+1:]
	page := pgptest.Page(name+".sig", extraHead, "content of "+path)
	s.serve(path, page)
	s.serve(path+".sig", signer.Sign(t, page))
}

// useSite points the state directory's configuration at s's keyserver.
func useSite(t *testing.T, s *testSite) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("WEBVERIFY_HOME", dir)
	cfg := fmt.Sprintf("keyserver:\n  url: %s\n  requests_per_minute: 0\nmatchers:\n  request_timeout: 1s\n", s.srv.URL)
	if err := os.WriteFile(filepath.Join(dir, config.FileName), []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
}

func checkJSON(t *testing.T, args ...string) (int, []checkResult) {
	t.Helper()
	code, out := captureStdout(t, func() int {
		return run(append([]string{"check", "--json"}, args...))
	})
	var results []checkResult
	if code != 2 {
		if err := json.Unmarshal([]byte(out), &results); err != nil {
			t.Fatalf("invalid JSON output: %v\nOutput: %s", err, out)
		}
	}
	return code, results
}

func TestCheck_Outcomes(t *testing.T) {
	s := newTestSite(t)
	ada := pgptest.NewSigner(t, "Ada Lovelace", "", "ada@example.com")
	s.publish(t, ada)
	s.signed(t, ada, "/signed.html", "")
	s.serve("/plain.html", pgptest.Page("", "", "no signature"))
	original := pgptest.Page("tampered.html.sig", "", "original")
	s.serve("/tampered.html", pgptest.Page("tampered.html.sig", "", "changed"))
	s.serve("/tampered.html.sig", ada.Sign(t, original))

	tests := []struct {
		name     string
		path     string
		wantCode int
		want     trust.Status
	}{
		{"signed", "/signed.html", 0, trust.StatusVerified},
		{"unsigned", "/plain.html", 0, trust.StatusUnverified},
		{"tampered", "/tampered.html", 1, trust.StatusFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			useSite(t, s)
			code, results := checkJSON(t, s.url(tt.path))
			if code != tt.wantCode {
				t.Errorf("exit code = %d, want %d", code, tt.wantCode)
			}
			if len(results) != 1 || results[0].Outcome == nil {
				t.Fatalf("results = %+v", results)
			}
			if got := results[0].Outcome.Status; got != tt.want {
				t.Errorf("status = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCheck_SeveralContexts(t *testing.T) {
	s := newTestSite(t)
	ada := pgptest.NewSigner(t, "Ada Lovelace", "", "ada@example.com")
	s.publish(t, ada)
	s.signed(t, ada, "/a.html", "")
	s.serve("/b.html", pgptest.Page("", "", "plain"))
	useSite(t, s)

	code, results := checkJSON(t, s.url("/a.html"), s.url("/b.html"))
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	if results[0].ContextID != "ctx-1" || results[1].ContextID != "ctx-2" {
		t.Errorf("context ids = %s, %s", results[0].ContextID, results[1].ContextID)
	}
	a := results[0].Outcome
	if a == nil || a.Author == nil || a.Author.Email != "ada@example.com" {
		t.Errorf("ctx-1 outcome = %+v", a)
	}

	// The verdict was cached for later fallbacks.
	code, out := captureStdout(t, func() int { return run([]string{"cache", "list"}) })
	if code != 0 || !strings.Contains(out, s.url("/a.html")) {
		t.Errorf("cache list: code %d, output %q", code, out)
	}
}

func TestCheck_FollowMismatchedAuthor(t *testing.T) {
	s := newTestSite(t)
	ada := pgptest.NewSigner(t, "Ada", "", "ada@example.com")
	eve := pgptest.NewSigner(t, "Eve", "", "eve@example.com")
	s.publish(t, ada)
	s.publish(t, eve)
	tag := fmt.Sprintf(`<meta name="webverify" content="/docs/* 2024-01-02 %s">`+"\n", ada.KeyID())
	s.signed(t, ada, "/index.html", tag)
	s.signed(t, eve, "/docs/bad.html", "")
	useSite(t, s)

	code, results := checkJSON(t, "--follow", "docs/bad.html", s.url("/index.html"))
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	r := results[0]
	if r.URL != s.url("/docs/bad.html") {
		t.Errorf("url = %s", r.URL)
	}
	if !strings.Contains(r.Redirect, "/pages/unverified-link.html") {
		t.Errorf("redirect = %q", r.Redirect)
	}
	if want := "https://web.archive.org/web/20240102000000/" + s.url("/docs/bad.html"); r.Archive != want {
		t.Errorf("archive = %q, want %q", r.Archive, want)
	}
}

func TestCheck_RejectedAuthor(t *testing.T) {
	s := newTestSite(t)
	eve := pgptest.NewSigner(t, "Eve", "", "eve@example.com")
	s.publish(t, eve)
	s.signed(t, eve, "/page.html", "")
	useSite(t, s)

	if code := run([]string{"policy", "reject", eve.KeyID()}); code != 0 {
		t.Fatalf("reject exit code = %d", code)
	}

	code, out := captureStdout(t, func() int { return run([]string{"check", s.url("/page.html")}) })
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(out, "redirected to webverify://extension/pages/rejected.html") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, eve.KeyID()) {
		t.Errorf("output missing key id: %q", out)
	}
}

func TestCheck_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()
	t.Setenv("WEBVERIFY_HOME", t.TempDir())

	code, out := captureStdout(t, func() int { return run([]string{"check", addr + "/index.html"}) })
	if code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
	if !strings.Contains(out, "ERROR") {
		t.Errorf("output = %q", out)
	}
}

func TestExitCode(t *testing.T) {
	failed := trust.Failed(nil)
	verified := trust.Verified(trust.Author{KeyID: "AAAABBBBCCCCDDDD"})

	tests := []struct {
		name    string
		results []checkResult
		want    int
	}{
		{"empty", nil, 0},
		{"verified", []checkResult{{Outcome: &verified}}, 0},
		{"failure", []checkResult{{Outcome: &verified}, {Outcome: &failed}}, 1},
		{"redirect", []checkResult{{Outcome: &verified, Redirect: "webverify://extension/pages/rejected.html"}}, 1},
		{"error wins", []checkResult{{Outcome: &failed}, {Error: "boom"}}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.results); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestArchiveLink(t *testing.T) {
	cr := &checkRun{dest: config.Default().Destinations()}

	tests := []struct {
		name     string
		redirect string
		want     string
	}{
		{
			"dated warning",
			cr.dest.WarningURL("https://example.com/a", "2024-01-02"),
			"https://web.archive.org/web/20240102000000/https://example.com/a",
		},
		{
			"undated warning",
			cr.dest.WarningURL("https://example.com/a", ""),
			"https://web.archive.org/web/*/https://example.com/a",
		},
		{
			"rejection",
			cr.dest.RejectionURL("https://example.com/a", "AAAABBBBCCCCDDDD"),
			"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cr.archiveLink(tt.redirect); got != tt.want {
				t.Errorf("archiveLink() = %q, want %q", got, tt.want)
			}
		})
	}
}
