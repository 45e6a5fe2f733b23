package document

import "testing"

const signedPage = `<!doctype html>
<html>
<head>
  <title>Signed</title>
  <meta name="webverify" content="/docs/* AAAABBBBCCCCDDDD">
  <meta name="WebVerify" content="https://other.example/* 2020-01-02 EEEE1111FFFF2222">
  <link rel="stylesheet" href="/style.css">
  <link rel="signature" href="index.html.sig">
  <link rel="signature" href="second.sig">
</head>
<body>
  <link rel="signature" href="body.sig">
  <meta name="webverify" content="/ignored/* AAAABBBBCCCCDDDD">
</body>
</html>`

func TestSignatureHref(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantHref string
		wantOK   bool
	}{
		{name: "first link in head", content: signedPage, wantHref: "index.html.sig", wantOK: true},
		{name: "no signature", content: `<html><head><title>x</title></head><body></body></html>`},
		{name: "signature only in body", content: `<html><head></head><body><link rel="signature" href="a.sig"></body></html>`},
		{name: "rel token list", content: `<html><head><link rel="alternate Signature" href="b.sig"></head></html>`, wantHref: "b.sig", wantOK: true},
		{name: "missing href", content: `<html><head><link rel="signature"></head></html>`},
		{name: "self closing", content: `<html><head><link rel="signature" href="c.sig"/></head></html>`, wantHref: "c.sig", wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			href, ok := SignatureHref([]byte(tt.content))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if href != tt.wantHref {
				t.Errorf("href = %q, want %q", href, tt.wantHref)
			}
		})
	}
}

func TestSignatureURLResolvesRelative(t *testing.T) {
	got, ok, err := SignatureURL("https://example.com/posts/index.html", []byte(signedPage))
	if err != nil {
		t.Fatalf("SignatureURL() error = %v", err)
	}
	if !ok {
		t.Fatal("expected signature to be declared")
	}
	if want := "https://example.com/posts/index.html.sig"; got != want {
		t.Errorf("SignatureURL() = %q, want %q", got, want)
	}
}

func TestSignatureURLAbsolute(t *testing.T) {
	page := `<html><head><link rel="signature" href="https://cdn.example/sig.asc"></head></html>`
	got, ok, err := SignatureURL("https://example.com/", []byte(page))
	if err != nil || !ok {
		t.Fatalf("SignatureURL() = %q, %v, %v", got, ok, err)
	}
	if got != "https://cdn.example/sig.asc" {
		t.Errorf("SignatureURL() = %q", got)
	}
}

func TestSignatureURLNone(t *testing.T) {
	_, ok, err := SignatureURL("https://example.com/", []byte("<p>plain</p>"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected no signature")
	}
}

func TestMatcherDirectives(t *testing.T) {
	got := MatcherDirectives([]byte(signedPage))
	want := []string{
		"/docs/* AAAABBBBCCCCDDDD",
		"https://other.example/* 2020-01-02 EEEE1111FFFF2222",
	}
	if len(got) != len(want) {
		t.Fatalf("directives = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("directive[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
