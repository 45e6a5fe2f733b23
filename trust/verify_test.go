package trust

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/webverify/webverify/internal/pgptest"
)

// signedSite serves a signature file and resolves keys from an in-memory
// keyserver.
type signedSite struct {
	srv      *httptest.Server
	sigs     map[string][]byte
	verifier *Verifier
	source   *fakeKeySource
}

func newSignedSite(t *testing.T, signers ...*pgptest.Signer) *signedSite {
	t.Helper()
	s := &signedSite{
		sigs:   make(map[string][]byte),
		source: &fakeKeySource{keys: make(map[KeyID][]byte)},
	}
	for _, sg := range signers {
		s.source.keys[KeyID(sg.KeyID())] = sg.ArmoredPublicKey(t)
	}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig, ok := s.sigs[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(sig)
	}))
	t.Cleanup(s.srv.Close)

	resolver := NewKeyResolver(newMemKeyStore(), s.source)
	s.verifier = NewVerifier(resolver, WithHTTPClient(s.srv.Client()))
	return s
}

func TestVerifierValidSignature(t *testing.T) {
	signer := pgptest.NewSigner(t, "Ada Lovelace", "analyst", "ada@example.com")
	site := newSignedSite(t, signer)

	page := pgptest.Page("index.html.sig", "", "hello")
	site.sigs["/posts/index.html.sig"] = signer.Sign(t, page)

	o := site.verifier.Verify(context.Background(), site.srv.URL+"/posts/index.html", page)
	if o.Status != StatusVerified {
		t.Fatalf("Status = %s (%s), want VERIFIED", o.Status, o.Error)
	}
	if o.Author == nil {
		t.Fatal("Author is nil")
	}
	if o.Author.KeyID != KeyID(signer.KeyID()) {
		t.Errorf("KeyID = %q, want %q", o.Author.KeyID, signer.KeyID())
	}
	if len(o.Author.KeyID) != KeyIDLength {
		t.Errorf("KeyID length = %d", len(o.Author.KeyID))
	}
	if o.Author.Fingerprint != signer.Fingerprint() {
		t.Errorf("Fingerprint = %q, want %q", o.Author.Fingerprint, signer.Fingerprint())
	}
	if o.Author.Name != "Ada Lovelace" || o.Author.Email != "ada@example.com" || o.Author.Comment != "analyst" {
		t.Errorf("Author = %+v", o.Author)
	}
	if o.FromCache {
		t.Error("fresh verification marked FromCache")
	}
}

func TestVerifierBinarySignature(t *testing.T) {
	signer := pgptest.NewSigner(t, "Ada", "", "ada@example.com")
	site := newSignedSite(t, signer)

	page := pgptest.Page("/sig.bin", "", "binary")
	site.sigs["/sig.bin"] = signer.SignBinary(t, page)

	o := site.verifier.Verify(context.Background(), site.srv.URL+"/", page)
	if o.Status != StatusVerified {
		t.Fatalf("Status = %s (%s), want VERIFIED", o.Status, o.Error)
	}
}

func TestVerifierMutatedContent(t *testing.T) {
	signer := pgptest.NewSigner(t, "Ada", "", "ada@example.com")
	site := newSignedSite(t, signer)

	page := pgptest.Page("index.sig", "", "original")
	site.sigs["/index.sig"] = signer.Sign(t, page)
	mutated := pgptest.Page("index.sig", "", "injected")

	_, err := site.verifier.Check(context.Background(), site.srv.URL+"/index.html", mutated)
	if !errors.Is(err, ErrVerification) {
		t.Fatalf("Check() error = %v, want ErrVerification", err)
	}

	o := site.verifier.Verify(context.Background(), site.srv.URL+"/index.html", mutated)
	if o.Status != StatusFailure {
		t.Errorf("Status = %s, want FAILURE", o.Status)
	}
	if o.Error == "" {
		t.Error("FAILURE outcome carries no message")
	}
}

func TestVerifierNoSignature(t *testing.T) {
	site := newSignedSite(t)
	o := site.verifier.Verify(context.Background(), site.srv.URL+"/", pgptest.Page("", "", "plain"))
	if o.Status != StatusUnverified {
		t.Errorf("Status = %s, want UNVERIFIED", o.Status)
	}
	if site.source.count() != 0 {
		t.Error("no key lookup expected without a signature")
	}
}

func TestVerifierSignatureFetchFailure(t *testing.T) {
	site := newSignedSite(t)
	page := pgptest.Page("missing.sig", "", "x")

	_, err := site.verifier.Check(context.Background(), site.srv.URL+"/", page)
	if !errors.Is(err, ErrSignatureFetch) {
		t.Fatalf("Check() error = %v, want ErrSignatureFetch", err)
	}
	if o := site.verifier.Verify(context.Background(), site.srv.URL+"/", page); o.Status != StatusFailure {
		t.Errorf("Status = %s, want FAILURE", o.Status)
	}
}

func TestVerifierUnknownKey(t *testing.T) {
	signer := pgptest.NewSigner(t, "Ada", "", "ada@example.com")
	site := newSignedSite(t) // keyserver does not know the signer

	page := pgptest.Page("index.sig", "", "x")
	site.sigs["/index.sig"] = signer.Sign(t, page)

	_, err := site.verifier.Check(context.Background(), site.srv.URL+"/", page)
	if !errors.Is(err, ErrKeyLookup) {
		t.Fatalf("Check() error = %v, want ErrKeyLookup", err)
	}
}

func TestVerifierMalformedSignature(t *testing.T) {
	site := newSignedSite(t)
	page := pgptest.Page("index.sig", "", "x")
	site.sigs["/index.sig"] = []byte("-----BEGIN PGP SIGNATURE-----\n\nnot base64\n-----END PGP SIGNATURE-----\n")

	_, err := site.verifier.Check(context.Background(), site.srv.URL+"/", page)
	if !errors.Is(err, ErrVerification) {
		t.Fatalf("Check() error = %v, want ErrVerification", err)
	}
}

func TestIssuerKeyID(t *testing.T) {
	signer := pgptest.NewSigner(t, "Ada", "", "ada@example.com")
	sig := signer.Sign(t, []byte("content"))

	id, err := IssuerKeyID(sig)
	if err != nil {
		t.Fatalf("IssuerKeyID() error = %v", err)
	}
	if id != KeyID(signer.KeyID()) {
		t.Errorf("IssuerKeyID() = %q, want %q", id, signer.KeyID())
	}

	if _, err := IssuerKeyID(nil); err == nil {
		t.Error("expected error for empty signature")
	}
}

func TestAuthorFromEntityRequiresIssuerKey(t *testing.T) {
	signer := pgptest.NewSigner(t, "Ada", "", "ada@example.com")
	if _, err := AuthorFromEntity(signer.Entity, "AAAABBBBCCCCDDDD"); err == nil {
		t.Error("expected error when entity lacks the issuer key")
	}
}
