// Package pgptest generates throwaway OpenPGP identities and signatures for
// tests.
package pgptest

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

// Signer is a generated identity able to produce detached signatures.
type Signer struct {
	Entity *openpgp.Entity
}

// NewSigner generates an Ed25519 identity. It fails the test on error.
func NewSigner(t testing.TB, name, comment, email string) *Signer {
	t.Helper()
	cfg := &packet.Config{Algorithm: packet.PubKeyAlgoEdDSA}
	e, err := openpgp.NewEntity(name, comment, email, cfg)
	if err != nil {
		t.Fatalf("generating entity: %v", err)
	}
	return &Signer{Entity: e}
}

// KeyID returns the 16 character uppercase key id of the signing key.
func (s *Signer) KeyID() string {
	return fmt.Sprintf("%016X", s.Entity.PrimaryKey.KeyId)
}

// Fingerprint returns the uppercase hex fingerprint of the primary key.
func (s *Signer) Fingerprint() string {
	return strings.ToUpper(fmt.Sprintf("%x", s.Entity.PrimaryKey.Fingerprint))
}

// ArmoredPublicKey exports the public half of the identity.
func (s *Signer) ArmoredPublicKey(t testing.TB) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		t.Fatalf("opening armor: %v", err)
	}
	if err := s.Entity.Serialize(w); err != nil {
		t.Fatalf("serializing public key: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing armor: %v", err)
	}
	return buf.Bytes()
}

// Sign returns an armored detached signature over content.
func (s *Signer) Sign(t testing.TB, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&buf, s.Entity, bytes.NewReader(content), nil); err != nil {
		t.Fatalf("signing: %v", err)
	}
	return buf.Bytes()
}

// SignBinary returns an unarmored detached signature over content.
func (s *Signer) SignBinary(t testing.TB, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := openpgp.DetachSign(&buf, s.Entity, bytes.NewReader(content), nil); err != nil {
		t.Fatalf("signing: %v", err)
	}
	return buf.Bytes()
}

// Page returns a minimal HTML document linking to sigHref, with optional
// extra <head> markup.
func Page(sigHref, extraHead, body string) []byte {
	var b strings.Builder
	b.WriteString("<!doctype html>\n<html>\n<head>\n<title>test</title>\n")
	if sigHref != "" {
		fmt.Fprintf(&b, "<link rel=\"signature\" href=%q>\n", sigHref)
	}
	b.WriteString(extraHead)
	b.WriteString("</head>\n<body>\n")
	b.WriteString(body)
	b.WriteString("\n</body>\n</html>\n")
	return []byte(b.String())
}
