package trust

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

var armorPrefix = []byte("-----BEGIN ")

// decodeSignature returns the binary packets of a detached signature. Both
// ASCII-armored and raw binary signatures are accepted.
func decodeSignature(sig []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(sig)
	if len(trimmed) == 0 {
		return nil, errors.New("empty signature")
	}
	if !bytes.HasPrefix(trimmed, armorPrefix) {
		return sig, nil
	}

	block, err := armor.Decode(bytes.NewReader(trimmed))
	if err != nil {
		return nil, fmt.Errorf("decoding armored signature: %w", err)
	}
	if block.Type != openpgp.SignatureType {
		return nil, fmt.Errorf("unexpected armor block type %q", block.Type)
	}
	raw, err := io.ReadAll(block.Body)
	if err != nil {
		return nil, fmt.Errorf("reading armored signature: %w", err)
	}
	return raw, nil
}

// IssuerKeyID extracts the issuer key id claimed by a detached signature.
// The claim is unauthenticated until the signature has been checked.
func IssuerKeyID(sig []byte) (KeyID, error) {
	raw, err := decodeSignature(sig)
	if err != nil {
		return "", err
	}

	p, err := packet.Read(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("reading signature packet: %w", err)
	}
	s, ok := p.(*packet.Signature)
	if !ok {
		return "", fmt.Errorf("expected signature packet, got %T", p)
	}

	switch {
	case s.IssuerKeyId != nil:
		return KeyIDFromUint64(*s.IssuerKeyId), nil
	case len(s.IssuerFingerprint) >= 8:
		// v4 key ids are the low 64 bits of the fingerprint.
		fp := s.IssuerFingerprint
		return ParseKeyID(hex.EncodeToString(fp[len(fp)-8:]))
	default:
		return "", errors.New("signature carries no issuer key id")
	}
}

// ReadKeyRing parses armored or binary public key material.
func ReadKeyRing(data []byte) (openpgp.EntityList, error) {
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, armorPrefix) {
		return openpgp.ReadArmoredKeyRing(bytes.NewReader(trimmed))
	}
	return openpgp.ReadKeyRing(bytes.NewReader(data))
}

// CheckDetached verifies sig over content against keys and returns the
// signing entity.
func CheckDetached(keys openpgp.EntityList, content, sig []byte) (*openpgp.Entity, error) {
	raw, err := decodeSignature(sig)
	if err != nil {
		return nil, err
	}
	return openpgp.CheckDetachedSignature(keys, bytes.NewReader(content), bytes.NewReader(raw), nil)
}

// HasKeyID reports whether e's primary key or one of its subkeys has id.
func HasKeyID(e *openpgp.Entity, id KeyID) bool {
	if e == nil || e.PrimaryKey == nil {
		return false
	}
	if KeyIDFromUint64(e.PrimaryKey.KeyId) == id {
		return true
	}
	for _, sk := range e.Subkeys {
		if sk.PublicKey != nil && KeyIDFromUint64(sk.PublicKey.KeyId) == id {
			return true
		}
	}
	return false
}

// AuthorFromEntity derives the Author for a signature whose issuer is id.
// The entity must actually hold a key with that id.
func AuthorFromEntity(e *openpgp.Entity, id KeyID) (Author, error) {
	if !HasKeyID(e, id) {
		return Author{}, fmt.Errorf("signer holds no key with id %s", id)
	}

	a := Author{
		Fingerprint: strings.ToUpper(hex.EncodeToString(e.PrimaryKey.Fingerprint)),
		KeyID:       id,
	}
	if ident := e.PrimaryIdentity(); ident != nil && ident.UserId != nil {
		a.Name = ident.UserId.Name
		a.Email = ident.UserId.Email
		a.Comment = ident.UserId.Comment
	}
	return a, nil
}
