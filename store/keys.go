package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/webverify/webverify/trust"
)

// KeyStore stores armored key material as keys/{KEYID}.asc.
type KeyStore struct {
	dir string
}

// NewKeyStore returns a KeyStore rooted at dir.
func NewKeyStore(dir string) *KeyStore {
	return &KeyStore{dir: dir}
}

// LoadKey returns the stored key for id. A missing key yields an error
// matching os.ErrNotExist.
func (s *KeyStore) LoadKey(id trust.KeyID) ([]byte, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// StoreKey persists armored key material for id.
func (s *KeyStore) StoreKey(id trust.KeyID, armored []byte) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}
	return writeAtomic(path, armored)
}

// path validates id before it becomes part of a file name.
func (s *KeyStore) path(id trust.KeyID) (string, error) {
	k, err := trust.ParseKeyID(string(id))
	if err != nil {
		return "", fmt.Errorf("key store: %w", err)
	}
	return filepath.Join(s.dir, string(k)+".asc"), nil
}
