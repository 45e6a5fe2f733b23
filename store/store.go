// Package store persists webverify state on disk: key material, the
// verification result cache and operator decisions. The three namespaces
// are independent and never cross-reference each other.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound is returned when no entry exists for a key.
var ErrNotFound = errors.New("not found")

// Layout names the on-disk locations under a state directory.
type Layout struct {
	Dir string
}

// KeysDir holds armored public keys, one file per key id.
func (l Layout) KeysDir() string { return filepath.Join(l.Dir, "keys") }

// ResultsDir holds one JSON file per verified document URL.
func (l Layout) ResultsDir() string { return filepath.Join(l.Dir, "results") }

// PolicyPath is the operator decision file.
func (l Layout) PolicyPath() string { return filepath.Join(l.Dir, "policy.json") }

// writeAtomic writes data to path using a temp file and rename, so readers
// never observe a partial file.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}
	return writeAtomic(path, data)
}
