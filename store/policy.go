package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/webverify/webverify/trust"
)

const watchDebounce = 50 * time.Millisecond

// policyFile is the on-disk form of the decision map.
type policyFile struct {
	Decisions map[trust.KeyID]trust.Decision `json:"decisions"`
}

// PolicyEntry is one key's decision.
type PolicyEntry struct {
	KeyID    trust.KeyID    `json:"key_id"`
	Decision trust.Decision `json:"decision"`
}

// PolicyStore holds operator decisions in memory, backed by a JSON file.
// Mutations are written through before they return.
type PolicyStore struct {
	path   string
	logger *slog.Logger

	mu        sync.RWMutex
	decisions map[trust.KeyID]trust.Decision
}

// PolicyOption is a functional option for configuring a PolicyStore.
type PolicyOption func(*PolicyStore)

// WithPolicyLogger sets the logger used by Watch.
func WithPolicyLogger(l *slog.Logger) PolicyOption {
	return func(s *PolicyStore) { s.logger = l }
}

// OpenPolicyStore loads decisions from path. A missing file yields an empty
// store.
func OpenPolicyStore(path string, opts ...PolicyOption) (*PolicyStore, error) {
	s := &PolicyStore{
		path:      path,
		logger:    slog.Default(),
		decisions: make(map[trust.KeyID]trust.Decision),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Decision returns the decision for id, or ErrNotFound when the operator
// has not decided.
func (s *PolicyStore) Decision(id trust.KeyID) (trust.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.decisions[id]
	if !ok {
		return "", fmt.Errorf("%w: no decision for %s", ErrNotFound, id)
	}
	return d, nil
}

// Rejected reports whether id carries a REJECTED decision.
func (s *PolicyStore) Rejected(id trust.KeyID) bool {
	d, err := s.Decision(id)
	return err == nil && d == trust.DecisionRejected
}

// Approve records an APPROVED decision for id.
func (s *PolicyStore) Approve(id trust.KeyID) error {
	return s.set(id, trust.DecisionApproved)
}

// Reject records a REJECTED decision for id.
func (s *PolicyStore) Reject(id trust.KeyID) error {
	return s.set(id, trust.DecisionRejected)
}

// Forget removes any decision for id.
func (s *PolicyStore) Forget(id trust.KeyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.decisions[id]; !ok {
		return nil
	}
	next := s.copyLocked()
	delete(next, id)
	return s.commitLocked(next)
}

func (s *PolicyStore) set(id trust.KeyID, d trust.Decision) error {
	id, err := trust.ParseKeyID(string(id))
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.copyLocked()
	next[id] = d
	return s.commitLocked(next)
}

func (s *PolicyStore) copyLocked() map[trust.KeyID]trust.Decision {
	next := make(map[trust.KeyID]trust.Decision, len(s.decisions)+1)
	for k, v := range s.decisions {
		next[k] = v
	}
	return next
}

// commitLocked persists next and only then makes it visible, so a failed
// write leaves memory and disk in agreement.
func (s *PolicyStore) commitLocked(next map[trust.KeyID]trust.Decision) error {
	if err := writeJSON(s.path, policyFile{Decisions: next}); err != nil {
		return fmt.Errorf("saving policy: %w", err)
	}
	s.decisions = next
	return nil
}

// All returns every decision sorted by key id.
func (s *PolicyStore) All() []PolicyEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PolicyEntry, 0, len(s.decisions))
	for k, v := range s.decisions {
		out = append(out, PolicyEntry{KeyID: k, Decision: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].KeyID < out[j].KeyID })
	return out
}

// Reload replaces the in-memory decisions with the file contents. Entries
// with malformed key ids or unknown decisions are skipped.
func (s *PolicyStore) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.mu.Lock()
			s.decisions = make(map[trust.KeyID]trust.Decision)
			s.mu.Unlock()
			return nil
		}
		return fmt.Errorf("reading policy: %w", err)
	}

	var pf policyFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("corrupt policy file %s: %w", s.path, err)
	}

	next := make(map[trust.KeyID]trust.Decision, len(pf.Decisions))
	for k, v := range pf.Decisions {
		id, err := trust.ParseKeyID(string(k))
		if err != nil {
			s.logger.Warn("skipping policy entry", "key_id", k, "error", err)
			continue
		}
		d, err := trust.ParseDecision(string(v))
		if err != nil {
			s.logger.Warn("skipping policy entry", "key_id", k, "error", err)
			continue
		}
		next[id] = d
	}

	s.mu.Lock()
	s.decisions = next
	s.mu.Unlock()
	return nil
}

// Watch reloads the store whenever the policy file is changed by another
// process, until ctx is done. The parent directory is watched so atomic
// replacements are observed.
func (s *PolicyStore) Watch(ctx context.Context) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating policy dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	resetTimer := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, func() {
			if err := s.Reload(); err != nil {
				s.logger.Warn("reloading policy failed", "error", err)
				return
			}
			s.logger.Debug("policy reloaded", "path", s.path)
		})
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				resetTimer()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("policy watch error", "error", err)
		case <-ctx.Done():
			return nil
		}
	}
}
