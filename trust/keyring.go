package trust

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
	"golang.org/x/sync/singleflight"
)

// sharedLookupTimeout bounds a lookup that no caller can cancel.
const sharedLookupTimeout = 2 * defaultHTTPTimeout

// KeyStore persists armored key material by key id. LoadKey must return an
// error matching os.ErrNotExist when no key is stored for id.
type KeyStore interface {
	LoadKey(id KeyID) ([]byte, error)
	StoreKey(id KeyID, armored []byte) error
}

// KeyResolver resolves key ids to key material, local store first, remote
// source on a miss. Misses are not cached: a key that is still missing is
// looked up again on the next request.
type KeyResolver struct {
	store  KeyStore
	source KeySource
	group  singleflight.Group
	logger *slog.Logger
}

// ResolverOption is a functional option for configuring a KeyResolver.
type ResolverOption func(*KeyResolver)

// WithResolverLogger sets the logger for the resolver.
func WithResolverLogger(l *slog.Logger) ResolverOption {
	return func(r *KeyResolver) { r.logger = l }
}

// NewKeyResolver creates a KeyResolver over store and source.
func NewKeyResolver(store KeyStore, source KeySource, opts ...ResolverOption) *KeyResolver {
	r := &KeyResolver{
		store:  store,
		source: source,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the key ring for id. Concurrent calls for the same id
// share one lookup. The shared lookup is detached from every caller's
// context, so a caller giving up returns ctx.Err() without failing the
// others.
func (r *KeyResolver) Resolve(ctx context.Context, id KeyID) (openpgp.EntityList, error) {
	ch := r.group.DoChan(string(id), func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLookupTimeout)
		defer cancel()
		return r.resolve(lctx, id)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	v, err := res.Val, res.Err
	if err != nil {
		return nil, err
	}
	return v.(openpgp.EntityList), nil
}

func (r *KeyResolver) resolve(ctx context.Context, id KeyID) (openpgp.EntityList, error) {
	if r.store != nil {
		data, err := r.store.LoadKey(id)
		switch {
		case err == nil:
			keys, perr := r.parse(id, data)
			if perr == nil {
				return keys, nil
			}
			r.logger.Warn("stored key unusable, refetching", "key_id", id, "error", perr)
		case !errors.Is(err, os.ErrNotExist):
			r.logger.Warn("reading stored key failed", "key_id", id, "error", err)
		}
	}

	if r.source == nil {
		return nil, fmt.Errorf("%w: %s not stored and no keyserver configured", ErrKeyLookup, id)
	}

	r.logger.Debug("looking up key on keyserver", "key_id", id)
	data, err := r.source.Lookup(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyLookup, err)
	}
	keys, err := r.parse(id, data)
	if err != nil {
		return nil, err
	}

	if r.store != nil {
		if err := r.store.StoreKey(id, data); err != nil {
			r.logger.Warn("persisting key failed", "key_id", id, "error", err)
		}
	}
	return keys, nil
}

// parse reads key material and checks that it holds a key with id, so a
// lookup answered with some other key cannot stand in for the one asked for.
func (r *KeyResolver) parse(id KeyID, data []byte) (openpgp.EntityList, error) {
	keys, err := ReadKeyRing(data)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing key %s: %w", ErrKeyLookup, id, err)
	}
	for _, e := range keys {
		if HasKeyID(e, id) {
			return keys, nil
		}
	}
	return nil, fmt.Errorf("%w: key material holds no key with id %s", ErrKeyLookup, id)
}
