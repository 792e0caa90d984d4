package jwtx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrNoKey reports a kid that is absent even after a refresh.
	ErrNoKey = errors.New("jwtx: key not found")

	// ErrKeysUnavailable reports that no key set could be obtained at all:
	// the cache is empty and the provider could not be reached.
	ErrKeysUnavailable = errors.New("jwtx: key set unavailable")
)

const defaultFetchTimeout = 10 * time.Second

// RemoteKeySet caches the signing keys published at a JWKS endpoint.
//
// Reads are served from an in-memory snapshot; a refresh replaces the
// snapshot wholesale, so readers observe either the old set or the new set,
// never a torn mixture. Concurrent refreshes are coalesced into a single
// fetch that all waiters share.
type RemoteKeySet struct {
	url    string
	ttl    time.Duration
	client *http.Client

	mu        sync.RWMutex
	keys      map[string]any // kid -> *rsa.PublicKey | ed25519.PublicKey | *ecdsa.PublicKey
	fetchedAt time.Time

	group singleflight.Group
}

// NewRemoteKeySet builds a cache over the given JWKS URL. The cache starts
// empty; keys are fetched on first use. ttl controls how long a fetched set
// is considered fresh, fetchTimeout bounds each network fetch (<= 0 uses a
// 10s default).
func NewRemoteKeySet(url string, ttl, fetchTimeout time.Duration) *RemoteKeySet {
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}
	return &RemoteKeySet{
		url:    url,
		ttl:    ttl,
		client: &http.Client{Timeout: fetchTimeout},
	}
}

// Key returns the public key for kid, refreshing the cached set first if it
// is empty or stale. If the kid is still absent after a fresh snapshot, one
// more refresh is forced (the provider may have rotated keys) before giving
// up with ErrNoKey.
//
// A failed refresh over a previously fetched set is swallowed: the stale set
// keeps serving until the provider recovers. A failed refresh over an empty
// cache returns ErrKeysUnavailable so callers fail closed.
func (s *RemoteKeySet) Key(ctx context.Context, kid string) (any, error) {
	keys, fetchedAt := s.snapshot()

	refreshed := false
	if len(keys) == 0 || time.Since(fetchedAt) > s.ttl {
		if err := s.refresh(ctx); err != nil {
			if len(keys) == 0 {
				return nil, fmt.Errorf("%w: %w", ErrKeysUnavailable, err)
			}
			// Stale-but-available: keep serving the previous set.
		} else {
			keys, _ = s.snapshot()
		}
		refreshed = true
	}

	if pk, ok := keys[kid]; ok {
		return pk, nil
	}

	// Unknown kid: allow exactly one forced refresh per lookup to pick up a
	// rotated key set, then retry the lookup once.
	if !refreshed {
		if err := s.refresh(ctx); err == nil {
			keys, _ = s.snapshot()
			if pk, ok := keys[kid]; ok {
				return pk, nil
			}
		}
	}

	return nil, fmt.Errorf("jwtx: kid %q: %w", kid, ErrNoKey)
}

// Ready reports whether at least one key has been fetched.
func (s *RemoteKeySet) Ready() bool {
	keys, _ := s.snapshot()
	return len(keys) > 0
}

// FetchedAt returns when the current set was obtained (zero if never).
func (s *RemoteKeySet) FetchedAt() time.Time {
	_, t := s.snapshot()
	return t
}

// Refresh forces a (coalesced) fetch of the key set. Used at startup to
// pre-warm the cache.
func (s *RemoteKeySet) Refresh(ctx context.Context) error {
	return s.refresh(ctx)
}

func (s *RemoteKeySet) snapshot() (map[string]any, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys, s.fetchedAt
}

// refresh fetches the JWKS document and atomically swaps the cached set.
// Callers arriving while a fetch is in flight wait for that fetch and share
// its outcome instead of issuing a duplicate request.
//
// The fetch runs detached from the triggering caller's context: waiters
// coalesced onto it must not fail because the first caller went away. The
// HTTP client timeout keeps it bounded regardless.
func (s *RemoteKeySet) refresh(ctx context.Context) error {
	result := s.group.DoChan("refresh", func() (any, error) {
		return nil, s.fetch()
	})

	select {
	case res := <-result:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *RemoteKeySet) fetch() error {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("jwtx: build jwks request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("jwtx: fetch jwks: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwtx: fetch jwks: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("jwtx: read jwks: %w", err)
	}

	var doc JWKS
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("jwtx: parse jwks: %w", err)
	}

	keys, err := doc.keyMap()
	if err != nil {
		return fmt.Errorf("jwtx: parse jwks keys: %w", err)
	}

	// An empty or unusable document is a refresh failure, not "no keys":
	// replacing a working set with nothing would reject every token.
	if len(keys) == 0 {
		return errors.New("jwtx: jwks document contains no usable keys")
	}

	s.mu.Lock()
	s.keys = keys
	s.fetchedAt = time.Now()
	s.mu.Unlock()

	return nil
}
