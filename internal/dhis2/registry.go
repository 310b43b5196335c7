package dhis2

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// ErrNotFound reports that the remote system has no entity filed under a
// natural code.
var ErrNotFound = errors.New("dhis2: no entity for code")

type registryKey struct {
	resource string
	code     string
}

// Registry maps (resource, natural code) pairs to DHIS2 identifiers for
// the lifetime of the process. Hits are cached; misses are not, because
// entities are routinely created between two resolutions of the same key
// (create-then-look-up). DHIS2 stays the system of record: the registry
// is rebuilt from remote lookups after a restart.
type Registry struct {
	client *Client
	log    zerolog.Logger

	mu  sync.Mutex
	ids map[registryKey]string
}

func NewRegistry(client *Client, log zerolog.Logger) *Registry {
	return &Registry{
		client: client,
		log:    log,
		ids:    make(map[registryKey]string),
	}
}

// Resolve returns the DHIS2 identifier filed under the natural code,
// looking it up remotely on first use. Returns ErrNotFound when the
// remote system has no match. Concurrent resolutions of the same key may
// duplicate the remote lookup; both arrive at the same entity, so the
// last write wins harmlessly.
func (r *Registry) Resolve(ctx context.Context, resource, naturalCode string) (string, error) {
	code := ToCode(naturalCode)
	key := registryKey{resource: resource, code: code}

	r.mu.Lock()
	if id, ok := r.ids[key]; ok {
		r.mu.Unlock()
		return id, nil
	}
	r.mu.Unlock()

	matches, err := r.client.FindByCode(ctx, resource, code)
	if err != nil {
		return "", fmt.Errorf("resolve %s %q: %w", resource, code, err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("resolve %s %q: %w", resource, code, ErrNotFound)
	}
	if len(matches) > 1 {
		// DHIS2 is expected to deduplicate by code; defend against that
		// invariant being violated upstream.
		r.log.Error().
			Str("resource", resource).
			Str("code", code).
			Int("matches", len(matches)).
			Msg("multiple entities share a code, using the first")
	}

	id := matches[0].ID
	r.store(key, id)
	return id, nil
}

// Exists is Resolve with ErrNotFound mapped to false.
func (r *Registry) Exists(ctx context.Context, resource, naturalCode string) (bool, error) {
	_, err := r.Resolve(ctx, resource, naturalCode)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Store records a mapping created by this process so the follow-up
// resolution skips the remote lookup.
func (r *Registry) Store(resource, naturalCode, id string) {
	r.store(registryKey{resource: resource, code: ToCode(naturalCode)}, id)
}

func (r *Registry) store(key registryKey, id string) {
	r.mu.Lock()
	r.ids[key] = id
	r.mu.Unlock()
}
