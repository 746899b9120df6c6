// Package cache provides a read-through TTL cache over the report-flag
// repository. Flags are read-mostly configuration consulted on hot rebuild
// paths; the cache tolerates staleness for its whole TTL and is never relied
// on for correctness, only to avoid a storage round trip per scan.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"secmap/internal/ports"
)

// DefaultTTL is how long a flag value may be served without consulting the
// underlying repository again.
const DefaultTTL = 10 * time.Minute

type entry struct {
	enabled   bool
	expiresAt time.Time
}

// Flags is a thread-safe read-through decorator implementing
// ports.ReportFlagRepository. Expired entries are lazily refreshed on read.
// Construct one per process and inject it; tests substitute the repository
// directly or a fake clock.
type Flags struct {
	mu    sync.Mutex
	src   ports.ReportFlagRepository
	ttl   time.Duration
	clock clockwork.Clock
	items map[string]entry
}

func NewFlags(src ports.ReportFlagRepository, ttl time.Duration, clock clockwork.Clock) *Flags {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Flags{
		src:   src,
		ttl:   ttl,
		clock: clock,
		items: make(map[string]entry),
	}
}

// Enabled returns the cached flag value, reading through to the repository
// when missing or expired. A repository error is returned as-is and nothing
// is cached for that key.
func (f *Flags) Enabled(ctx context.Context, findingType string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.clock.Now()
	if e, ok := f.items[findingType]; ok && now.Before(e.expiresAt) {
		return e.enabled, nil
	}

	enabled, err := f.src.Enabled(ctx, findingType)
	if err != nil {
		return false, err
	}
	f.items[findingType] = entry{enabled: enabled, expiresAt: now.Add(f.ttl)}
	return enabled, nil
}

// Invalidate drops all cached entries, forcing fresh reads.
func (f *Flags) Invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = make(map[string]entry)
}
