// Package governor bounds how often expensive queries may be re-issued.
package governor

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/b3trbeach/storefront/service/metrics"
)

// Governor enforces a minimum interval between fetch attempts per logical
// key. Attempts inside the window are dropped, not queued. The window is
// stamped when an attempt is permitted, before the fetch runs, so a fast
// double-trigger cannot start two concurrent fetches for the same key; a
// failed fetch still consumes the window, bounding node load during outages.
//
// The governor is a pure function of its injected clock and carries no
// knowledge of the transport, so it is unit-testable without a live socket.
type Governor struct {
	cooldown time.Duration
	now      func() time.Time
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu   sync.Mutex
	last map[string]time.Time
}

// New creates a governor with the given cooldown. A nil clock defaults to
// time.Now. One instance is shared process-wide so unrelated callers cannot
// independently double-fetch the same key.
func New(cooldown time.Duration, clock func() time.Time, m *metrics.Metrics, logger *slog.Logger) *Governor {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Governor{
		cooldown: cooldown,
		now:      clock,
		logger:   logger,
		metrics:  m,
		last:     make(map[string]time.Time),
	}
}

// TryRefetch invokes fetch if the key's cooldown window has elapsed.
// Returns ran=false without invoking fetch (and without touching the
// window) when the attempt falls inside the window. The fetch function is
// passed per call rather than held by the governor, so callers never race a
// stale closure.
func (g *Governor) TryRefetch(ctx context.Context, key string, fetch func(context.Context) error) (ran bool, err error) {
	g.mu.Lock()
	now := g.now()
	if last, ok := g.last[key]; ok && now.Sub(last) < g.cooldown {
		g.mu.Unlock()
		g.logger.DebugContext(ctx, "refetch skipped, inside cooldown window",
			"key", key,
			"since_last", now.Sub(last),
		)
		g.record(key, "skipped")
		return false, nil
	}
	// Stamp before fetching: attempts, not successes, consume the window.
	g.last[key] = now
	g.mu.Unlock()

	g.record(key, "permitted")
	return true, fetch(ctx)
}

// Reset forgets the window for a key, permitting the next attempt
// immediately. Used when a new transaction supersedes an old key.
func (g *Governor) Reset(key string) {
	g.mu.Lock()
	delete(g.last, key)
	g.mu.Unlock()
}

// record emits a governor decision metric, labeled by key class (the
// portion of the key before the first colon).
func (g *Governor) record(key, decision string) {
	if g.metrics == nil {
		return
	}
	class := key
	if i := strings.IndexByte(key, ':'); i >= 0 {
		class = key[:i]
	}
	g.metrics.RecordRefetch(class, decision)
}
