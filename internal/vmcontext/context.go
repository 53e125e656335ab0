package vmcontext

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// BootConfig is the immutable configuration a Context is built from —
// nothing here changes after NewContext returns, so it needs no lock,
// matching KTStephano-GVM's run.go pattern of a read-only configuration
// struct threaded through the run loop rather than mutated in place.
type BootConfig struct {
	BootClasspath []string // absolute paths, checked by cmd/dexprep before this is built
	VMBuildNumber uint32
	MaxLinkers    int // 0 means runtime.GOMAXPROCS(0)
}

// Context bundles the boot configuration, the loaded-classes table, and
// the shared cache-rebuild dedup group (spec.md §5's "cache rebuilds for
// the same dependency key are deduplicated").
type Context struct {
	Boot    BootConfig
	Classes *ClassTable

	rebuildGroup singleflight.Group
}

func NewContext(boot BootConfig) *Context {
	return &Context{
		Boot:    boot,
		Classes: NewClassTable(),
	}
}

func (c *Context) linkerConcurrency() int {
	if c.Boot.MaxLinkers > 0 {
		return c.Boot.MaxLinkers
	}
	return runtime.GOMAXPROCS(0)
}

// LinkAll runs link over each class concurrently, bounded to
// linkerConcurrency, and returns the first error encountered (spec.md §5
// "class-level prep is parallelizable across independent classes").
// Per-class linking only reads other classes' already-Resolved state plus
// the table's own locking, so no additional coordination is needed here
// beyond errgroup's fan-out.
func (c *Context) LinkAll(ctx context.Context, handles []int32, link func(context.Context, int32) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.linkerConcurrency())
	for _, h := range handles {
		h := h
		g.Go(func() error {
			return link(gctx, h)
		})
	}
	return g.Wait()
}

// RebuildCacheOnce deduplicates concurrent rebuild requests for the same
// dependency key: only one goroutine actually runs fn; the rest block and
// share its result (spec.md §5 "duplicate in-flight rebuild requests for
// the same key must be collapsed").
func (c *Context) RebuildCacheOnce(key string, fn func() (any, error)) (any, error, bool) {
	v, err, shared := c.rebuildGroup.Do(key, fn)
	return v, err, shared
}
