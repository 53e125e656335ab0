package vmcontext

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveRejectsDuplicateKey(t *testing.T) {
	tbl := NewClassTable()
	_, err := tbl.Reserve(0, "LFoo;")
	require.NoError(t, err)

	_, err = tbl.Reserve(0, "LFoo;")
	assert.Error(t, err)
}

func TestReserveAllowsSameNameUnderDifferentLoader(t *testing.T) {
	tbl := NewClassTable()
	_, err := tbl.Reserve(0, "LFoo;")
	require.NoError(t, err)

	_, err = tbl.Reserve(1, "LFoo;")
	assert.NoError(t, err)
}

func TestLookupAndGetAfterReserve(t *testing.T) {
	tbl := NewClassTable()
	c, err := tbl.Reserve(0, "LBar;")
	require.NoError(t, err)

	found, ok := tbl.Lookup(0, "LBar;")
	require.True(t, ok)
	assert.Same(t, c, found)

	assert.Same(t, c, tbl.Get(c.Self))
}

func TestGetOutOfRangeHandleReturnsNil(t *testing.T) {
	tbl := NewClassTable()
	assert.Nil(t, tbl.Get(999))
}

func TestObjectClassAutoDetected(t *testing.T) {
	tbl := NewClassTable()
	c, err := tbl.Reserve(0, "Ljava/lang/Object;")
	require.NoError(t, err)
	assert.Equal(t, c.Self, tbl.Resolver().ObjectClass())
}

func TestLinkAllRunsEveryHandle(t *testing.T) {
	ctx := NewContext(BootConfig{MaxLinkers: 2})
	var calls int64

	err := ctx.LinkAll(context.Background(), []int32{0, 1, 2, 3}, func(_ context.Context, h int32) error {
		atomic.AddInt64(&calls, 1)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), atomic.LoadInt64(&calls))
}

func TestLinkAllPropagatesError(t *testing.T) {
	ctx := NewContext(BootConfig{MaxLinkers: 1})
	boom := assertError("link failed")

	err := ctx.LinkAll(context.Background(), []int32{0, 1}, func(_ context.Context, h int32) error {
		if h == 1 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestRebuildCacheOnceDeduplicatesConcurrentCalls(t *testing.T) {
	ctx := NewContext(BootConfig{})
	var runs int64
	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		ctx.RebuildCacheOnce("key", func() (any, error) {
			atomic.AddInt64(&runs, 1)
			close(started)
			<-release
			return "built", nil
		})
	}()

	<-started
	go func() { close(release) }()
	v, err, shared := ctx.RebuildCacheOnce("key", func() (any, error) {
		atomic.AddInt64(&runs, 1)
		return "built-again", nil
	})

	require.NoError(t, err)
	assert.True(t, shared)
	assert.Equal(t, "built", v)
	assert.Equal(t, int64(1), atomic.LoadInt64(&runs))
}

type assertError string

func (e assertError) Error() string { return string(e) }
