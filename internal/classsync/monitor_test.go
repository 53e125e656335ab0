package classsync

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexprep/internal/classfile"
)

func TestEnterInitFirstCallerRuns(t *testing.T) {
	m := NewMonitor(classfile.Resolved)
	should, err := m.EnterInit(1)
	require.Nil(t, err)
	assert.True(t, should)
	assert.Equal(t, classfile.Initializing, m.State())
}

func TestEnterInitReentrantSameThreadDoesNotBlock(t *testing.T) {
	m := NewMonitor(classfile.Resolved)
	should, err := m.EnterInit(1)
	require.Nil(t, err)
	require.True(t, should)

	should, err = m.EnterInit(1)
	require.Nil(t, err)
	assert.False(t, should, "a re-entrant call from the same owner must not re-run <clinit>")
}

func TestEnterInitAlreadyInitializedReturnsFalse(t *testing.T) {
	m := NewMonitor(classfile.Initialized)
	should, err := m.EnterInit(1)
	require.Nil(t, err)
	assert.False(t, should)
}

func TestEnterInitOnErroredClassReturnsLinkageError(t *testing.T) {
	m := NewMonitor(classfile.StateError)
	_, err := m.EnterInit(1)
	require.NotNil(t, err)
}

func TestEnterInitSecondThreadBlocksUntilFinish(t *testing.T) {
	m := NewMonitor(classfile.Resolved)
	should, err := m.EnterInit(1)
	require.Nil(t, err)
	require.True(t, should)

	var wg sync.WaitGroup
	wg.Add(1)
	resultCh := make(chan bool, 1)
	go func() {
		defer wg.Done()
		should2, err2 := m.EnterInit(2)
		assert.Nil(t, err2)
		resultCh <- should2
	}()

	select {
	case <-resultCh:
		t.Fatal("second thread's EnterInit returned before FinishInit was called")
	case <-time.After(50 * time.Millisecond):
	}

	m.FinishInit(true)
	wg.Wait()
	should2 := <-resultCh
	assert.False(t, should2, "the waiter wakes up to find initialization already finished")
	assert.Equal(t, classfile.Initialized, m.State())
}

func TestFinishInitFailurePath(t *testing.T) {
	m := NewMonitor(classfile.Resolved)
	_, err := m.EnterInit(1)
	require.Nil(t, err)

	m.FinishInit(false)
	assert.Equal(t, classfile.StateError, m.State())

	_, err2 := m.EnterInit(2)
	require.NotNil(t, err2)
}
