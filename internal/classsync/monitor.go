// Package classsync implements the per-class initialization monitor
// spec.md §5 requires: a condition-variable-guarded state machine held
// by the thread that drives a class from Resolved through Initializing
// to Initialized, so concurrent requesters either wait for that thread
// or (if it is themselves, re-entrantly) proceed without blocking.
package classsync

import (
	"sync"

	"dexprep/internal/classfile"
	"dexprep/internal/verrors"
)

// Monitor guards one class's transition into and out of Initializing.
type Monitor struct {
	mu      sync.Mutex
	cond    *sync.Cond
	state   classfile.State
	ownerID int64 // goroutine-identifying token of the initializing thread; 0 means none
}

func NewMonitor(initial classfile.State) *Monitor {
	m := &Monitor{state: initial}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *Monitor) State() classfile.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// EnterInit attempts to become (or rejoin, re-entrantly) the initializing
// thread for this class. callerID identifies the calling thread; pass the
// same value again from the same logical thread to re-enter without
// deadlocking against yourself (spec.md §5, "a thread initializing a
// class that transitively requires its own initialization must not
// block").
//
// It returns (true, nil) when the caller should actually run <clinit>,
// (false, nil) when another thread already finished initialization while
// we waited, and (false, err) if the class reached Error.
func (m *Monitor) EnterInit(callerID int64) (shouldRun bool, err *verrors.Error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		switch m.state {
		case classfile.Initialized:
			return false, nil
		case classfile.StateError:
			return false, verrors.New(verrors.LinkageError, "class failed initialization on another thread")
		case classfile.Initializing:
			if m.ownerID == callerID {
				return false, nil // re-entrant: treat as already-initializing
			}
			m.cond.Wait()
		default:
			m.state = classfile.Initializing
			m.ownerID = callerID
			return true, nil
		}
	}
}

// FinishInit transitions to Initialized or StateError and wakes every
// waiter.
func (m *Monitor) FinishInit(ok bool) {
	m.mu.Lock()
	if ok {
		m.state = classfile.Initialized
	} else {
		m.state = classfile.StateError
	}
	m.ownerID = 0
	m.mu.Unlock()
	m.cond.Broadcast()
}
