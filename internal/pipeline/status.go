package pipeline

import (
	"fmt"
	"sync"
)

// InstallState enumerates the delivery progress of a package toward a target
// device or viewer.
type InstallState int

const (
	// StateNone is the initial state.
	StateNone InstallState = iota
	// StateReady means the package is prepared and awaiting a delivery
	// trigger; observers pick a delivery path when they see it.
	StateReady
	// StateSendingPayload means the package is actively transferring to the
	// installer.
	StateSendingPayload
	// StateCompleted is the terminal success state.
	StateCompleted
	// StateFailed is the terminal failure state; FailureReason carries why.
	StateFailed
)

func (s InstallState) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateReady:
		return "ready"
	case StateSendingPayload:
		return "sendingPayload"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("InstallState(%d)", int(s))
	}
}

// legalTransitions lists the allowed forward moves. Any non-terminal state
// may additionally move to StateFailed, and Reset returns to StateNone.
var legalTransitions = map[InstallState][]InstallState{
	StateNone:           {StateReady, StateSendingPayload},
	StateReady:          {StateSendingPayload, StateCompleted},
	StateSendingPayload: {StateCompleted},
}

// InstallStatus tracks one package's delivery progress. Only the pipeline
// variant driving an install advances it; observers are read-only and are
// notified synchronously on every transition, outside the internal lock, so
// a callback may query the status it observes.
type InstallStatus struct {
	mu        sync.Mutex
	state     InstallState
	reason    string
	observers []func(state InstallState, reason string)
}

// Subscribe registers a read-only observer invoked on every transition.
func (t *InstallStatus) Subscribe(fn func(state InstallState, reason string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, fn)
}

// State returns the current state.
func (t *InstallStatus) State() InstallState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// FailureReason returns the reason recorded by Fail, empty otherwise.
func (t *InstallStatus) FailureReason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// SetReady marks the package prepared and awaiting delivery.
func (t *InstallStatus) SetReady() error { return t.advance(StateReady, "") }

// SetSendingPayload marks the package as transferring to the installer.
func (t *InstallStatus) SetSendingPayload() error { return t.advance(StateSendingPayload, "") }

// SetCompleted marks terminal success.
func (t *InstallStatus) SetCompleted() error { return t.advance(StateCompleted, "") }

// Fail moves any non-terminal state to the terminal failure state.
func (t *InstallStatus) Fail(reason string) error {
	t.mu.Lock()
	if t.state == StateCompleted || t.state == StateFailed {
		from := t.state
		t.mu.Unlock()
		return fmt.Errorf("install status: cannot fail from terminal state %s", from)
	}
	observers := t.setLocked(StateFailed, reason)
	t.mu.Unlock()
	notify(observers, StateFailed, reason)
	return nil
}

// Reset returns the status to the initial state. There is no resume: every
// re-attempt is a full re-run through the owning pipeline, which resets
// before advancing again.
func (t *InstallStatus) Reset() {
	t.mu.Lock()
	observers := t.setLocked(StateNone, "")
	t.mu.Unlock()
	notify(observers, StateNone, "")
}

func (t *InstallStatus) advance(to InstallState, reason string) error {
	t.mu.Lock()
	for _, allowed := range legalTransitions[t.state] {
		if allowed == to {
			observers := t.setLocked(to, reason)
			t.mu.Unlock()
			notify(observers, to, reason)
			return nil
		}
	}
	from := t.state
	t.mu.Unlock()
	return fmt.Errorf("install status: illegal transition %s -> %s", from, to)
}

// setLocked records the transition and returns the observers to notify.
// Notification happens after the lock is released so an observer may call
// State or FailureReason without deadlocking.
func (t *InstallStatus) setLocked(state InstallState, reason string) []func(InstallState, string) {
	t.state = state
	t.reason = reason
	return t.observers
}

func notify(observers []func(InstallState, string), state InstallState, reason string) {
	for _, fn := range observers {
		fn(state, reason)
	}
}
