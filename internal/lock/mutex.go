// Package lock provides named mutexes whose acquisition times out.
//
// Shared simulation state (modulation buffers, snapshot caches, phase
// hand-off) is locked through these so a deadlock fails fast with the lock
// name instead of hanging the run.
package lock

import (
	"errors"
	"fmt"
	"time"

	"github.com/star/gnsssynth/internal/metrics"
)

// DefaultTimeout is used when a Mutex is created with a zero timeout.
const DefaultTimeout = 10 * time.Second

// ErrTimeout is returned when a lock cannot be acquired in time.
var ErrTimeout = errors.New("lock: acquisition timed out")

// Mutex is a mutual exclusion lock with a bounded wait.
// The zero value is not usable; create with New.
type Mutex struct {
	name    string
	timeout time.Duration
	ch      chan struct{}
}

// New creates an unlocked Mutex.
func New(name string, timeout time.Duration) *Mutex {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Mutex{
		name:    name,
		timeout: timeout,
		ch:      make(chan struct{}, 1),
	}
}

// Name returns the lock name.
func (m *Mutex) Name() string { return m.name }

// Lock acquires the mutex or returns an error wrapping ErrTimeout.
func (m *Mutex) Lock() error {
	select {
	case m.ch <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()
	select {
	case m.ch <- struct{}{}:
		return nil
	case <-timer.C:
		metrics.IncLockTimeouts(m.name)
		return fmt.Errorf("%w: %q after %s", ErrTimeout, m.name, m.timeout)
	}
}

// Unlock releases the mutex. Unlocking an unlocked mutex panics.
func (m *Mutex) Unlock() {
	select {
	case <-m.ch:
	default:
		panic("lock: unlock of unlocked mutex " + m.name)
	}
}

// Do runs fn while holding the lock.
func (m *Mutex) Do(fn func() error) error {
	if err := m.Lock(); err != nil {
		return err
	}
	defer m.Unlock()
	return fn()
}
