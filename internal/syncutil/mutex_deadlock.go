//go:build deadlock

package syncutil

import (
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
)

// Locks guard memory state or a single device reply, so a wait beyond a
// couple of seconds means one of them is stuck.
func init() {
	deadlock.Opts.DeadlockTimeout = 2 * time.Second
}

// Mutex is a deadlock.Mutex that reports lock order inversions and long
// waits.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex is a deadlock.RWMutex.
type RWMutex struct {
	deadlock.RWMutex
}
