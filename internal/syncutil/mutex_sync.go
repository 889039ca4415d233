//go:build !deadlock

// Package syncutil holds the mutexes shared by the trace, the emulator
// memory and the simulated front ends. Plain sync types are used unless the
// module is built with -tags=deadlock.
package syncutil

import "sync"

// Mutex is a sync.Mutex.
//
//nolint:gocritic // embedded to expose Lock and Unlock
type Mutex struct {
	sync.Mutex
}

// RWMutex is a sync.RWMutex.
//
//nolint:gocritic // embedded to expose the read and write locks
type RWMutex struct {
	sync.RWMutex
}
