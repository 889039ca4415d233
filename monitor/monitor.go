// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package monitor runs the sniffer as a background actor that reopens its
// front end after failures and streams observed frames to a channel.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	iso14443a "github.com/ZaparooProject/go-iso14443a"
	"github.com/ZaparooProject/go-iso14443a/internal/syncutil"
	"github.com/ZaparooProject/go-iso14443a/trace"
)

// ErrRestartsExhausted is reported when the front end kept failing after
// the configured number of restarts.
var ErrRestartsExhausted = errors.New("monitor: restarts exhausted")

// Metrics tracks operational metrics for a Monitor
type Metrics struct {
	Captures     int64 // Number of captures started
	Restarts     int64 // Number of captures restarted after a failure
	Frames       int64 // Frames delivered to the channel
	Dropped      int64 // Frames dropped because the channel was full
	Errors       int64 // Front end failures
	LastFrameAge time.Duration
}

// Monitor owns one sniffer goroutine. A Monitor runs once: after Stop or a
// terminal error, create a new one.
type Monitor struct {
	open      iso14443a.OpenFunc
	config    *Config
	frames    chan iso14443a.SniffedFrame
	done      chan struct{}
	cancel    context.CancelFunc
	current   *trace.Trace
	err       error
	mu        syncutil.Mutex
	started   atomic.Bool
	captures  atomic.Int64
	restarts  atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
	errs      atomic.Int64
	lastFrame atomic.Int64 // unix nanoseconds
}

// New creates a monitor capturing from the front ends open returns.
func New(open iso14443a.OpenFunc, config *Config) *Monitor {
	config = config.normalize()
	return &Monitor{
		open:   open,
		config: config,
		frames: make(chan iso14443a.SniffedFrame, config.FrameBuffer),
		done:   make(chan struct{}),
	}
}

// Start launches the capture goroutine. Calling Start again is a no-op.
func (m *Monitor) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	go m.run(ctx)
	return nil
}

// Frames returns the frame stream. It is closed when the monitor stops.
func (m *Monitor) Frames() <-chan iso14443a.SniffedFrame {
	return m.frames
}

// Done is closed when the capture goroutine has exited.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// Err returns the error that ended the monitor, nil after a clean stop.
func (m *Monitor) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Trace returns the trace of the current or last capture.
func (m *Monitor) Trace() *trace.Trace {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Stop cancels the capture and waits for the goroutine to exit or ctx to
// expire.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("monitor stop: %w", ctx.Err())
	}
}

// Metrics returns current operational metrics
func (m *Monitor) Metrics() Metrics {
	var age time.Duration
	if last := m.lastFrame.Load(); last != 0 {
		age = time.Since(time.Unix(0, last))
	}
	return Metrics{
		Captures:     m.captures.Load(),
		Restarts:     m.restarts.Load(),
		Frames:       m.delivered.Load(),
		Dropped:      m.dropped.Load(),
		Errors:       m.errs.Load(),
		LastFrameAge: age,
	}
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)
	defer close(m.frames)

	err := m.loop(ctx)
	if ctx.Err() != nil {
		err = nil
	}
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *Monitor) loop(ctx context.Context) error {
	for restarts := 0; ; restarts++ {
		err := m.capture(ctx)
		if err == nil || ctx.Err() != nil {
			return err
		}
		m.errs.Add(1)
		iso14443a.Debugf("monitor: capture failed: %v", err)

		if !iso14443a.IsFatal(err) && !iso14443a.IsRetryable(err) {
			return err
		}
		if m.config.MaxRestarts >= 0 && restarts >= m.config.MaxRestarts {
			return fmt.Errorf("%w: %w", ErrRestartsExhausted, err)
		}

		timer := time.NewTimer(m.config.RestartDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		m.restarts.Add(1)
	}
}

// capture opens a front end and sniffs until it fails, the trace fills or
// ctx is cancelled.
func (m *Monitor) capture(ctx context.Context) error {
	fe, err := iso14443a.OpenWithRetry(ctx, m.config.Reopen, m.open)
	if err != nil {
		return err
	}
	defer func() {
		_ = fe.Close()
	}()

	tr := trace.New(m.config.TraceCapacity)
	m.mu.Lock()
	m.current = tr
	m.mu.Unlock()

	m.captures.Add(1)
	s := iso14443a.NewSniffer(fe, iso14443a.WithSnifferTrace(tr), iso14443a.WithFrameHandler(m.deliver))
	return s.Run(ctx)
}

func (m *Monitor) deliver(f iso14443a.SniffedFrame) {
	m.lastFrame.Store(time.Now().UnixNano())
	select {
	case m.frames <- f:
		m.delivered.Add(1)
	default:
		m.dropped.Add(1)
	}
}
