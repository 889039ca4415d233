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

// Package uart drives a sampling front end attached to a serial port.
package uart

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	iso14443a "github.com/ZaparooProject/go-iso14443a"
	"github.com/ZaparooProject/go-iso14443a/internal/frame"
	"go.bug.st/serial"
)

// DefaultBaudRate keeps up with one slot exchange per bit period on common
// USB serial bridges.
const DefaultBaudRate = 921600

// Option configures a Transport.
type Option func(*options)

type options struct {
	baudRate     int
	replyTimeout time.Duration
}

// WithBaudRate overrides DefaultBaudRate.
func WithBaudRate(rate int) Option {
	return func(o *options) {
		o.baudRate = rate
	}
}

// WithReplyTimeout bounds the wait for a single device reply.
func WithReplyTimeout(d time.Duration) Option {
	return func(o *options) {
		o.replyTimeout = d
	}
}

// Transport implements iso14443a.Frontend over a serial port.
type Transport struct {
	port     serial.Port
	conn     *frame.Conn
	portName string
	mu       sync.Mutex
	closed   bool
}

// isWindows returns true if running on Windows
func isWindows() bool {
	return runtime.GOOS == "windows"
}

// getWindowsTimeout returns the serial read timeout for the platform.
func getWindowsTimeout() time.Duration {
	if isWindows() {
		return 100 * time.Millisecond
	}
	return 50 * time.Millisecond
}

// windowsPostWriteDelay gives the Windows driver time to flush a control
// frame before the mode switch takes effect.
func windowsPostWriteDelay() {
	if isWindows() {
		time.Sleep(15 * time.Millisecond)
	}
}

// New opens portName at 8N1.
func New(portName string, opts ...Option) (*Transport, error) {
	o := options{baudRate: DefaultBaudRate, replyTimeout: frame.DefaultReplyTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: o.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open UART port %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(getWindowsTimeout()); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set UART read timeout: %w", err)
	}
	return newTransport(port, portName, o.replyTimeout), nil
}

func newTransport(port serial.Port, portName string, replyTimeout time.Duration) *Transport {
	t := &Transport{port: port, portName: portName}
	t.conn = frame.NewConn(portIO{t}, portName, replyTimeout)
	return t
}

// Configure implements iso14443a.Frontend. Stale samples still queued from
// the previous mode are discarded first.
func (t *Transport) Configure(ctx context.Context, mode iso14443a.Mode) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return iso14443a.NewFrontendClosedError("configure", t.portName)
	}

	if err := t.port.ResetInputBuffer(); err != nil {
		return iso14443a.NewFrontendError("configure", t.portName, err, iso14443a.ErrorTypeTransient)
	}
	if err := t.conn.SetMode(ctx, mode); err != nil {
		return err
	}
	windowsPostWriteDelay()
	return nil
}

// Exchange implements iso14443a.Frontend.
func (t *Transport) Exchange(ctx context.Context, tx byte) (byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, iso14443a.NewFrontendClosedError("exchange", t.portName)
	}
	return t.conn.Exchange(ctx, tx)
}

// FieldStrength implements iso14443a.Frontend.
func (t *Transport) FieldStrength(ctx context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, iso14443a.NewFrontendClosedError("field strength", t.portName)
	}
	return t.conn.FieldStrength(ctx)
}

// Close closes the serial port.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.port.Close(); err != nil {
		return fmt.Errorf("failed to close UART port: %w", err)
	}
	return nil
}

// Type implements iso14443a.Frontend.
func (*Transport) Type() iso14443a.FrontendType {
	return iso14443a.FrontendUART
}

// PortName returns the serial device path.
func (t *Transport) PortName() string {
	return t.portName
}

// isInterruptedSystemCall checks if an error is caused by an interrupted system call
func isInterruptedSystemCall(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "interrupted system call") ||
		strings.Contains(errStr, "eintr")
}

// drainWithRetry performs port drain with retry logic for interrupted system calls
func (t *Transport) drainWithRetry(operation string) error {
	const maxRetries = 3
	baseDelay := 2 * time.Millisecond

	for attempt := range maxRetries {
		err := t.port.Drain()
		if err == nil {
			return nil
		}

		if isInterruptedSystemCall(err) && attempt < maxRetries-1 {
			time.Sleep(baseDelay * time.Duration(1<<attempt)) // 2ms, 4ms
			continue
		}
		return fmt.Errorf("UART %s drain failed: %w", operation, err)
	}

	return fmt.Errorf("UART %s drain failed after %d retries", operation, maxRetries)
}

// portIO adapts the serial port to the frame connection. Interrupted reads
// count as empty reads so the connection polls again.
type portIO struct {
	t *Transport
}

func (p portIO) Read(buf []byte) (int, error) {
	n, err := p.t.port.Read(buf)
	if err != nil && isInterruptedSystemCall(err) {
		return n, nil
	}
	if err != nil {
		return n, fmt.Errorf("UART read failed: %w", err)
	}
	return n, nil
}

func (p portIO) Write(buf []byte) (int, error) {
	n, err := p.t.port.Write(buf)
	if err != nil {
		return n, fmt.Errorf("UART write failed: %w", err)
	}
	if err := p.t.drainWithRetry("write"); err != nil {
		return n, err
	}
	return n, nil
}

var _ iso14443a.Frontend = (*Transport)(nil)
