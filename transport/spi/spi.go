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

// Package spi drives a sampling front end on an SPI bus. The device is LSB
// first, so every byte is bit reversed on the way in and out.
package spi

import (
	"context"
	"fmt"
	"sync"
	"time"

	iso14443a "github.com/ZaparooProject/go-iso14443a"
	"github.com/ZaparooProject/go-iso14443a/internal/frame"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const (
	// SPI protocol constants
	spiStatRead  = 0x02
	spiDataWrite = 0x01
	spiDataRead  = 0x03
	spiReady     = 0x01

	// DefaultFrequency keeps one slot exchange well inside a bit period.
	DefaultFrequency = 4 * physic.MegaHertz
	mode             = spi.Mode0 // CPOL=0, CPHA=0 (LSB first is handled by bit reversal)
)

// Transport implements iso14443a.Frontend over SPI.
type Transport struct {
	port     spi.PortCloser
	spi      spi.Conn
	conn     *frame.Conn
	portName string
	mu       sync.Mutex
	closed   bool
}

// New opens the SPI port named portName, e.g. "/dev/spidev0.0".
func New(portName string, freq physic.Frequency) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	if freq == 0 {
		freq = DefaultFrequency
	}

	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %s: %w", portName, err)
	}
	c, err := port.Connect(freq, mode, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to connect SPI: %w", err)
	}

	t := newTransport(port, c, portName, frame.DefaultReplyTimeout)
	t.wakeup()
	return t, nil
}

func newTransport(port spi.PortCloser, c spi.Conn, portName string, replyTimeout time.Duration) *Transport {
	t := &Transport{port: port, spi: c, portName: portName}
	t.conn = frame.NewConn(busIO{t}, portName, replyTimeout)
	return t
}

// wakeup clocks a dummy byte so the device leaves power down.
func (t *Transport) wakeup() {
	time.Sleep(1 * time.Millisecond)
	_ = t.spi.Tx([]byte{0x00}, nil) // Ignore error for wakeup
	time.Sleep(1 * time.Millisecond)
}

// reverseBit reverses the bits in a byte (LSB <-> MSB)
func reverseBit(b byte) byte {
	var result byte
	for range 8 {
		result <<= 1
		result |= b & 1
		b >>= 1
	}
	return result
}

func reverseBytes(dst, src []byte) {
	for i, b := range src {
		dst[i] = reverseBit(b)
	}
}

// Configure implements iso14443a.Frontend.
func (t *Transport) Configure(ctx context.Context, m iso14443a.Mode) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return iso14443a.NewFrontendClosedError("configure", t.portName)
	}
	return t.conn.SetMode(ctx, m)
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

// Close closes the transport connection
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.port.Close(); err != nil {
		return fmt.Errorf("failed to close SPI port: %w", err)
	}
	return nil
}

// Type implements iso14443a.Frontend.
func (*Transport) Type() iso14443a.FrontendType {
	return iso14443a.FrontendSPI
}

// busIO maps the byte stream onto SPI transactions. A read first polls the
// status register and returns no data while the device has nothing queued.
type busIO struct {
	t *Transport
}

func (b busIO) Write(p []byte) (int, error) {
	w := make([]byte, len(p)+1)
	w[0] = reverseBit(spiDataWrite)
	reverseBytes(w[1:], p)
	if err := b.t.spi.Tx(w, nil); err != nil {
		return 0, fmt.Errorf("SPI data write failed: %w", err)
	}
	return len(p), nil
}

func (b busIO) Read(p []byte) (int, error) {
	status := make([]byte, 2)
	if err := b.t.spi.Tx([]byte{reverseBit(spiStatRead), 0}, status); err != nil {
		return 0, fmt.Errorf("SPI status read failed: %w", err)
	}
	if reverseBit(status[1]) != spiReady {
		return 0, nil
	}

	w := make([]byte, len(p)+1)
	w[0] = reverseBit(spiDataRead)
	r := make([]byte, len(w))
	if err := b.t.spi.Tx(w, r); err != nil {
		return 0, fmt.Errorf("SPI data read failed: %w", err)
	}
	reverseBytes(p, r[1:])
	return len(p), nil
}

var _ iso14443a.Frontend = (*Transport)(nil)
