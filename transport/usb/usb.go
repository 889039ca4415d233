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

// Package usb drives a sampling front end over a vendor specific USB bulk
// interface.
package usb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	iso14443a "github.com/ZaparooProject/go-iso14443a"
	"github.com/ZaparooProject/go-iso14443a/internal/frame"
	"github.com/google/gousb"
)

// Default device identity and interface layout.
const (
	VendorID        gousb.ID = 0x1d50
	ProductID       gousb.ID = 0x6089
	Interface                = 0
	EndpointBulkOut          = 0x01
	EndpointBulkIn           = 0x81
)

// bulkPacket is the largest full speed bulk packet.
const bulkPacket = 64

// ErrNotFound is returned when no device matches the vendor and product IDs.
var ErrNotFound = errors.New("usb front end not found")

type inEndpoint interface {
	ReadContext(ctx context.Context, buf []byte) (int, error)
}

type outEndpoint interface {
	WriteContext(ctx context.Context, buf []byte) (int, error)
}

// Transport implements iso14443a.Frontend over USB bulk endpoints.
type Transport struct {
	in      inEndpoint
	out     outEndpoint
	conn    *frame.Conn
	release func() error
	name    string
	pending []byte
	poll    time.Duration
	mu      sync.Mutex
	closed  bool
}

// Open claims the first device with the given IDs. Zero IDs select the
// defaults.
func Open(vid, pid gousb.ID) (*Transport, error) {
	if vid == 0 {
		vid = VendorID
	}
	if pid == 0 {
		pid = ProductID
	}

	ctx := gousb.NewContext()
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == vid && desc.Product == pid
	})
	if err != nil {
		for _, d := range devs {
			_ = d.Close()
		}
		_ = ctx.Close()
		return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}
	if len(devs) == 0 {
		_ = ctx.Close()
		return nil, fmt.Errorf("%w (VID=%s PID=%s)", ErrNotFound, vid, pid)
	}

	dev := devs[0]
	for _, d := range devs[1:] {
		_ = d.Close()
	}

	intf, done, err := dev.DefaultInterface()
	if err != nil {
		_ = dev.Close()
		_ = ctx.Close()
		return nil, fmt.Errorf("failed to claim interface %d: %w", Interface, err)
	}
	closeAll := func() error {
		done()
		derr := dev.Close()
		cerr := ctx.Close()
		return errors.Join(derr, cerr)
	}

	out, err := intf.OutEndpoint(EndpointBulkOut)
	if err != nil {
		_ = closeAll()
		return nil, fmt.Errorf("failed to open bulk out endpoint: %w", err)
	}
	in, err := intf.InEndpoint(EndpointBulkIn)
	if err != nil {
		_ = closeAll()
		return nil, fmt.Errorf("failed to open bulk in endpoint: %w", err)
	}

	name := fmt.Sprintf("usb:%s:%s@%d.%d", vid, pid, dev.Desc.Bus, dev.Desc.Address)
	return newTransport(in, out, closeAll, name, frame.DefaultReplyTimeout), nil
}

func newTransport(in inEndpoint, out outEndpoint, release func() error, name string, replyTimeout time.Duration) *Transport {
	t := &Transport{
		in:      in,
		out:     out,
		release: release,
		name:    name,
		poll:    10 * time.Millisecond,
	}
	t.conn = frame.NewConn(bulkIO{t}, name, replyTimeout)
	return t
}

// Configure implements iso14443a.Frontend.
func (t *Transport) Configure(ctx context.Context, mode iso14443a.Mode) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return iso14443a.NewFrontendClosedError("configure", t.name)
	}
	t.pending = t.pending[:0]
	return t.conn.SetMode(ctx, mode)
}

// Exchange implements iso14443a.Frontend.
func (t *Transport) Exchange(ctx context.Context, tx byte) (byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, iso14443a.NewFrontendClosedError("exchange", t.name)
	}
	return t.conn.Exchange(ctx, tx)
}

// FieldStrength implements iso14443a.Frontend.
func (t *Transport) FieldStrength(ctx context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, iso14443a.NewFrontendClosedError("field strength", t.name)
	}
	return t.conn.FieldStrength(ctx)
}

// Close releases the interface and the device.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.release == nil {
		return nil
	}
	if err := t.release(); err != nil {
		return fmt.Errorf("failed to close USB device: %w", err)
	}
	return nil
}

// Type implements iso14443a.Frontend.
func (*Transport) Type() iso14443a.FrontendType {
	return iso14443a.FrontendUSB
}

// String returns the device name used in errors.
func (t *Transport) String() string {
	return t.name
}

// bulkIO buffers whole bulk packets, since the device may pack several
// replies into one transfer.
type bulkIO struct {
	t *Transport
}

func (b bulkIO) Write(p []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), frame.DefaultReplyTimeout)
	defer cancel()
	n, err := b.t.out.WriteContext(ctx, p)
	if err != nil {
		return n, fmt.Errorf("bulk out: %w", err)
	}
	return n, nil
}

func (b bulkIO) Read(p []byte) (int, error) {
	t := b.t
	if len(t.pending) == 0 {
		ctx, cancel := context.WithTimeout(context.Background(), t.poll)
		defer cancel()
		buf := make([]byte, bulkPacket)
		n, err := t.in.ReadContext(ctx, buf)
		if err != nil {
			if emptyRead(err) {
				return 0, nil
			}
			return 0, fmt.Errorf("bulk in: %w", err)
		}
		t.pending = append(t.pending, buf[:n]...)
	}
	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

// emptyRead reports whether a bulk read ended by the poll deadline rather
// than a device failure.
func emptyRead(err error) bool {
	return errors.Is(err, gousb.ErrorTimeout) ||
		errors.Is(err, gousb.TransferTimedOut) ||
		errors.Is(err, gousb.TransferCancelled) ||
		errors.Is(err, context.DeadlineExceeded)
}

var _ iso14443a.Frontend = (*Transport)(nil)
