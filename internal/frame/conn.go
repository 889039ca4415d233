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

package frame

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	iso14443a "github.com/ZaparooProject/go-iso14443a"
)

// DefaultReplyTimeout bounds the wait for a reply to a single request.
const DefaultReplyTimeout = 250 * time.Millisecond

// Conn is the host side of the wire protocol over a byte stream. Reads that
// return no data are retried until the reply timeout expires, which covers
// serial ports whose read timeout fired before the device answered.
type Conn struct {
	rw      io.ReadWriter
	device  string
	timeout time.Duration
	sample  [1]byte
}

// NewConn returns a connection on rw. device names it in errors.
func NewConn(rw io.ReadWriter, device string, timeout time.Duration) *Conn {
	if timeout <= 0 {
		timeout = DefaultReplyTimeout
	}
	return &Conn{rw: rw, device: device, timeout: timeout}
}

// Exchange clocks one slot through the device.
func (c *Conn) Exchange(ctx context.Context, tx byte) (byte, error) {
	if err := c.write("exchange", BuildExchange(tx)); err != nil {
		return 0, err
	}
	if err := c.read(ctx, "exchange", c.sample[:]); err != nil {
		return 0, err
	}
	return c.sample[0], nil
}

// Control sends a control operation and returns the reply payload.
func (c *Conn) Control(ctx context.Context, op byte, payload []byte) ([]byte, error) {
	name := opName(op)
	req, err := BuildControl(op, payload)
	if err != nil {
		return nil, err
	}
	if err := c.write(name, req); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if err := c.read(ctx, name, header); err != nil {
		return nil, err
	}
	if header[0] != StartCode1 || header[1] != StartCode2 {
		return nil, iso14443a.NewFrontendError(name, c.device,
			fmt.Errorf("%w: bad start code % x", iso14443a.ErrFrontendProtocol, header[:2]),
			iso14443a.ErrorTypeTransient)
	}
	rest := make([]byte, int(header[2])+1)
	if err := c.read(ctx, name, rest); err != nil {
		return nil, err
	}

	replyOp, reply, _, err := ParseControl(append(header, rest...))
	switch {
	case errors.Is(err, iso14443a.ErrChecksumMismatch):
		return nil, iso14443a.NewChecksumMismatchError(name, c.device)
	case err != nil:
		return nil, iso14443a.NewFrontendError(name, c.device, err, iso14443a.ErrorTypeTransient)
	case replyOp != op+1:
		return nil, iso14443a.NewFrontendError(name, c.device,
			fmt.Errorf("%w: reply %#02x to %#02x", iso14443a.ErrFrontendProtocol, replyOp, op),
			iso14443a.ErrorTypeTransient)
	}
	return reply, nil
}

// SetMode switches the device mode.
func (c *Conn) SetMode(ctx context.Context, mode iso14443a.Mode) error {
	_, err := c.Control(ctx, OpSetMode, []byte{byte(mode)})
	return err
}

// FieldStrength asks the device for the external field level.
func (c *Conn) FieldStrength(ctx context.Context) (int, error) {
	reply, err := c.Control(ctx, OpFieldStrength, nil)
	if err != nil {
		return 0, err
	}
	if len(reply) != 2 {
		return 0, iso14443a.NewFrontendError("field strength", c.device,
			fmt.Errorf("%w: %d byte reply", iso14443a.ErrFrontendProtocol, len(reply)),
			iso14443a.ErrorTypeTransient)
	}
	return int(binary.LittleEndian.Uint16(reply)), nil
}

func (c *Conn) write(op string, buf []byte) error {
	n, err := c.rw.Write(buf)
	if err != nil {
		return iso14443a.NewFrontendWriteError(op, c.device, err)
	}
	if n != len(buf) {
		return iso14443a.NewFrontendWriteError(op, c.device, io.ErrShortWrite)
	}
	return nil
}

// read fills buf, polling through empty reads until the deadline.
func (c *Conn) read(ctx context.Context, op string, buf []byte) error {
	deadline := time.Now().Add(c.timeout)
	for off := 0; off < len(buf); {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := c.rw.Read(buf[off:])
		off += n
		if err != nil && off < len(buf) {
			return iso14443a.NewFrontendReadError(op, c.device, err)
		}
		if n == 0 && time.Now().After(deadline) {
			return iso14443a.NewFrontendTimeoutError(op, c.device)
		}
	}
	return nil
}

func opName(op byte) string {
	switch op {
	case OpSetMode:
		return "set mode"
	case OpFieldStrength:
		return "field strength"
	default:
		return fmt.Sprintf("control %#02x", op)
	}
}
