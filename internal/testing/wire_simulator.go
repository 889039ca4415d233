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

package testing

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	iso14443a "github.com/ZaparooProject/go-iso14443a"
	"github.com/ZaparooProject/go-iso14443a/internal/frame"
	"github.com/ZaparooProject/go-iso14443a/internal/syncutil"
)

// VirtualDevice simulates a hardware front end at the host wire protocol
// level. It implements io.ReadWriter to plug directly into transport tests
// and forwards every slot and control operation to the air behind it.
type VirtualDevice struct {
	air                 iso14443a.Frontend
	rxBuffer            bytes.Buffer
	txBuffer            bytes.Buffer
	mu                  syncutil.Mutex
	exchanges           int
	injectChecksumError bool
	dropNextReply       bool
}

// NewVirtualDevice returns a device whose radio is air.
func NewVirtualDevice(air iso14443a.Frontend) *VirtualDevice {
	return &VirtualDevice{air: air}
}

// Write implements io.Writer - receives data from the host.
// This parses incoming requests and generates the replies.
func (v *VirtualDevice) Write(data []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.rxBuffer.Write(data)
	if err := v.processReceivedData(); err != nil {
		return len(data), err
	}
	return len(data), nil
}

// Read implements io.Reader - returns reply data to the host.
func (v *VirtualDevice) Read(buf []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.txBuffer.Len() == 0 {
		return 0, nil
	}
	n, err := v.txBuffer.Read(buf)
	if err != nil {
		return n, fmt.Errorf("read from tx buffer: %w", err)
	}
	return n, nil
}

// InjectChecksumError corrupts the checksum of the next control reply.
func (v *VirtualDevice) InjectChecksumError() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.injectChecksumError = true
}

// DropNextReply swallows the next reply of any kind.
func (v *VirtualDevice) DropNextReply() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dropNextReply = true
}

// Exchanges returns the number of slot exchanges served.
func (v *VirtualDevice) Exchanges() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.exchanges
}

// HasPendingResponse reports whether reply bytes wait to be read.
func (v *VirtualDevice) HasPendingResponse() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.txBuffer.Len() > 0
}

// processReceivedData consumes complete requests from the receive buffer.
func (v *VirtualDevice) processReceivedData() error {
	ctx := context.Background()
	for {
		data := v.rxBuffer.Bytes()
		if len(data) == 0 {
			return nil
		}

		if data[0] == frame.ExchangeMarker {
			if len(data) < 2 {
				return nil
			}
			tx := data[1]
			v.rxBuffer.Next(2)
			rx, err := v.air.Exchange(ctx, tx)
			if err != nil {
				return fmt.Errorf("air exchange: %w", err)
			}
			v.exchanges++
			v.reply([]byte{rx})
			continue
		}

		op, payload, n, err := frame.ParseControl(data)
		if errors.Is(err, frame.ErrIncomplete) {
			return nil
		}
		if err != nil {
			// Resynchronise on the next byte, like a device discarding noise.
			v.rxBuffer.Next(1)
			continue
		}
		payload = append([]byte(nil), payload...)
		v.rxBuffer.Next(n)
		if err := v.control(ctx, op, payload); err != nil {
			return err
		}
	}
}

func (v *VirtualDevice) control(ctx context.Context, op byte, payload []byte) error {
	var out []byte
	switch op {
	case frame.OpSetMode:
		if len(payload) != 1 {
			return fmt.Errorf("set mode: payload of %d bytes", len(payload))
		}
		if err := v.air.Configure(ctx, iso14443a.Mode(payload[0])); err != nil {
			return fmt.Errorf("air configure: %w", err)
		}
	case frame.OpFieldStrength:
		mv, err := v.air.FieldStrength(ctx)
		if err != nil {
			return fmt.Errorf("air field strength: %w", err)
		}
		out = binary.LittleEndian.AppendUint16(nil, uint16(mv))
	default:
		return fmt.Errorf("unknown control operation %#02x", op)
	}

	buf, err := frame.BuildControl(op+1, out)
	if err != nil {
		return err
	}
	if v.injectChecksumError {
		v.injectChecksumError = false
		buf[len(buf)-1]++
	}
	v.reply(buf)
	return nil
}

func (v *VirtualDevice) reply(buf []byte) {
	if v.dropNextReply {
		v.dropNextReply = false
		return
	}
	v.txBuffer.Write(buf)
}
