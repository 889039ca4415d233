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

// Package testing provides simulated air for exercising both protocol roles
// without hardware.
//
// VirtualTag is a Frontend for code acting as a reader: it decodes the
// reader's Miller modulation and plays back the answers of a Responder.
// VirtualReader is a Frontend for code acting as a tag: it plays a scripted
// reader conversation and decodes the Manchester answers. VirtualDevice
// speaks the host wire protocol of a hardware front end over any Frontend,
// so transports can be tested end to end.
package testing

import (
	"context"

	iso14443a "github.com/ZaparooProject/go-iso14443a"
	"github.com/ZaparooProject/go-iso14443a/codec"
	"github.com/ZaparooProject/go-iso14443a/decoder"
	"github.com/ZaparooProject/go-iso14443a/internal/syncutil"
)

// Responder answers a reader frame with an encoded tag pattern. A nil
// pattern keeps the tag silent. The frame data is a private copy.
type Responder func(frame decoder.Frame) codec.Pattern

// VirtualTag simulates a card in front of a reader front end.
type VirtualTag struct {
	respond     Responder
	miller      *decoder.Miller
	buf         []byte
	pending     []byte
	received    [][]byte
	mu          syncutil.Mutex
	mode        iso14443a.Mode
	fieldResets int
	closed      bool
}

// NewVirtualTag returns a tag answering through respond.
func NewVirtualTag(respond Responder) *VirtualTag {
	buf := make([]byte, iso14443a.MaxFrameSize)
	return &VirtualTag{
		respond: respond,
		buf:     buf,
		miller:  decoder.NewMiller(buf),
	}
}

// Configure implements iso14443a.Frontend. Switching the field off resets
// the tag; starting a new reader transmission discards any unsent answer.
func (t *VirtualTag) Configure(_ context.Context, mode iso14443a.Mode) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return iso14443a.NewFrontendClosedError("configure", "virtual-tag")
	}

	switch {
	case mode == iso14443a.ModeOff && t.mode != iso14443a.ModeOff:
		t.fieldResets++
		t.miller.Reset(t.buf)
		t.pending = nil
	case mode == iso14443a.ModeReaderMod:
		t.pending = nil
	}
	t.mode = mode
	return nil
}

// Exchange implements iso14443a.Frontend.
func (t *VirtualTag) Exchange(_ context.Context, tx byte) (byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, iso14443a.NewFrontendClosedError("exchange", "virtual-tag")
	}

	switch t.mode {
	case iso14443a.ModeReaderMod:
		t.hear(^tx)
		return 0, nil
	case iso14443a.ModeReaderListen:
		t.hear(codec.ReaderIdleSample)
		if len(t.pending) == 0 {
			return codec.TagIdleSample, nil
		}
		rx := t.pending[0]
		t.pending = t.pending[1:]
		return rx, nil
	default:
		return 0, nil
	}
}

// hear feeds one reader slot into the tag's decoder.
func (t *VirtualTag) hear(sample byte) {
	for _, n := range [2]byte{sample >> 4, sample & 0x0f} {
		if t.miller.Decode(n) != decoder.Complete {
			continue
		}
		f := t.miller.Frame()
		f.Data = append([]byte(nil), f.Data...)
		t.received = append(t.received, f.Data)
		if t.respond == nil {
			continue
		}
		if p := t.respond(f); p != nil {
			t.pending = codec.TagSamples(p)
		}
	}
}

// FieldStrength implements iso14443a.Frontend. A reader does not measure
// an external field.
func (*VirtualTag) FieldStrength(context.Context) (int, error) {
	return 0, nil
}

// Close implements iso14443a.Frontend.
func (t *VirtualTag) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

// Type implements iso14443a.Frontend.
func (*VirtualTag) Type() iso14443a.FrontendType {
	return iso14443a.FrontendMock
}

// Received returns every reader frame the tag decoded.
func (t *VirtualTag) Received() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.received...)
}

// FieldResets returns how often the field was switched off.
func (t *VirtualTag) FieldResets() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fieldResets
}
