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

package iso14443a

import (
	"context"
	"errors"

	"github.com/ZaparooProject/go-iso14443a/decoder"
	"github.com/ZaparooProject/go-iso14443a/trace"
)

// SniffedFrame is a frame observed by the sniffer.
type SniffedFrame struct {
	Data      []byte
	Parity    uint32
	Timestamp uint32
	Direction trace.Direction
}

// SnifferOption configures a Sniffer.
type SnifferOption func(*Sniffer)

// WithSnifferTrace records into tr instead of a private trace.
func WithSnifferTrace(tr *trace.Trace) SnifferOption {
	return func(s *Sniffer) {
		s.trace = tr
	}
}

// WithFrameHandler calls fn for every recorded frame. Data is a copy.
func WithFrameHandler(fn func(SniffedFrame)) SnifferOption {
	return func(s *Sniffer) {
		s.onFrame = fn
	}
}

// Sniffer records both directions of a reader/tag conversation. Reader
// frames are ignored until the first tag answer so that a trace starts
// with a complete exchange.
type Sniffer struct {
	fe         Frontend
	trace      *trace.Trace
	onFrame    func(SniffedFrame)
	miller     *decoder.Miller
	manchester *decoder.Manchester
	clock      uint32
	triggered  bool
}

// NewSniffer returns a sniffer on fe.
func NewSniffer(fe Frontend, opts ...SnifferOption) *Sniffer {
	s := &Sniffer{
		fe:         fe,
		miller:     decoder.NewMiller(make([]byte, trace.MaxPayload)),
		manchester: decoder.NewManchester(make([]byte, trace.MaxPayload)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.trace == nil {
		s.trace = trace.New(trace.DefaultCapacity)
	}
	return s
}

// Trace returns the frame trace.
func (s *Sniffer) Trace() *trace.Trace {
	return s.trace
}

// Run samples until ctx is done, the front end stops or the trace is full.
// Cancellation is a normal end and returns nil.
func (s *Sniffer) Run(ctx context.Context) error {
	s.trace.Clear()
	s.triggered = false
	s.clock = 0
	s.miller.Unsync()
	s.manchester.Unsync()

	if err := s.fe.Configure(ctx, ModeSniffer); err != nil {
		return err
	}
	defer func() {
		_ = s.fe.Configure(context.WithoutCancel(ctx), ModeOff)
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		rx, err := s.fe.Exchange(ctx, 0)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		s.clock += SamplesPerSnifferSlot

		if full := s.feed(rx); full {
			Debugf("sniffer stopped: trace full after %d bytes", s.trace.Len())
			return nil
		}
	}
}

// feed runs one slot through both decoders and reports whether the trace
// refused a frame.
func (s *Sniffer) feed(rx byte) bool {
	switch s.miller.Decode(rx >> 4) {
	case decoder.Complete:
		f := s.miller.Frame()
		if s.triggered && !s.record(f, trace.FromReader) {
			return true
		}
		// The reader's own modulation can falsely start the tag decoder.
		s.manchester.Unsync()
	case decoder.Overflow:
		Debugln("sniffer: reader frame too long")
	case decoder.NeedMore:
	}

	switch s.manchester.Decode(rx & 0x0f) {
	case decoder.Complete:
		if !s.record(s.manchester.Frame(), trace.FromTag) {
			return true
		}
		s.triggered = true
	case decoder.Overflow:
		Debugln("sniffer: tag frame too long")
	case decoder.NeedMore:
	}
	return false
}

func (s *Sniffer) record(f decoder.Frame, dir trace.Direction) bool {
	ts := s.clock - uint32(f.Offset)
	if !s.trace.Record(f.Data, ts, f.Parity, dir) {
		return !s.trace.Enabled()
	}
	if s.onFrame != nil {
		s.onFrame(SniffedFrame{
			Data:      append([]byte(nil), f.Data...),
			Parity:    f.Parity,
			Timestamp: ts,
			Direction: dir,
		})
	}
	return true
}
