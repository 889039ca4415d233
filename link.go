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
	"fmt"
	"time"

	"github.com/ZaparooProject/go-iso14443a/codec"
	"github.com/ZaparooProject/go-iso14443a/decoder"
	"github.com/ZaparooProject/go-iso14443a/trace"
)

const (
	// DefaultTimeout is the reader receive budget in slots.
	DefaultTimeout = 2048
	// MaxFrameSize is the largest frame either role receives.
	MaxFrameSize = 256
	// MinFieldMillivolts is the field level below which an emulated tag
	// considers itself unpowered.
	MinFieldMillivolts = 4000
	// FieldLossTimeout is how long the field may stay low before an
	// emulated tag resets.
	FieldLossTimeout = 50 * time.Millisecond

	// readerLeadIn is the idle period before every reader frame. A tag
	// decoder needs this run of unmodulated field to find the next start.
	readerLeadIn = 10
	// fieldPollSlots is the interval between field strength checks while
	// listening as a tag.
	fieldPollSlots = 32
)

// Link is the bounded-wait transmit/receive layer over a Frontend. It owns
// one Miller and one Manchester decoder and records every frame into a
// trace. A Link serves one role at a time and is not safe for concurrent use.
type Link struct {
	fe         Frontend
	trace      *trace.Trace
	miller     *decoder.Miller
	manchester *decoder.Manchester
	onTrigger  func()
	mode       Mode
	modeValid  bool
	clock      uint32
	timeout    int
	minField   int
	fieldLoss  int
	lastParity byte
	trigger    bool
}

// NewLink wraps fe. A nil trace gets a default sized one.
func NewLink(fe Frontend, tr *trace.Trace) *Link {
	if tr == nil {
		tr = trace.New(trace.DefaultCapacity)
	}
	return &Link{
		fe:         fe,
		trace:      tr,
		miller:     decoder.NewMiller(nil),
		manchester: decoder.NewManchester(nil),
		timeout:    DefaultTimeout,
		minField:   MinFieldMillivolts,
		fieldLoss:  SlotsFor(FieldLossTimeout),
	}
}

// Frontend returns the underlying front end.
func (l *Link) Frontend() Frontend {
	return l.fe
}

// Trace returns the frame trace.
func (l *Link) Trace() *trace.Trace {
	return l.trace
}

// SetTimeout sets the reader receive budget in slots.
func (l *Link) SetTimeout(slots int) {
	if slots <= 0 {
		slots = DefaultTimeout
	}
	l.timeout = slots
}

// Timeout returns the reader receive budget in slots.
func (l *Link) Timeout() int {
	return l.timeout
}

// SetTrigger arms or disarms the transmit trigger. While armed, fn runs
// right before every reader frame goes out.
func (l *Link) SetTrigger(armed bool, fn func()) {
	l.trigger = armed
	l.onTrigger = fn
}

// SetFieldThreshold changes the tag field supervision: the minimum level in
// millivolts and how long the field may stay below it.
func (l *Link) SetFieldThreshold(millivolts int, loss time.Duration) {
	l.minField = millivolts
	l.fieldLoss = SlotsFor(loss)
}

// Clock returns the sample clock used for trace timestamps.
func (l *Link) Clock() uint32 {
	return l.clock
}

// ResetClock restarts trace timestamps at zero.
func (l *Link) ResetClock() {
	l.clock = 0
}

// SetMode switches the front end mode if it differs from the current one.
func (l *Link) SetMode(ctx context.Context, mode Mode) error {
	if l.modeValid && l.mode == mode {
		return nil
	}
	if err := l.fe.Configure(ctx, mode); err != nil {
		l.modeValid = false
		return fmt.Errorf("configure %s: %w", mode, err)
	}
	l.mode = mode
	l.modeValid = true
	return nil
}

// FieldOff switches the field and all modulation off.
func (l *Link) FieldOff(ctx context.Context) error {
	return l.SetMode(ctx, ModeOff)
}

// FieldStrength reads the external field level.
func (l *Link) FieldStrength(ctx context.Context) (int, error) {
	mv, err := l.fe.FieldStrength(ctx)
	if err != nil {
		return 0, fmt.Errorf("read field strength: %w", err)
	}
	return mv, nil
}

// Idle clocks n slots without modulation in the current mode.
func (l *Link) Idle(ctx context.Context, n int) error {
	for range n {
		if _, err := l.exchange(ctx, 0, SamplesPerSlot); err != nil {
			return err
		}
	}
	return nil
}

// exchange runs one slot after checking for cancellation.
func (l *Link) exchange(ctx context.Context, tx byte, samples uint32) (byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, cancelled(err)
	}
	rx, err := l.fe.Exchange(ctx, tx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, cancelled(ctxErr)
		}
		return 0, fmt.Errorf("exchange: %w", err)
	}
	l.clock += samples
	return rx, nil
}

func cancelled(err error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}

// IsCancelled reports whether err came from a cancelled context.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// TransmitAsReader sends a full frame with the given parity bits.
func (l *Link) TransmitAsReader(ctx context.Context, data []byte, parity uint32) error {
	return l.transmitReader(ctx, codec.EncodeReaderFrame(data, parity), data, parity)
}

// TransmitShortAsReader sends a 7 bit short frame (REQA or WUPA).
func (l *Link) TransmitShortAsReader(ctx context.Context, cmd byte) error {
	return l.transmitReader(ctx, codec.EncodeReaderShort(cmd), []byte{cmd}, 0)
}

func (l *Link) transmitReader(ctx context.Context, p codec.Pattern, data []byte, parity uint32) error {
	if err := l.SetMode(ctx, ModeReaderMod); err != nil {
		return err
	}
	if err := l.Idle(ctx, readerLeadIn); err != nil {
		return err
	}
	if l.trigger && l.onTrigger != nil {
		l.onTrigger()
	}

	start := l.clock
	for _, b := range p {
		if _, err := l.exchange(ctx, b, SamplesPerSlot); err != nil {
			return err
		}
	}
	l.trace.Record(data, start, parity, trace.FromReader)
	return nil
}

// ReceiveAsReader waits up to the timeout for a tag frame. The returned
// frame aliases buf.
func (l *Link) ReceiveAsReader(ctx context.Context, buf []byte) (decoder.Frame, error) {
	if err := l.SetMode(ctx, ModeReaderListen); err != nil {
		return decoder.Frame{}, err
	}
	l.manchester.Reset(buf)

	for range l.timeout {
		rx, err := l.exchange(ctx, 0, SamplesPerSlot)
		if err != nil {
			return decoder.Frame{}, err
		}
		for _, n := range [2]byte{rx >> 4, rx & 0x0f} {
			switch l.manchester.Decode(n) {
			case decoder.Complete:
				f := l.manchester.Frame()
				l.trace.Record(f.Data, l.stamp(f), f.Parity, trace.FromTag)
				return f, nil
			case decoder.Overflow:
				return decoder.Frame{}, ErrFrameTooLong
			case decoder.NeedMore:
			}
		}
	}
	return decoder.Frame{}, ErrTimeout
}

// ReceiveAsTag waits for a reader frame while supervising the field. It
// returns ErrFieldLost once the field has been below the threshold for
// longer than the field loss timeout. The returned frame aliases buf.
func (l *Link) ReceiveAsTag(ctx context.Context, buf []byte) (decoder.Frame, error) {
	if err := l.SetMode(ctx, ModeTagListen); err != nil {
		return decoder.Frame{}, err
	}
	l.miller.Reset(buf)

	lowSince := -1
	for slot := 0; ; slot++ {
		if slot%fieldPollSlots == 0 {
			mv, err := l.FieldStrength(ctx)
			if err != nil {
				return decoder.Frame{}, err
			}
			switch {
			case mv >= l.minField:
				lowSince = -1
			case lowSince < 0:
				lowSince = slot
			case slot-lowSince > l.fieldLoss:
				return decoder.Frame{}, ErrFieldLost
			}
		}

		rx, err := l.exchange(ctx, 0, SamplesPerSlot)
		if err != nil {
			return decoder.Frame{}, err
		}
		for _, n := range [2]byte{rx >> 4, rx & 0x0f} {
			switch l.miller.Decode(n) {
			case decoder.Complete:
				f := l.miller.Frame()
				l.lastParity = f.LastParity()
				l.trace.Record(f.Data, l.stamp(f), f.Parity, trace.FromReader)
				return f, nil
			case decoder.Overflow:
				return decoder.Frame{}, ErrFrameTooLong
			case decoder.NeedMore:
			}
		}
	}
}

// TransmitAsTag sends an encoded tag answer. The correction preamble is
// sent when correction is set or the last reader frame ended on a parity
// bit of 1; otherwise the answer starts one bit period earlier.
func (l *Link) TransmitAsTag(ctx context.Context, p codec.Pattern, data []byte, parity uint32, correction bool) error {
	if err := l.SetMode(ctx, ModeTagMod); err != nil {
		return err
	}
	start := 1
	if correction || l.lastParity == 1 {
		start = 0
	}

	stamp := l.clock
	for _, b := range p[start:] {
		if _, err := l.exchange(ctx, b, SamplesPerSlot); err != nil {
			return err
		}
	}
	l.trace.Record(data, stamp, parity, trace.FromTag)
	return nil
}

// stamp converts the current clock into the start time of f, using the
// edge offset the decoder captured at synchronisation.
func (l *Link) stamp(f decoder.Frame) uint32 {
	return l.clock - uint32(f.Offset)
}
