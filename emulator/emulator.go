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

package emulator

import (
	"context"
	"errors"

	iso14443a "github.com/ZaparooProject/go-iso14443a"
	"github.com/ZaparooProject/go-iso14443a/codec"
	"github.com/ZaparooProject/go-iso14443a/trace"
)

// fieldPollSlots is the wait between field checks while the card has no
// power.
const fieldPollSlots = 64

// TraceTrailer is the entry written to the trace when an emulation session
// ends.
var TraceTrailer = []byte{0x44, 0x44, 0x44, 0x44}

// Option configures an Emulator.
type Option func(*Emulator)

// WithTrace records into tr instead of a private trace.
func WithTrace(tr *trace.Trace) Option {
	return func(e *Emulator) {
		e.trace = tr
	}
}

// WithFieldThreshold sets the field level in millivolts the card needs to
// power up and to stay powered.
func WithFieldThreshold(millivolts int) Option {
	return func(e *Emulator) {
		e.threshold = millivolts
	}
}

// Emulator presents a Card to an external reader through a front end.
type Emulator struct {
	link      *iso14443a.Link
	card      *Card
	trace     *trace.Trace
	buf       []byte
	threshold int
}

// New returns an emulator for card on fe.
func New(fe iso14443a.Frontend, card *Card, opts ...Option) *Emulator {
	e := &Emulator{
		card:      card,
		buf:       make([]byte, iso14443a.MaxFrameSize),
		threshold: iso14443a.MinFieldMillivolts,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.link = iso14443a.NewLink(fe, e.trace)
	e.link.SetFieldThreshold(e.threshold, iso14443a.FieldLossTimeout)
	return e
}

// Card returns the emulated card.
func (e *Emulator) Card() *Card {
	return e.card
}

// Trace returns the session trace.
func (e *Emulator) Trace() *trace.Trace {
	return e.link.Trace()
}

// Run emulates the card until ctx is done or the front end fails. The
// card starts without field. Cancellation is a normal end and returns nil.
func (e *Emulator) Run(ctx context.Context) error {
	tr := e.link.Trace()
	tr.Clear()
	e.link.ResetClock()
	e.card.FieldLost()

	err := e.run(ctx)

	if ferr := e.link.FieldOff(context.WithoutCancel(ctx)); ferr != nil && err == nil {
		err = ferr
	}
	tr.Record(TraceTrailer, e.link.Clock(), codec.Parity(TraceTrailer), trace.FromTag)
	if iso14443a.IsCancelled(err) {
		return nil
	}
	return err
}

func (e *Emulator) run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if e.card.State() == StateNoField {
			if err := e.waitField(ctx); err != nil {
				return err
			}
			continue
		}

		f, err := e.link.ReceiveAsTag(ctx, e.buf)
		switch {
		case err == nil:
		case errors.Is(err, iso14443a.ErrFieldLost):
			iso14443a.Debugf("emulator: field lost in state %s", e.card.State())
			e.card.FieldLost()
			continue
		case errors.Is(err, iso14443a.ErrFrameTooLong):
			continue
		default:
			return err
		}

		resp := e.card.Handle(f.Data)
		p := resp.Pattern()
		if p == nil {
			continue
		}
		if err := e.link.TransmitAsTag(ctx, p, resp.Data, resp.Parity, resp.Correction); err != nil {
			return err
		}
	}
}

// waitField listens until the field reaches the threshold.
func (e *Emulator) waitField(ctx context.Context) error {
	if err := e.link.SetMode(ctx, iso14443a.ModeTagListen); err != nil {
		return err
	}
	for {
		mv, err := e.link.FieldStrength(ctx)
		if err != nil {
			return err
		}
		if mv >= e.threshold {
			iso14443a.Debugf("emulator: field detected at %d mV", mv)
			e.card.FieldDetected()
			return nil
		}
		if err := e.link.Idle(ctx, fieldPollSlots); err != nil {
			return err
		}
	}
}
