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
	"context"
	"io"

	iso14443a "github.com/ZaparooProject/go-iso14443a"
	"github.com/ZaparooProject/go-iso14443a/codec"
	"github.com/ZaparooProject/go-iso14443a/decoder"
	"github.com/ZaparooProject/go-iso14443a/internal/syncutil"
)

const (
	// DefaultFieldMillivolts is the field level of a powered virtual reader.
	DefaultFieldMillivolts = 5000
	// DefaultLeadIn is the idle gap before every reader frame, in slots.
	DefaultLeadIn = 16
	// DefaultAnswerTimeout is how long the reader waits for an answer
	// before it treats the tag as silent, in slots.
	DefaultAnswerTimeout = 256
)

// Answer is a decoded tag answer.
type Answer struct {
	Data   []byte
	Parity uint32
	Bits   int
}

// Script yields the next reader pattern. prev is the answer to the
// previous pattern, nil when the tag stayed silent or nothing was sent
// yet. A nil pattern ends the conversation.
type Script func(prev *Answer) codec.Pattern

// Sequence is a Script that sends fixed patterns in order, ignoring the
// answers.
func Sequence(patterns ...codec.Pattern) Script {
	i := 0
	return func(*Answer) codec.Pattern {
		if i == len(patterns) {
			return nil
		}
		i++
		return patterns[i-1]
	}
}

// VirtualReaderOption configures a VirtualReader.
type VirtualReaderOption func(*VirtualReader)

// WithFieldDrop switches the field off for the given number of slots once
// the script ends, before the reader reports io.EOF.
func WithFieldDrop(slots int) VirtualReaderOption {
	return func(r *VirtualReader) {
		r.dropSlots = slots
	}
}

// WithFieldMillivolts sets the field level while the reader is powered.
func WithFieldMillivolts(mv int) VirtualReaderOption {
	return func(r *VirtualReader) {
		r.fieldMV = mv
	}
}

// WithAnswerTimeout sets how many listening slots pass before a tag is
// considered silent.
func WithAnswerTimeout(slots int) VirtualReaderOption {
	return func(r *VirtualReader) {
		r.answerTimeout = slots
	}
}

// VirtualReader simulates a reader in front of a tag front end.
type VirtualReader struct {
	script        Script
	manchester    *decoder.Manchester
	last          *Answer
	outgoing      []byte
	answers       []*Answer
	sent          []codec.Pattern
	buf           []byte
	mu            syncutil.Mutex
	mode          iso14443a.Mode
	fieldMV       int
	answerTimeout int
	dropSlots     int
	waited        int
	waiting       bool
	done          bool
	closed        bool
}

// NewVirtualReader returns a reader playing script.
func NewVirtualReader(script Script, opts ...VirtualReaderOption) *VirtualReader {
	buf := make([]byte, iso14443a.MaxFrameSize)
	r := &VirtualReader{
		script:        script,
		buf:           buf,
		manchester:    decoder.NewManchester(buf),
		fieldMV:       DefaultFieldMillivolts,
		answerTimeout: DefaultAnswerTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Configure implements iso14443a.Frontend.
func (r *VirtualReader) Configure(_ context.Context, mode iso14443a.Mode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return iso14443a.NewFrontendClosedError("configure", "virtual-reader")
	}
	r.mode = mode
	return nil
}

// Exchange implements iso14443a.Frontend. It returns io.EOF once the
// script and any field drop are over.
func (r *VirtualReader) Exchange(_ context.Context, tx byte) (byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, iso14443a.NewFrontendClosedError("exchange", "virtual-reader")
	}

	tagSample := codec.TagIdleSample
	if r.mode == iso14443a.ModeTagMod {
		tagSample = tx
	}
	r.listen(tagSample)

	if r.done {
		if r.dropSlots == 0 {
			return 0, io.EOF
		}
		r.dropSlots--
		return 0, nil
	}
	if r.mode != iso14443a.ModeTagListen {
		return codec.ReaderIdleSample, nil
	}
	return r.nextSample(), nil
}

// listen feeds one slot of tag modulation into the reader's decoder.
func (r *VirtualReader) listen(sample byte) {
	for _, n := range [2]byte{sample >> 4, sample & 0x0f} {
		if r.manchester.Decode(n) != decoder.Complete {
			continue
		}
		f := r.manchester.Frame()
		if !r.waiting {
			continue
		}
		r.finish(&Answer{
			Data:   append([]byte(nil), f.Data...),
			Parity: f.Parity,
			Bits:   f.Bits,
		})
	}
}

func (r *VirtualReader) finish(a *Answer) {
	r.answers = append(r.answers, a)
	r.last = a
	r.waiting = false
	r.waited = 0
}

// nextSample returns the reader channel for one listening slot.
func (r *VirtualReader) nextSample() byte {
	if len(r.outgoing) > 0 {
		s := r.outgoing[0]
		r.outgoing = r.outgoing[1:]
		return s
	}
	if r.waiting {
		r.waited++
		if r.waited > r.answerTimeout {
			r.finish(nil)
		}
		return codec.ReaderIdleSample
	}

	p := r.script(r.last)
	if p == nil {
		r.done = true
		return codec.ReaderIdleSample
	}
	r.sent = append(r.sent, p)
	r.outgoing = make([]byte, 0, DefaultLeadIn+len(p))
	for range DefaultLeadIn {
		r.outgoing = append(r.outgoing, codec.ReaderIdleSample)
	}
	r.outgoing = append(r.outgoing, codec.ReaderSamples(p)...)
	r.waiting = true
	r.manchester.Unsync()
	return codec.ReaderIdleSample
}

// FieldStrength implements iso14443a.Frontend.
func (r *VirtualReader) FieldStrength(context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return 0, nil
	}
	return r.fieldMV, nil
}

// Close implements iso14443a.Frontend.
func (r *VirtualReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// Type implements iso14443a.Frontend.
func (*VirtualReader) Type() iso14443a.FrontendType {
	return iso14443a.FrontendMock
}

// Answers returns one entry per sent pattern whose answer window closed:
// the decoded answer, or nil when the tag stayed silent.
func (r *VirtualReader) Answers() []*Answer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Answer(nil), r.answers...)
}

// Sent returns the patterns transmitted so far.
func (r *VirtualReader) Sent() []codec.Pattern {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]codec.Pattern(nil), r.sent...)
}
