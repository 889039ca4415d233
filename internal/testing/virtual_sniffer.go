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
	"github.com/ZaparooProject/go-iso14443a/internal/syncutil"
)

// Conversation builds both channels of a reader/tag exchange as a sniffer
// sees them. Every frame is preceded by DefaultLeadIn idle slots.
type Conversation struct {
	reader []byte
	tag    []byte
}

// Idle adds n idle slots to both channels.
func (c *Conversation) Idle(n int) {
	for range n {
		c.reader = append(c.reader, codec.ReaderIdleSample)
		c.tag = append(c.tag, codec.TagIdleSample)
	}
}

// Reader adds a reader frame.
func (c *Conversation) Reader(p codec.Pattern) {
	c.Idle(DefaultLeadIn)
	s := codec.ReaderSamples(p)
	c.reader = append(c.reader, s...)
	c.tag = append(c.tag, make([]byte, len(s))...)
}

// Tag adds a tag answer.
func (c *Conversation) Tag(p codec.Pattern) {
	c.Idle(DefaultLeadIn)
	s := codec.TagSamples(p)
	c.tag = append(c.tag, s...)
	for range s {
		c.reader = append(c.reader, codec.ReaderIdleSample)
	}
}

// Slots returns the conversation in sniffer slot format, with a short idle
// tail so the last frame completes.
func (c *Conversation) Slots() []byte {
	c.Idle(8)
	return codec.SnifferSamples(c.reader, c.tag)
}

// VirtualSnifferOption configures a VirtualSniffer.
type VirtualSnifferOption func(*VirtualSniffer)

// WithEndlessIdle keeps the air idle after the recorded slots instead of
// reporting io.EOF, so only cancellation or Close ends a capture.
func WithEndlessIdle() VirtualSnifferOption {
	return func(s *VirtualSniffer) {
		s.endless = true
	}
}

// VirtualSniffer plays back recorded sniffer slots.
type VirtualSniffer struct {
	slots   []byte
	modes   []iso14443a.Mode
	pos     int
	mu      syncutil.Mutex
	endless bool
	closed  bool
}

// NewVirtualSniffer returns a front end replaying slots.
func NewVirtualSniffer(slots []byte, opts ...VirtualSnifferOption) *VirtualSniffer {
	s := &VirtualSniffer{slots: slots}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Configure implements iso14443a.Frontend.
func (s *VirtualSniffer) Configure(_ context.Context, mode iso14443a.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return iso14443a.NewFrontendClosedError("configure", "virtual-sniffer")
	}
	s.modes = append(s.modes, mode)
	return nil
}

// Exchange implements iso14443a.Frontend.
func (s *VirtualSniffer) Exchange(ctx context.Context, _ byte) (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, iso14443a.NewFrontendClosedError("exchange", "virtual-sniffer")
	}
	if s.pos < len(s.slots) {
		b := s.slots[s.pos]
		s.pos++
		return b, nil
	}
	if !s.endless {
		return 0, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return codec.ReaderIdleSample&0xf0 | codec.TagIdleSample&0x0f, nil
}

// FieldStrength implements iso14443a.Frontend.
func (*VirtualSniffer) FieldStrength(context.Context) (int, error) {
	return DefaultFieldMillivolts, nil
}

// Close implements iso14443a.Frontend.
func (s *VirtualSniffer) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Type implements iso14443a.Frontend.
func (*VirtualSniffer) Type() iso14443a.FrontendType {
	return iso14443a.FrontendMock
}

// Modes returns every mode the front end was switched to.
func (s *VirtualSniffer) Modes() []iso14443a.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]iso14443a.Mode(nil), s.modes...)
}

// Remaining returns the number of recorded slots not yet played.
func (s *VirtualSniffer) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots) - s.pos
}

// Closed reports whether Close was called.
func (s *VirtualSniffer) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
