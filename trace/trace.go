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

// Package trace records every frame seen on the air into a bounded,
// append-only byte arena.
//
// Entry layout (little endian):
//
//	offset 0  uint32 timestamp in samples, bit 31 set for tag to reader
//	offset 4  uint32 parity word, bit i for payload byte i
//	offset 8  uint8  payload length
//	offset 9  payload
package trace

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/ZaparooProject/go-iso14443a/codec"
	"github.com/ZaparooProject/go-iso14443a/internal/syncutil"
)

const (
	// DefaultCapacity is the arena size used by readers, sniffers and emulators.
	DefaultCapacity = 4000
	// HeaderLen is the fixed part of every entry.
	HeaderLen = 9
	// MaxPayload is the largest payload an entry can describe.
	MaxPayload = 255

	offsetParity = 4
	offsetLength = 8
	directionBit = 1 << 31
)

// ErrTruncated is returned by Parse when the arena ends inside an entry.
var ErrTruncated = errors.New("trace truncated inside an entry")

// Direction tells who transmitted a frame.
type Direction uint8

const (
	// FromReader marks reader to tag frames.
	FromReader Direction = iota
	// FromTag marks tag to reader frames.
	FromTag
)

func (d Direction) String() string {
	if d == FromTag {
		return "tag"
	}
	return "reader"
}

// Entry is one decoded trace record.
type Entry struct {
	Data      []byte
	Timestamp uint32
	Parity    uint32
	Direction Direction
}

// String formats the entry the way trace listings show it.
func (e Entry) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%10d %-6s", e.Timestamp, e.Direction)
	for i, b := range e.Data {
		sb.WriteByte(' ')
		fmt.Fprintf(&sb, "%02x", b)
		if i < 32 && codec.OddParity(b) != byte(e.Parity>>i&1) {
			sb.WriteByte('!')
		}
	}
	return sb.String()
}

// Trace is a bounded frame log. It is safe for concurrent use.
type Trace struct {
	buf      []byte
	capacity int
	dropped  int
	mu       syncutil.Mutex
	enabled  bool
}

// New returns an enabled trace with the given arena capacity in bytes.
func New(capacity int) *Trace {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Trace{
		buf:      make([]byte, 0, capacity),
		capacity: capacity,
		enabled:  true,
	}
}

// Record appends a frame. It reports whether the entry was stored; entries
// are dropped while the trace is disabled or when the arena is full.
func (t *Trace) Record(data []byte, timestamp, parity uint32, dir Direction) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.enabled {
		return false
	}
	if len(data) > MaxPayload || len(t.buf)+HeaderLen+len(data) > t.capacity {
		t.dropped++
		return false
	}

	ts := timestamp &^ directionBit
	if dir == FromTag {
		ts |= directionBit
	}
	var hdr [HeaderLen]byte
	binary.LittleEndian.PutUint32(hdr[:], ts)
	binary.LittleEndian.PutUint32(hdr[offsetParity:], parity)
	hdr[offsetLength] = byte(len(data))
	t.buf = append(t.buf, hdr[:]...)
	t.buf = append(t.buf, data...)
	return true
}

// SetEnabled turns recording on or off without touching recorded entries.
func (t *Trace) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

// Enabled reports whether Record stores entries.
func (t *Trace) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// Clear empties the arena at a session boundary.
func (t *Trace) Clear() {
	t.mu.Lock()
	t.buf = t.buf[:0]
	t.dropped = 0
	t.mu.Unlock()
}

// Len returns the number of arena bytes in use.
func (t *Trace) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buf)
}

// Cap returns the arena capacity.
func (t *Trace) Cap() int {
	return t.capacity
}

// Dropped returns how many entries did not fit since the last Clear.
func (t *Trace) Dropped() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

// Bytes returns a copy of the raw arena.
func (t *Trace) Bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]byte, len(t.buf))
	copy(out, t.buf)
	return out
}

// Entries decodes the arena.
func (t *Trace) Entries() ([]Entry, error) {
	return Parse(t.Bytes())
}

// Parse decodes a raw arena, for example one read back from a device.
func Parse(buf []byte) ([]Entry, error) {
	var entries []Entry
	for off := 0; off < len(buf); {
		if len(buf)-off < HeaderLen {
			return entries, fmt.Errorf("%w: header at offset %d", ErrTruncated, off)
		}
		ts := binary.LittleEndian.Uint32(buf[off:])
		par := binary.LittleEndian.Uint32(buf[off+offsetParity:])
		n := int(buf[off+offsetLength])
		start := off + HeaderLen
		if len(buf)-start < n {
			return entries, fmt.Errorf("%w: payload at offset %d", ErrTruncated, off)
		}
		dir := FromReader
		if ts&directionBit != 0 {
			dir = FromTag
		}
		entries = append(entries, Entry{
			Timestamp: ts &^ directionBit,
			Parity:    par,
			Direction: dir,
			Data:      append([]byte(nil), buf[start:start+n]...),
		})
		off = start + n
	}
	return entries, nil
}
