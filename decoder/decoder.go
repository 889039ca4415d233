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

// Package decoder reconstructs ISO/IEC 14443 Type A frames from a live sample
// stream. Miller decodes reader to tag traffic, Manchester decodes tag to
// reader traffic. Both consume one sample nibble (half a bit period) per call
// and own no buffers: the output slice is lent by the caller for one receive.
package decoder

// Status is the outcome of one decode step.
type Status int

const (
	// NeedMore means no frame is available yet.
	NeedMore Status = iota
	// Complete means a frame was received; read it with Frame.
	Complete
	// Overflow means the frame did not fit the output buffer. The frame is
	// discarded and the decoder has fallen back to its unsynchronised state.
	Overflow
)

func (s Status) String() string {
	switch s {
	case NeedMore:
		return "need more"
	case Complete:
		return "complete"
	case Overflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// Frame is a decoded frame. Data aliases the caller's output buffer.
type Frame struct {
	Data []byte
	// Parity holds one received parity bit per byte, bit 0 for Data[0].
	Parity uint32
	// Bits is the frame length in bits, excluding parity. It differs from
	// 8*len(Data) only for short tag answers.
	Bits int
	// Offset is the sample position of the start edge within its nibble,
	// used to timestamp the frame.
	Offset int
}

// LastParity returns the parity bit of the final byte.
func (f Frame) LastParity() byte {
	n := len(f.Data)
	if n == 0 || n > 32 {
		return 0
	}
	return byte(f.Parity >> (n - 1) & 1)
}

// halfBit records where a pause (Miller) or modulation (Manchester) was
// seen within the current bit period.
type halfBit int

const (
	halfNone halfBit = iota
	halfFirst
	halfSecond
)

func (h halfBit) String() string {
	switch h {
	case halfFirst:
		return "first half"
	case halfSecond:
		return "second half"
	default:
		return "none"
	}
}

const parityBits = 32

func addParity(par uint32, index int, bit uint16) uint32 {
	if index >= parityBits {
		return par
	}
	return par | uint32(bit&1)<<index
}
