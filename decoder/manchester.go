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

package decoder

// ManchesterState is the state of the tag to reader decoder.
type ManchesterState int

const (
	ManchesterUnsynced ManchesterState = iota
	ManchesterStartOfCommunication
	ManchesterD
	ManchesterE
	ManchesterF
	ManchesterErrorWait
)

func (s ManchesterState) String() string {
	switch s {
	case ManchesterUnsynced:
		return "unsynced"
	case ManchesterStartOfCommunication:
		return "start of communication"
	case ManchesterD:
		return "manchester D"
	case ManchesterE:
		return "manchester E"
	case ManchesterF:
		return "manchester F"
	case ManchesterErrorWait:
		return "error wait"
	default:
		return "unknown"
	}
}

// Manchester decodes tag to reader frames (subcarrier load modulation).
// A sample bit of 1 is subcarrier present. The zero value is not usable; use
// NewManchester.
type Manchester struct {
	out      []byte
	state    ManchesterState
	sub      halfBit
	shiftReg uint16
	bitCount int
	length   int
	bits     int
	posCount int
	syncBit  int
	offset   int
	buffer   int
	parity   uint32
	primed   bool
	frame    Frame
}

// NewManchester returns a decoder writing into out. The capacity of a frame
// is len(out).
func NewManchester(out []byte) *Manchester {
	d := &Manchester{}
	d.Reset(out)
	return d
}

// Reset discards all state, including the sample history, and lends out as
// the next output buffer.
func (d *Manchester) Reset(out []byte) {
	*d = Manchester{out: out}
}

// Unsync drops any partial frame but keeps the sample history.
func (d *Manchester) Unsync() {
	d.state = ManchesterUnsynced
	d.sub = halfNone
}

// State returns the current decoder state.
func (d *Manchester) State() ManchesterState {
	return d.state
}

// Frame returns the last completed frame.
func (d *Manchester) Frame() Frame {
	return d.frame
}

// Decode consumes one sample nibble (bit 3 is the earliest sample).
func (d *Manchester) Decode(nibble byte) Status {
	v := int(nibble & 0x0f)
	if !d.primed {
		d.primed = true
		d.buffer = v
		return NeedMore
	}
	bit := d.buffer
	d.buffer = v

	if d.state == ManchesterUnsynced {
		d.searchStart(bit)
		return NeedMore
	}

	modulation := ((bit<<1)^((d.buffer&8)>>3))&d.syncBit != 0
	if d.posCount == 0 {
		d.posCount = 1
		if modulation {
			d.sub = halfFirst
		} else {
			d.sub = halfNone
		}
		return NeedMore
	}
	d.posCount = 0

	if modulation {
		if d.sub == halfFirst {
			// Subcarrier in both halves is not a valid bit.
			d.state = ManchesterErrorWait
		} else {
			d.sub = halfSecond
		}
	}

	switch d.state {
	case ManchesterStartOfCommunication:
		if d.sub == halfFirst {
			d.state = ManchesterD
		} else {
			d.state = ManchesterErrorWait
		}
	case ManchesterD, ManchesterE:
		switch d.sub {
		case halfFirst:
			d.bitCount++
			d.shiftReg = d.shiftReg>>1 | 0x100
			d.state = ManchesterD
		case halfSecond:
			d.bitCount++
			d.shiftReg >>= 1
			d.state = ManchesterE
		default:
			d.state = ManchesterF
		}
	case ManchesterF:
		if d.length == 0 && d.bitCount == 0 {
			// End of frame without a single bit.
			d.state = ManchesterErrorWait
			break
		}
		if d.bitCount > 0 {
			if d.length >= len(d.out) {
				d.state = ManchesterUnsynced
				return Overflow
			}
			d.shiftReg >>= 9 - d.bitCount
			d.out[d.length] = byte(d.shiftReg)
			d.length++
			d.bits += d.bitCount
			// No parity bit was sent for the partial byte.
		}
		return d.complete()
	case ManchesterErrorWait:
		if d.sub == halfNone {
			d.state = ManchesterUnsynced
		}
	}

	if d.bitCount >= 9 {
		if d.length >= len(d.out) {
			d.state = ManchesterUnsynced
			return Overflow
		}
		d.out[d.length] = byte(d.shiftReg)
		d.parity = addParity(d.parity, d.length, d.shiftReg>>8)
		d.length++
		d.bits += 8
		d.bitCount = 0
		d.shiftReg = 0
	}
	return NeedMore
}

// searchStart picks the earliest subcarrier edge within the previous nibble.
// A single modulated sample is treated as a glitch.
func (d *Manchester) searchStart(bit int) {
	if bit&(bit>>1) == 0 {
		return
	}
	d.syncBit = 0
	if bit&8 != 0 {
		d.syncBit = 8
	}
	if bit&4 != 0 {
		if d.syncBit != 0 {
			bit <<= 4
		}
		d.syncBit = 4
	}
	if bit&2 != 0 {
		if d.syncBit != 0 {
			bit <<= 2
		}
		d.syncBit = 2
	}
	if bit&1 != 0 && d.syncBit != 0 {
		d.syncBit = 1
	}

	switch d.syncBit {
	case 8:
		d.offset = 3
	case 4:
		d.offset = 2
	case 2:
		d.offset = 1
	default:
		d.offset = 0
	}
	d.posCount = 1
	d.state = ManchesterStartOfCommunication
	d.sub = halfFirst
	d.bitCount = 0
	d.length = 0
	d.bits = 0
	d.parity = 0
	d.shiftReg = 0
}

func (d *Manchester) complete() Status {
	d.state = ManchesterUnsynced
	d.frame = Frame{
		Data:   d.out[:d.length],
		Parity: d.parity,
		Bits:   d.bits,
		Offset: d.offset,
	}
	return Complete
}
