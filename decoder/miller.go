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

// MillerState is the state of the reader to tag decoder.
type MillerState int

const (
	MillerUnsynced MillerState = iota
	MillerStartOfCommunication
	MillerX
	MillerY
	MillerZ
	MillerErrorWait
)

func (s MillerState) String() string {
	switch s {
	case MillerUnsynced:
		return "unsynced"
	case MillerStartOfCommunication:
		return "start of communication"
	case MillerX:
		return "miller X"
	case MillerY:
		return "miller Y"
	case MillerZ:
		return "miller Z"
	case MillerErrorWait:
		return "error wait"
	default:
		return "unknown"
	}
}

const (
	// idleNibblesBeforeSync is the number of unmodulated half periods that
	// must precede a start of communication.
	idleNibblesBeforeSync = 8
	// idleCreditAfterError lets the decoder resynchronise quickly once the
	// line is clean again after a violation.
	idleCreditAfterError = 6
)

// Miller decodes reader to tag frames (modified Miller code, field pauses).
// A sample bit of 0 is a pause. The zero value is not usable; use NewMiller.
type Miller struct {
	out       []byte
	state     MillerState
	drop      halfBit
	shiftReg  uint16
	bitCount  int
	byteCount int
	posCount  int
	syncBit   int
	offset    int
	highCount int
	bitBuffer int
	parity    uint32
	primed    bool
	frame     Frame
}

// NewMiller returns a decoder writing into out. The capacity of a frame is
// len(out).
func NewMiller(out []byte) *Miller {
	m := &Miller{}
	m.Reset(out)
	return m
}

// Reset discards all state, including the sample history, and lends out as
// the next output buffer.
func (m *Miller) Reset(out []byte) {
	*m = Miller{out: out}
}

// Unsync drops any partial frame but keeps the sample history, so the
// decoder can lock onto a frame that starts on the next nibble.
func (m *Miller) Unsync() {
	m.state = MillerUnsynced
	m.drop = halfNone
}

// State returns the current decoder state.
func (m *Miller) State() MillerState {
	return m.state
}

// Frame returns the last completed frame.
func (m *Miller) Frame() Frame {
	return m.frame
}

// Decode consumes one sample nibble (bit 3 is the earliest sample).
func (m *Miller) Decode(nibble byte) Status {
	v := int(nibble & 0x0f)
	if !m.primed {
		// Pretend the line was high before the first sample.
		m.primed = true
		m.bitBuffer = v ^ 0xff0
		return NeedMore
	}
	m.bitBuffer = (m.bitBuffer<<4 | v) & 0xfff

	if m.state == MillerUnsynced {
		m.searchStart()
		return NeedMore
	}

	m.posCount++
	pause := m.bitBuffer&m.syncBit == 0 || (m.bitBuffer<<1)&m.syncBit == 0
	if m.posCount == 1 {
		if pause {
			m.drop = halfFirst
		}
		return NeedMore
	}

	if pause {
		if m.drop == halfNone {
			m.drop = halfSecond
		} else {
			// A pause in both halves cannot be produced by a reader.
			m.state = MillerErrorWait
		}
	}
	m.posCount = 0

	endOfCommunication := m.step()
	m.drop = halfNone

	if endOfCommunication && m.bitCount == 2 && m.byteCount > 0 {
		return m.complete()
	}
	if m.bitCount == 9 {
		if m.byteCount >= len(m.out) {
			m.state = MillerUnsynced
			m.highCount = 0
			return Overflow
		}
		m.out[m.byteCount] = byte(m.shiftReg)
		m.parity = addParity(m.parity, m.byteCount, m.shiftReg>>8)
		m.byteCount++
		if endOfCommunication {
			return m.complete()
		}
		m.bitCount = 0
	}
	return NeedMore
}

// step advances the X/Y/Z sub machine by one bit period and reports whether
// the end of communication was seen.
func (m *Miller) step() bool {
	switch m.state {
	case MillerStartOfCommunication:
		if m.drop == halfSecond {
			m.state = MillerErrorWait
		} else {
			m.state = MillerZ
			m.shiftReg = 0
		}
	case MillerZ:
		m.bitCount++
		m.shiftReg >>= 1
		switch m.drop {
		case halfNone:
			m.state = MillerUnsynced
			return true
		case halfSecond:
			m.shiftReg |= 0x100
			m.state = MillerX
		}
	case MillerX:
		m.shiftReg >>= 1
		switch m.drop {
		case halfNone:
			m.state = MillerY
			m.bitCount++
		case halfFirst:
			// Z after X would put two pauses too close together.
			m.state = MillerErrorWait
		case halfSecond:
			m.shiftReg |= 0x100
			m.bitCount++
		}
	case MillerY:
		m.bitCount++
		m.shiftReg >>= 1
		switch m.drop {
		case halfNone:
			m.state = MillerUnsynced
			return true
		case halfFirst:
			m.state = MillerZ
		case halfSecond:
			m.shiftReg |= 0x100
			m.state = MillerX
		}
	case MillerErrorWait:
		if m.drop == halfNone {
			m.state = MillerUnsynced
			m.highCount = idleCreditAfterError
		}
	}
	return false
}

// searchStart looks for the first pause after a run of idle half periods and
// picks the sample position of the falling edge for sub-nibble timing.
func (m *Miller) searchStart() {
	bit := (m.bitBuffer>>4)&0x0f ^ 0x0f
	if bit == 0 {
		if m.highCount < idleNibblesBeforeSync {
			m.highCount++
		}
		return
	}
	if m.highCount != idleNibblesBeforeSync {
		m.highCount = 0
		return
	}

	m.posCount = 1
	m.syncBit = bit & 8
	m.offset = 3
	switch {
	case m.syncBit == 0:
		m.syncBit = bit & 4
		m.offset = 2
	case bit&4 != 0:
		m.syncBit = 4
		m.offset = 2
		bit <<= 2
	}
	switch {
	case m.syncBit == 0:
		m.syncBit = bit & 2
		m.offset = 1
	case bit&2 != 0:
		m.syncBit = 2
		m.offset = 1
		bit <<= 1
	}
	switch {
	case m.syncBit == 0:
		m.syncBit = bit & 1
		m.offset = 0
		if m.syncBit != 0 && m.bitBuffer&8 != 0 {
			// The pause continues into the current nibble: align on it.
			m.syncBit = 8
			m.posCount = 0
			m.offset = 3
		}
	case bit&1 != 0:
		m.syncBit = 1
		m.offset = 0
	}
	m.syncBit <<= 4

	m.state = MillerStartOfCommunication
	m.drop = halfFirst
	m.bitCount = 0
	m.byteCount = 0
	m.parity = 0
	m.shiftReg = 0
}

func (m *Miller) complete() Status {
	m.state = MillerUnsynced
	m.frame = Frame{
		Data:   m.out[:m.byteCount],
		Parity: m.parity,
		Bits:   8 * m.byteCount,
		Offset: m.offset,
	}
	return Complete
}
