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

// Package codec encodes ISO/IEC 14443 Type A frames into the physical bit
// sequences that are clocked out to a front end, one byte per bit period.
//
// Reader to tag traffic uses modified Miller coding built from the sequences
// X, Y and Z. Tag to reader traffic uses Manchester coding built from D, E
// and F. Every sequence byte holds the eight samples of one bit period, most
// significant bit first, where a 1 bit means "modulation present".
//
// Decoding is stateful and lives in the decoder package.
package codec

// Miller sequences (reader to tag). A set bit is a field pause.
const (
	// SeqX is a pause in the second half of the bit period (logic 1).
	SeqX byte = 0x0c
	// SeqY is a bit period without a pause (logic 0 after a 1, or idle).
	SeqY byte = 0x00
	// SeqZ is a pause at the start of the bit period (logic 0, start of frame).
	SeqZ byte = 0xc0
)

// Manchester sequences (tag to reader). A set bit is subcarrier modulation.
const (
	// SeqD is modulation in the first half (logic 1, start of frame).
	SeqD byte = 0xf0
	// SeqE is modulation in the second half (logic 0).
	SeqE byte = 0x0f
	// SeqF is a bit period without modulation (end of frame, idle).
	SeqF byte = 0x00
)

const (
	// CorrectionPreamble carries the eight stuff bits that delay a tag answer
	// by one bit period. It is always element 0 of a tag pattern.
	CorrectionPreamble byte = 0x08

	// readerGuardPeriods are idle periods appended after the end of a reader frame.
	readerGuardPeriods = 3
	// tagFlushPeriods are idle periods appended after a tag frame so the
	// receiving decoder can observe the end of communication.
	tagFlushPeriods = 5
	// shortFrameBits is the length of REQA and WUPA.
	shortFrameBits = 7
)

// Pattern is an encoded frame: one sequence byte per bit period.
type Pattern []byte

// millerEncoder keeps the continuity state of the Miller code: a 0 bit that
// follows a 1 bit is sent as Y instead of Z.
type millerEncoder struct {
	dst  Pattern
	last byte
}

func (e *millerEncoder) bit(b byte) {
	switch {
	case b != 0:
		e.dst = append(e.dst, SeqX)
		e.last = 1
	case e.last == 0:
		e.dst = append(e.dst, SeqZ)
	default:
		e.dst = append(e.dst, SeqY)
		e.last = 0
	}
}

func (e *millerEncoder) start() {
	e.dst = append(e.dst, SeqZ)
	e.last = 0
}

func (e *millerEncoder) end() {
	if e.last == 0 {
		e.dst = append(e.dst, SeqZ)
	} else {
		e.dst = append(e.dst, SeqY)
	}
	e.dst = append(e.dst, SeqY)
	for range readerGuardPeriods {
		e.dst = append(e.dst, SeqY)
	}
}

// AppendReaderFrame appends the Miller encoding of data to dst. Bit i of
// parity is the parity bit sent after data[i]; callers normally pass
// Parity(data). The input slice is not modified.
func AppendReaderFrame(dst Pattern, data []byte, parity uint32) Pattern {
	e := millerEncoder{dst: dst}
	e.start()
	for i, b := range data {
		for j := range 8 {
			e.bit(b >> j & 1)
		}
		e.bit(parityBit(parity, i, b))
	}
	e.end()
	return e.dst
}

// AppendReaderShort appends a 7 bit short frame (REQA 0x26, WUPA 0x52)
// without parity.
func AppendReaderShort(dst Pattern, b byte) Pattern {
	e := millerEncoder{dst: dst}
	e.start()
	for j := range shortFrameBits {
		e.bit(b >> j & 1)
	}
	e.end()
	return e.dst
}

func appendManchesterBit(dst Pattern, b byte) Pattern {
	if b != 0 {
		return append(dst, SeqD)
	}
	return append(dst, SeqE)
}

func appendTagTrailer(dst Pattern) Pattern {
	dst = append(dst, SeqF)
	for range tagFlushPeriods {
		dst = append(dst, SeqF)
	}
	return dst
}

// AppendTagFrame appends the Manchester encoding of data to dst: the
// correction preamble, the start bit, eight data bits and one parity bit per
// byte, and the end of communication.
func AppendTagFrame(dst Pattern, data []byte, parity uint32) Pattern {
	dst = append(dst, CorrectionPreamble, SeqD)
	for i, b := range data {
		for j := range 8 {
			dst = appendManchesterBit(dst, b>>j&1)
		}
		dst = appendManchesterBit(dst, parityBit(parity, i, b))
	}
	return appendTagTrailer(dst)
}

// AppendTag4Bit appends a four bit answer (ACK/NACK) without parity.
func AppendTag4Bit(dst Pattern, nibble byte) Pattern {
	dst = append(dst, CorrectionPreamble, SeqD)
	for j := range 4 {
		dst = appendManchesterBit(dst, nibble>>j&1)
	}
	return appendTagTrailer(dst)
}

// AppendTagStrange appends the fixed three bit answer some cards send
// instead of an ATQA. It decodes as 0x04 with a bit length of 3.
func AppendTagStrange(dst Pattern) Pattern {
	dst = append(dst, CorrectionPreamble, SeqD, SeqE, SeqE, SeqD)
	return appendTagTrailer(dst)
}

// EncodeReaderFrame returns the Miller encoding of data.
func EncodeReaderFrame(data []byte, parity uint32) Pattern {
	return AppendReaderFrame(make(Pattern, 0, ReaderFrameLen(len(data))), data, parity)
}

// EncodeReaderShort returns the Miller encoding of a 7 bit short frame.
func EncodeReaderShort(b byte) Pattern {
	return AppendReaderShort(make(Pattern, 0, ReaderShortLen), b)
}

// EncodeTagFrame returns the Manchester encoding of data.
func EncodeTagFrame(data []byte, parity uint32) Pattern {
	return AppendTagFrame(make(Pattern, 0, TagFrameLen(len(data))), data, parity)
}

// EncodeTag4Bit returns the Manchester encoding of a four bit answer.
func EncodeTag4Bit(nibble byte) Pattern {
	return AppendTag4Bit(make(Pattern, 0, Tag4BitLen), nibble)
}

// Encoded lengths in bit periods.
const (
	ReaderShortLen = 1 + shortFrameBits + 2 + readerGuardPeriods
	Tag4BitLen     = 2 + 4 + 1 + tagFlushPeriods
	TagStrangeLen  = 2 + 3 + 1 + tagFlushPeriods
)

// ReaderFrameLen returns the encoded length of an n byte reader frame.
func ReaderFrameLen(n int) int {
	return 1 + 9*n + 2 + readerGuardPeriods
}

// TagFrameLen returns the encoded length of an n byte tag frame, including
// the correction preamble.
func TagFrameLen(n int) int {
	return 2 + 9*n + 1 + tagFlushPeriods
}

// parityBit returns the parity bit of byte i. The parity word only covers
// the first 32 bytes; longer frames fall back to odd parity.
func parityBit(parity uint32, i int, b byte) byte {
	if i >= 32 {
		return OddParity(b)
	}
	return byte(parity >> i & 1)
}
