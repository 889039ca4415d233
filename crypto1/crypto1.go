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

// Package crypto1 implements the Crypto-1 stream cipher used by MIFARE
// Classic cards, together with the card's 16 bit nonce generator.
//
// The 48 bit LFSR is held as two 24 bit halves: the bits at odd and at even
// positions. This is the representation the filter function is defined on.
package crypto1

import "math/bits"

const (
	lfPolyOdd  uint32 = 0x29ce5c
	lfPolyEven uint32 = 0x870804
)

// State is a running cipher instance. A zero State is a destroyed cipher
// and produces a fixed keystream.
type State struct {
	odd  uint32
	even uint32
}

// New loads a 48 bit key into a fresh cipher.
func New(key uint64) *State {
	s := &State{}
	for i := 47; i > 0; i -= 2 {
		s.odd = s.odd<<1 | uint32(key>>uint((i-1)^7)&1)
		s.even = s.even<<1 | uint32(key>>uint(i^7)&1)
	}
	return s
}

// Reset destroys the key material.
func (s *State) Reset() {
	s.odd, s.even = 0, 0
}

// LFSR returns the 48 bit register contents, used when handing a state to
// offline analysis.
func (s *State) LFSR() uint64 {
	var lfsr uint64
	for i := 23; i >= 0; i-- {
		lfsr = lfsr<<1 | uint64(s.odd>>uint(i^3)&1)
		lfsr = lfsr<<1 | uint64(s.even>>uint(i^3)&1)
	}
	return lfsr
}

// Filter returns the keystream bit the next clock will output.
func (s *State) Filter() uint32 {
	return filter(s.odd)
}

// Bit clocks the register once, shifting in in (optionally XORed with the
// keystream when in is ciphertext), and returns the keystream bit.
func (s *State) Bit(in uint32, encrypted bool) uint32 {
	ret := filter(s.odd)

	feedin := in & 1
	if encrypted {
		feedin ^= ret
	}
	feedin ^= lfPolyOdd & s.odd
	feedin ^= lfPolyEven & s.even
	s.even = s.even<<1 | parity(feedin)

	s.odd, s.even = s.even, s.odd
	return ret
}

// Byte clocks eight times, least significant bit first.
func (s *State) Byte(in byte, encrypted bool) byte {
	var ret byte
	for i := range 8 {
		ret |= byte(s.Bit(uint32(in>>i), encrypted)) << i
	}
	return ret
}

// Word clocks 32 times. Bytes are processed in big endian order, each byte
// least significant bit first.
func (s *State) Word(in uint32, encrypted bool) uint32 {
	var ret uint32
	for i := range 32 {
		shift := uint(i) ^ 24
		ret |= s.Bit(in>>shift, encrypted) << shift
	}
	return ret
}

// PRNGSuccessor advances the card's 16 bit LFSR nonce generator n steps.
func PRNGSuccessor(x, n uint32) uint32 {
	x = bits.ReverseBytes32(x)
	for ; n > 0; n-- {
		x = x>>1 | (x>>16^x>>18^x>>19^x>>21)<<31
	}
	return bits.ReverseBytes32(x)
}

func filter(x uint32) uint32 {
	f := uint32(0xf22c0) >> (x & 0xf) & 16
	f |= uint32(0x6c9c0) >> (x >> 4 & 0xf) & 8
	f |= uint32(0x3c8b0) >> (x >> 8 & 0xf) & 4
	f |= uint32(0x1e458) >> (x >> 12 & 0xf) & 2
	f |= uint32(0x0d938) >> (x >> 16 & 0xf) & 1
	return uint32(0xec57e80a) >> f & 1
}

func parity(x uint32) uint32 {
	return uint32(bits.OnesCount32(x) & 1)
}
