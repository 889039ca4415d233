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

package crypto1

import "math/bits"

// Encrypt XORs data in place with the keystream and returns the parity word
// to transmit with it. MIFARE Classic encrypts parity bits too: each one is
// the plaintext parity XORed with the keystream bit that follows its byte.
func (s *State) Encrypt(data []byte) uint32 {
	var par uint32
	for i, b := range data {
		data[i] = s.Byte(0, false) ^ b
		if i < 32 {
			par |= (s.Filter() ^ oddParity(b)) & 1 << i
		}
	}
	return par
}

// Decrypt XORs data in place with the keystream. A single byte frame is a
// four bit answer and only consumes four keystream bits.
func (s *State) Decrypt(data []byte) {
	if len(data) == 1 {
		data[0] = s.Decrypt4Bit(data[0])
		return
	}
	for i := range data {
		data[i] ^= s.Byte(0, false)
	}
}

// Encrypt4Bit encrypts a four bit answer such as ACK or NACK.
func (s *State) Encrypt4Bit(nibble byte) byte {
	var out byte
	for i := range 4 {
		out |= byte(s.Bit(0, false)^uint32(nibble>>i&1)) << i
	}
	return out
}

// Decrypt4Bit decrypts a four bit answer. The operation is symmetric with
// Encrypt4Bit.
func (s *State) Decrypt4Bit(nibble byte) byte {
	return s.Encrypt4Bit(nibble)
}

func oddParity(b byte) uint32 {
	return uint32(bits.OnesCount8(b)&1) ^ 1
}
