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

package codec

import "math/bits"

// OddParity returns the bit that makes the number of ones in b plus the
// parity bit odd.
func OddParity(b byte) byte {
	return byte(bits.OnesCount8(b)&1) ^ 1
}

// Parity returns the parity word for data: bit i is the odd parity of
// data[i]. Only the first 32 bytes are represented.
func Parity(data []byte) uint32 {
	var par uint32
	for i, b := range data {
		if i >= 32 {
			break
		}
		par |= uint32(OddParity(b)) << i
	}
	return par
}

// CheckParity reports whether parity matches the odd parity of every byte
// of data covered by the parity word.
func CheckParity(data []byte, parity uint32) bool {
	return Parity(data) == parity&parityMask(len(data))
}

func parityMask(n int) uint32 {
	if n >= 32 {
		return ^uint32(0)
	}
	return uint32(1)<<n - 1
}
