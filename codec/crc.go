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

const crcAPreset = 0x6363

// CRCA computes the ISO/IEC 14443-A CRC over data.
func CRCA(data []byte) uint16 {
	crc := uint32(crcAPreset)
	for _, bt := range data {
		bt ^= uint8(crc & 0xff)
		bt ^= bt << 4
		bt32 := uint32(bt)
		crc = (crc >> 8) ^ (bt32 << 8) ^ (bt32 << 3) ^ (bt32 >> 4)
	}
	return uint16(crc)
}

// AppendCRC appends the CRC of data to data, least significant byte first.
func AppendCRC(data []byte) []byte {
	crc := CRCA(data)
	return append(data, byte(crc), byte(crc>>8))
}

// CheckCRC reports whether the last two bytes of frame are the CRC of the
// bytes before them.
func CheckCRC(frame []byte) bool {
	if len(frame) < 3 {
		return false
	}
	n := len(frame) - 2
	crc := CRCA(frame[:n])
	return frame[n] == byte(crc) && frame[n+1] == byte(crc>>8)
}
