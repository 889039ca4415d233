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

package frame

// Exchange marker. A slot exchange is the marker followed by the transmit
// byte; the device answers with the single sample byte of that slot.
const ExchangeMarker = 0x01

// Control frame markers
const (
	StartCode1 = 0x00 // Start code byte 1
	StartCode2 = 0xFF // Start code byte 2
)

// Control operations. A reply carries the request operation plus one.
const (
	OpSetMode       = 0x10 // Payload: one mode byte
	OpFieldStrength = 0x12 // Reply payload: millivolts, little endian uint16
)

// Frame size limits
const (
	MaxPayload     = 254 // LEN covers OP and payload
	MinFrameLength = 6   // start code + len + lcs + op + dcs
)
