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

// Idle sample bytes as observed by a receiver.
const (
	// ReaderIdleSample is an unmodulated reader field (no pause).
	ReaderIdleSample byte = 0xff
	// TagIdleSample is the absence of subcarrier.
	TagIdleSample byte = 0x00
)

// ReaderSamples converts a Miller pattern into the sample bytes a tag
// observes: the field level is high except during a pause.
func ReaderSamples(p Pattern) []byte {
	out := make([]byte, len(p))
	for i, b := range p {
		out[i] = ^b
	}
	return out
}

// TagSamples converts a Manchester pattern into the sample bytes a reader
// observes: a set sample means subcarrier present.
func TagSamples(p Pattern) []byte {
	out := make([]byte, len(p))
	copy(out, p)
	return out
}

// Nibbles splits sample bytes into the half bit periods a decoder consumes,
// high nibble first.
func Nibbles(samples []byte) []byte {
	out := make([]byte, 0, 2*len(samples))
	for _, s := range samples {
		out = append(out, s>>4, s&0x0f)
	}
	return out
}

// SnifferSamples interleaves a reader channel and a tag channel into the
// sniffer slot format: reader nibble in the high half, tag nibble in the low
// half, one slot per half bit period. The shorter channel is padded with its
// idle level.
func SnifferSamples(reader, tag []byte) []byte {
	rn := Nibbles(reader)
	tn := Nibbles(tag)
	n := max(len(rn), len(tn))
	out := make([]byte, n)
	for i := range n {
		r := ReaderIdleSample & 0x0f
		if i < len(rn) {
			r = rn[i]
		}
		t := TagIdleSample & 0x0f
		if i < len(tn) {
			t = tn[i]
		}
		out[i] = r<<4 | t
	}
	return out
}
