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

import (
	"bytes"
	"testing"
)

// Malformed input from a front end must never panic the parser.
//
// Run with: go test -fuzz=FuzzParseControl -fuzztime=30s ./internal/frame/

func FuzzParseControl(f *testing.F) {
	f.Add([]byte{0x00, 0xFF, 0x02, 0xFE, 0x10, 0x02, 0xEE})
	f.Add([]byte{0x00, 0xFF, 0x01, 0xFF, 0x12, 0xEE})
	f.Add([]byte{0x00, 0xFF, 0x03, 0xFD, 0x13, 0xA0, 0x0F, 0x3E})
	f.Add([]byte{})
	f.Add([]byte{0x00})
	f.Add([]byte{0x00, 0xFF})
	f.Add([]byte{0x00, 0xFF, 0xFF, 0x01})
	f.Add([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})

	f.Fuzz(func(t *testing.T, buf []byte) {
		op, payload, n, err := ParseControl(buf)
		if err != nil {
			return
		}
		if n > len(buf) || n < MinFrameLength {
			t.Fatalf("frame length %d out of range for %d bytes", n, len(buf))
		}
		rebuilt, err := BuildControl(op, payload)
		if err != nil {
			t.Fatalf("rebuild: %v", err)
		}
		if !bytes.Equal(rebuilt, buf[:n]) {
			t.Fatalf("rebuilt % x, parsed % x", rebuilt, buf[:n])
		}
	})
}

func FuzzReadControl(f *testing.F) {
	f.Add([]byte{0x00, 0xFF, 0x02, 0xFE, 0x10, 0x02, 0xEE})
	f.Add([]byte{0x00, 0xFF, 0xFF, 0x01, 0x00})
	f.Add([]byte{0x01, 0x02})

	f.Fuzz(func(_ *testing.T, buf []byte) {
		_, _, _ = ReadControl(bytes.NewReader(buf))
	})
}
