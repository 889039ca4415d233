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
	"errors"
	"fmt"
	"io"

	iso14443a "github.com/ZaparooProject/go-iso14443a"
)

// ErrIncomplete reports that a buffer holds only the beginning of a frame.
var ErrIncomplete = errors.New("incomplete frame")

// BuildControl frames a control operation:
// 00 FF LEN LCS OP payload DCS, where LEN counts OP and the payload.
func BuildControl(op byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: control payload of %d bytes", iso14443a.ErrFrontendProtocol, len(payload))
	}
	length := byte(len(payload) + 1)
	buf := make([]byte, 0, MinFrameLength+len(payload))
	buf = append(buf, StartCode1, StartCode2, length, -length, op)
	buf = append(buf, payload...)
	buf = append(buf, Complement(buf[4:]...))
	return buf, nil
}

// BuildExchange frames a single slot exchange.
func BuildExchange(tx byte) []byte {
	return []byte{ExchangeMarker, tx}
}

// ParseControl parses the control frame at the start of buf and returns its
// operation, payload and the number of bytes it occupies. The payload
// aliases buf. ErrIncomplete means more bytes are needed.
func ParseControl(buf []byte) (op byte, payload []byte, n int, err error) {
	if len(buf) < 4 {
		return 0, nil, 0, ErrIncomplete
	}
	if buf[0] != StartCode1 || buf[1] != StartCode2 {
		return 0, nil, 0, fmt.Errorf("%w: bad start code % x", iso14443a.ErrFrontendProtocol, buf[:2])
	}
	length := int(buf[2])
	if (length+int(buf[3]))&0xff != 0 {
		return 0, nil, 0, fmt.Errorf("length: %w", iso14443a.ErrChecksumMismatch)
	}
	if length == 0 {
		return 0, nil, 0, fmt.Errorf("%w: empty control frame", iso14443a.ErrFrontendProtocol)
	}
	n = 4 + length + 1
	if len(buf) < n {
		return 0, nil, 0, ErrIncomplete
	}
	body := buf[4 : 4+length]
	if Sum(body)+buf[4+length] != 0 {
		return 0, nil, 0, fmt.Errorf("data: %w", iso14443a.ErrChecksumMismatch)
	}
	return body[0], body[1:], n, nil
}

// ReadControl reads one control frame from r.
func ReadControl(r io.Reader) (op byte, payload []byte, err error) {
	header := make([]byte, 4, 4+MaxPayload+2)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	if header[0] != StartCode1 || header[1] != StartCode2 {
		return 0, nil, fmt.Errorf("%w: bad start code % x", iso14443a.ErrFrontendProtocol, header[:2])
	}
	rest := make([]byte, int(header[2])+1)
	if _, err := io.ReadFull(r, rest); err != nil {
		return 0, nil, err
	}
	op, payload, _, err = ParseControl(append(header, rest...))
	return op, payload, err
}
