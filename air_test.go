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

package iso14443a_test

import (
	"testing"

	iso14443a "github.com/ZaparooProject/go-iso14443a"
	"github.com/ZaparooProject/go-iso14443a/codec"
	"github.com/ZaparooProject/go-iso14443a/decoder"
	"github.com/ZaparooProject/go-iso14443a/emulator"
	simtest "github.com/ZaparooProject/go-iso14443a/internal/testing"
	"github.com/stretchr/testify/require"
)

const (
	testNonce   = 0x01200145
	testTimeout = 256
)

var (
	testUID   = []byte{0xde, 0xad, 0xbe, 0xef}
	testUID7  = []byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}
	transport = uint64(0xffffffffffff)
)

// cardOnAir puts an emulated MIFARE Classic card in front of a reader.
func cardOnAir(t *testing.T, uid []byte, opts ...iso14443a.ReaderOption) (
	*iso14443a.Reader, *emulator.Memory, *simtest.VirtualTag,
) {
	t.Helper()
	mem, err := emulator.NewMemory(uid)
	require.NoError(t, err)
	card, err := emulator.NewCard(mem, emulator.WithFixedNonce(testNonce))
	require.NoError(t, err)
	card.FieldDetected()

	tag := simtest.NewVirtualTag(func(f decoder.Frame) codec.Pattern {
		return card.Handle(f.Data).Pattern()
	})
	return newReader(tag, opts...), mem, tag
}

func newReader(fe iso14443a.Frontend, opts ...iso14443a.ReaderOption) *iso14443a.Reader {
	base := []iso14443a.ReaderOption{
		iso14443a.WithTimeout(testTimeout),
		iso14443a.WithPowerUpDelay(0),
		iso14443a.WithFieldResetDelay(0),
		iso14443a.WithReaderNonce(func() uint32 { return 0x12345678 }),
	}
	return iso14443a.NewReader(fe, append(base, opts...)...)
}

func tagFrame(data []byte) codec.Pattern {
	return codec.EncodeTagFrame(data, codec.Parity(data))
}

// selectResponder answers wake up and single size anticollision for uid
// with the given SAK, and hands everything else to next.
func selectResponder(uid []byte, sak byte, next func(decoder.Frame) codec.Pattern) simtest.Responder {
	cl1 := append(append([]byte(nil), uid...), uid[0]^uid[1]^uid[2]^uid[3])
	return func(f decoder.Frame) codec.Pattern {
		d := f.Data
		switch {
		case len(d) == 1 && (d[0] == iso14443a.CmdWUPA || d[0] == iso14443a.CmdREQA):
			return tagFrame([]byte{0x04, 0x00})
		case len(d) == 2 && d[0] == iso14443a.CmdSelectCL1 && d[1] == 0x20:
			return tagFrame(cl1)
		case len(d) == 9 && d[0] == iso14443a.CmdSelectCL1 && d[1] == 0x70:
			return tagFrame(codec.AppendCRC([]byte{sak}))
		case next != nil:
			return next(f)
		default:
			return nil
		}
	}
}
