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
	"context"
	"encoding/binary"
	"testing"
	"time"

	iso14443a "github.com/ZaparooProject/go-iso14443a"
	"github.com/ZaparooProject/go-iso14443a/codec"
	"github.com/ZaparooProject/go-iso14443a/decoder"
	simtest "github.com/ZaparooProject/go-iso14443a/internal/testing"
	"github.com/ZaparooProject/go-iso14443a/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parityLeakCard hands out a fixed nonce and answers a zero reader
// response only when its parity bits match a value derived from the
// variable nonce bits, like a card leaking its keystream through NACKs.
func parityLeakCard(nonce uint32) simtest.Responder {
	nt := binary.BigEndian.AppendUint32(nil, nonce)
	return selectResponder(testUID, 0x08, func(f decoder.Frame) codec.Pattern {
		switch len(f.Data) {
		case 4:
			if f.Data[0] == byte(iso14443a.KeyA) {
				return tagFrame(nt)
			}
		case 8:
			d := f.Data[3] >> 5
			if f.Parity == uint32(d)<<3|5 {
				return codec.EncodeTag4Bit(d ^ 0x05)
			}
		}
		return nil
	})
}

func TestKeyRecoveryProbe(t *testing.T) {
	t.Parallel()

	tr := trace.New(trace.DefaultCapacity)
	tag := simtest.NewVirtualTag(parityLeakCard(testNonce))
	reader := newReader(tag, iso14443a.WithTrace(tr), iso14443a.WithTimeout(64))

	res, err := reader.KeyRecoveryProbe(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, testUID, res.UID)
	assert.Equal(t, binary.BigEndian.AppendUint32(nil, testNonce), res.Nonce[:])
	for d := range byte(8) {
		assert.Equal(t, d<<3|5, res.ParList[d], "round %d", d)
		assert.Equal(t, d, res.KsList[d], "round %d", d)
	}
	assert.Greater(t, tag.FieldResets(), 8)

	entries, err := tr.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, res.Nonce[:], entries[0].Data)
	assert.Equal(t, res.ParList[:], entries[1].Data)
	assert.Equal(t, res.KsList[:], entries[2].Data)
	assert.Contains(t, res.String(), "deadbeef")
}

func TestKeyRecoveryProbe_KnownNonceIsSkipped(t *testing.T) {
	t.Parallel()

	tag := simtest.NewVirtualTag(parityLeakCard(testNonce))
	reader := newReader(tag, iso14443a.WithTimeout(64))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	res, err := reader.KeyRecoveryProbe(ctx, testNonce)
	require.Error(t, err)
	assert.True(t, iso14443a.IsCancelled(err))
	require.NotNil(t, res)
	assert.Equal(t, [8]byte{}, res.KsList)
}
