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

package testing

import (
	"context"
	"io"
	"testing"

	iso14443a "github.com/ZaparooProject/go-iso14443a"
	"github.com/ZaparooProject/go-iso14443a/codec"
	"github.com/ZaparooProject/go-iso14443a/decoder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runTag plays a minimal tag against fe until the front end fails.
func runTag(fe iso14443a.Frontend, respond func([]byte) codec.Pattern) (heard [][]byte, lowField int, err error) {
	ctx := context.Background()
	dec := decoder.NewMiller(make([]byte, 64))
	if err := fe.Configure(ctx, iso14443a.ModeTagListen); err != nil {
		return nil, 0, err
	}
	for {
		mv, err := fe.FieldStrength(ctx)
		if err != nil {
			return heard, lowField, err
		}
		if mv < iso14443a.MinFieldMillivolts {
			lowField++
		}
		rx, err := fe.Exchange(ctx, 0)
		if err != nil {
			return heard, lowField, err
		}
		for _, n := range codec.Nibbles([]byte{rx}) {
			if dec.Decode(n) != decoder.Complete {
				continue
			}
			data := append([]byte(nil), dec.Frame().Data...)
			heard = append(heard, data)
			p := respond(data)
			if p == nil {
				continue
			}
			if err := fe.Configure(ctx, iso14443a.ModeTagMod); err != nil {
				return heard, lowField, err
			}
			for _, b := range p {
				if _, err := fe.Exchange(ctx, b); err != nil {
					return heard, lowField, err
				}
			}
			if err := fe.Configure(ctx, iso14443a.ModeTagListen); err != nil {
				return heard, lowField, err
			}
		}
	}
}

func TestVirtualReader_Sequence(t *testing.T) {
	t.Parallel()

	cmd := []byte{0x93, 0x20}
	reader := NewVirtualReader(Sequence(
		codec.EncodeReaderShort(0x26),
		codec.EncodeReaderFrame(cmd, codec.Parity(cmd)),
	))

	heard, _, err := runTag(reader, func(data []byte) codec.Pattern {
		if len(data) == 1 {
			return codec.EncodeTagFrame([]byte{0x04, 0x00}, codec.Parity([]byte{0x04, 0x00}))
		}
		return nil
	})
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, [][]byte{{0x26}, cmd}, heard)

	answers := reader.Answers()
	require.Len(t, answers, 2)
	require.NotNil(t, answers[0])
	assert.Equal(t, []byte{0x04, 0x00}, answers[0].Data)
	assert.Nil(t, answers[1])
	assert.Len(t, reader.Sent(), 2)
}

func TestVirtualReader_ScriptSeesAnswers(t *testing.T) {
	t.Parallel()

	var seen []*Answer
	step := 0
	reader := NewVirtualReader(func(prev *Answer) codec.Pattern {
		seen = append(seen, prev)
		step++
		if step > 2 {
			return nil
		}
		return codec.EncodeReaderShort(0x52)
	})

	_, _, err := runTag(reader, func([]byte) codec.Pattern {
		return codec.EncodeTag4Bit(0x0a)
	})
	require.ErrorIs(t, err, io.EOF)

	require.Len(t, seen, 3)
	assert.Nil(t, seen[0])
	require.NotNil(t, seen[1])
	assert.Equal(t, []byte{0x0a}, seen[1].Data)
	assert.Equal(t, 4, seen[1].Bits)
}

func TestVirtualReader_FieldDrop(t *testing.T) {
	t.Parallel()

	reader := NewVirtualReader(Sequence(), WithFieldDrop(100))
	_, low, err := runTag(reader, func([]byte) codec.Pattern { return nil })
	require.ErrorIs(t, err, io.EOF)
	assert.GreaterOrEqual(t, low, 100)
}
