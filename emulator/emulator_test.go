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

package emulator

import (
	"context"
	"io"
	"testing"
	"time"

	iso14443a "github.com/ZaparooProject/go-iso14443a"
	"github.com/ZaparooProject/go-iso14443a/codec"
	simtest "github.com/ZaparooProject/go-iso14443a/internal/testing"
	"github.com/ZaparooProject/go-iso14443a/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func readerFrame(data []byte) codec.Pattern {
	return codec.EncodeReaderFrame(data, codec.Parity(data))
}

func TestEmulator_AnswersSelection(t *testing.T) {
	t.Parallel()

	mem, err := NewMemory(testUID)
	require.NoError(t, err)
	card, err := NewCard(mem)
	require.NoError(t, err)

	cl1 := []byte{0xde, 0xad, 0xbe, 0xef, 0x22}
	reader := simtest.NewVirtualReader(simtest.Sequence(
		codec.EncodeReaderShort(iso14443a.CmdWUPA),
		readerFrame([]byte{iso14443a.CmdSelectCL1, 0x20}),
		readerFrame(codec.AppendCRC(append([]byte{iso14443a.CmdSelectCL1, 0x70}, cl1...))),
	))

	tr := trace.New(trace.DefaultCapacity)
	emu := New(reader, card, WithTrace(tr))
	err = emu.Run(context.Background())
	require.ErrorIs(t, err, io.EOF)

	answers := reader.Answers()
	require.Len(t, answers, 3)
	require.NotNil(t, answers[0])
	assert.Equal(t, []byte{0x04, 0x00}, answers[0].Data)
	require.NotNil(t, answers[1])
	assert.Equal(t, cl1, answers[1].Data)
	require.NotNil(t, answers[2])
	assert.Equal(t, codec.AppendCRC([]byte{0x08}), answers[2].Data)
	assert.Equal(t, StateWork, card.State())

	entries, err := emu.Trace().Entries()
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, TraceTrailer, entries[len(entries)-1].Data)
	assert.Equal(t, trace.FromReader, entries[0].Direction)
}

func TestEmulator_FieldDropResetsCard(t *testing.T) {
	t.Parallel()

	mem, err := NewMemory(testUID)
	require.NoError(t, err)
	card, err := NewCard(mem)
	require.NoError(t, err)

	loss := iso14443a.SlotsFor(iso14443a.FieldLossTimeout)
	reader := simtest.NewVirtualReader(
		simtest.Sequence(codec.EncodeReaderShort(iso14443a.CmdWUPA)),
		simtest.WithFieldDrop(loss+512),
	)

	err = New(reader, card).Run(context.Background())
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, StateNoField, card.State())
	require.Len(t, reader.Answers(), 1)
}

func TestEmulator_WaitsForStrongField(t *testing.T) {
	t.Parallel()

	mem, err := NewMemory(testUID)
	require.NoError(t, err)
	card, err := NewCard(mem)
	require.NoError(t, err)

	reader := simtest.NewVirtualReader(
		simtest.Sequence(codec.EncodeReaderShort(iso14443a.CmdWUPA)),
		simtest.WithFieldMillivolts(3000),
	)

	err = New(reader, card).Run(context.Background())
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, StateNoField, card.State())

	// The reader talked into a card that never powered up.
	answers := reader.Answers()
	require.Len(t, answers, 1)
	assert.Nil(t, answers[0])
}

func TestEmulator_CancelReturnsNil(t *testing.T) {
	t.Parallel()

	mem, err := NewMemory(testUID)
	require.NoError(t, err)
	card, err := NewCard(mem)
	require.NoError(t, err)

	reader := simtest.NewVirtualReader(func(*simtest.Answer) codec.Pattern {
		return codec.EncodeReaderShort(iso14443a.CmdWUPA)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- New(reader, card, WithFieldThreshold(1000)).Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return len(reader.Answers()) >= 2
	}, 5*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("emulator did not stop")
	}
}
