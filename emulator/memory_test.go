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
	"bytes"
	"os"
	"path/filepath"
	"testing"

	iso14443a "github.com/ZaparooProject/go-iso14443a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMemory_BlankCard(t *testing.T) {
	t.Parallel()

	mem, err := NewMemory(testUID)
	require.NoError(t, err)

	b0, err := mem.ReadBlock(0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef, 0x22, 0x08, 0x04}, b0[:7])
	assert.Equal(t, testUID, mem.UID())

	for s := range Sectors {
		for _, kt := range []iso14443a.KeyType{iso14443a.KeyA, iso14443a.KeyB} {
			key, err := mem.SectorKey(s, kt)
			require.NoError(t, err)
			assert.Equal(t, uint64(0xffffffffffff), key)
		}
	}
}

func TestMemory_SevenByteUID(t *testing.T) {
	t.Parallel()

	uid := []byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}
	mem, err := NewMemory(uid)
	require.NoError(t, err)
	assert.Equal(t, uid, mem.UID())
}

func TestMemory_SetUIDRejectsOddSizes(t *testing.T) {
	t.Parallel()

	_, err := NewMemory([]byte{1, 2, 3})
	require.ErrorIs(t, err, iso14443a.ErrInvalidBlock)
}

func TestMemory_BlockBounds(t *testing.T) {
	t.Parallel()

	mem, err := NewMemory(testUID)
	require.NoError(t, err)

	_, err = mem.ReadBlock(Blocks)
	require.ErrorIs(t, err, ErrBlockRange)
	require.ErrorIs(t, mem.WriteBlock(Blocks, make([]byte, BlockSize)), ErrBlockRange)
	require.ErrorIs(t, mem.WriteBlock(1, []byte{1}), iso14443a.ErrInvalidBlock)
	_, err = mem.SectorKey(Sectors, iso14443a.KeyA)
	require.ErrorIs(t, err, ErrBlockRange)
}

func TestMemory_ReadBlockReturnsCopy(t *testing.T) {
	t.Parallel()

	mem, err := NewMemory(testUID)
	require.NoError(t, err)

	b, err := mem.ReadBlock(0)
	require.NoError(t, err)
	b[0] = 0
	assert.Equal(t, testUID, mem.UID())
}

func TestMemory_SectorKeys(t *testing.T) {
	t.Parallel()

	mem, err := NewMemory(testUID)
	require.NoError(t, err)
	require.NoError(t, mem.SetSectorKeys(3, iso14443a.MADKey, iso14443a.NDEFKey))

	a, err := mem.SectorKey(3, iso14443a.KeyA)
	require.NoError(t, err)
	b, err := mem.SectorKey(3, iso14443a.KeyB)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xa0a1a2a3a4a5), a)
	assert.Equal(t, uint64(0xd3f7d3f7d3f7), b)

	trailer, err := mem.ReadBlock(TrailerOf(3))
	require.NoError(t, err)
	assert.Equal(t, transportAccess, trailer[accessOffset:accessOffset+4])
}

func TestMemory_DumpRoundTrip(t *testing.T) {
	t.Parallel()

	mem, err := NewMemory(testUID)
	require.NoError(t, err)
	require.NoError(t, mem.WriteBlock(9, []byte("block nine data.")))

	var buf bytes.Buffer
	require.NoError(t, mem.Dump(&buf))
	require.Equal(t, DumpSize, buf.Len())

	path := filepath.Join(t.TempDir(), "card.mfd")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	other, err := NewMemory([]byte{1, 2, 3, 4})
	require.NoError(t, err)
	require.NoError(t, other.LoadDumpFile(path))

	got, err := other.ReadBlock(9)
	require.NoError(t, err)
	assert.Equal(t, []byte("block nine data."), got)
	assert.Equal(t, testUID, other.UID())
}

func TestMemory_LoadDumpSize(t *testing.T) {
	t.Parallel()

	mem, err := NewMemory(testUID)
	require.NoError(t, err)

	require.Error(t, mem.LoadDump(bytes.NewReader(make([]byte, DumpSize-1))))
	require.Error(t, mem.LoadDump(bytes.NewReader(make([]byte, DumpSize+1))))
	require.NoError(t, mem.LoadDump(bytes.NewReader(make([]byte, DumpSize))))
}

func TestValueBlock(t *testing.T) {
	t.Parallel()

	for _, v := range []int32{0, 1, -1, 100, -2147483648, 2147483647} {
		b := EncodeValueBlock(v, 0x21)
		got, addr, err := DecodeValueBlock(b)
		require.NoError(t, err)
		assert.Equal(t, v, got)
		assert.Equal(t, byte(0x21), addr)
	}

	b := EncodeValueBlock(5, 1)
	b[4] ^= 0x01
	_, _, err := DecodeValueBlock(b)
	require.ErrorIs(t, err, ErrNotValueBlock)
}

func TestGeometry(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, SectorOf(4))
	assert.Equal(t, 15, SectorOf(63))
	assert.Equal(t, byte(3), TrailerOf(0))
	assert.Equal(t, byte(63), TrailerOf(15))
}
