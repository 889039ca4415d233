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
	"fmt"
	"io"
	"os"

	iso14443a "github.com/ZaparooProject/go-iso14443a"
	"github.com/ZaparooProject/go-iso14443a/internal/syncutil"
)

// Trailer layout.
const (
	keyAOffset   = 0
	accessOffset = 6
	keyBOffset   = 10
)

// transportAccess are the access bits of a blank card: key A reads and
// writes everything, key B is readable.
var transportAccess = []byte{0xff, 0x07, 0x80, 0x69}

// Memory is an in-memory MIFARE Classic 1K image. It is safe for
// concurrent use.
type Memory struct {
	blocks [Blocks][BlockSize]byte
	mu     syncutil.RWMutex
}

// NewMemory returns a blank card with the given 4 or 7 byte UID and the
// transport key in every sector.
func NewMemory(uid []byte) (*Memory, error) {
	m := &Memory{}
	for s := range Sectors {
		m.blocks[TrailerOf(s)] = blankTrailer()
	}
	if err := m.SetUID(uid); err != nil {
		return nil, err
	}
	return m, nil
}

func blankTrailer() [BlockSize]byte {
	var t [BlockSize]byte
	copy(t[keyAOffset:], iso14443a.DefaultKey)
	copy(t[accessOffset:], transportAccess)
	copy(t[keyBOffset:], iso14443a.DefaultKey)
	return t
}

// SetUID rewrites the manufacturer block for uid.
func (m *Memory) SetUID(uid []byte) error {
	var b0 [BlockSize]byte
	switch len(uid) {
	case 4:
		copy(b0[:], uid)
		b0[4] = uid[0] ^ uid[1] ^ uid[2] ^ uid[3]
		b0[5] = 0x08
		b0[6] = 0x04
	case 7:
		copy(b0[:], uid)
		b0[7] = 0x08
		b0[8] = 0x44
	default:
		return fmt.Errorf("%w: UID must be 4 or 7 bytes, got %d", iso14443a.ErrInvalidBlock, len(uid))
	}
	m.mu.Lock()
	m.blocks[0] = b0
	m.mu.Unlock()
	return nil
}

// UID returns the card UID stored in block 0.
func (m *Memory) UID() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return UIDFromBlock0(m.blocks[0][:])
}

// ReadBlock implements Storage.
func (m *Memory) ReadBlock(n byte) ([]byte, error) {
	if int(n) >= Blocks {
		return nil, fmt.Errorf("read block %d: %w", n, ErrBlockRange)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.blocks[n][:]...), nil
}

// WriteBlock implements Storage.
func (m *Memory) WriteBlock(n byte, data []byte) error {
	if int(n) >= Blocks {
		return fmt.Errorf("write block %d: %w", n, ErrBlockRange)
	}
	if len(data) != BlockSize {
		return fmt.Errorf("write block %d: %w: %d bytes", n, iso14443a.ErrInvalidBlock, len(data))
	}
	m.mu.Lock()
	copy(m.blocks[n][:], data)
	m.mu.Unlock()
	return nil
}

// SectorKey implements Storage. Keys are taken from the sector trailer.
func (m *Memory) SectorKey(sector int, keyType iso14443a.KeyType) (uint64, error) {
	if sector < 0 || sector >= Sectors {
		return 0, fmt.Errorf("sector %d: %w", sector, ErrBlockRange)
	}
	m.mu.RLock()
	trailer := m.blocks[TrailerOf(sector)]
	m.mu.RUnlock()

	switch keyType {
	case iso14443a.KeyA:
		return iso14443a.KeyFromBytes(trailer[keyAOffset : keyAOffset+iso14443a.MifareKeySize])
	case iso14443a.KeyB:
		return iso14443a.KeyFromBytes(trailer[keyBOffset : keyBOffset+iso14443a.MifareKeySize])
	default:
		return 0, fmt.Errorf("unknown key type %s", keyType)
	}
}

// SetSectorKeys writes both keys of a sector, keeping its access bits.
func (m *Memory) SetSectorKeys(sector int, keyA, keyB []byte) error {
	if sector < 0 || sector >= Sectors {
		return fmt.Errorf("sector %d: %w", sector, ErrBlockRange)
	}
	if len(keyA) != iso14443a.MifareKeySize || len(keyB) != iso14443a.MifareKeySize {
		return fmt.Errorf("sector %d: keys must be %d bytes", sector, iso14443a.MifareKeySize)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &m.blocks[TrailerOf(sector)]
	copy(t[keyAOffset:], keyA)
	copy(t[keyBOffset:], keyB)
	return nil
}

// ValueBlock decodes block n as a value block.
func (m *Memory) ValueBlock(n byte) (value int32, addr byte, err error) {
	b, err := m.ReadBlock(n)
	if err != nil {
		return 0, 0, err
	}
	return DecodeValueBlock(b)
}

// SetValueBlock formats block n as a value block.
func (m *Memory) SetValueBlock(n byte, value int32, addr byte) error {
	return m.WriteBlock(n, EncodeValueBlock(value, addr))
}

// LoadDump replaces the image with a raw 1024 byte dump.
func (m *Memory) LoadDump(r io.Reader) error {
	buf := make([]byte, DumpSize+1)
	n, err := io.ReadFull(r, buf)
	switch {
	case n == DumpSize && (err == io.ErrUnexpectedEOF || err == io.EOF):
	case err == nil:
		return fmt.Errorf("dump larger than %d bytes", DumpSize)
	default:
		return fmt.Errorf("dump of %d bytes, want %d: %w", n, DumpSize, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range Blocks {
		copy(m.blocks[i][:], buf[i*BlockSize:])
	}
	return nil
}

// LoadDumpFile reads a raw dump from path.
func (m *Memory) LoadDumpFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the user's profile
	if err != nil {
		return fmt.Errorf("read dump: %w", err)
	}
	return m.LoadDump(bytes.NewReader(data))
}

// Dump writes the raw 1024 byte image.
func (m *Memory) Dump(w io.Writer) error {
	m.mu.RLock()
	buf := make([]byte, 0, DumpSize)
	for i := range Blocks {
		buf = append(buf, m.blocks[i][:]...)
	}
	m.mu.RUnlock()

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write dump: %w", err)
	}
	return nil
}
