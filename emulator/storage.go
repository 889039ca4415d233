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

// Package emulator implements a MIFARE Classic 1K card on top of the tag
// role of the link layer.
//
// Card is the command state machine. It is a pure function of its state and
// the decoded reader frame, so it can be driven by the Emulator run loop or
// directly by tests. Memory is the default block storage.
package emulator

import (
	"errors"
	"fmt"

	iso14443a "github.com/ZaparooProject/go-iso14443a"
)

// MIFARE Classic 1K geometry.
const (
	BlockSize       = 16
	BlocksPerSector = 4
	Sectors         = 16
	Blocks          = Sectors * BlocksPerSector
	DumpSize        = Blocks * BlockSize
)

var (
	// ErrBlockRange is returned for block numbers beyond the card.
	ErrBlockRange = fmt.Errorf("%w: out of range", iso14443a.ErrInvalidBlock)
	// ErrNotValueBlock is returned when a block fails the value block
	// redundancy check.
	ErrNotValueBlock = errors.New("not a value block")
)

// Storage holds the card's blocks and keys.
type Storage interface {
	// ReadBlock returns a copy of block n.
	ReadBlock(n byte) ([]byte, error)
	// WriteBlock replaces block n.
	WriteBlock(n byte, data []byte) error
	// SectorKey returns the key of the given type for sector.
	SectorKey(sector int, keyType iso14443a.KeyType) (uint64, error)
}

// SectorOf returns the sector holding block n.
func SectorOf(n byte) int {
	return int(n) / BlocksPerSector
}

// TrailerOf returns the trailer block of sector.
func TrailerOf(sector int) byte {
	return byte(sector*BlocksPerSector + BlocksPerSector - 1)
}

// UIDFromBlock0 extracts the UID from the manufacturer block. A non-zero
// byte 7 marks a seven byte UID.
func UIDFromBlock0(block0 []byte) []byte {
	if len(block0) < BlockSize {
		return nil
	}
	if block0[7] != 0 {
		return append([]byte(nil), block0[:7]...)
	}
	return append([]byte(nil), block0[:4]...)
}

// EncodeValueBlock builds a value block: the value, its complement and the
// value again, followed by the address byte, its complement, the address
// and its complement.
func EncodeValueBlock(value int32, addr byte) []byte {
	v := uint32(value)
	b := make([]byte, BlockSize)
	for i := range 4 {
		b[i] = byte(v >> (8 * i))
		b[i+4] = ^b[i]
		b[i+8] = b[i]
	}
	b[12], b[13], b[14], b[15] = addr, ^addr, addr, ^addr
	return b
}

// DecodeValueBlock checks the redundancy of a value block and returns its
// value and address byte.
func DecodeValueBlock(b []byte) (value int32, addr byte, err error) {
	if len(b) != BlockSize {
		return 0, 0, ErrNotValueBlock
	}
	for i := range 4 {
		if b[i] != b[i+8] || b[i] != ^b[i+4] {
			return 0, 0, ErrNotValueBlock
		}
	}
	if b[12] != b[14] || b[13] != b[15] || b[12] != ^b[13] {
		return 0, 0, ErrNotValueBlock
	}
	var v uint32
	for i := range 4 {
		v |= uint32(b[i]) << (8 * i)
	}
	return int32(v), b[12], nil
}
