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
	"errors"
	"fmt"

	iso14443a "github.com/ZaparooProject/go-iso14443a"
	"github.com/hsanjuan/go-ndef"
)

// MIFARE Application Directory v1.
const (
	madInfoByte   = 0x01
	madCRCPoly    = 0x1d
	madCRCPreset  = 0xc7
	ndefAIDHigh   = 0xe1
	ndefAIDLow    = 0x03
	dataSectors   = Sectors - 1
	dataPerSector = (BlocksPerSector - 1) * BlockSize

	// NDEFCapacity is the data area behind the directory, TLV included.
	NDEFCapacity = dataSectors * dataPerSector

	tlvNull       = 0x00
	tlvNDEF       = 0x03
	tlvTerminator = 0xfe
	tlvLongLength = 0xff
)

var (
	madAccess  = []byte{0x78, 0x77, 0x88, 0xc1}
	ndefAccess = []byte{0x7f, 0x07, 0x88, 0x40}

	// ErrNoNDEF is returned when the card carries no readable NDEF message.
	ErrNoNDEF = errors.New("no NDEF message")
	// ErrNDEFTooLarge is returned when a message does not fit the card.
	ErrNDEFTooLarge = errors.New("NDEF message too large")
)

// MADCRC computes the directory checksum over the info byte and the
// application identifiers.
func MADCRC(data []byte) byte {
	crc := byte(madCRCPreset)
	for _, b := range data {
		crc ^= b
		for range 8 {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ madCRCPoly
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// madBlocks returns blocks 1 and 2 of sector 0 with every data sector
// assigned to NDEF.
func madBlocks() []byte {
	mad := make([]byte, 2*BlockSize)
	mad[1] = madInfoByte
	for s := 1; s <= dataSectors; s++ {
		mad[2*s] = ndefAIDLow
		mad[2*s+1] = ndefAIDHigh
	}
	mad[0] = MADCRC(mad[1:])
	return mad
}

func trailer(keyA, access []byte) []byte {
	t := make([]byte, BlockSize)
	copy(t[keyAOffset:], keyA)
	copy(t[accessOffset:], access)
	copy(t[keyBOffset:], iso14443a.DefaultKey)
	return t
}

// WriteNDEF formats the card for NDEF and stores msg. Block 0 is kept.
func WriteNDEF(store Storage, msg *ndef.Message) error {
	payload, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("marshal NDEF: %w", err)
	}

	tlv := []byte{tlvNDEF}
	if len(payload) < tlvLongLength {
		tlv = append(tlv, byte(len(payload)))
	} else {
		tlv = append(tlv, tlvLongLength, byte(len(payload)>>8), byte(len(payload)))
	}
	tlv = append(tlv, payload...)
	tlv = append(tlv, tlvTerminator)
	if len(tlv) > NDEFCapacity {
		return fmt.Errorf("%w: %d bytes, capacity %d", ErrNDEFTooLarge, len(tlv), NDEFCapacity)
	}

	mad := madBlocks()
	if err := store.WriteBlock(1, mad[:BlockSize]); err != nil {
		return err
	}
	if err := store.WriteBlock(2, mad[BlockSize:]); err != nil {
		return err
	}
	if err := store.WriteBlock(TrailerOf(0), trailer(iso14443a.MADKey, madAccess)); err != nil {
		return err
	}

	area := make([]byte, NDEFCapacity)
	copy(area, tlv)
	for s := 1; s < Sectors; s++ {
		first := byte(s * BlocksPerSector)
		for i := range BlocksPerSector - 1 {
			off := (s-1)*dataPerSector + i*BlockSize
			if err := store.WriteBlock(first+byte(i), area[off:off+BlockSize]); err != nil {
				return err
			}
		}
		if err := store.WriteBlock(TrailerOf(s), trailer(iso14443a.NDEFKey, ndefAccess)); err != nil {
			return err
		}
	}
	return nil
}

// ReadNDEF returns the NDEF message of a card formatted by WriteNDEF or
// any MAD v1 NDEF card. Only sectors the directory assigns to NDEF are read.
func ReadNDEF(store Storage) (*ndef.Message, error) {
	mad := make([]byte, 0, 2*BlockSize)
	for _, n := range []byte{1, 2} {
		b, err := store.ReadBlock(n)
		if err != nil {
			return nil, err
		}
		mad = append(mad, b...)
	}
	if crc := MADCRC(mad[1:]); crc != mad[0] {
		return nil, fmt.Errorf("%w: directory CRC %#02x, want %#02x", ErrNoNDEF, mad[0], crc)
	}

	var area []byte
	for s := 1; s <= dataSectors; s++ {
		if mad[2*s] != ndefAIDLow || mad[2*s+1] != ndefAIDHigh {
			continue
		}
		for i := range BlocksPerSector - 1 {
			b, err := store.ReadBlock(byte(s*BlocksPerSector + i))
			if err != nil {
				return nil, err
			}
			area = append(area, b...)
		}
	}

	payload, err := findNDEFTLV(area)
	if err != nil {
		return nil, err
	}
	msg := &ndef.Message{}
	if _, err := msg.Unmarshal(payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoNDEF, err)
	}
	return msg, nil
}

func findNDEFTLV(area []byte) ([]byte, error) {
	for i := 0; i < len(area); {
		t := area[i]
		switch t {
		case tlvNull:
			i++
			continue
		case tlvTerminator:
			return nil, ErrNoNDEF
		}
		if i+1 >= len(area) {
			break
		}
		n, hdr := int(area[i+1]), 2
		if n == tlvLongLength {
			if i+3 >= len(area) {
				break
			}
			n, hdr = int(area[i+2])<<8|int(area[i+3]), 4
		}
		start := i + hdr
		if start+n > len(area) {
			return nil, fmt.Errorf("%w: TLV length %d beyond data area", ErrNoNDEF, n)
		}
		if t == tlvNDEF {
			return area[start : start+n], nil
		}
		i = start + n
	}
	return nil, ErrNoNDEF
}
