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

package iso14443a

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-iso14443a/codec"
	"github.com/ZaparooProject/go-iso14443a/crypto1"
)

// KeyType selects which sector key an authentication uses. The values are
// the authentication command codes.
type KeyType byte

const (
	KeyA KeyType = 0x60
	KeyB KeyType = 0x61
)

func (k KeyType) String() string {
	switch k {
	case KeyA:
		return "A"
	case KeyB:
		return "B"
	default:
		return fmt.Sprintf("KeyType(%#02x)", byte(k))
	}
}

// MIFARE Classic commands and four bit answers.
const (
	MifareCmdRead     byte = 0x30
	MifareCmdWrite    byte = 0xa0
	MifareCmdDec      byte = 0xc0
	MifareCmdInc      byte = 0xc1
	MifareCmdRestore  byte = 0xc2
	MifareCmdTransfer byte = 0xb0

	MifareACK  byte = 0x0a
	MifareNACK byte = 0x04

	// MifareBlockSize is the size of one data block.
	MifareBlockSize = 16
	// MifareKeySize is the size of a sector key.
	MifareKeySize = 6
)

var (
	// DefaultKey is the transport key of blank cards.
	DefaultKey = []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	// MADKey is the public key A of the MIFARE Application Directory sector.
	MADKey = []byte{0xa0, 0xa1, 0xa2, 0xa3, 0xa4, 0xa5}
	// NDEFKey is the public key A of NDEF formatted sectors.
	NDEFKey = []byte{0xd3, 0xf7, 0xd3, 0xf7, 0xd3, 0xf7}
)

// KeyFromBytes packs a six byte key into the 48 bit value the cipher loads.
func KeyFromBytes(key []byte) (uint64, error) {
	if len(key) != MifareKeySize {
		return 0, fmt.Errorf("key must be %d bytes, got %d", MifareKeySize, len(key))
	}
	var k uint64
	for _, b := range key {
		k = k<<8 | uint64(b)
	}
	return k, nil
}

// MifareSession is an authenticated MIFARE Classic session. All frames in
// it are encrypted, including parity bits.
type MifareSession struct {
	reader *Reader
	cipher *crypto1.State
	uid    uint32
}

// Authenticate runs the three pass authentication for block with the given
// key against a card selected with sel.
func (r *Reader) Authenticate(
	ctx context.Context, sel *CardSelection, block byte, keyType KeyType, key uint64,
) (*MifareSession, error) {
	s := &MifareSession{reader: r, uid: sel.CUID}
	if err := s.authenticate(ctx, block, keyType, key); err != nil {
		return nil, err
	}
	return s, nil
}

// Authenticate re-authenticates inside the running session. The card
// answers with an encrypted nonce.
func (s *MifareSession) Authenticate(ctx context.Context, block byte, keyType KeyType, key uint64) error {
	return s.authenticate(ctx, block, keyType, key)
}

func (s *MifareSession) authenticate(ctx context.Context, block byte, keyType KeyType, key uint64) error {
	r := s.reader
	nested := s.cipher != nil

	var answer []byte
	var err error
	cmd := codec.AppendCRC([]byte{byte(keyType), block})
	if nested {
		// The nonce comes back under the new key, not the session keystream.
		parity := s.cipher.Encrypt(cmd)
		answer, err = r.exchangeParity(ctx, cmd, parity)
	} else {
		answer, err = r.exchange(ctx, cmd)
	}
	if err != nil {
		return fmt.Errorf("auth block %d: %w", block, err)
	}
	if len(answer) != 4 {
		return fmt.Errorf("%w: card nonce of %d bytes", ErrAuthFailed, len(answer))
	}

	cipher := crypto1.New(key)
	received := binary.BigEndian.Uint32(answer)
	var nt uint32
	if nested {
		nt = cipher.Word(received^s.uid, true) ^ received
	} else {
		nt = received
		cipher.Word(s.uid^nt, false)
	}
	Debugf("auth block %d key %s: nt %08x nested %v", block, keyType, nt, nested)

	nr := make([]byte, 4)
	binary.BigEndian.PutUint32(nr, r.nonce())

	frame := make([]byte, 8)
	var parity uint32
	for i, b := range nr {
		frame[i] = cipher.Byte(b, false) ^ b
		parity |= (cipher.Filter() ^ uint32(codec.OddParity(b))) & 1 << i
	}
	ar := make([]byte, 4)
	binary.BigEndian.PutUint32(ar, crypto1.PRNGSuccessor(nt, 64))
	copy(frame[4:], ar)
	parity |= cipher.Encrypt(frame[4:]) << 4

	at, err := r.exchangeParity(ctx, frame, parity)
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			return fmt.Errorf("%w: no card answer to block %d key %s", ErrAuthFailed, block, keyType)
		}
		return err
	}
	if len(at) != 4 {
		return fmt.Errorf("%w: card answer of %d bytes", ErrAuthFailed, len(at))
	}
	if binary.BigEndian.Uint32(at)^cipher.Word(0, false) != crypto1.PRNGSuccessor(nt, 96) {
		return fmt.Errorf("%w: card answer %x does not match", ErrAuthFailed, at)
	}

	s.cipher = cipher
	return nil
}

// transceive encrypts data and returns the decrypted answer. Four bit
// answers come back as a single byte.
func (s *MifareSession) transceive(ctx context.Context, data []byte) ([]byte, error) {
	frame := append([]byte(nil), data...)
	parity := s.cipher.Encrypt(frame)
	answer, err := s.reader.exchangeParity(ctx, frame, parity)
	if err != nil {
		return nil, err
	}
	s.cipher.Decrypt(answer)
	return answer, nil
}

// command sends a two byte command and expects an ACK.
func (s *MifareSession) command(ctx context.Context, cmd, block byte) error {
	answer, err := s.transceive(ctx, codec.AppendCRC([]byte{cmd, block}))
	if err != nil {
		return fmt.Errorf("command %#02x block %d: %w", cmd, block, err)
	}
	return checkACK(answer)
}

func checkACK(answer []byte) error {
	if len(answer) != 1 {
		return fmt.Errorf("%w: %x is not a four bit answer", ErrProtocolViolation, answer)
	}
	if answer[0] != MifareACK {
		return fmt.Errorf("%w: %#x", ErrNACK, answer[0])
	}
	return nil
}

// ReadBlock reads one 16 byte block.
func (s *MifareSession) ReadBlock(ctx context.Context, block byte) ([]byte, error) {
	answer, err := s.transceive(ctx, codec.AppendCRC([]byte{MifareCmdRead, block}))
	if err != nil {
		return nil, fmt.Errorf("read block %d: %w", block, err)
	}
	if len(answer) == 1 {
		return nil, fmt.Errorf("read block %d: %w: %#x", block, ErrNACK, answer[0])
	}
	if len(answer) != MifareBlockSize+2 || !codec.CheckCRC(answer) {
		return nil, fmt.Errorf("read block %d: %w", block, ErrCRC)
	}
	return answer[:MifareBlockSize], nil
}

// WriteBlock writes one 16 byte block.
func (s *MifareSession) WriteBlock(ctx context.Context, block byte, data []byte) error {
	if len(data) != MifareBlockSize {
		return fmt.Errorf("%w: block data must be %d bytes", ErrInvalidBlock, MifareBlockSize)
	}
	if err := s.command(ctx, MifareCmdWrite, block); err != nil {
		return err
	}
	answer, err := s.transceive(ctx, codec.AppendCRC(append([]byte(nil), data...)))
	if err != nil {
		return fmt.Errorf("write block %d data: %w", block, err)
	}
	return checkACK(answer)
}

// Increment adds delta to the value block into the transfer buffer. The
// card does not answer the operand frame, so the call waits out the
// timeout.
func (s *MifareSession) Increment(ctx context.Context, block byte, delta uint32) error {
	return s.valueOp(ctx, MifareCmdInc, block, delta)
}

// Decrement subtracts delta from the value block into the transfer buffer.
func (s *MifareSession) Decrement(ctx context.Context, block byte, delta uint32) error {
	return s.valueOp(ctx, MifareCmdDec, block, delta)
}

// Restore copies the value block into the transfer buffer.
func (s *MifareSession) Restore(ctx context.Context, block byte) error {
	return s.valueOp(ctx, MifareCmdRestore, block, 0)
}

// Transfer writes the transfer buffer into block.
func (s *MifareSession) Transfer(ctx context.Context, block byte) error {
	return s.command(ctx, MifareCmdTransfer, block)
}

func (s *MifareSession) valueOp(ctx context.Context, cmd, block byte, operand uint32) error {
	if err := s.command(ctx, cmd, block); err != nil {
		return err
	}
	frame := binary.LittleEndian.AppendUint32(nil, operand)
	answer, err := s.transceive(ctx, codec.AppendCRC(frame))
	switch {
	case errors.Is(err, ErrTimeout):
		return nil
	case err != nil:
		return fmt.Errorf("value operand block %d: %w", block, err)
	default:
		return checkACK(answer)
	}
}

// Halt sends an encrypted HALT. A silent card is the expected outcome.
func (s *MifareSession) Halt(ctx context.Context) error {
	_, err := s.transceive(ctx, codec.AppendCRC([]byte{CmdHalt, 0x00}))
	s.cipher.Reset()
	if err == nil {
		return fmt.Errorf("%w: card answered HALT", ErrProtocolViolation)
	}
	if errors.Is(err, ErrTimeout) {
		return nil
	}
	return err
}
