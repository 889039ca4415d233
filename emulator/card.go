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
	"encoding/binary"
	"fmt"
	"math/rand/v2"

	iso14443a "github.com/ZaparooProject/go-iso14443a"
	"github.com/ZaparooProject/go-iso14443a/codec"
	"github.com/ZaparooProject/go-iso14443a/crypto1"
)

// State is the protocol state of an emulated card.
type State int

const (
	StateNoField State = iota
	StateIdle
	StateHalted
	StateSelect1
	StateSelect2
	StateAuth1
	StateAuth2
	StateWork
	StateWriteBlock2
	StateIncrementValue
	StateDecrementValue
	StateRestoreValue
)

var stateNames = [...]string{
	"NoField", "Idle", "Halted", "Select1", "Select2", "Auth1", "Auth2",
	"Work", "WriteBlock2", "IncrementValue", "DecrementValue", "RestoreValue",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// ResponseKind says how a Response is framed on air.
type ResponseKind int

const (
	// ResponseNone means the card stays silent.
	ResponseNone ResponseKind = iota
	// ResponseFrame is a full byte frame.
	ResponseFrame
	// Response4Bit is an ACK or NACK nibble.
	Response4Bit
)

// Response is the card's answer to one reader frame.
type Response struct {
	Data   []byte
	Parity uint32
	Kind   ResponseKind
	// Correction forces the one bit period answer delay.
	Correction bool
}

// Pattern encodes the response for transmission. It is nil for
// ResponseNone.
func (r Response) Pattern() codec.Pattern {
	switch r.Kind {
	case ResponseFrame:
		return codec.EncodeTagFrame(r.Data, r.Parity)
	case Response4Bit:
		return codec.EncodeTag4Bit(r.Data[0])
	default:
		return nil
	}
}

func frame(data []byte) Response {
	return Response{Kind: ResponseFrame, Data: data, Parity: codec.Parity(data)}
}

// CardOption configures a Card.
type CardOption func(*Card)

// WithNonce sets the generator of card nonces.
func WithNonce(fn func() uint32) CardOption {
	return func(c *Card) {
		c.nonceFn = fn
	}
}

// WithFixedNonce makes every authentication use the same card nonce.
func WithFixedNonce(nt uint32) CardOption {
	return WithNonce(func() uint32 { return nt })
}

// Card is the MIFARE Classic 1K command state machine. It is driven by
// decoded reader frames and is not safe for concurrent use.
type Card struct {
	store   Storage
	cipher  *crypto1.State
	nonceFn func() uint32
	uid     []byte
	cl1     [5]byte
	cl2     [5]byte
	atqa    [2]byte
	sak1    byte

	state      State
	cuid       uint32
	nonce      uint32
	authSector int
	authKey    iso14443a.KeyType
	pendingSec int
	block      byte
	valueReg   int32
	valueAddr  byte
	hasValue   bool
}

// NewCard returns a card backed by store, taking its UID from block 0.
// The card starts without field.
func NewCard(store Storage, opts ...CardOption) (*Card, error) {
	b0, err := store.ReadBlock(0)
	if err != nil {
		return nil, fmt.Errorf("read manufacturer block: %w", err)
	}
	c := &Card{
		store:   store,
		uid:     UIDFromBlock0(b0),
		nonceFn: rand.Uint32,
	}
	for _, opt := range opts {
		opt(c)
	}

	u := c.uid
	if len(u) == 7 {
		c.atqa = [2]byte{0x44, 0x00}
		c.sak1 = sakCascade
		c.cl1 = [5]byte{iso14443a.CascadeTag, u[0], u[1], u[2]}
		c.cl2 = [5]byte{u[3], u[4], u[5], u[6]}
		c.cl2[4] = bcc(c.cl2[:4])
	} else {
		c.atqa = [2]byte{0x04, 0x00}
		c.sak1 = sakComplete
		copy(c.cl1[:], u)
	}
	c.cl1[4] = bcc(c.cl1[:4])
	return c, nil
}

const (
	sakComplete = 0x08
	sakCascade  = 0x04
)

func bcc(b []byte) byte {
	return b[0] ^ b[1] ^ b[2] ^ b[3]
}

// UID returns the card UID.
func (c *Card) UID() []byte {
	return append([]byte(nil), c.uid...)
}

// State returns the current protocol state.
func (c *Card) State() State {
	return c.state
}

// FieldDetected powers the card up.
func (c *Card) FieldDetected() {
	if c.state == StateNoField {
		c.toIdle()
	}
}

// FieldLost drops all session state.
func (c *Card) FieldLost() {
	c.toIdle()
	c.state = StateNoField
}

func (c *Card) toIdle() {
	c.state = StateIdle
	c.cipher = nil
	c.hasValue = false
}

// Handle runs one reader frame through the state machine. The frame is
// not modified. A frame may be handled by more than one state when a
// transition asks for it; the last non-silent answer wins.
func (c *Card) Handle(cmd []byte) Response {
	var resp Response
	for range len(stateNames) {
		r, again := c.step(cmd)
		if r.Kind != ResponseNone {
			resp = r
		}
		if !again {
			break
		}
	}
	return resp
}

func (c *Card) step(cmd []byte) (Response, bool) {
	if c.state == StateNoField || len(cmd) == 0 {
		return Response{}, false
	}

	if len(cmd) == 1 && (cmd[0] == iso14443a.CmdWUPA || (cmd[0] == iso14443a.CmdREQA && c.state != StateHalted)) {
		c.toIdle()
		c.state = StateSelect1
		atqa := c.atqa
		return Response{
			Kind:       ResponseFrame,
			Data:       atqa[:],
			Parity:     codec.Parity(atqa[:]),
			Correction: cmd[0] == iso14443a.CmdWUPA,
		}, false
	}

	switch c.state {
	case StateSelect1:
		return c.selectLevel(cmd, iso14443a.CmdSelectCL1, c.cl1[:])
	case StateSelect2:
		return c.selectLevel(cmd, iso14443a.CmdSelectCL2, c.cl2[:])
	case StateAuth1:
		return c.auth1(cmd), true
	case StateAuth2:
		c.state = StateWork
		c.authSector = c.pendingSec
		return Response{}, false
	case StateWork:
		if c.cipher == nil {
			return c.workPlain(cmd), false
		}
		return c.work(cmd), false
	case StateWriteBlock2:
		return c.writeData(cmd), false
	case StateIncrementValue, StateDecrementValue, StateRestoreValue:
		return c.valueOperand(cmd), false
	default:
		return Response{}, false
	}
}

func (c *Card) selectLevel(cmd []byte, level byte, answer []byte) (Response, bool) {
	switch {
	case len(cmd) == 2 && cmd[0] == level && cmd[1] == 0x20:
		return frame(append([]byte(nil), answer...)), false
	case len(cmd) == 9 && cmd[0] == level && cmd[1] == 0x70 && codec.CheckCRC(cmd) &&
		string(cmd[2:7]) == string(answer):
		c.cuid = binary.BigEndian.Uint32(answer)
		sak := byte(sakComplete)
		c.state = StateWork
		if level == iso14443a.CmdSelectCL1 && c.sak1 == sakCascade {
			sak = sakCascade
			c.state = StateSelect2
		}
		return frame(codec.AppendCRC([]byte{sak})), false
	case c.state == StateSelect2 && len(cmd) == 4:
		// A reader that skips the second cascade level goes straight on.
		c.state = StateWork
		return Response{}, true
	default:
		return Response{}, false
	}
}

// workPlain handles the commands accepted before authentication. Anything
// else is dropped silently.
func (c *Card) workPlain(cmd []byte) Response {
	if len(cmd) != 4 || !codec.CheckCRC(cmd) {
		return Response{}
	}
	switch iso14443a.KeyType(cmd[0]) {
	case iso14443a.KeyA, iso14443a.KeyB:
		nt, ok := c.startAuth(cmd)
		if !ok {
			return Response{}
		}
		c.cipher.Word(c.cuid^nt, false)
		b := binary.BigEndian.AppendUint32(nil, nt)
		return frame(b)
	}
	if cmd[0] == iso14443a.CmdHalt && cmd[1] == 0x00 {
		c.toIdle()
		c.state = StateHalted
	}
	return Response{}
}

// startAuth loads the sector key into a fresh cipher and returns the card
// nonce. The caller feeds uid^nonce into the cipher, plain for a first
// authentication and as keystream for a nested one.
func (c *Card) startAuth(cmd []byte) (uint32, bool) {
	block := cmd[1]
	if int(block) >= Blocks {
		return 0, false
	}
	keyType := iso14443a.KeyType(cmd[0])
	key, err := c.store.SectorKey(SectorOf(block), keyType)
	if err != nil {
		iso14443a.Debugf("emulator: no key %s for block %d: %v", keyType, block, err)
		return 0, false
	}

	c.nonce = c.nonceFn()
	c.pendingSec = SectorOf(block)
	c.authKey = keyType
	c.cipher = crypto1.New(key)
	c.state = StateAuth1
	iso14443a.Debugf("emulator: auth block %d key %s nt %08x", block, keyType, c.nonce)
	return c.nonce, true
}

// auth1 checks the reader's encrypted nonce and answer.
func (c *Card) auth1(cmd []byte) Response {
	if len(cmd) != 8 {
		c.toIdle()
		return Response{}
	}
	c.cipher.Word(binary.BigEndian.Uint32(cmd), true)
	ar := binary.BigEndian.Uint32(cmd[4:]) ^ c.cipher.Word(0, false)
	if ar != crypto1.PRNGSuccessor(c.nonce, 64) {
		iso14443a.Debugf("emulator: auth failed, reader answer %08x", ar)
		c.toIdle()
		return Response{}
	}

	at := binary.BigEndian.AppendUint32(nil, crypto1.PRNGSuccessor(c.nonce, 96))
	parity := c.cipher.Encrypt(at)
	c.state = StateAuth2
	return Response{Kind: ResponseFrame, Data: at, Parity: parity}
}

func (c *Card) ack() Response {
	return Response{Kind: Response4Bit, Data: []byte{c.cipher.Encrypt4Bit(iso14443a.MifareACK)}}
}

func (c *Card) nack() Response {
	return Response{Kind: Response4Bit, Data: []byte{c.cipher.Encrypt4Bit(iso14443a.MifareNACK)}}
}

// inSector reports whether block is addressable in the authenticated
// sector.
func (c *Card) inSector(block byte) bool {
	return int(block) < Blocks && SectorOf(block) == c.authSector
}

// work handles an encrypted command.
func (c *Card) work(enc []byte) Response {
	if len(enc) == 1 {
		switch c.cipher.Decrypt4Bit(enc[0] & 0x0f) {
		case iso14443a.MifareACK:
			return c.nack()
		case iso14443a.MifareNACK:
			return c.ack()
		default:
			return Response{}
		}
	}

	cmd := append([]byte(nil), enc...)
	c.cipher.Decrypt(cmd)
	if len(cmd) != 4 || !codec.CheckCRC(cmd) {
		return c.nack()
	}
	block := cmd[1]

	switch cmd[0] {
	case byte(iso14443a.KeyA), byte(iso14443a.KeyB):
		return c.nestedAuth(cmd)
	case iso14443a.MifareCmdRead:
		if !c.inSector(block) {
			return c.nack()
		}
		data, err := c.store.ReadBlock(block)
		if err != nil {
			return c.nack()
		}
		data = codec.AppendCRC(data)
		parity := c.cipher.Encrypt(data)
		return Response{Kind: ResponseFrame, Data: data, Parity: parity}
	case iso14443a.MifareCmdWrite:
		if !c.inSector(block) {
			return c.nack()
		}
		c.block = block
		c.state = StateWriteBlock2
		return c.ack()
	case iso14443a.MifareCmdInc, iso14443a.MifareCmdDec, iso14443a.MifareCmdRestore:
		return c.valueCommand(cmd[0], block)
	case iso14443a.MifareCmdTransfer:
		if !c.inSector(block) || !c.hasValue {
			return c.nack()
		}
		if err := c.store.WriteBlock(block, EncodeValueBlock(c.valueReg, c.valueAddr)); err != nil {
			return c.nack()
		}
		return c.ack()
	case iso14443a.CmdHalt:
		if block == 0x00 {
			c.toIdle()
			c.state = StateHalted
			return Response{}
		}
	}
	return c.nack()
}

// nestedAuth restarts authentication inside a session. The nonce goes out
// encrypted under the new key.
func (c *Card) nestedAuth(cmd []byte) Response {
	nt, ok := c.startAuth(cmd)
	if !ok {
		return c.nack()
	}
	ks := c.cipher.Word(c.cuid^nt, false)
	b := binary.BigEndian.AppendUint32(nil, nt^ks)
	return frame(b)
}

func (c *Card) valueCommand(op, block byte) Response {
	if !c.inSector(block) {
		return c.nack()
	}
	raw, err := c.store.ReadBlock(block)
	if err != nil {
		return c.nack()
	}
	if _, _, err := DecodeValueBlock(raw); err != nil {
		return c.nack()
	}
	c.block = block
	switch op {
	case iso14443a.MifareCmdInc:
		c.state = StateIncrementValue
	case iso14443a.MifareCmdDec:
		c.state = StateDecrementValue
	default:
		c.state = StateRestoreValue
	}
	return c.ack()
}

// valueOperand applies the operand frame of a value command. The card does
// not answer a good operand.
func (c *Card) valueOperand(enc []byte) Response {
	op := c.state
	data := append([]byte(nil), enc...)
	c.cipher.Decrypt(data)
	if len(data) != 6 || !codec.CheckCRC(data) {
		resp := c.nack()
		c.toIdle()
		return resp
	}

	value, addr, err := c.valueBlock(c.block)
	if err != nil {
		resp := c.nack()
		c.toIdle()
		return resp
	}
	operand := int32(binary.LittleEndian.Uint32(data))
	switch op {
	case StateIncrementValue:
		value += operand
	case StateDecrementValue:
		value -= operand
	default:
	}
	c.valueReg, c.valueAddr, c.hasValue = value, addr, true
	c.state = StateWork
	return Response{}
}

func (c *Card) valueBlock(n byte) (int32, byte, error) {
	raw, err := c.store.ReadBlock(n)
	if err != nil {
		return 0, 0, err
	}
	return DecodeValueBlock(raw)
}

// writeData commits the data frame following WRITE.
func (c *Card) writeData(enc []byte) Response {
	if len(enc) != BlockSize+2 {
		c.toIdle()
		return Response{}
	}
	data := append([]byte(nil), enc...)
	c.cipher.Decrypt(data)
	c.state = StateWork
	if !codec.CheckCRC(data) {
		return c.nack()
	}
	if err := c.store.WriteBlock(c.block, data[:BlockSize]); err != nil {
		return c.nack()
	}
	return c.ack()
}
