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
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-iso14443a/codec"
	"github.com/ZaparooProject/go-iso14443a/trace"
)

// Short frames and anticollision commands.
const (
	CmdREQA      byte = 0x26
	CmdWUPA      byte = 0x52
	CmdSelectCL1 byte = 0x93
	CmdSelectCL2 byte = 0x95
	CmdSelectCL3 byte = 0x97
	CmdRATS      byte = 0xe0
	CmdHalt      byte = 0x50

	// CascadeTag prefixes an incomplete UID fragment.
	CascadeTag byte = 0x88

	selectAllNVB byte = 0x20
	selectNVB    byte = 0x70

	sakUIDIncomplete byte = 0x04
	sakISO14443_4    byte = 0x20

	// ratsParam asks for a 256 byte frame size and CID 0.
	ratsParam byte = 0x80
	// pcbIBlock is an ISO/IEC 14443-4 I-block with a CID byte.
	pcbIBlock byte = 0x0a

	maxCascadeLevels = 3
	// powerUpDelay lets a card boot after the field comes on.
	powerUpDelay = 7 * time.Millisecond
	// fieldResetDelay keeps the field off long enough to reset any card.
	fieldResetDelay = 200 * time.Millisecond
)

var cascadeLevels = [maxCascadeLevels]byte{CmdSelectCL1, CmdSelectCL2, CmdSelectCL3}

// CardSelection is the outcome of anticollision and selection.
type CardSelection struct {
	UID  []byte
	ATS  []byte
	ATQA [2]byte
	// CUID is the last four UID bytes transmitted in anticollision, used as
	// the MIFARE Classic cipher tweak.
	CUID uint32
	SAK  byte
	// Compliant reports ISO/IEC 14443-4 support (SAK bit 0x20). ATS is only
	// requested from compliant cards.
	Compliant bool
}

// String returns a human-readable summary of the selection.
func (s *CardSelection) String() string {
	return fmt.Sprintf("UID %s ATQA %02x%02x SAK %02x", hex.EncodeToString(s.UID), s.ATQA[0], s.ATQA[1], s.SAK)
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithTimeout sets the receive budget in slots.
func WithTimeout(slots int) ReaderOption {
	return func(r *Reader) {
		r.link.SetTimeout(slots)
	}
}

// WithTrace records into tr instead of a private trace.
func WithTrace(tr *trace.Trace) ReaderOption {
	return func(r *Reader) {
		r.link.trace = tr
	}
}

// WithFieldResetDelay sets how long the field stays off between key
// recovery attempts.
func WithFieldResetDelay(d time.Duration) ReaderOption {
	return func(r *Reader) {
		r.fieldResetDelay = d
	}
}

// WithPowerUpDelay sets how long the field is on before the first command.
func WithPowerUpDelay(d time.Duration) ReaderOption {
	return func(r *Reader) {
		r.powerUpDelay = d
	}
}

// WithReaderNonce overrides the source of reader nonces used in MIFARE
// authentication.
func WithReaderNonce(fn func() uint32) ReaderOption {
	return func(r *Reader) {
		r.nonce = fn
	}
}

// WithTriggerFunc sets the callback run before each reader frame while the
// trigger is armed by a request.
func WithTriggerFunc(fn func()) ReaderOption {
	return func(r *Reader) {
		r.triggerFn = fn
	}
}

// Reader drives a front end in the reader role.
type Reader struct {
	link            *Link
	nonce           func() uint32
	triggerFn       func()
	rx              []byte
	fieldResetDelay time.Duration
	powerUpDelay    time.Duration
	blockNumber     byte
}

// NewReader returns a reader on fe.
func NewReader(fe Frontend, opts ...ReaderOption) *Reader {
	r := &Reader{
		link:            NewLink(fe, nil),
		nonce:           randomNonce,
		rx:              make([]byte, MaxFrameSize),
		fieldResetDelay: fieldResetDelay,
		powerUpDelay:    powerUpDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Link exposes the transmit/receive layer for raw access.
func (r *Reader) Link() *Link {
	return r.link
}

// Trace returns the frame trace.
func (r *Reader) Trace() *trace.Trace {
	return r.link.Trace()
}

// SetTimeout sets the receive budget in slots; zero restores the default.
func (r *Reader) SetTimeout(slots int) {
	r.link.SetTimeout(slots)
}

// Timeout returns the receive budget in slots.
func (r *Reader) Timeout() int {
	return r.link.Timeout()
}

// Setup powers the field and waits for cards to boot.
func (r *Reader) Setup(ctx context.Context) error {
	if err := r.link.SetMode(ctx, ModeReaderMod); err != nil {
		return err
	}
	return r.link.Idle(ctx, SlotsFor(r.powerUpDelay))
}

// FieldOff switches the field off, deselecting any card.
func (r *Reader) FieldOff(ctx context.Context) error {
	return r.link.FieldOff(ctx)
}

// fieldReset turns the field off long enough for every card to lose power.
func (r *Reader) fieldReset(ctx context.Context) error {
	if err := r.link.FieldOff(ctx); err != nil {
		return err
	}
	if r.fieldResetDelay > 0 {
		select {
		case <-time.After(r.fieldResetDelay):
		case <-ctx.Done():
			return cancelled(ctx.Err())
		}
	}
	return r.Setup(ctx)
}

// exchange transmits a full frame with standard parity and returns a copy
// of the answer.
func (r *Reader) exchange(ctx context.Context, data []byte) ([]byte, error) {
	return r.exchangeParity(ctx, data, codec.Parity(data))
}

func (r *Reader) exchangeParity(ctx context.Context, data []byte, parity uint32) ([]byte, error) {
	if err := r.link.TransmitAsReader(ctx, data, parity); err != nil {
		return nil, err
	}
	return r.receive(ctx)
}

func (r *Reader) receive(ctx context.Context) ([]byte, error) {
	f, err := r.link.ReceiveAsReader(ctx, r.rx)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), f.Data...), nil
}

// Select wakes up a card, resolves its UID over up to three cascade levels
// and selects it. When wantedUID is not nil the selected card must carry
// that UID. ATS is requested only when the SAK announces ISO/IEC 14443-4.
func (r *Reader) Select(ctx context.Context, wantedUID []byte) (*CardSelection, error) {
	sel, err := r.selectCard(ctx, true)
	if err != nil {
		return nil, err
	}
	if wantedUID != nil && !bytes.Equal(wantedUID, sel.UID) {
		return nil, fmt.Errorf("%w: want %x, got %x", ErrUIDMismatch, wantedUID, sel.UID)
	}
	return sel, nil
}

func (r *Reader) selectCard(ctx context.Context, withATS bool) (*CardSelection, error) {
	if err := r.link.TransmitShortAsReader(ctx, CmdWUPA); err != nil {
		return nil, err
	}
	atqa, err := r.receive(ctx)
	if err != nil {
		return nil, noCard("ATQA", err)
	}
	if len(atqa) < 2 {
		return nil, fmt.Errorf("%w: ATQA of %d bytes", ErrProtocolViolation, len(atqa))
	}

	sel := &CardSelection{}
	copy(sel.ATQA[:], atqa)

	sak := sakUIDIncomplete
	for level := 0; sak&sakUIDIncomplete != 0; level++ {
		if level == maxCascadeLevels {
			return nil, fmt.Errorf("%w: UID not complete after %d cascade levels", ErrProtocolViolation, level)
		}
		cmd := cascadeLevels[level]

		uid, err := r.exchange(ctx, []byte{cmd, selectAllNVB})
		if err != nil {
			return nil, noCard("anticollision", err)
		}
		if len(uid) < 5 {
			return nil, fmt.Errorf("%w: anticollision answer of %d bytes", ErrProtocolViolation, len(uid))
		}
		uid = uid[:5]
		if uid[0]^uid[1]^uid[2]^uid[3] != uid[4] {
			return nil, fmt.Errorf("%w: BCC mismatch in %x", ErrProtocolViolation, uid)
		}
		sel.CUID = binary.BigEndian.Uint32(uid)

		selectCmd := codec.AppendCRC(append([]byte{cmd, selectNVB}, uid...))
		resp, err := r.exchange(ctx, selectCmd)
		if err != nil {
			return nil, noCard("select", err)
		}
		if len(resp) < 1 {
			return nil, fmt.Errorf("%w: empty SAK", ErrProtocolViolation)
		}
		sak = resp[0]

		if sak&sakUIDIncomplete != 0 && uid[0] == CascadeTag {
			sel.UID = append(sel.UID, uid[1:4]...)
		} else {
			sel.UID = append(sel.UID, uid[:4]...)
		}
	}
	sel.SAK = sak
	r.blockNumber = 0

	if sak&sakISO14443_4 == 0 {
		Debugf("card %x does not support ISO/IEC 14443-4 (SAK %02x)", sel.UID, sak)
		return sel, nil
	}
	sel.Compliant = true
	if !withATS {
		return sel, nil
	}

	ats, err := r.exchange(ctx, codec.AppendCRC([]byte{CmdRATS, ratsParam}))
	if err != nil {
		return nil, noCard("ATS", err)
	}
	sel.ATS = ats
	return sel, nil
}

// noCard maps a receive timeout during selection to ErrNoCard.
func noCard(stage string, err error) error {
	if errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: no %s: %w", ErrNoCard, stage, err)
	}
	return err
}

// TransceiveRaw sends data, optionally followed by its CRC, and returns the
// raw answer.
func (r *Reader) TransceiveRaw(ctx context.Context, data []byte, appendCRC bool) ([]byte, error) {
	frame := append([]byte(nil), data...)
	if appendCRC {
		frame = codec.AppendCRC(frame)
	}
	return r.exchange(ctx, frame)
}

// APDU wraps apdu in an ISO/IEC 14443-4 I-block, sends it and returns the
// information field of the answer.
func (r *Reader) APDU(ctx context.Context, apdu []byte) ([]byte, error) {
	frame := make([]byte, 0, len(apdu)+4)
	frame = append(frame, pcbIBlock|r.blockNumber, 0x00)
	frame = append(frame, apdu...)
	frame = codec.AppendCRC(frame)

	resp, err := r.exchange(ctx, frame)
	if err != nil {
		return nil, err
	}
	if !codec.CheckCRC(resp) {
		return nil, fmt.Errorf("APDU answer %x: %w", resp, ErrCRC)
	}
	r.blockNumber ^= 1

	inf := resp[1 : len(resp)-2]
	if resp[0]&0x08 != 0 && len(inf) > 0 {
		inf = inf[1:]
	}
	return inf, nil
}

func randomNonce() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0x55555555
	}
	return binary.BigEndian.Uint32(b[:])
}
