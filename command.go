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
	"fmt"
	"strings"
)

// Flag selects the steps of a host Request.
type Flag uint8

const (
	// FlagConnect powers the field and selects a card.
	FlagConnect Flag = 1 << iota
	// FlagNoDisconnect keeps the field on after the request.
	FlagNoDisconnect
	// FlagAPDU sends Data as an ISO/IEC 14443-4 APDU.
	FlagAPDU
	// FlagRaw sends Data as a raw frame.
	FlagRaw
	// FlagRequestTrigger arms the transmit trigger for the request.
	FlagRequestTrigger
	// FlagAppendCRC appends CRC_A to a raw frame.
	FlagAppendCRC
	// FlagSetTimeout applies Timeout before any exchange.
	FlagSetTimeout
)

var flagNames = []string{"connect", "no-disconnect", "apdu", "raw", "trigger", "crc", "timeout"}

func (f Flag) String() string {
	var parts []string
	for i, name := range flagNames {
		if f&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Connect status values reported in Ack.Status.
const (
	ConnectFailed       = 0
	ConnectCompliant    = 1
	ConnectNonCompliant = 2
)

// Request is one host command.
type Request struct {
	Data    []byte
	Flags   Flag
	Timeout int
}

// Ack answers a Request. For a connect-only request Status is one of the
// Connect constants; for raw and APDU requests it is the answer length.
type Ack struct {
	Err       error
	Selection *CardSelection
	Data      []byte
	Status    int
}

// Handle runs a host request: trigger, connect, timeout, APDU or raw
// exchange, then field off unless FlagNoDisconnect is set. The first
// failing step ends the request and is reported in Ack.Err.
func (r *Reader) Handle(ctx context.Context, req Request) Ack {
	var ack Ack
	ack.Err = r.handle(ctx, req, &ack)

	r.link.SetTrigger(false, nil)
	if req.Flags&FlagNoDisconnect == 0 {
		if err := r.link.FieldOff(context.WithoutCancel(ctx)); err != nil && ack.Err == nil {
			ack.Err = err
		}
	}
	if ack.Err != nil {
		Debugf("request %s failed: %v", req.Flags, ack.Err)
	}
	return ack
}

func (r *Reader) handle(ctx context.Context, req Request, ack *Ack) error {
	if req.Flags&FlagRequestTrigger != 0 {
		r.link.SetTrigger(true, r.triggerFn)
	}

	if req.Flags&FlagConnect != 0 {
		r.link.Trace().Clear()
		if err := r.Setup(ctx); err != nil {
			return err
		}
		sel, err := r.Select(ctx, nil)
		if err != nil {
			ack.Status = ConnectFailed
			return fmt.Errorf("connect: %w", err)
		}
		ack.Selection = sel
		if sel.Compliant {
			ack.Status = ConnectCompliant
		} else {
			ack.Status = ConnectNonCompliant
		}
	}

	if req.Flags&FlagSetTimeout != 0 {
		r.SetTimeout(req.Timeout)
	}

	if req.Flags&FlagAPDU != 0 {
		if ack.Selection != nil && !ack.Selection.Compliant {
			return fmt.Errorf("apdu: %w", ErrNonCompliantTag)
		}
		data, err := r.APDU(ctx, req.Data)
		if err != nil {
			return fmt.Errorf("apdu: %w", err)
		}
		ack.Data = data
		ack.Status = len(data)
	}

	if req.Flags&FlagRaw != 0 {
		data, err := r.TransceiveRaw(ctx, req.Data, req.Flags&FlagAppendCRC != 0)
		if err != nil {
			return fmt.Errorf("raw: %w", err)
		}
		ack.Data = data
		ack.Status = len(data)
	}
	return nil
}
