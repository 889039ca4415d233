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

package main

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	iso14443a "github.com/ZaparooProject/go-iso14443a"
	"github.com/spf13/cobra"
)

type readerFlags struct {
	raw       string
	apdu      string
	timeout   int
	noSelect  bool
	crc       bool
	keepField bool
	trigger   bool
	showTrace bool
}

func (f readerFlags) request() (iso14443a.Request, error) {
	var req iso14443a.Request
	if !f.noSelect {
		req.Flags |= iso14443a.FlagConnect
	}
	if f.keepField {
		req.Flags |= iso14443a.FlagNoDisconnect
	}
	if f.trigger {
		req.Flags |= iso14443a.FlagRequestTrigger
	}
	if f.timeout > 0 {
		req.Flags |= iso14443a.FlagSetTimeout
		req.Timeout = f.timeout
	}

	switch {
	case f.raw != "" && f.apdu != "":
		return req, fmt.Errorf("--raw and --apdu are mutually exclusive")
	case f.raw != "":
		data, err := parseHex(f.raw)
		if err != nil {
			return req, err
		}
		req.Flags |= iso14443a.FlagRaw
		if f.crc {
			req.Flags |= iso14443a.FlagAppendCRC
		}
		req.Data = data
	case f.apdu != "":
		data, err := parseHex(f.apdu)
		if err != nil {
			return req, err
		}
		req.Flags |= iso14443a.FlagAPDU
		req.Data = data
	}
	return req, nil
}

func newReaderCmd(a *app) *cobra.Command {
	var f readerFlags
	cmd := &cobra.Command{
		Use:   "reader",
		Short: "Select a card and exchange frames with it",
		Long: "Act as a reader: select the card in the field and optionally send a raw\n" +
			"frame or an ISO/IEC 14443-4 APDU. The field is switched off afterwards\n" +
			"unless --keep-field is given.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := f.request()
			if err != nil {
				return err
			}
			return a.withFrontend(cmd.Context(), func(fe iso14443a.Frontend) error {
				return a.runRequest(cmd, fe, req, f.showTrace)
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.raw, "raw", "", "raw frame to send, in hex")
	fl.StringVar(&f.apdu, "apdu", "", "APDU to send, in hex")
	fl.IntVar(&f.timeout, "timeout", 0, "receive timeout in bit periods")
	fl.BoolVar(&f.noSelect, "no-select", false, "do not select a card first")
	fl.BoolVar(&f.crc, "crc", false, "append CRC_A to the raw frame")
	fl.BoolVar(&f.keepField, "keep-field", false, "leave the field on afterwards")
	fl.BoolVar(&f.trigger, "trigger", false, "arm the transmit trigger")
	fl.BoolVar(&f.showTrace, "trace", false, "print the frame trace")

	cmd.AddCommand(newProbeCmd(a))
	return cmd
}

func (a *app) runRequest(cmd *cobra.Command, fe iso14443a.Frontend, req iso14443a.Request, showTrace bool) error {
	r := a.newReader(fe)
	ack := r.Handle(cmd.Context(), req)
	w := cmd.OutOrStdout()

	if ack.Selection != nil {
		_, _ = fmt.Fprintf(w, "Card: %s\n", ack.Selection)
		if len(ack.Selection.ATS) > 0 {
			_, _ = fmt.Fprintf(w, "ATS: %s\n", hex.EncodeToString(ack.Selection.ATS))
		}
		if !ack.Selection.Compliant {
			_, _ = fmt.Fprintln(w, "Card is not ISO/IEC 14443-4 compliant")
		}
	}
	if req.Flags&(iso14443a.FlagRaw|iso14443a.FlagAPDU) != 0 && ack.Err == nil {
		_, _ = fmt.Fprintf(w, "Answer (%d bytes): %s\n", ack.Status, hex.EncodeToString(ack.Data))
	}
	if showTrace {
		if err := printTrace(w, r.Trace()); err != nil {
			return err
		}
	}
	return ack.Err
}

func newProbeCmd(a *app) *cobra.Command {
	var skip string
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Collect MIFARE Classic key recovery data",
		Long: "Repeat authentication attempts with a zero reader nonce until the card's\n" +
			"parity and keystream answers for all eight nonce variants are known. The\n" +
			"card must hand out the same nonce after every field reset.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var known uint32
			if skip != "" {
				b, err := parseHex(skip)
				if err != nil {
					return err
				}
				if len(b) != 4 {
					return fmt.Errorf("--skip-nonce must be 4 bytes")
				}
				known = binary.BigEndian.Uint32(b)
			}
			return a.withFrontend(cmd.Context(), func(fe iso14443a.Frontend) error {
				return a.probe(cmd.Context(), cmd, fe, known)
			})
		},
	}
	cmd.Flags().StringVar(&skip, "skip-nonce", "", "card nonce to skip, in hex")
	return cmd
}

func (a *app) probe(ctx context.Context, cmd *cobra.Command, fe iso14443a.Frontend, known uint32) error {
	res, err := a.newReader(fe).KeyRecoveryProbe(ctx, known)
	if res != nil {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), res)
	}
	return err
}
