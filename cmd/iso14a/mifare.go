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
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"

	iso14443a "github.com/ZaparooProject/go-iso14443a"
	"github.com/spf13/cobra"
)

const (
	classicBlocks   = 64
	blocksPerSector = 4
)

type keyFlags struct {
	key  string
	useB bool
}

func (k *keyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&k.key, "key", "k", hex.EncodeToString(iso14443a.DefaultKey), "sector key, 6 bytes hex")
	cmd.Flags().BoolVarP(&k.useB, "key-b", "b", false, "authenticate with key B")
}

func (k *keyFlags) parse() (uint64, iso14443a.KeyType, error) {
	raw, err := parseHex(k.key)
	if err != nil {
		return 0, 0, err
	}
	key, err := iso14443a.KeyFromBytes(raw)
	if err != nil {
		return 0, 0, err
	}
	if k.useB {
		return key, iso14443a.KeyB, nil
	}
	return key, iso14443a.KeyA, nil
}

func parseBlock(s string) (byte, error) {
	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil || n >= classicBlocks {
		return 0, fmt.Errorf("%w: %q", iso14443a.ErrInvalidBlock, s)
	}
	return byte(n), nil
}

func newMifareCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mifare",
		Short: "Read and write MIFARE Classic 1K cards",
	}
	cmd.AddCommand(newMifareReadCmd(a), newMifareWriteCmd(a), newMifareDumpCmd(a))
	return cmd
}

func newMifareReadCmd(a *app) *cobra.Command {
	var k keyFlags
	cmd := &cobra.Command{
		Use:   "read BLOCK",
		Short: "Read one block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			block, err := parseBlock(args[0])
			if err != nil {
				return err
			}
			key, keyType, err := k.parse()
			if err != nil {
				return err
			}
			return a.withSession(cmd.Context(), block, keyType, key, func(s *iso14443a.MifareSession) error {
				data, err := s.ReadBlock(cmd.Context(), block)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%2d: %s\n", block, hex.EncodeToString(data))
				return nil
			})
		},
	}
	k.register(cmd)
	return cmd
}

func newMifareWriteCmd(a *app) *cobra.Command {
	var k keyFlags
	cmd := &cobra.Command{
		Use:   "write BLOCK DATA",
		Short: "Write one 16 byte block",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			block, err := parseBlock(args[0])
			if err != nil {
				return err
			}
			if block == 0 {
				return fmt.Errorf("%w: block 0 holds the manufacturer data", iso14443a.ErrInvalidBlock)
			}
			data, err := parseHex(args[1])
			if err != nil {
				return err
			}
			key, keyType, err := k.parse()
			if err != nil {
				return err
			}
			return a.withSession(cmd.Context(), block, keyType, key, func(s *iso14443a.MifareSession) error {
				if err := s.WriteBlock(cmd.Context(), block, data); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote block %d\n", block)
				return nil
			})
		},
	}
	k.register(cmd)
	return cmd
}

func newMifareDumpCmd(a *app) *cobra.Command {
	var k keyFlags
	var out string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Read every sector the key opens",
		Long: "Read all 16 sectors. Sectors the key does not open are reported and left\n" +
			"zero in the dump file, which the sim command loads as a card image.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, keyType, err := k.parse()
			if err != nil {
				return err
			}
			return a.withFrontend(cmd.Context(), func(fe iso14443a.Frontend) error {
				image, err := a.dump(cmd.Context(), cmd.OutOrStdout(), fe, keyType, key)
				if err != nil {
					return err
				}
				if out == "" {
					return nil
				}
				if err := os.WriteFile(out, image, 0o600); err != nil {
					return fmt.Errorf("failed to save dump: %w", err)
				}
				return nil
			})
		},
	}
	k.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "save the card image to this file")
	return cmd
}

// withSession selects the card, authenticates for block and runs fn. The
// card is halted and the field switched off afterwards.
func (a *app) withSession(
	ctx context.Context, block byte, keyType iso14443a.KeyType, key uint64, fn func(*iso14443a.MifareSession) error,
) error {
	return a.withFrontend(ctx, func(fe iso14443a.Frontend) error {
		r := a.newReader(fe)
		defer func() {
			_ = r.FieldOff(context.WithoutCancel(ctx))
		}()
		if err := r.Setup(ctx); err != nil {
			return err
		}
		sel, err := r.Select(ctx, nil)
		if err != nil {
			return err
		}
		s, err := r.Authenticate(ctx, sel, block, keyType, key)
		if err != nil {
			return err
		}
		if err := fn(s); err != nil {
			return err
		}
		return s.Halt(ctx)
	})
}

// dump reads the card sector by sector. Later sectors authenticate nested
// inside the running session; a failed authentication leaves the card idle,
// so the next sector starts with a fresh selection.
func (a *app) dump(
	ctx context.Context, w io.Writer, fe iso14443a.Frontend, keyType iso14443a.KeyType, key uint64,
) ([]byte, error) {
	r := a.newReader(fe)
	defer func() {
		_ = r.FieldOff(context.WithoutCancel(ctx))
	}()
	if err := r.Setup(ctx); err != nil {
		return nil, err
	}

	image := make([]byte, classicBlocks*iso14443a.MifareBlockSize)
	read := 0
	var s *iso14443a.MifareSession
	for sector := range classicBlocks / blocksPerSector {
		first := byte(sector * blocksPerSector)
		var err error
		s, err = openSector(ctx, r, s, first, keyType, key)
		if err != nil {
			if iso14443a.IsCancelled(err) || iso14443a.IsFatal(err) {
				return nil, err
			}
			_, _ = fmt.Fprintf(w, "sector %2d: %v\n", sector, err)
			continue
		}
		for b := first; b < first+blocksPerSector; b++ {
			data, err := s.ReadBlock(ctx, b)
			if err != nil {
				_, _ = fmt.Fprintf(w, "%2d: %v\n", b, err)
				s = nil
				break
			}
			copy(image[int(b)*iso14443a.MifareBlockSize:], data)
			read++
			_, _ = fmt.Fprintf(w, "%2d: %s\n", b, hex.EncodeToString(data))
		}
	}
	if read == 0 {
		return nil, fmt.Errorf("%w: no sector could be read", iso14443a.ErrAuthFailed)
	}
	if s != nil {
		_ = s.Halt(ctx)
	}
	return image, nil
}

// openSector authenticates for first. Without a live session the card is
// selected again. A nil session is returned on failure.
func openSector(
	ctx context.Context, r *iso14443a.Reader, s *iso14443a.MifareSession,
	first byte, keyType iso14443a.KeyType, key uint64,
) (*iso14443a.MifareSession, error) {
	if s != nil {
		if err := s.Authenticate(ctx, first, keyType, key); err != nil {
			return nil, err
		}
		return s, nil
	}
	sel, err := r.Select(ctx, nil)
	if err != nil {
		return nil, err
	}
	return r.Authenticate(ctx, sel, first, keyType, key)
}
