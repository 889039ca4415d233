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
	"fmt"
	"os"

	iso14443a "github.com/ZaparooProject/go-iso14443a"
	"github.com/ZaparooProject/go-iso14443a/emulator"
	"github.com/ZaparooProject/go-iso14443a/trace"
	"github.com/spf13/cobra"
)

type simFlags struct {
	profile   string
	uid       string
	dump      string
	text      string
	out       string
	dumpOut   string
	showTrace bool
}

// loadProfile picks the profile file from the flag or the configuration
// and lets the remaining flags override it.
func (f simFlags) loadProfile(a *app) (*emulator.Profile, error) {
	path := f.profile
	if path == "" {
		path = a.cfg.Emulator.Profile
	}
	p := &emulator.Profile{}
	if path != "" {
		loaded, err := emulator.LoadProfile(path)
		if err != nil {
			return nil, err
		}
		p = loaded
	}
	if f.uid != "" {
		p.UID = f.uid
	}
	if f.dump != "" {
		p.Dump = f.dump
	}
	if f.text != "" {
		p.NDEFText = f.text
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func newSimCmd(a *app) *cobra.Command {
	var f simFlags
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Emulate a MIFARE Classic 1K card",
		Long: "Emulate a MIFARE Classic 1K card in front of an external reader until\n" +
			"interrupted. The card image comes from a profile, a dump file or a blank\n" +
			"card with the given UID.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := f.loadProfile(a)
			if err != nil {
				return err
			}
			return a.withFrontend(cmd.Context(), func(fe iso14443a.Frontend) error {
				return a.simulate(cmd.Context(), cmd, fe, p, f)
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.profile, "profile", "p", "", "emulator profile file")
	fl.StringVar(&f.uid, "uid", "", "card UID, 4 or 7 bytes hex")
	fl.StringVar(&f.dump, "dump", "", "card image to load")
	fl.StringVar(&f.text, "text", "", "NDEF text record to provision")
	fl.StringVarP(&f.out, "out", "o", "", "save the raw trace to this file")
	fl.StringVar(&f.dumpOut, "save-image", "", "save the card image to this file on exit")
	fl.BoolVar(&f.showTrace, "trace", false, "print the frame trace on exit")
	return cmd
}

func (a *app) simulate(ctx context.Context, cmd *cobra.Command, fe iso14443a.Frontend, p *emulator.Profile, f simFlags) error {
	card, mem, err := p.Build()
	if err != nil {
		return err
	}
	opts := append(p.Options(), emulator.WithTrace(trace.New(a.cfg.Reader.TraceCapacity)))
	e := emulator.New(fe, card, opts...)

	w := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(w, "Emulating card %x. Press Ctrl+C to stop...\n", mem.UID())
	runErr := e.Run(ctx)

	if f.showTrace {
		if err := printTrace(w, e.Trace()); err != nil {
			return err
		}
	}
	if err := saveTrace(f.out, e.Trace()); err != nil {
		return err
	}
	if f.dumpOut != "" {
		if err := saveImage(f.dumpOut, mem); err != nil {
			return err
		}
	}
	return runErr
}

func saveImage(path string, mem *emulator.Memory) (err error) {
	file, err := os.Create(path) //nolint:gosec // path is chosen by the user
	if err != nil {
		return fmt.Errorf("failed to save card image: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to save card image: %w", cerr)
		}
	}()
	return mem.Dump(file)
}
