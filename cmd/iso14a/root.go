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
	"fmt"

	iso14443a "github.com/ZaparooProject/go-iso14443a"
	"github.com/ZaparooProject/go-iso14443a/internal/config"
	"github.com/spf13/cobra"
)

// globalFlags are the persistent flags shared by every subcommand. Set
// flags override the configuration file.
type globalFlags struct {
	configPath string
	transport  string
	device     string
	sessionLog string
	debug      bool
}

// app is the state prepared by the root command before a subcommand runs.
type app struct {
	cfg   *config.Config
	flags globalFlags
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "iso14a",
		Short: "ISO/IEC 14443 Type A sniffer, reader and card emulator",
		Long: "iso14a drives a sampling radio front end over UART, SPI or USB. It records\n" +
			"reader/tag conversations, acts as a reader, reads and writes MIFARE Classic\n" +
			"cards and emulates a MIFARE Classic 1K card.",
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.prepare(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return iso14443a.CloseSessionLog()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.flags.configPath, "config", "c", "", "YAML configuration file")
	pf.StringVarP(&a.flags.transport, "transport", "t", "", "front end transport: auto, uart, spi or usb")
	pf.StringVarP(&a.flags.device, "device", "d", "", "front end device path")
	pf.StringVar(&a.flags.sessionLog, "session-log", "", "write a debug session log into this directory")
	pf.BoolVar(&a.flags.debug, "debug", false, "enable debug output")

	root.AddCommand(
		newSnoopCmd(a),
		newReaderCmd(a),
		newMifareCmd(a),
		newSimCmd(a),
		newDetectCmd(a),
		newStressCmd(a),
	)
	return root
}

// prepare loads the configuration, applies flag overrides and sets up
// logging.
func (a *app) prepare(cmd *cobra.Command) error {
	cfg := &config.Config{}
	if a.flags.configPath != "" {
		loaded, err := config.Load(a.flags.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if a.flags.transport != "" {
		cfg.Frontend.Transport = a.flags.transport
	}
	if a.flags.device != "" {
		cfg.Frontend.Path = a.flags.device
		if cfg.Frontend.Transport == "" {
			cfg.Frontend.Transport = guessTransport(a.flags.device)
		}
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	config.Normalize(cfg)
	a.cfg = cfg

	if a.flags.debug {
		iso14443a.SetDebugEnabled(true)
	}
	if a.flags.sessionLog != "" {
		path, err := iso14443a.InitSessionLog(a.flags.sessionLog)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Session log: %s\n", path)
	}
	return nil
}
