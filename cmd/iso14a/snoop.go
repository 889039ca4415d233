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
	"time"

	"github.com/ZaparooProject/go-iso14443a/monitor"
	"github.com/ZaparooProject/go-iso14443a/trace"
	"github.com/spf13/cobra"
)

func newSnoopCmd(a *app) *cobra.Command {
	var out string
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "snoop",
		Short: "Record a reader/tag conversation",
		Long: "Sniff both directions of a conversation between an external reader and a\n" +
			"card. Recording starts with the first card answer. Frames are printed as\n" +
			"they arrive; --out saves the raw trace when the capture ends.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			return a.snoop(ctx, cmd, out)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "save the raw trace to this file")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (default: until interrupted)")
	return cmd
}

func (a *app) snoop(ctx context.Context, cmd *cobra.Command, out string) error {
	m := monitor.New(a.opener(ctx), &monitor.Config{
		FrameBuffer:   a.cfg.Monitor.FrameBuffer,
		TraceCapacity: a.cfg.Reader.TraceCapacity,
		MaxRestarts:   a.cfg.Monitor.MaxRestarts,
		RestartDelay:  a.cfg.Monitor.RestartDelay(),
	})
	if err := m.Start(ctx); err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(w, "Sniffing. Press Ctrl+C to stop...")
	for f := range m.Frames() {
		_, _ = fmt.Fprintln(w, trace.Entry{
			Data:      f.Data,
			Timestamp: f.Timestamp,
			Parity:    f.Parity,
			Direction: f.Direction,
		})
	}
	<-m.Done()

	metrics := m.Metrics()
	_, _ = fmt.Fprintf(w, "%d frames, %d dropped, %d restarts\n", metrics.Frames, metrics.Dropped, metrics.Restarts)
	if err := saveTrace(out, m.Trace()); err != nil {
		return err
	}
	return m.Err()
}
