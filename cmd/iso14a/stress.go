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
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	iso14443a "github.com/ZaparooProject/go-iso14443a"
	"github.com/spf13/cobra"
)

// StressTestResult holds the outcome of a stress run against one card.
type StressTestResult struct {
	UID       string
	CrashFile string
	Passed    int
	Failed    int
	Duration  time.Duration
}

// CrashReport contains all information for debugging a failed round.
type CrashReport struct {
	Timestamp    time.Time  `json:"timestamp"`
	CardUID      string     `json:"card_uid"`
	Operation    string     `json:"operation"`
	Error        string     `json:"error"`
	ExpectedHex  string     `json:"expected_hex,omitempty"`
	ActualHex    string     `json:"actual_hex,omitempty"`
	Trace        []string   `json:"trace,omitempty"`
	OperationLog []LogEntry `json:"operation_log"`
	Round        int        `json:"round"`
	Block        int        `json:"block"`
}

// LogEntry represents a single operation in the log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	DataHex   string    `json:"data_hex,omitempty"`
	Error     string    `json:"error,omitempty"`
	Success   bool      `json:"success"`
}

type stressRun struct {
	reader   *iso14443a.Reader
	keyType  iso14443a.KeyType
	crashDir string
	log      []LogEntry
	key      uint64
	block    byte
}

func (s *stressRun) record(op string, data []byte, err error) {
	e := LogEntry{Timestamp: time.Now(), Operation: op, Success: err == nil}
	if len(data) > 0 {
		e.DataHex = hex.EncodeToString(data)
	}
	if err != nil {
		e.Error = err.Error()
	}
	s.log = append(s.log, e)
}

func newStressCmd(a *app) *cobra.Command {
	var k keyFlags
	var rounds int
	var blockArg, crashDir string
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Repeatedly write, verify and restore a MIFARE Classic block",
		Long: "Run select, authenticate, write, read back and restore rounds against the\n" +
			"card in the field. A failed round writes a JSON crash report with the\n" +
			"operation log and the frame trace.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			block, err := parseBlock(blockArg)
			if err != nil {
				return err
			}
			if block == 0 || block%blocksPerSector == blocksPerSector-1 {
				return fmt.Errorf("%w: block %d is not a data block", iso14443a.ErrInvalidBlock, block)
			}
			key, keyType, err := k.parse()
			if err != nil {
				return err
			}
			return a.withFrontend(cmd.Context(), func(fe iso14443a.Frontend) error {
				run := &stressRun{
					reader:   a.newReader(fe),
					key:      key,
					keyType:  keyType,
					block:    block,
					crashDir: crashDir,
				}
				res, err := run.run(cmd.Context(), cmd.OutOrStdout(), rounds)
				printStressSummary(cmd.OutOrStdout(), res)
				if err != nil {
					return err
				}
				if res.Failed > 0 {
					return fmt.Errorf("%d of %d rounds failed", res.Failed, res.Passed+res.Failed)
				}
				return nil
			})
		},
	}
	k.register(cmd)
	cmd.Flags().IntVarP(&rounds, "rounds", "n", 10, "number of rounds")
	cmd.Flags().StringVar(&blockArg, "block", "4", "data block to exercise")
	cmd.Flags().StringVar(&crashDir, "crash-dir", ".", "directory for crash reports")
	return cmd
}

func (s *stressRun) run(ctx context.Context, w io.Writer, rounds int) (*StressTestResult, error) {
	res := &StressTestResult{}
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		_ = s.reader.FieldOff(context.WithoutCancel(ctx))
	}()
	if err := s.reader.Setup(ctx); err != nil {
		return res, err
	}

	for round := 1; round <= rounds; round++ {
		s.log = s.log[:0]
		op, expected, actual, err := s.round(ctx, res)
		if err == nil {
			res.Passed++
			_, _ = fmt.Fprintf(w, "  round %d: PASS\n", round)
			continue
		}
		if iso14443a.IsCancelled(err) || iso14443a.IsFatal(err) {
			return res, err
		}
		res.Failed++
		_, _ = fmt.Fprintf(w, "  round %d: FAIL %s: %v\n", round, op, err)
		if rerr := s.resetField(ctx); rerr != nil {
			return res, rerr
		}

		report := s.crashReport(res.UID, round, op, err, expected, actual)
		path, werr := writeCrashReport(s.crashDir, report)
		if werr != nil {
			_, _ = fmt.Fprintf(w, "  %v\n", werr)
			continue
		}
		res.CrashFile = path
		_, _ = fmt.Fprintf(w, "  crash report: %s\n", path)
	}
	return res, nil
}

// round runs one select, authenticate, write, verify and restore cycle. On
// failure it names the failing operation and, for a mismatch, the data.
func (s *stressRun) round(ctx context.Context, res *StressTestResult) (op string, expected, actual []byte, err error) {
	sel, err := s.reader.Select(ctx, nil)
	s.record("select", nil, err)
	if err != nil {
		return "select", nil, nil, err
	}
	res.UID = hex.EncodeToString(sel.UID)

	sess, err := s.reader.Authenticate(ctx, sel, s.block, s.keyType, s.key)
	s.record("authenticate", nil, err)
	if err != nil {
		return "authenticate", nil, nil, err
	}

	original, err := sess.ReadBlock(ctx, s.block)
	s.record("read original", original, err)
	if err != nil {
		return "read original", nil, nil, err
	}

	pattern := make([]byte, iso14443a.MifareBlockSize)
	_, _ = rand.Read(pattern)
	err = sess.WriteBlock(ctx, s.block, pattern)
	s.record("write", pattern, err)
	if err != nil {
		return "write", pattern, nil, err
	}

	back, err := sess.ReadBlock(ctx, s.block)
	s.record("read back", back, err)
	if err != nil {
		return "read back", pattern, nil, err
	}
	if !bytes.Equal(back, pattern) {
		return "verify", pattern, back, fmt.Errorf("block %d does not hold the written data", s.block)
	}

	err = sess.WriteBlock(ctx, s.block, original)
	s.record("restore", original, err)
	if err != nil {
		return "restore", original, nil, err
	}
	err = sess.Halt(ctx)
	s.record("halt", nil, err)
	if err != nil {
		return "halt", nil, nil, err
	}
	return "", nil, nil, nil
}

// resetField power cycles the card so the next round starts from idle.
func (s *stressRun) resetField(ctx context.Context) error {
	if err := s.reader.FieldOff(ctx); err != nil {
		return err
	}
	return s.reader.Setup(ctx)
}

func (s *stressRun) crashReport(uid string, round int, op string, err error, expected, actual []byte) *CrashReport {
	report := &CrashReport{
		Timestamp:    time.Now(),
		CardUID:      uid,
		Operation:    op,
		Error:        err.Error(),
		OperationLog: append([]LogEntry(nil), s.log...),
		Round:        round,
		Block:        int(s.block),
	}
	if len(expected) > 0 {
		report.ExpectedHex = hex.EncodeToString(expected)
	}
	if len(actual) > 0 {
		report.ActualHex = hex.EncodeToString(actual)
	}
	if entries, terr := s.reader.Trace().Entries(); terr == nil {
		for _, e := range entries {
			report.Trace = append(report.Trace, e.String())
		}
	}
	return report
}

func writeCrashReport(dir string, report *CrashReport) (string, error) {
	uid := report.CardUID
	if uid == "" {
		uid = "unknown"
	}
	name := fmt.Sprintf("stress_crash_%s_%s_r%d.json", uid, report.Timestamp.Format("20060102_150405"), report.Round)
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal crash report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write crash report: %w", err)
	}
	return path, nil
}

func printStressSummary(w io.Writer, res *StressTestResult) {
	if res == nil {
		return
	}
	status := "PASS"
	if res.Failed > 0 {
		status = "FAIL"
	}
	_, _ = fmt.Fprintf(w, "\n[%s] %s - %d/%d rounds passed - %s\n",
		status, res.UID, res.Passed, res.Passed+res.Failed, res.Duration.Round(time.Millisecond))
}
