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
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ZaparooProject/go-iso14443a/trace"
)

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// parseHex accepts hex with optional spaces, colons or a 0x prefix.
func parseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	s = strings.NewReplacer(" ", "", ":", "", "-", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return b, nil
}

func printTrace(w io.Writer, tr *trace.Trace) error {
	entries, err := tr.Entries()
	if err != nil {
		return fmt.Errorf("failed to decode trace: %w", err)
	}
	for _, e := range entries {
		_, _ = fmt.Fprintln(w, e)
	}
	if n := tr.Dropped(); n > 0 {
		_, _ = fmt.Fprintf(w, "(%d frames dropped, trace full)\n", n)
	}
	return nil
}

// saveTrace writes the raw trace buffer to path. An empty path is a no-op.
func saveTrace(path string, tr *trace.Trace) error {
	if path == "" || tr == nil {
		return nil
	}
	if err := os.WriteFile(path, tr.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to save trace: %w", err)
	}
	return nil
}
