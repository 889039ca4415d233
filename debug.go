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
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ZaparooProject/go-iso14443a/internal/syncutil"
)

// debugState holds the debug switches and sinks. Sample loops log from the
// goroutine that owns the front end while the CLI may open or close the
// session log, so access is serialised.
var debugState = struct {
	console io.Writer
	session io.Writer
	mu      syncutil.Mutex
	enabled bool
}{console: os.Stdout}

func init() {
	if os.Getenv("ISO14A_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		debugState.enabled = true
	}
}

// Debugf prints debug information.
// Always writes to the session log (if initialized) with a timestamp.
// Only prints to the console when debug mode is enabled.
func Debugf(format string, args ...any) {
	writeDebug(fmt.Sprintf(format, args...))
}

// Debugln prints debug information with operands formatted like fmt.Sprintln.
func Debugln(args ...any) {
	msg := fmt.Sprintln(args...)
	writeDebug(msg[:len(msg)-1])
}

func writeDebug(message string) {
	debugState.mu.Lock()
	defer debugState.mu.Unlock()

	if debugState.session != nil {
		timestamp := time.Now().Format("15:04:05.000")
		_, _ = fmt.Fprintf(debugState.session, "%s DEBUG: %s\n", timestamp, message)
	}
	if debugState.enabled && debugState.console != nil {
		_, _ = fmt.Fprintf(debugState.console, "DEBUG: %s\n", message)
	}
}

// SetDebugEnabled allows programmatic control of console debug output
func SetDebugEnabled(enabled bool) {
	debugState.mu.Lock()
	debugState.enabled = enabled
	debugState.mu.Unlock()
}

// SetDebugOutput redirects console debug output; nil silences it.
func SetDebugOutput(w io.Writer) {
	debugState.mu.Lock()
	debugState.console = w
	debugState.mu.Unlock()
}
