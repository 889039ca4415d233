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

package monitor

import (
	"time"

	iso14443a "github.com/ZaparooProject/go-iso14443a"
	"github.com/ZaparooProject/go-iso14443a/trace"
)

// Config holds monitor configuration options
type Config struct {
	// Reopen governs how a front end is (re)opened. Nil uses
	// iso14443a.DefaultRetryConfig.
	Reopen *iso14443a.RetryConfig

	// FrameBuffer is the capacity of the frame channel. Frames are dropped
	// and counted when the consumer falls behind.
	FrameBuffer int

	// TraceCapacity sizes the trace of every capture.
	TraceCapacity int

	// MaxRestarts caps how often a capture is restarted after the front end
	// failed. Zero never restarts, a negative value restarts forever.
	MaxRestarts int

	// RestartDelay is the pause before a failed front end is reopened.
	RestartDelay time.Duration
}

// DefaultConfig returns the default monitor configuration
func DefaultConfig() *Config {
	return &Config{
		Reopen:        iso14443a.DefaultRetryConfig(),
		FrameBuffer:   256,
		TraceCapacity: trace.DefaultCapacity,
		MaxRestarts:   3,
		RestartDelay:  500 * time.Millisecond,
	}
}

func (c *Config) normalize() *Config {
	def := DefaultConfig()
	if c == nil {
		return def
	}
	out := *c
	if out.Reopen == nil {
		out.Reopen = def.Reopen
	}
	if out.FrameBuffer <= 0 {
		out.FrameBuffer = def.FrameBuffer
	}
	if out.TraceCapacity <= 0 {
		out.TraceCapacity = def.TraceCapacity
	}
	return &out
}
