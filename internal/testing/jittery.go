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

package testing

import (
	"io"
	"math/rand/v2"
	"time"
)

// JitterConfig configures a JitteryConnection.
type JitterConfig struct {
	MaxLatency time.Duration
	Seed       uint64
	// FragmentReads returns replies in random chunks, the way USB serial
	// bridges split a burst of slot samples.
	FragmentReads bool
	// EmptyReads makes every other read return no data, like a serial port
	// whose read timeout expired before the device answered.
	EmptyReads bool
}

// JitteryConnection wraps an io.ReadWriter with read latency, fragmented
// delivery and empty reads. Reads are buffered so no data is lost.
type JitteryConnection struct {
	backend io.ReadWriter
	rng     *rand.Rand
	readBuf []byte
	config  JitterConfig
	reads   int
}

// NewJitteryConnection wraps backend.
func NewJitteryConnection(backend io.ReadWriter, config JitterConfig) *JitteryConnection {
	seed := config.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &JitteryConnection{
		backend: backend,
		config:  config,
		rng:     rand.New(rand.NewPCG(seed, seed^0x14443)), //nolint:gosec // Test code, not crypto
	}
}

// Write passes writes through unchanged.
func (j *JitteryConnection) Write(data []byte) (int, error) {
	return j.backend.Write(data) //nolint:wrapcheck // Pass-through wrapper
}

// Read returns buffered backend data with simulated jitter.
func (j *JitteryConnection) Read(buf []byte) (int, error) {
	j.reads++
	if j.config.MaxLatency > 0 {
		time.Sleep(time.Duration(j.rng.Int64N(int64(j.config.MaxLatency) + 1)))
	}
	if j.config.EmptyReads && j.reads%2 == 1 {
		return 0, nil
	}

	if len(j.readBuf) == 0 {
		tmp := make([]byte, 512)
		n, err := j.backend.Read(tmp)
		if err != nil || n == 0 {
			return 0, err //nolint:wrapcheck // Pass-through wrapper
		}
		j.readBuf = append(j.readBuf, tmp[:n]...)
	}

	n := min(len(j.readBuf), len(buf))
	if j.config.FragmentReads && n > 1 {
		n = 1 + j.rng.IntN(n)
	}
	copy(buf, j.readBuf[:n])
	j.readBuf = j.readBuf[n:]
	return n, nil
}
