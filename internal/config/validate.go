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

package config

import (
	"fmt"

	"github.com/ZaparooProject/go-iso14443a/detection"
)

// maxTimeoutSlots bounds the reader receive budget to roughly one second.
const maxTimeoutSlots = 106_000

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	// ------------------------------------------------------------
	// FRONT END
	// ------------------------------------------------------------

	f := cfg.Frontend
	switch f.Transport {
	case "", TransportAuto, TransportUSB:
	case TransportUART, TransportSPI:
		if f.Path == "" {
			return fmt.Errorf("frontend: transport %q requires a path", f.Transport)
		}
	default:
		return fmt.Errorf("frontend: unknown transport %q", f.Transport)
	}
	if f.BaudRate < 0 {
		return fmt.Errorf("frontend: baud_rate must not be negative")
	}
	if f.FrequencyHz < 0 {
		return fmt.Errorf("frontend: frequency_hz must not be negative")
	}
	if f.ReplyTimeoutMs < 0 {
		return fmt.Errorf("frontend: reply_timeout_ms must not be negative")
	}
	if f.BaudRate != 0 && f.Transport != TransportUART {
		return fmt.Errorf("frontend: baud_rate only applies to the uart transport")
	}
	if f.FrequencyHz != 0 && f.Transport != TransportSPI {
		return fmt.Errorf("frontend: frequency_hz only applies to the spi transport")
	}

	// ------------------------------------------------------------
	// DETECTION
	// ------------------------------------------------------------

	if cfg.Detection.Mode != "" {
		if _, err := detection.ParseMode(cfg.Detection.Mode); err != nil {
			return fmt.Errorf("detection: %w", err)
		}
	}
	if cfg.Detection.TimeoutMs < 0 {
		return fmt.Errorf("detection: timeout_ms must not be negative")
	}

	// ------------------------------------------------------------
	// READER
	// ------------------------------------------------------------

	r := cfg.Reader
	if r.TimeoutSlots < 0 || r.TimeoutSlots > maxTimeoutSlots {
		return fmt.Errorf("reader: timeout_slots must be between 0 and %d", maxTimeoutSlots)
	}
	if r.FieldResetMs < 0 || r.PowerUpDelayMs < 0 {
		return fmt.Errorf("reader: delays must not be negative")
	}
	if r.TraceCapacity < 0 {
		return fmt.Errorf("reader: trace_capacity must not be negative")
	}

	// ------------------------------------------------------------
	// MONITOR
	// ------------------------------------------------------------

	if cfg.Monitor.FrameBuffer < 0 {
		return fmt.Errorf("monitor: frame_buffer must not be negative")
	}
	if cfg.Monitor.RestartDelayMs < 0 {
		return fmt.Errorf("monitor: restart_delay_ms must not be negative")
	}
	return nil
}
