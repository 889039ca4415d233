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
	iso14443a "github.com/ZaparooProject/go-iso14443a"
	"github.com/ZaparooProject/go-iso14443a/detection"
	"github.com/ZaparooProject/go-iso14443a/internal/frame"
	"github.com/ZaparooProject/go-iso14443a/monitor"
	"github.com/ZaparooProject/go-iso14443a/trace"
	"github.com/ZaparooProject/go-iso14443a/transport/spi"
	"github.com/ZaparooProject/go-iso14443a/transport/uart"
	"periph.io/x/conn/v3/physic"
)

// Normalize fills unset values with their defaults.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	f := &cfg.Frontend
	if f.Transport == "" {
		f.Transport = TransportAuto
	}
	if f.Transport == TransportUART && f.BaudRate == 0 {
		f.BaudRate = uart.DefaultBaudRate
	}
	if f.Transport == TransportSPI && f.FrequencyHz == 0 {
		f.FrequencyHz = int64(spi.DefaultFrequency / physic.Hertz)
	}
	if f.ReplyTimeoutMs == 0 {
		f.ReplyTimeoutMs = int(frame.DefaultReplyTimeout.Milliseconds())
	}

	if cfg.Detection.Mode == "" {
		cfg.Detection.Mode = detection.Safe.String()
	}
	if cfg.Detection.TimeoutMs == 0 {
		cfg.Detection.TimeoutMs = int(detection.DefaultOptions().Timeout.Milliseconds())
	}

	if cfg.Reader.TimeoutSlots == 0 {
		cfg.Reader.TimeoutSlots = iso14443a.DefaultTimeout
	}
	if cfg.Reader.TraceCapacity == 0 {
		cfg.Reader.TraceCapacity = trace.DefaultCapacity
	}

	def := monitor.DefaultConfig()
	if cfg.Monitor.FrameBuffer == 0 {
		cfg.Monitor.FrameBuffer = def.FrameBuffer
	}
	if cfg.Monitor.RestartDelayMs == 0 {
		cfg.Monitor.RestartDelayMs = int(def.RestartDelay.Milliseconds())
	}
}
