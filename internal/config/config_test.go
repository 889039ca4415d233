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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
frontend:
  transport: uart
  path: /dev/ttyACM0
  baud_rate: 460800
detection:
  mode: passive
reader:
  timeout_slots: 4096
emulator:
  profile: card.yaml
monitor:
  max_restarts: 5
`

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "iso14a.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	assert.Equal(t, TransportUART, cfg.Frontend.Transport)
	assert.Equal(t, "/dev/ttyACM0", cfg.Frontend.Path)
	assert.Equal(t, 460800, cfg.Frontend.BaudRate)
	assert.Equal(t, "passive", cfg.Detection.Mode)
	assert.Equal(t, 4096, cfg.Reader.TimeoutSlots)
	assert.Equal(t, "card.yaml", cfg.Emulator.Profile)
	assert.Equal(t, 5, cfg.Monitor.MaxRestarts)
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Parse([]byte("frontend:\n  transprt: uart\n"))
	require.Error(t, err, "unknown keys are rejected")

	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, &Config{}, cfg)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mutate  func(*Config)
		name    string
		wantErr string
	}{
		{name: "empty", mutate: func(*Config) {}},
		{name: "usb without path", mutate: func(c *Config) { c.Frontend.Transport = TransportUSB }},
		{
			name:    "unknown transport",
			mutate:  func(c *Config) { c.Frontend.Transport = "i2c" },
			wantErr: `unknown transport "i2c"`,
		},
		{
			name:    "uart without path",
			mutate:  func(c *Config) { c.Frontend.Transport = TransportUART },
			wantErr: "requires a path",
		},
		{
			name: "baud rate on spi",
			mutate: func(c *Config) {
				c.Frontend = FrontendConfig{Transport: TransportSPI, Path: "/dev/spidev0.0", BaudRate: 9600}
			},
			wantErr: "baud_rate only applies",
		},
		{
			name: "frequency on uart",
			mutate: func(c *Config) {
				c.Frontend = FrontendConfig{Transport: TransportUART, Path: "/dev/ttyUSB0", FrequencyHz: 1}
			},
			wantErr: "frequency_hz only applies",
		},
		{
			name:    "detection mode",
			mutate:  func(c *Config) { c.Detection.Mode = "aggressive" },
			wantErr: "unknown detection mode",
		},
		{
			name:    "reader timeout",
			mutate:  func(c *Config) { c.Reader.TimeoutSlots = maxTimeoutSlots + 1 },
			wantErr: "timeout_slots",
		},
		{
			name:    "negative delay",
			mutate:  func(c *Config) { c.Reader.FieldResetMs = -1 },
			wantErr: "delays",
		},
		{
			name:    "negative frame buffer",
			mutate:  func(c *Config) { c.Monitor.FrameBuffer = -1 },
			wantErr: "frame_buffer",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{}
			tt.mutate(cfg)
			before := *cfg

			err := Validate(cfg)
			assert.Equal(t, before, *cfg, "Validate must not mutate")
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
	require.Error(t, Validate(nil))
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	Normalize(cfg)
	assert.Equal(t, TransportAuto, cfg.Frontend.Transport)
	assert.Equal(t, 250*time.Millisecond, cfg.Frontend.ReplyTimeout())
	assert.Equal(t, "safe", cfg.Detection.Mode)
	assert.Equal(t, 5*time.Second, cfg.Detection.Timeout())
	assert.Equal(t, 2048, cfg.Reader.TimeoutSlots)
	assert.Equal(t, 256, cfg.Monitor.FrameBuffer)
	assert.Equal(t, 500*time.Millisecond, cfg.Monitor.RestartDelay())

	uart := &Config{Frontend: FrontendConfig{Transport: TransportUART, Path: "/dev/ttyUSB0"}}
	Normalize(uart)
	assert.Equal(t, 921600, uart.Frontend.BaudRate)
	assert.Zero(t, uart.Frontend.FrequencyHz)

	spi := &Config{Frontend: FrontendConfig{Transport: TransportSPI, Path: "/dev/spidev0.0"}}
	Normalize(spi)
	assert.Equal(t, int64(4_000_000), spi.Frontend.FrequencyHz)

	kept := &Config{Reader: ReaderConfig{TimeoutSlots: 100}}
	Normalize(kept)
	assert.Equal(t, 100, kept.Reader.TimeoutSlots)

	Normalize(nil)
}
