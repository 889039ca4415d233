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

// Package config loads the YAML configuration of the iso14a command.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Frontend  FrontendConfig  `yaml:"frontend"`
	Detection DetectionConfig `yaml:"detection"`
	Reader    ReaderConfig    `yaml:"reader"`
	Emulator  EmulatorConfig  `yaml:"emulator"`
	Monitor   MonitorConfig   `yaml:"monitor"`
}

// ---- FRONT END ----

// Transport names accepted by FrontendConfig.Transport.
const (
	TransportAuto = "auto"
	TransportUART = "uart"
	TransportSPI  = "spi"
	TransportUSB  = "usb"
)

type FrontendConfig struct {
	// Transport is auto, uart, spi or usb. Auto runs device detection.
	Transport      string `yaml:"transport"`
	Path           string `yaml:"path"`
	BaudRate       int    `yaml:"baud_rate"`
	FrequencyHz    int64  `yaml:"frequency_hz"`
	ReplyTimeoutMs int    `yaml:"reply_timeout_ms"`
}

// ReplyTimeout returns the per-request device reply timeout.
func (f FrontendConfig) ReplyTimeout() time.Duration {
	return time.Duration(f.ReplyTimeoutMs) * time.Millisecond
}

// ---- DETECTION ----

type DetectionConfig struct {
	// Mode is passive, safe or full.
	Mode      string `yaml:"mode"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// Timeout returns the detection timeout.
func (d DetectionConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutMs) * time.Millisecond
}

// ---- READER ----

type ReaderConfig struct {
	// TimeoutSlots is the receive budget in bit periods.
	TimeoutSlots   int `yaml:"timeout_slots"`
	FieldResetMs   int `yaml:"field_reset_ms"`
	TraceCapacity  int `yaml:"trace_capacity"`
	PowerUpDelayMs int `yaml:"power_up_delay_ms"`
}

// ---- EMULATOR ----

type EmulatorConfig struct {
	// Profile is the path of an emulator profile file.
	Profile string `yaml:"profile"`
}

// ---- MONITOR ----

type MonitorConfig struct {
	FrameBuffer    int `yaml:"frame_buffer"`
	MaxRestarts    int `yaml:"max_restarts"`
	RestartDelayMs int `yaml:"restart_delay_ms"`
}

// RestartDelay returns the pause before a failed front end is reopened.
func (m MonitorConfig) RestartDelay() time.Duration {
	return time.Duration(m.RestartDelayMs) * time.Millisecond
}

// Load reads path and decodes it strictly: unknown keys are an error.
// The result is neither validated nor normalized.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is chosen by the user
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document. An empty document yields a zero Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}
