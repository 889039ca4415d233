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

// Package spi finds front ends on SPI buses. SPI has no enumeration, so
// candidates come from a config file, the environment and /dev/spidev*.
package spi

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/ZaparooProject/go-iso14443a/detection"
	"github.com/ZaparooProject/go-iso14443a/transport/spi"
	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"
)

// Environment variables naming a single device.
const (
	EnvDevice    = "ISO14A_SPI_DEVICE"
	EnvFrequency = "ISO14A_SPI_HZ"
)

// Config represents SPI device configuration. Config files are YAML, which
// also accepts JSON.
type Config struct {
	// Additional metadata
	Metadata map[string]string `yaml:"metadata,omitempty"`
	// Device path (e.g., "/dev/spidev0.0")
	Device string `yaml:"device"`
	// Human-readable name
	Name string `yaml:"name,omitempty"`
	// Clock frequency in Hz, zero for the transport default
	Frequency int64 `yaml:"frequency_hz,omitempty"`
}

// detector implements the Detector interface for SPI devices
type detector struct {
	configPaths []string
	globDevices string
}

// New creates a new SPI detector
func New() detection.Detector {
	return &detector{
		configPaths: []string{
			"iso14a-spi.yaml",
			filepath.Join(os.Getenv("HOME"), ".config", "iso14a", "spi.yaml"),
			"/etc/iso14a/spi.yaml",
		},
		globDevices: "/dev/spidev*",
	}
}

// init registers the detector on package import
func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return "spi"
}

var probeFn = probeSPIDevice

// Detect probes every configured or discovered SPI device
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	configs := d.gatherConfigs()
	if len(configs) == 0 {
		return nil, detection.ErrNoDevicesFound
	}

	var devices []detection.DeviceInfo
	for _, config := range configs {
		if ctx.Err() != nil {
			return devices, detection.ErrDetectionTimeout
		}
		if detection.IsPathIgnored(config.Device, opts.IgnorePaths) {
			continue
		}

		device := createDeviceInfo(config)
		if opts.Mode != detection.Passive {
			probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			ok := probeFn(probeCtx, config, opts.Mode)
			cancel()
			if !ok {
				continue
			}
			device.Confidence = detection.High
		}
		devices = append(devices, device)
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// gatherConfigs collects SPI configurations from all sources
func (d *detector) gatherConfigs() []Config {
	var configs []Config
	configs = append(configs, d.loadConfigFile()...)
	if envConfig := loadEnvConfig(); envConfig != nil {
		configs = append(configs, *envConfig)
	}
	if runtime.GOOS == "linux" {
		configs = append(configs, d.detectLinuxSPIDevices()...)
	}
	return deduplicateConfigs(configs)
}

// createDeviceInfo creates a DeviceInfo from a Config
func createDeviceInfo(config Config) detection.DeviceInfo {
	device := detection.DeviceInfo{
		Transport:  "spi",
		Path:       config.Device,
		Name:       config.Name,
		Confidence: detection.Low,
		Metadata:   make(map[string]string),
	}
	for k, v := range config.Metadata {
		device.Metadata[k] = v
	}
	if config.Frequency > 0 {
		device.Metadata["frequency_hz"] = strconv.FormatInt(config.Frequency, 10)
	}
	if device.Name == "" {
		device.Name = "SPI device at " + config.Device
	}
	return device
}

// loadConfigFile loads configurations from the first readable config file.
// A file holds either a list or a single entry.
func (d *detector) loadConfigFile() []Config {
	for _, path := range d.configPaths {
		data, err := os.ReadFile(path) // #nosec G304 -- fixed search paths
		if err != nil {
			continue
		}
		configs, err := ParseConfigs(data)
		if err != nil {
			continue
		}
		return configs
	}
	return nil
}

// ParseConfigs decodes a config file.
func ParseConfigs(data []byte) ([]Config, error) {
	var configs []Config
	if err := yaml.Unmarshal(data, &configs); err == nil {
		return configs, nil
	}
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse SPI config: %w", err)
	}
	if config.Device == "" {
		return nil, errors.New("parse SPI config: missing device")
	}
	return []Config{config}, nil
}

// loadEnvConfig loads SPI configuration from environment variables
func loadEnvConfig() *Config {
	device := os.Getenv(EnvDevice)
	if device == "" {
		return nil
	}
	config := Config{
		Device: device,
		Name:   "SPI device from environment",
	}
	if hz, err := strconv.ParseInt(os.Getenv(EnvFrequency), 10, 64); err == nil && hz > 0 {
		config.Frequency = hz
	}
	return &config
}

// detectLinuxSPIDevices returns spidev character devices
func (d *detector) detectLinuxSPIDevices() []Config {
	matches, err := filepath.Glob(d.globDevices)
	if err != nil {
		return nil
	}
	var configs []Config
	for _, path := range matches {
		if _, err := os.Stat(path); err == nil {
			configs = append(configs, Config{
				Device: path,
				Name:   "SPI device " + filepath.Base(path),
			})
		}
	}
	return configs
}

// deduplicateConfigs removes duplicate SPI configurations
func deduplicateConfigs(configs []Config) []Config {
	seen := make(map[string]bool)
	var unique []Config
	for _, config := range configs {
		if !seen[config.Device] {
			seen[config.Device] = true
			unique = append(unique, config)
		}
	}
	return unique
}

// probeSPIDevice opens the device once and checks it answers
func probeSPIDevice(ctx context.Context, config Config, mode detection.Mode) bool {
	transport, err := spi.New(config.Device, physic.Frequency(config.Frequency)*physic.Hertz)
	if err != nil {
		return false
	}
	defer func() { _ = transport.Close() }()
	return detection.Probe(ctx, transport, mode)
}
