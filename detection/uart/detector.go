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

// Package uart finds front ends behind serial ports.
package uart

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ZaparooProject/go-iso14443a/detection"
	"github.com/ZaparooProject/go-iso14443a/transport/uart"
	"go.bug.st/serial/enumerator"
)

// detector implements the Detector interface for UART devices.
type detector struct{}

// New creates a new UART detector
func New() detection.Detector {
	return &detector{}
}

// init registers the detector on package import
func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return "uart"
}

var (
	listPortsFn   = enumerator.GetDetailedPortsList
	probeDeviceFn = probeDevice
)

// serialPort represents a serial port with metadata
type serialPort struct {
	Path         string
	Name         string
	VIDPID       string
	Product      string
	SerialNumber string
}

// Detect searches for front ends on serial ports
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	ports, err := enumeratePorts()
	if err != nil {
		return nil, err
	}

	devices := d.processPortsToDevices(ctx, d.filterPorts(ports, opts), opts)
	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// enumeratePorts gets the list of available serial ports
func enumeratePorts() ([]serialPort, error) {
	details, err := listPortsFn()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	if len(details) == 0 {
		return nil, detection.ErrNoDevicesFound
	}

	ports := make([]serialPort, 0, len(details))
	for _, p := range details {
		port := serialPort{
			Path:         p.Name,
			Name:         filepath.Base(p.Name),
			Product:      p.Product,
			SerialNumber: p.SerialNumber,
		}
		if p.IsUSB && p.VID != "" && p.PID != "" {
			port.VIDPID = strings.ToUpper(p.VID + ":" + p.PID)
		}
		ports = append(ports, port)
	}
	return ports, nil
}

// filterPorts removes blocked and ignored devices from the port list
func (*detector) filterPorts(ports []serialPort, opts *detection.Options) []serialPort {
	var filtered []serialPort
	for i := range ports {
		port := &ports[i]
		if port.VIDPID != "" && detection.IsBlocked(port.VIDPID, opts.Blocklist) {
			continue
		}
		if detection.IsPathIgnored(port.Path, opts.IgnorePaths) {
			continue
		}
		if matchesGoodPatterns(port) || isLikelyFrontend(port) {
			filtered = append(filtered, *port)
		}
	}
	return filtered
}

// matchesGoodPatterns checks if the port looks like a USB serial bridge
func matchesGoodPatterns(port *serialPort) bool {
	goodPatterns := []string{
		"ttyusb",         // Linux USB serial
		"ttyacm",         // Linux CDC ACM
		"usbserial",      // FTDI and similar USB-serial adapters
		"slab_usbtouart", // Silicon Labs CP210x
		"usbmodem",       // CDC ACM on macOS
	}

	lowerPath := strings.ToLower(port.Path)
	for _, pattern := range goodPatterns {
		if strings.Contains(lowerPath, pattern) {
			return true
		}
	}
	return false
}

// isLikelyFrontend checks descriptors for a known bridge or product name
func isLikelyFrontend(port *serialPort) bool {
	knownBridges := []string{
		"0403:6001", // FTDI FT232R
		"0403:6014", // FTDI FT232H
		"10C4:EA60", // Silicon Labs CP210x
		"1A86:7523", // QinHeng CH340
		"1D50:6089", // native USB front end in CDC mode
	}
	upperVIDPID := strings.ToUpper(port.VIDPID)
	for _, known := range knownBridges {
		if upperVIDPID == known {
			return true
		}
	}

	lowerProduct := strings.ToLower(port.Product)
	for _, keyword := range []string{"14443", "nfc", "rfid", "13.56"} {
		if strings.Contains(lowerProduct, keyword) {
			return true
		}
	}
	return false
}

// processPortsToDevices converts ports to device infos with probing
func (d *detector) processPortsToDevices(ctx context.Context, ports []serialPort,
	opts *detection.Options,
) []detection.DeviceInfo {
	var devices []detection.DeviceInfo
	for i := range ports {
		if ctx.Err() != nil {
			return devices
		}
		if device, ok := d.processPort(ctx, &ports[i], opts); ok {
			devices = append(devices, device)
		}
	}
	return devices
}

// processPort handles a single port's detection logic
func (*detector) processPort(ctx context.Context, port *serialPort,
	opts *detection.Options,
) (detection.DeviceInfo, bool) {
	confidence := detection.Low
	if isLikelyFrontend(port) {
		confidence = detection.Medium
	}
	if opts.Mode == detection.Passive && confidence == detection.Low {
		return detection.DeviceInfo{}, false
	}

	device := createDeviceInfo(port, confidence)
	if opts.Mode == detection.Passive {
		return device, true
	}

	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if !probeDeviceFn(probeCtx, port.Path, opts.Mode) {
		// A bridge chip alone proves nothing; only an answering device counts.
		return detection.DeviceInfo{}, false
	}
	device.Confidence = detection.High
	return device, true
}

// createDeviceInfo builds a DeviceInfo struct from port data
func createDeviceInfo(port *serialPort, confidence detection.Confidence) detection.DeviceInfo {
	device := detection.DeviceInfo{
		Transport:  "uart",
		Path:       port.Path,
		Name:       port.Name,
		Confidence: confidence,
		Metadata:   make(map[string]string),
	}
	if port.VIDPID != "" {
		device.Metadata["vidpid"] = port.VIDPID
	}
	if port.Product != "" {
		device.Metadata["product"] = port.Product
	}
	if port.SerialNumber != "" {
		device.Metadata["serial"] = port.SerialNumber
	}
	return device
}

// probeDevice makes a single attempt to talk to the device. Retrying here
// would hammer ports that belong to something else entirely.
func probeDevice(ctx context.Context, path string, mode detection.Mode) bool {
	transport, err := uart.New(path)
	if err != nil {
		return false
	}
	defer func() { _ = transport.Close() }()
	return detection.Probe(ctx, transport, mode)
}
