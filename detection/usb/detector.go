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

// Package usb finds front ends on their native USB interface.
package usb

import (
	"context"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-iso14443a/detection"
	usbfe "github.com/ZaparooProject/go-iso14443a/transport/usb"
	"github.com/google/gousb"
)

type detector struct{}

// New creates a new USB detector
func New() detection.Detector {
	return &detector{}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return "usb"
}

var (
	listFn  = listDescriptors
	probeFn = probeDevice
)

// listDescriptors walks the bus without opening anything: the filter
// records every descriptor and declines it.
func listDescriptors() ([]*gousb.DeviceDesc, error) {
	ctx := gousb.NewContext()
	defer func() { _ = ctx.Close() }()

	var descs []*gousb.DeviceDesc
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		descs = append(descs, desc)
		return false
	})
	for _, d := range devs {
		_ = d.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}
	return descs, nil
}

// Path formats the identity a detected device is reported under.
func Path(desc *gousb.DeviceDesc) string {
	return fmt.Sprintf("usb:%s:%s@%d.%d", desc.Vendor, desc.Product, desc.Bus, desc.Address)
}

// Detect reports devices carrying the front end's vendor and product IDs
func (*detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	descs, err := listFn()
	if err != nil {
		return nil, err
	}

	var devices []detection.DeviceInfo
	for _, desc := range descs {
		if desc.Vendor != usbfe.VendorID || desc.Product != usbfe.ProductID {
			continue
		}
		vidpid := fmt.Sprintf("%s:%s", desc.Vendor, desc.Product)
		path := Path(desc)
		if detection.IsBlocked(vidpid, opts.Blocklist) || detection.IsPathIgnored(path, opts.IgnorePaths) {
			continue
		}

		device := detection.DeviceInfo{
			Transport:  "usb",
			Path:       path,
			Name:       fmt.Sprintf("USB front end on bus %d", desc.Bus),
			Confidence: detection.Medium,
			Metadata: map[string]string{
				"vidpid": vidpid,
				"bus":    fmt.Sprint(desc.Bus),
				"speed":  desc.Speed.String(),
			},
		}
		if opts.Mode != detection.Passive {
			probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			ok := probeFn(probeCtx, opts.Mode)
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

// probeDevice claims the first matching device once.
func probeDevice(ctx context.Context, mode detection.Mode) bool {
	transport, err := usbfe.Open(0, 0)
	if err != nil {
		return false
	}
	defer func() { _ = transport.Close() }()
	return detection.Probe(ctx, transport, mode)
}
