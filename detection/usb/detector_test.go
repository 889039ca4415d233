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

//nolint:paralleltest // Tests mutate package-level listFn and probeFn
package usb

import (
	"context"
	"errors"
	"testing"

	"github.com/ZaparooProject/go-iso14443a/detection"
	usbfe "github.com/ZaparooProject/go-iso14443a/transport/usb"
	"github.com/google/gousb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stub(t *testing.T, descs []*gousb.DeviceDesc, probe bool) *int {
	t.Helper()
	origList, origProbe := listFn, probeFn
	t.Cleanup(func() { listFn, probeFn = origList, origProbe })

	probes := 0
	listFn = func() ([]*gousb.DeviceDesc, error) { return descs, nil }
	probeFn = func(context.Context, detection.Mode) bool {
		probes++
		return probe
	}
	return &probes
}

var frontEnd = &gousb.DeviceDesc{Bus: 1, Address: 7, Speed: gousb.SpeedFull, Vendor: usbfe.VendorID, Product: usbfe.ProductID}

func TestDetect_MatchesIDs(t *testing.T) {
	probes := stub(t, []*gousb.DeviceDesc{
		{Bus: 1, Address: 2, Vendor: 0x0403, Product: 0x6001},
		frontEnd,
	}, true)

	opts := detection.DefaultOptions()
	devices, err := New().Detect(context.Background(), &opts)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "usb:1d50:6089@1.7", devices[0].Path)
	assert.Equal(t, detection.High, devices[0].Confidence)
	assert.Equal(t, "1d50:6089", devices[0].Metadata["vidpid"])
	assert.Equal(t, 1, *probes)
}

func TestDetect_PassiveAndFilters(t *testing.T) {
	probes := stub(t, []*gousb.DeviceDesc{frontEnd}, false)

	opts := detection.DefaultOptions()
	opts.Mode = detection.Passive
	devices, err := New().Detect(context.Background(), &opts)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, detection.Medium, devices[0].Confidence)
	assert.Zero(t, *probes)

	opts.Mode = detection.Safe
	_, err = New().Detect(context.Background(), &opts)
	require.ErrorIs(t, err, detection.ErrNoDevicesFound, "failed probe drops the device")

	opts.Mode = detection.Passive
	opts.Blocklist = []string{"1D50:6089"}
	_, err = New().Detect(context.Background(), &opts)
	require.ErrorIs(t, err, detection.ErrNoDevicesFound)

	listFn = func() ([]*gousb.DeviceDesc, error) { return nil, errors.New("libusb unavailable") }
	_, err = New().Detect(context.Background(), &opts)
	require.Error(t, err)
}
