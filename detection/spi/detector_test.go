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

//nolint:paralleltest // Tests mutate package-level probeFn and the environment
package spi

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ZaparooProject/go-iso14443a/detection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigs(t *testing.T) {
	list, err := ParseConfigs([]byte(`
- device: /dev/spidev0.0
  frequency_hz: 2000000
- device: /dev/spidev0.1
  name: bench sampler
`))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(2000000), list[0].Frequency)
	assert.Equal(t, "bench sampler", list[1].Name)

	single, err := ParseConfigs([]byte(`{"device": "/dev/spidev1.0", "metadata": {"board": "pi"}}`))
	require.NoError(t, err)
	require.Len(t, single, 1)
	assert.Equal(t, "pi", single[0].Metadata["board"])

	_, err = ParseConfigs([]byte(`name: no device`))
	require.Error(t, err)
}

func TestDetect(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "spi.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("- device: /dev/spidev9.0\n  frequency_hz: 1000000\n"), 0o600))
	t.Setenv(EnvDevice, "/dev/spidev9.1")
	t.Setenv(EnvFrequency, "500000")

	orig := probeFn
	t.Cleanup(func() { probeFn = orig })
	var probed []Config
	probeFn = func(_ context.Context, c Config, _ detection.Mode) bool {
		probed = append(probed, c)
		return c.Device == "/dev/spidev9.1"
	}

	d := &detector{configPaths: []string{filepath.Join(dir, "missing.yaml"), cfg}, globDevices: filepath.Join(dir, "none*")}
	opts := detection.DefaultOptions()
	devices, err := d.Detect(context.Background(), &opts)
	require.NoError(t, err)
	require.Len(t, probed, 2)
	assert.Equal(t, int64(500000), probed[1].Frequency)
	require.Len(t, devices, 1)
	assert.Equal(t, detection.High, devices[0].Confidence)
	assert.Equal(t, "500000", devices[0].Metadata["frequency_hz"])

	opts.Mode = detection.Passive
	devices, err = d.Detect(context.Background(), &opts)
	require.NoError(t, err)
	assert.Len(t, devices, 2)
	assert.Len(t, probed, 2, "passive mode does not probe")

	opts.IgnorePaths = []string{"/dev/spidev9.0", "/dev/spidev9.1"}
	_, err = d.Detect(context.Background(), &opts)
	require.ErrorIs(t, err, detection.ErrNoDevicesFound)
}

func TestDeduplicateConfigs(t *testing.T) {
	got := deduplicateConfigs([]Config{
		{Device: "/dev/spidev0.0", Name: "file"},
		{Device: "/dev/spidev0.0", Name: "glob"},
		{Device: "/dev/spidev0.1"},
	})
	require.Len(t, got, 2)
	assert.Equal(t, "file", got[0].Name)
}
