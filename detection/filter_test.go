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

package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsBlocked(t *testing.T) {
	t.Parallel()

	assert.True(t, IsBlocked("2341:0043", DefaultBlocklist()))
	assert.True(t, IsBlocked(" 1366:1015 ", []string{"1366:1015"}))
	assert.True(t, IsBlocked("abcd:ef01", []string{"ABCD:EF01"}))
	assert.False(t, IsBlocked("0403:6001", DefaultBlocklist()))
	assert.False(t, IsBlocked("0403:6001", nil))
}

func TestIsPathIgnored(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		path   string
		ignore []string
		want   bool
	}{
		{name: "empty list", path: "/dev/ttyUSB0", want: false},
		{name: "empty path", path: "", ignore: []string{"/dev/ttyUSB0"}, want: false},
		{name: "exact", path: "/dev/ttyUSB0", ignore: []string{"/dev/ttyUSB0"}, want: true},
		{name: "com port", path: "com2", ignore: []string{"COM2"}, want: true},
		{name: "case", path: "/dev/ttyUSB0", ignore: []string{"/DEV/TTYUSB0"}, want: true},
		{name: "other port", path: "/dev/ttyUSB1", ignore: []string{"/dev/ttyUSB0"}, want: false},
		{name: "one of many", path: "/dev/ttyACM1", ignore: []string{"/dev/ttyACM0", "/dev/ttyACM1"}, want: true},
		{name: "spi chip select", path: "/dev/spidev0.0:cs1", ignore: []string{"/dev/spidev0.0:cs1"}, want: true},
		{name: "usb path", path: "usb:1d50:6089@1.4", ignore: []string{"USB:1D50:6089@1.4"}, want: true},
		{name: "relative parts", path: "/dev/../dev/ttyUSB0", ignore: []string{"/dev/ttyUSB0"}, want: true},
		{name: "blank entries", path: "/dev/ttyUSB0", ignore: []string{"", "/dev/ttyUSB0", ""}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsPathIgnored(tt.path, tt.ignore))
		})
	}
}
