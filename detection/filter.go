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
	"path/filepath"
	"strings"
)

// DefaultBlocklist lists USB VID:PID pairs that are never probed. Opening
// their ports has side effects, so a sampling probe would disturb them.
func DefaultBlocklist() []string {
	return []string{
		"2341:0043", // Arduino Uno, resets on every port open
		"1366:1015", // SEGGER J-Link CDC, a debug probe console
	}
}

// IsBlocked reports whether vidpid is on the blocklist. Matching ignores
// case and surrounding space.
func IsBlocked(vidpid string, blocklist []string) bool {
	vidpid = strings.TrimSpace(vidpid)
	for _, blocked := range blocklist {
		if strings.EqualFold(vidpid, strings.TrimSpace(blocked)) {
			return true
		}
	}
	return false
}

// IsPathIgnored reports whether devicePath names one of ignorePaths after
// cleaning. Comparison is case-insensitive so COM ports match on Windows.
func IsPathIgnored(devicePath string, ignorePaths []string) bool {
	if devicePath == "" {
		return false
	}
	device := cleanPath(devicePath)
	for _, p := range ignorePaths {
		if p != "" && (p == devicePath || cleanPath(p) == device) {
			return true
		}
	}
	return false
}

func cleanPath(path string) string {
	return strings.ToLower(filepath.Clean(path))
}
