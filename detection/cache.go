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
	"slices"
	"time"

	"github.com/ZaparooProject/go-iso14443a/internal/syncutil"
)

// Probing a sampling front end switches its mode, so results are kept per
// transport for Options.CacheTTL.
var cache struct {
	entries map[string]cacheEntry
	mu      syncutil.RWMutex
}

type cacheEntry struct {
	stored  time.Time
	devices []DeviceInfo
}

func getCached(transport string, ttl time.Duration) ([]DeviceInfo, bool) {
	cache.mu.RLock()
	defer cache.mu.RUnlock()

	entry, ok := cache.entries[transport]
	if !ok || time.Since(entry.stored) > ttl {
		return nil, false
	}
	return slices.Clone(entry.devices), true
}

func setCached(transport string, devices []DeviceInfo) {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	if cache.entries == nil {
		cache.entries = make(map[string]cacheEntry)
	}
	cache.entries[transport] = cacheEntry{stored: time.Now(), devices: slices.Clone(devices)}
}

// ClearDetectionCache forgets every cached result.
func ClearDetectionCache() {
	cache.mu.Lock()
	cache.entries = nil
	cache.mu.Unlock()
}

// ClearDetectionCacheForTransport forgets the results of one transport.
func ClearDetectionCacheForTransport(transport string) {
	cache.mu.Lock()
	delete(cache.entries, transport)
	cache.mu.Unlock()
}
