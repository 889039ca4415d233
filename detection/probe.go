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
	"context"

	iso14443a "github.com/ZaparooProject/go-iso14443a"
)

// Probe checks that fe answers the wire protocol at the given mode. Passive
// never talks to the device and always reports false.
func Probe(ctx context.Context, fe iso14443a.Frontend, mode Mode) bool {
	switch mode {
	case Safe:
		_, err := fe.FieldStrength(ctx)
		return err == nil
	case Full:
		if err := fe.Configure(ctx, iso14443a.ModeOff); err != nil {
			return false
		}
		_, err := fe.FieldStrength(ctx)
		return err == nil
	default:
		return false
	}
}
