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

package detection_test

import (
	"context"
	"testing"

	"github.com/ZaparooProject/go-iso14443a/detection"
	virt "github.com/ZaparooProject/go-iso14443a/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbe(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reader := virt.NewVirtualReader(virt.Sequence())
	assert.True(t, detection.Probe(ctx, reader, detection.Safe))
	assert.True(t, detection.Probe(ctx, reader, detection.Full))
	assert.False(t, detection.Probe(ctx, reader, detection.Passive))

	require.NoError(t, reader.Close())
	assert.False(t, detection.Probe(ctx, reader, detection.Full))
}
