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

package emulator

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProfile(t *testing.T) {
	t.Parallel()

	p, err := ParseProfile([]byte(`
uid: "04112233445566"
nonce: "0x01200145"
ndef_text: "hello"
language: de
field_threshold_mv: 3500
`))
	require.NoError(t, err)
	assert.Equal(t, "04112233445566", p.UID)
	assert.Equal(t, 3500, p.FieldThresholdMV)
	assert.Len(t, p.Options(), 1)

	card, mem, err := p.Build()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}, card.UID())

	msg, err := ReadNDEF(mem)
	require.NoError(t, err)
	require.Len(t, msg.Records, 1)
}

func TestParseProfile_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{name: "bad hex", yaml: `uid: "zz"`},
		{name: "bad size", yaml: `uid: "010203"`},
		{name: "bad nonce", yaml: `nonce: "nothex"`},
		{name: "negative threshold", yaml: `field_threshold_mv: -1`},
		{name: "language without text", yaml: `language: en`},
		{name: "not yaml", yaml: `uid: [`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseProfile([]byte(tt.yaml))
			require.Error(t, err)
		})
	}
}

func TestProfile_DumpWithUIDOverride(t *testing.T) {
	t.Parallel()

	src, err := NewMemory([]byte{9, 9, 9, 9})
	require.NoError(t, err)
	require.NoError(t, src.WriteBlock(4, []byte("from the dump...")))
	var buf bytes.Buffer
	require.NoError(t, src.Dump(&buf))

	dir := t.TempDir()
	dump := filepath.Join(dir, "card.mfd")
	require.NoError(t, os.WriteFile(dump, buf.Bytes(), 0o600))
	profile := filepath.Join(dir, "card.yaml")
	require.NoError(t, os.WriteFile(profile, []byte("uid: \"a1b2c3d4\"\ndump: "+dump+"\n"), 0o600))

	p, err := LoadProfile(profile)
	require.NoError(t, err)
	assert.Empty(t, p.Options())

	card, mem, err := p.Build()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xa1, 0xb2, 0xc3, 0xd4}, card.UID())
	got, err := mem.ReadBlock(4)
	require.NoError(t, err)
	assert.Equal(t, []byte("from the dump..."), got)
}

func TestProfile_Defaults(t *testing.T) {
	t.Parallel()

	p, err := ParseProfile([]byte("{}"))
	require.NoError(t, err)
	card, _, err := p.Build()
	require.NoError(t, err)
	assert.Equal(t, DefaultUID, card.UID())
}
