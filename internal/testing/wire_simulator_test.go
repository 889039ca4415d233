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

package testing

import (
	"testing"

	iso14443a "github.com/ZaparooProject/go-iso14443a"
	"github.com/ZaparooProject/go-iso14443a/codec"
	"github.com/ZaparooProject/go-iso14443a/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, dev *VirtualDevice) []byte {
	t.Helper()
	var out []byte
	buf := make([]byte, 64)
	for dev.HasPendingResponse() {
		n, err := dev.Read(buf)
		require.NoError(t, err)
		out = append(out, buf[:n]...)
	}
	return out
}

func TestVirtualDevice_ControlAndExchange(t *testing.T) {
	t.Parallel()

	reader := NewVirtualReader(Sequence(codec.EncodeReaderShort(0x26)))
	dev := NewVirtualDevice(reader)

	req, err := frame.BuildControl(frame.OpSetMode, []byte{byte(iso14443a.ModeTagListen)})
	require.NoError(t, err)
	_, err = dev.Write(req)
	require.NoError(t, err)
	op, payload, n, err := frame.ParseControl(readAll(t, dev))
	require.NoError(t, err)
	assert.Equal(t, byte(frame.OpSetMode+1), op)
	assert.Empty(t, payload)
	assert.Equal(t, frame.MinFrameLength, n)

	req, err = frame.BuildControl(frame.OpFieldStrength, nil)
	require.NoError(t, err)
	_, err = dev.Write(req)
	require.NoError(t, err)
	_, payload, _, err = frame.ParseControl(readAll(t, dev))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x88, 0x13}, payload)

	// Exchanges may arrive split across writes.
	_, err = dev.Write([]byte{frame.ExchangeMarker})
	require.NoError(t, err)
	assert.False(t, dev.HasPendingResponse())
	_, err = dev.Write([]byte{0x00, frame.ExchangeMarker, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []byte{codec.ReaderIdleSample, codec.ReaderIdleSample}, readAll(t, dev))
	assert.Equal(t, 2, dev.Exchanges())
}

func TestVirtualDevice_InjectedFaults(t *testing.T) {
	t.Parallel()

	dev := NewVirtualDevice(NewVirtualTag(nil))
	req, err := frame.BuildControl(frame.OpFieldStrength, nil)
	require.NoError(t, err)

	dev.InjectChecksumError()
	_, err = dev.Write(req)
	require.NoError(t, err)
	_, _, _, err = frame.ParseControl(readAll(t, dev))
	require.ErrorIs(t, err, iso14443a.ErrChecksumMismatch)

	dev.DropNextReply()
	_, err = dev.Write(frame.BuildExchange(0))
	require.NoError(t, err)
	assert.False(t, dev.HasPendingResponse())

	// Noise before a frame is skipped.
	_, err = dev.Write(append([]byte{0x00, 0x17}, req...))
	require.NoError(t, err)
	_, payload, _, err := frame.ParseControl(readAll(t, dev))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00}, payload)
}
