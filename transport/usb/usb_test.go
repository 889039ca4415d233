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

package usb

import (
	"context"
	"errors"
	"testing"
	"time"

	iso14443a "github.com/ZaparooProject/go-iso14443a"
	"github.com/ZaparooProject/go-iso14443a/codec"
	"github.com/ZaparooProject/go-iso14443a/decoder"
	"github.com/ZaparooProject/go-iso14443a/emulator"
	virt "github.com/ZaparooProject/go-iso14443a/internal/testing"
	"github.com/google/gousb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEndpoints moves bulk transfers to and from a simulated device. Reads
// batch everything the device queued, up to one packet.
type fakeEndpoints struct {
	dev      *virt.VirtualDevice
	readErr  error
	transfer int
}

func (f *fakeEndpoints) ReadContext(ctx context.Context, buf []byte) (int, error) {
	f.transfer++
	if f.readErr != nil {
		return 0, f.readErr
	}
	if !f.dev.HasPendingResponse() {
		<-ctx.Done()
		return 0, gousb.TransferCancelled
	}
	n, err := f.dev.Read(buf)
	return n, err //nolint:wrapcheck // Test fake
}

func (f *fakeEndpoints) WriteContext(_ context.Context, buf []byte) (int, error) {
	return f.dev.Write(buf) //nolint:wrapcheck // Test fake
}

func newTestTransport(air iso14443a.Frontend) (*Transport, *fakeEndpoints, *virt.VirtualDevice) {
	dev := virt.NewVirtualDevice(air)
	ep := &fakeEndpoints{dev: dev}
	t := newTransport(ep, ep, nil, "usb:test", 30*time.Millisecond)
	t.poll = time.Millisecond
	return t, ep, dev
}

func TestUSB_MifareReadOverBulk(t *testing.T) {
	t.Parallel()

	uid := []byte{0x04, 0xa1, 0xb2, 0xc3, 0xd4, 0xe5, 0xf6}
	mem, err := emulator.NewMemory(uid)
	require.NoError(t, err)
	require.NoError(t, mem.WriteBlock(1, []byte("bulk transported")))
	card, err := emulator.NewCard(mem, emulator.WithFixedNonce(0x0badcafe))
	require.NoError(t, err)
	card.FieldDetected()

	air := virt.NewVirtualTag(func(f decoder.Frame) codec.Pattern {
		return card.Handle(f.Data).Pattern()
	})
	transport, _, _ := newTestTransport(air)
	reader := iso14443a.NewReader(transport,
		iso14443a.WithTimeout(256),
		iso14443a.WithPowerUpDelay(0),
		iso14443a.WithFieldResetDelay(0),
	)

	ctx := context.Background()
	sel, err := reader.Select(ctx, uid)
	require.NoError(t, err)
	key, err := iso14443a.KeyFromBytes(iso14443a.DefaultKey)
	require.NoError(t, err)
	s, err := reader.Authenticate(ctx, sel, 1, iso14443a.KeyA, key)
	require.NoError(t, err)
	got, err := s.ReadBlock(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("bulk transported"), got)
}

func TestUSB_PacketsCarryManyReplies(t *testing.T) {
	t.Parallel()

	transport, ep, dev := newTestTransport(virt.NewVirtualTag(nil))

	// Two exchanges written back to back leave both samples in one packet.
	_, err := dev.Write([]byte{0x01, 0x00})
	require.NoError(t, err)
	rx, err := transport.Exchange(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, byte(codec.TagIdleSample), rx)
	assert.Equal(t, 1, ep.transfer)
	assert.Len(t, transport.pending, 1)

	require.NoError(t, transport.Configure(context.Background(), iso14443a.ModeReaderMod))
	assert.Empty(t, transport.pending)
}

func TestUSB_EmptyReadsTimeOut(t *testing.T) {
	t.Parallel()

	transport, ep, dev := newTestTransport(virt.NewVirtualTag(nil))
	dev.DropNextReply()
	_, err := transport.Exchange(context.Background(), 0)
	require.ErrorIs(t, err, iso14443a.ErrFrontendTimeout)
	assert.Greater(t, ep.transfer, 1)
}

func TestUSB_DeviceGone(t *testing.T) {
	t.Parallel()

	transport, ep, _ := newTestTransport(virt.NewVirtualTag(nil))
	ep.readErr = gousb.ErrorNoDevice
	_, err := transport.Exchange(context.Background(), 0)
	require.ErrorIs(t, err, iso14443a.ErrFrontendRead)
	require.ErrorIs(t, err, gousb.ErrorNoDevice)
}

func TestUSB_Close(t *testing.T) {
	t.Parallel()

	released := 0
	ep := &fakeEndpoints{dev: virt.NewVirtualDevice(virt.NewVirtualTag(nil))}
	transport := newTransport(ep, ep, func() error {
		released++
		return errors.New("busy")
	}, "usb:test", time.Millisecond)

	require.Error(t, transport.Close())
	require.NoError(t, transport.Close())
	assert.Equal(t, 1, released)
	assert.Equal(t, iso14443a.FrontendUSB, transport.Type())
	assert.Equal(t, "usb:test", transport.String())

	_, err := transport.FieldStrength(context.Background())
	require.ErrorIs(t, err, iso14443a.ErrFrontendClosed)
}
