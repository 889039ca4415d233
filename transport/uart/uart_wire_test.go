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

package uart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"
	"time"

	iso14443a "github.com/ZaparooProject/go-iso14443a"
	"github.com/ZaparooProject/go-iso14443a/codec"
	"github.com/ZaparooProject/go-iso14443a/decoder"
	"github.com/ZaparooProject/go-iso14443a/emulator"
	virt "github.com/ZaparooProject/go-iso14443a/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

// errPortClosed is returned when operations are attempted on a closed port
var errPortClosed = errors.New("port is closed")

// MockSerialPort implements serial.Port over a simulated device.
type MockSerialPort struct {
	dev         io.ReadWriter
	drainErrs   []error
	drains      int
	resets      int
	readTimeout time.Duration
	closed      bool
}

// NewMockSerialPort creates a mock serial port backed by dev.
func NewMockSerialPort(dev io.ReadWriter) *MockSerialPort {
	return &MockSerialPort{
		dev:         dev,
		readTimeout: 100 * time.Millisecond,
	}
}

func (*MockSerialPort) SetMode(_ *serial.Mode) error {
	return nil
}

func (m *MockSerialPort) Read(p []byte) (n int, err error) {
	if m.closed {
		return 0, errPortClosed
	}
	n, err = m.dev.Read(p)
	if err != nil {
		return n, fmt.Errorf("mock read: %w", err)
	}
	return n, nil
}

func (m *MockSerialPort) Write(p []byte) (n int, err error) {
	if m.closed {
		return 0, errPortClosed
	}
	n, err = m.dev.Write(p)
	if err != nil {
		return n, fmt.Errorf("mock write: %w", err)
	}
	return n, nil
}

func (m *MockSerialPort) Drain() error {
	m.drains++
	if len(m.drainErrs) > 0 {
		err := m.drainErrs[0]
		m.drainErrs = m.drainErrs[1:]
		return err
	}
	return nil
}

func (m *MockSerialPort) ResetInputBuffer() error {
	m.resets++
	return nil
}

func (*MockSerialPort) ResetOutputBuffer() error {
	return nil
}

func (*MockSerialPort) SetDTR(_ bool) error {
	return nil
}

func (*MockSerialPort) SetRTS(_ bool) error {
	return nil
}

func (*MockSerialPort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{}, nil
}

func (m *MockSerialPort) SetReadTimeout(t time.Duration) error {
	m.readTimeout = t
	return nil
}

func (m *MockSerialPort) Close() error {
	m.closed = true
	return nil
}

func (*MockSerialPort) Break(_ time.Duration) error {
	return nil
}

var _ serial.Port = (*MockSerialPort)(nil)

// cardAir puts an emulated MIFARE Classic card on the air.
func cardAir(t *testing.T) (*virt.VirtualTag, *emulator.Memory) {
	t.Helper()
	mem, err := emulator.NewMemory([]byte{0xde, 0xad, 0xbe, 0xef})
	require.NoError(t, err)
	card, err := emulator.NewCard(mem, emulator.WithFixedNonce(0x01200145))
	require.NoError(t, err)
	card.FieldDetected()
	return virt.NewVirtualTag(func(f decoder.Frame) codec.Pattern {
		return card.Handle(f.Data).Pattern()
	}), mem
}

func newTestReader(fe iso14443a.Frontend) *iso14443a.Reader {
	return iso14443a.NewReader(fe,
		iso14443a.WithTimeout(256),
		iso14443a.WithPowerUpDelay(0),
		iso14443a.WithFieldResetDelay(0),
	)
}

// newTestTransport creates a Transport with a mock serial port for testing
func newTestTransport(dev io.ReadWriter) (*Transport, *MockSerialPort) {
	port := NewMockSerialPort(dev)
	return newTransport(port, "mock://test", 100*time.Millisecond), port
}

func TestUART_ReaderOverWire(t *testing.T) {
	t.Parallel()

	air, mem := cardAir(t)
	dev := virt.NewVirtualDevice(air)
	transport, port := newTestTransport(dev)
	reader := newTestReader(transport)
	ctx := context.Background()

	sel, err := reader.Select(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, sel.UID)

	key, err := iso14443a.KeyFromBytes(iso14443a.DefaultKey)
	require.NoError(t, err)
	s, err := reader.Authenticate(ctx, sel, 4, iso14443a.KeyA, key)
	require.NoError(t, err)
	require.NoError(t, s.WriteBlock(ctx, 4, []byte("over the serial!")))

	stored, err := mem.ReadBlock(4)
	require.NoError(t, err)
	assert.Equal(t, []byte("over the serial!"), stored)

	assert.Positive(t, dev.Exchanges())
	assert.Positive(t, port.resets, "mode switches flush stale input")
	assert.GreaterOrEqual(t, port.drains, dev.Exchanges())
}

func TestUART_JitteryWire(t *testing.T) {
	t.Parallel()

	air, _ := cardAir(t)
	jittery := virt.NewJitteryConnection(virt.NewVirtualDevice(air), virt.JitterConfig{
		Seed:          42,
		FragmentReads: true,
		EmptyReads:    true,
	})
	transport, _ := newTestTransport(jittery)
	reader := newTestReader(transport)

	for range 3 {
		sel, err := reader.Select(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, sel.UID)
		require.NoError(t, reader.FieldOff(context.Background()))
	}
}

func TestUART_FieldStrength(t *testing.T) {
	t.Parallel()

	transport, _ := newTestTransport(virt.NewVirtualDevice(virt.NewVirtualReader(virt.Sequence())))
	mv, err := transport.FieldStrength(context.Background())
	require.NoError(t, err)
	assert.Equal(t, virt.DefaultFieldMillivolts, mv)
	assert.Equal(t, iso14443a.FrontendUART, transport.Type())
	assert.Equal(t, "mock://test", transport.PortName())
}

func TestUART_ChecksumErrorIsRetryable(t *testing.T) {
	t.Parallel()

	dev := virt.NewVirtualDevice(virt.NewVirtualTag(nil))
	transport, _ := newTestTransport(dev)

	dev.InjectChecksumError()
	err := transport.Configure(context.Background(), iso14443a.ModeReaderMod)
	require.ErrorIs(t, err, iso14443a.ErrChecksumMismatch)
	assert.True(t, iso14443a.IsRetryable(err))

	require.NoError(t, transport.Configure(context.Background(), iso14443a.ModeReaderMod))
}

func TestUART_DroppedReplyTimesOut(t *testing.T) {
	t.Parallel()

	dev := virt.NewVirtualDevice(virt.NewVirtualTag(nil))
	port := NewMockSerialPort(dev)
	transport := newTransport(port, "mock://test", 10*time.Millisecond)

	dev.DropNextReply()
	_, err := transport.Exchange(context.Background(), 0)
	require.ErrorIs(t, err, iso14443a.ErrFrontendTimeout)
}

func TestUART_ContextCancelled(t *testing.T) {
	t.Parallel()

	dev := virt.NewVirtualDevice(virt.NewVirtualTag(nil))
	transport, _ := newTestTransport(dev)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	dev.DropNextReply()
	_, err := transport.Exchange(ctx, 0)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestUART_Close(t *testing.T) {
	t.Parallel()

	transport, port := newTestTransport(virt.NewVirtualDevice(virt.NewVirtualTag(nil)))
	require.NoError(t, transport.Close())
	assert.True(t, port.closed)
	require.NoError(t, transport.Close())

	_, err := transport.Exchange(context.Background(), 0)
	require.ErrorIs(t, err, iso14443a.ErrFrontendClosed)
	assert.True(t, iso14443a.IsFatal(err))
	require.ErrorIs(t, transport.Configure(context.Background(), iso14443a.ModeOff), iso14443a.ErrFrontendClosed)
}

func TestUART_DrainRetriesInterruptedCalls(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		errs    []error
		wantErr bool
		drains  int
	}{
		{name: "clean", drains: 1},
		{name: "one interrupt", errs: []error{syscall.EINTR}, drains: 2},
		{name: "interrupted call text", errs: []error{errors.New("write: interrupted system call")}, drains: 2},
		{name: "persistent interrupt", errs: []error{syscall.EINTR, syscall.EINTR, syscall.EINTR}, wantErr: true, drains: 3},
		{name: "hard failure", errs: []error{syscall.EIO}, wantErr: true, drains: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			transport, port := newTestTransport(virt.NewVirtualDevice(virt.NewVirtualTag(nil)))
			port.drainErrs = tt.errs

			err := transport.drainWithRetry("test")
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.drains, port.drains)
		})
	}
}
