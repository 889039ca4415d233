//nolint:paralleltest // Tests share the package level registry and cache
package detection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubDetector returns fixed devices, or blocks until ctx ends when block
// is set.
type stubDetector struct {
	err       error
	transport string
	devices   []DeviceInfo
	calls     int
	block     bool
}

func (s *stubDetector) Detect(ctx context.Context, _ *Options) ([]DeviceInfo, error) {
	s.calls++
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.devices, s.err
}

func (s *stubDetector) Transport() string {
	return s.transport
}

// withRegistry swaps the registry and cache for the duration of a test.
func withRegistry(t *testing.T, detectors ...Detector) {
	t.Helper()
	registryMu.Lock()
	saved := registry
	registry = nil
	registryMu.Unlock()
	ClearDetectionCache()
	for _, d := range detectors {
		RegisterDetector(d)
	}
	t.Cleanup(func() {
		registryMu.Lock()
		registry = saved
		registryMu.Unlock()
		ClearDetectionCache()
	})
}

func TestModeAndConfidenceStrings(t *testing.T) {
	for _, m := range []Mode{Passive, Safe, Full} {
		parsed, err := ParseMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
	}
	_, err := ParseMode("aggressive")
	require.Error(t, err)
	assert.Equal(t, "Mode(7)", Mode(7).String())

	assert.Equal(t, "low", Low.String())
	assert.Equal(t, "high", High.String())
	assert.Equal(t, "unknown", Confidence(99).String())
}

func TestDeviceInfo_String(t *testing.T) {
	tests := []struct {
		expected string
		device   DeviceInfo
	}{
		{
			device:   DeviceInfo{Transport: "uart", Path: "/dev/ttyUSB0", Confidence: Low},
			expected: "uart device at /dev/ttyUSB0 (confidence: low)",
		},
		{
			device:   DeviceInfo{Transport: "usb", Path: "usb:1d50:6089@1.4", Confidence: Medium},
			expected: "usb device at usb:1d50:6089@1.4 (confidence: medium)",
		},
		{
			device:   DeviceInfo{Transport: "spi", Path: "/dev/spidev0.0", Confidence: High},
			expected: "spi device at /dev/spidev0.0 (confidence: high)",
		},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.expected, tc.device.String())
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, Safe, opts.Mode)
	assert.Equal(t, 5*time.Second, opts.Timeout)
	assert.True(t, opts.EnableCache)
	assert.Equal(t, 30*time.Second, opts.CacheTTL)
	assert.Contains(t, opts.Blocklist, "2341:0043")
}

func TestCache(t *testing.T) {
	withRegistry(t)

	devices := []DeviceInfo{{Transport: "uart", Path: "/dev/ttyUSB0", Confidence: High}}
	setCached("uart", devices)
	setCached("usb", []DeviceInfo{{Transport: "usb", Path: "usb:1"}})

	got, found := getCached("uart", time.Minute)
	require.True(t, found)
	assert.Equal(t, devices, got)

	// Entries are copies.
	got[0].Path = "/dev/changed"
	again, _ := getCached("uart", time.Minute)
	assert.Equal(t, "/dev/ttyUSB0", again[0].Path)

	_, found = getCached("uart", -time.Nanosecond)
	assert.False(t, found, "expired entry")

	ClearDetectionCacheForTransport("uart")
	_, found = getCached("uart", time.Minute)
	assert.False(t, found)
	_, found = getCached("usb", time.Minute)
	assert.True(t, found)

	ClearDetectionCache()
	_, found = getCached("usb", time.Minute)
	assert.False(t, found)
}

func TestGetDetectors_FilterByTransport(t *testing.T) {
	withRegistry(t,
		&stubDetector{transport: "uart"},
		&stubDetector{transport: "spi"},
		&stubDetector{transport: "usb"},
	)

	assert.Len(t, getDetectors(nil), 3)
	assert.Len(t, getDetectors([]string{"uart"}), 1)
	assert.Len(t, getDetectors([]string{"uart", "usb"}), 2)
	assert.Empty(t, getDetectors([]string{"i2c"}))
}

func TestDetectAll_MergesAndCaches(t *testing.T) {
	uart := &stubDetector{transport: "uart", devices: []DeviceInfo{
		{Transport: "uart", Path: "/dev/ttyUSB0", Metadata: map[string]string{"vidpid": "0403:6001"}},
		{Transport: "uart", Path: "/dev/ttyACM0", Metadata: map[string]string{"vidpid": "2341:0043"}},
	}}
	usb := &stubDetector{transport: "usb", err: ErrNoDevicesFound}
	withRegistry(t, uart, usb)

	opts := DefaultOptions()
	devices, err := DetectAll(context.Background(), &opts)
	require.NoError(t, err)
	assert.Len(t, devices, 2)

	// The cached run filters through the blocklist and ignore list.
	opts.IgnorePaths = []string{"/dev/ttyUSB0"}
	_, err = DetectAll(context.Background(), &opts)
	require.ErrorIs(t, err, ErrNoDevicesFound)
	assert.Equal(t, 1, uart.calls)
	assert.Equal(t, 2, usb.calls)
}

func TestDetectAll_Errors(t *testing.T) {
	boom := errors.New("bus exploded")
	withRegistry(t, &stubDetector{transport: "spi", err: boom})

	opts := DefaultOptions()
	opts.EnableCache = false
	_, err := DetectAll(context.Background(), &opts)
	require.ErrorIs(t, err, boom)

	opts.Transports = []string{"nonexistent"}
	_, err = DetectAll(context.Background(), &opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no detectors available")
}

func TestDetectAll_Timeout(t *testing.T) {
	withRegistry(t, &stubDetector{transport: "usb", block: true})

	opts := DefaultOptions()
	opts.Timeout = 10 * time.Millisecond
	opts.EnableCache = false

	_, err := DetectAll(context.Background(), &opts)
	require.ErrorIs(t, err, ErrDetectionTimeout)
}
