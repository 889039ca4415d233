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

package main

import (
	"context"
	"fmt"
	"strings"

	iso14443a "github.com/ZaparooProject/go-iso14443a"
	"github.com/ZaparooProject/go-iso14443a/detection"
	_ "github.com/ZaparooProject/go-iso14443a/detection/spi"
	_ "github.com/ZaparooProject/go-iso14443a/detection/uart"
	_ "github.com/ZaparooProject/go-iso14443a/detection/usb"
	"github.com/ZaparooProject/go-iso14443a/internal/config"
	"github.com/ZaparooProject/go-iso14443a/trace"
	"github.com/ZaparooProject/go-iso14443a/transport/spi"
	"github.com/ZaparooProject/go-iso14443a/transport/uart"
	usbfe "github.com/ZaparooProject/go-iso14443a/transport/usb"
	"periph.io/x/conn/v3/physic"
)

// newFrontend opens the front end cfg selects, once. Tests replace it.
var newFrontend = openFrontend

// guessTransport maps a device path to its transport.
func guessTransport(path string) string {
	lower := strings.ToLower(path)
	switch {
	case strings.HasPrefix(lower, "usb:"):
		return config.TransportUSB
	case strings.Contains(lower, "spi"):
		return config.TransportSPI
	default:
		return config.TransportUART
	}
}

func openFrontend(ctx context.Context, cfg *config.Config) (iso14443a.Frontend, error) {
	f := cfg.Frontend
	switch f.Transport {
	case config.TransportUART:
		t, err := uart.New(f.Path, uart.WithBaudRate(f.BaudRate), uart.WithReplyTimeout(f.ReplyTimeout()))
		if err != nil {
			return nil, fmt.Errorf("failed to create UART transport: %w", err)
		}
		return t, nil
	case config.TransportSPI:
		t, err := spi.New(f.Path, physic.Frequency(f.FrequencyHz)*physic.Hertz)
		if err != nil {
			return nil, fmt.Errorf("failed to create SPI transport: %w", err)
		}
		return t, nil
	case config.TransportUSB:
		t, err := usbfe.Open(0, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to open USB front end: %w", err)
		}
		return t, nil
	case config.TransportAuto:
		device, err := detectFrontend(ctx, cfg)
		if err != nil {
			return nil, err
		}
		iso14443a.Debugf("using %s", device)
		resolved := *cfg
		resolved.Frontend.Transport = device.Transport
		resolved.Frontend.Path = device.Path
		if device.Transport == config.TransportUART && resolved.Frontend.BaudRate == 0 {
			resolved.Frontend.BaudRate = uart.DefaultBaudRate
		}
		if device.Transport == config.TransportSPI && resolved.Frontend.FrequencyHz == 0 {
			resolved.Frontend.FrequencyHz = int64(spi.DefaultFrequency / physic.Hertz)
		}
		return openFrontend(ctx, &resolved)
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", f.Transport)
	}
}

func detectOptions(cfg *config.Config) (detection.Options, error) {
	opts := detection.DefaultOptions()
	mode, err := detection.ParseMode(cfg.Detection.Mode)
	if err != nil {
		return opts, err
	}
	opts.Mode = mode
	opts.Timeout = cfg.Detection.Timeout()
	return opts, nil
}

// detectFrontend returns the detected front end with the highest
// confidence.
func detectFrontend(ctx context.Context, cfg *config.Config) (detection.DeviceInfo, error) {
	opts, err := detectOptions(cfg)
	if err != nil {
		return detection.DeviceInfo{}, err
	}
	devices, err := detection.DetectAll(ctx, &opts)
	if err != nil {
		return detection.DeviceInfo{}, fmt.Errorf("auto-detection failed: %w", err)
	}
	if len(devices) == 0 {
		return detection.DeviceInfo{}, detection.ErrNoDevicesFound
	}
	best := devices[0]
	for _, d := range devices[1:] {
		if d.Confidence > best.Confidence {
			best = d
		}
	}
	return best, nil
}

// open opens the configured front end, retrying while it is not ready.
func (a *app) open(ctx context.Context) (iso14443a.Frontend, error) {
	fe, err := iso14443a.OpenWithRetry(ctx, nil, a.opener(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to front end: %w", err)
	}
	return fe, nil
}

func (a *app) opener(ctx context.Context) iso14443a.OpenFunc {
	return func() (iso14443a.Frontend, error) {
		return newFrontend(ctx, a.cfg)
	}
}

// withFrontend opens the front end, runs fn and closes it again.
func (a *app) withFrontend(ctx context.Context, fn func(iso14443a.Frontend) error) (err error) {
	fe, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := fe.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close front end: %w", cerr)
		}
	}()
	return fn(fe)
}

// newReader builds a reader with the configured timing.
func (a *app) newReader(fe iso14443a.Frontend) *iso14443a.Reader {
	return iso14443a.NewReader(fe, a.readerOptions()...)
}

func (a *app) readerOptions() []iso14443a.ReaderOption {
	r := a.cfg.Reader
	opts := []iso14443a.ReaderOption{
		iso14443a.WithTimeout(r.TimeoutSlots),
		iso14443a.WithTrace(trace.New(r.TraceCapacity)),
	}
	if r.FieldResetMs > 0 {
		opts = append(opts, iso14443a.WithFieldResetDelay(msDuration(r.FieldResetMs)))
	}
	if r.PowerUpDelayMs > 0 {
		opts = append(opts, iso14443a.WithPowerUpDelay(msDuration(r.PowerUpDelayMs)))
	}
	return opts
}
