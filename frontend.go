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

package iso14443a

import (
	"context"
	"time"
)

// Mode selects what the radio front end does on every slot.
type Mode byte

const (
	// ModeOff turns the field and all modulation off.
	ModeOff Mode = iota
	// ModeReaderMod powers the field and applies field pauses for set bits of
	// the transmit byte.
	ModeReaderMod
	// ModeReaderListen powers the field and samples tag subcarrier.
	ModeReaderListen
	// ModeTagListen samples field pauses of an external reader.
	ModeTagListen
	// ModeTagMod load modulates the external field for set bits of the
	// transmit byte.
	ModeTagMod
	// ModeSniffer samples both channels: reader pauses in the high nibble,
	// tag subcarrier in the low nibble.
	ModeSniffer
)

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeReaderMod:
		return "reader-mod"
	case ModeReaderListen:
		return "reader-listen"
	case ModeTagListen:
		return "tag-listen"
	case ModeTagMod:
		return "tag-mod"
	case ModeSniffer:
		return "sniffer"
	default:
		return "unknown"
	}
}

// FrontendType identifies the front end implementation.
type FrontendType string

const (
	FrontendUART FrontendType = "uart"
	FrontendSPI  FrontendType = "spi"
	FrontendUSB  FrontendType = "usb"
	FrontendMock FrontendType = "mock"
)

// Frontend is the sample source and sink. Each Exchange call is one slot:
// the transmit byte is clocked out while the returned sample byte is
// captured. Reader and tag roles use one slot per bit period; the sniffer
// uses one slot per half bit period.
type Frontend interface {
	// Configure switches the operating mode.
	Configure(ctx context.Context, mode Mode) error
	// Exchange transmits one slot and returns the samples captured in it.
	Exchange(ctx context.Context, tx byte) (byte, error)
	// FieldStrength returns the external field level in millivolts.
	FieldStrength(ctx context.Context) (int, error)
	// Close releases the front end.
	Close() error
	// Type returns the front end type.
	Type() FrontendType
}

const (
	// BitPeriod is one ISO/IEC 14443 Type A bit at 106 kbit/s (128/fc).
	BitPeriod = 9440 * time.Nanosecond
	// SamplesPerSlot is the sample clock advance per reader/tag slot.
	SamplesPerSlot = 8
	// SamplesPerSnifferSlot is the sample clock advance per sniffer slot.
	SamplesPerSnifferSlot = 4
)

// SlotsFor converts a duration into reader/tag slots, rounding up.
func SlotsFor(d time.Duration) int {
	return int((d + BitPeriod - 1) / BitPeriod)
}
