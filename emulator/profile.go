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
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/hsanjuan/go-ndef"
	"gopkg.in/yaml.v3"
)

// Profile describes an emulated card in YAML:
//
//	uid: "01020304"
//	nonce: "01200145"
//	dump: card.mfd
//	ndef_text: "hello"
//	language: en
//	field_threshold_mv: 4000
//
// A dump replaces the blank image before the UID and NDEF message are
// applied.
type Profile struct {
	UID              string `yaml:"uid"`
	Nonce            string `yaml:"nonce"`
	Dump             string `yaml:"dump"`
	NDEFText         string `yaml:"ndef_text"`
	Language         string `yaml:"language"`
	FieldThresholdMV int    `yaml:"field_threshold_mv"`
}

// DefaultUID is used when a profile has neither a UID nor a dump.
var DefaultUID = []byte{0x01, 0x02, 0x03, 0x04}

// LoadProfile reads a YAML profile from path.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is chosen by the user
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	return ParseProfile(data)
}

// ParseProfile decodes and validates a YAML profile.
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the profile without touching the file system.
func (p *Profile) Validate() error {
	if p.UID != "" {
		uid, err := hex.DecodeString(p.UID)
		if err != nil {
			return fmt.Errorf("uid: %w", err)
		}
		if len(uid) != 4 && len(uid) != 7 {
			return fmt.Errorf("uid: must be 4 or 7 bytes, got %d", len(uid))
		}
	}
	if _, err := p.nonce(); err != nil {
		return err
	}
	if p.FieldThresholdMV < 0 {
		return errors.New("field_threshold_mv: must not be negative")
	}
	if p.Language != "" && p.NDEFText == "" {
		return errors.New("language: set without ndef_text")
	}
	return nil
}

func (p *Profile) nonce() (uint32, error) {
	if p.Nonce == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(p.Nonce, "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("nonce: %w", err)
	}
	return uint32(n), nil
}

// Build creates the memory image and card the profile describes.
func (p *Profile) Build() (*Card, *Memory, error) {
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}

	uid := DefaultUID
	if p.UID != "" {
		uid, _ = hex.DecodeString(p.UID)
	}
	mem, err := NewMemory(uid)
	if err != nil {
		return nil, nil, err
	}
	if p.Dump != "" {
		if err := mem.LoadDumpFile(p.Dump); err != nil {
			return nil, nil, err
		}
		if p.UID != "" {
			if err := mem.SetUID(uid); err != nil {
				return nil, nil, err
			}
		}
	}
	if p.NDEFText != "" {
		lang := p.Language
		if lang == "" {
			lang = "en"
		}
		if err := WriteNDEF(mem, ndef.NewTextMessage(p.NDEFText, lang)); err != nil {
			return nil, nil, err
		}
	}

	var opts []CardOption
	if p.Nonce != "" {
		nt, _ := p.nonce()
		opts = append(opts, WithFixedNonce(nt))
	}
	card, err := NewCard(mem, opts...)
	if err != nil {
		return nil, nil, err
	}
	return card, mem, nil
}

// Options returns the emulator options the profile asks for.
func (p *Profile) Options() []Option {
	if p.FieldThresholdMV > 0 {
		return []Option{WithFieldThreshold(p.FieldThresholdMV)}
	}
	return nil
}
