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
	"errors"
	"fmt"
	"sort"

	"github.com/ZaparooProject/go-iso14443a/detection"
	"github.com/spf13/cobra"
)

func newDetectCmd(a *app) *cobra.Command {
	var mode string
	var transports []string
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "List attached front ends",
		Long: "Search serial ports, configured SPI devices and USB for front ends. Passive\n" +
			"mode only inspects descriptors; safe and full mode talk to each candidate.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if mode != "" {
				a.cfg.Detection.Mode = mode
			}
			opts, err := detectOptions(a.cfg)
			if err != nil {
				return err
			}
			opts.Transports = transports
			opts.EnableCache = false

			devices, err := detection.DetectAll(cmd.Context(), &opts)
			w := cmd.OutOrStdout()
			if errors.Is(err, detection.ErrNoDevicesFound) {
				_, _ = fmt.Fprintln(w, "No front ends found")
				return nil
			}
			if err != nil {
				return err
			}
			sort.SliceStable(devices, func(i, j int) bool {
				return devices[i].Confidence > devices[j].Confidence
			})
			for _, d := range devices {
				_, _ = fmt.Fprintln(w, d)
				if d.Name != "" {
					_, _ = fmt.Fprintf(w, "  name: %s\n", d.Name)
				}
				for _, k := range sortedKeys(d.Metadata) {
					_, _ = fmt.Fprintf(w, "  %s: %s\n", k, d.Metadata[k])
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "detection mode: passive, safe or full")
	cmd.Flags().StringSliceVar(&transports, "only", nil, "limit detection to these transports")
	return cmd
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
