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
	"errors"
	"fmt"
	"io"
	"runtime"
	"syscall"
)

// Front end errors - potentially retryable
var (
	ErrFrontendTimeout  = errors.New("front end timeout")
	ErrFrontendWrite    = errors.New("front end write failed")
	ErrFrontendRead     = errors.New("front end read failed")
	ErrFrontendClosed   = errors.New("front end is closed")
	ErrFrontendProtocol = errors.New("front end protocol error")
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// Air interface errors
var (
	// ErrTimeout means no frame arrived within the configured budget.
	ErrTimeout = errors.New("no response within timeout")
	// ErrProtocolViolation means a frame arrived but made no sense in context.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrBufferFull means an output buffer or the trace was exhausted.
	ErrBufferFull = errors.New("buffer full")
	// ErrFrameTooLong means a received frame exceeded the receive buffer.
	ErrFrameTooLong = fmt.Errorf("frame too long: %w", ErrBufferFull)
	// ErrFieldLost means the reader field disappeared while emulating a tag.
	ErrFieldLost = errors.New("reader field lost")
	// ErrCancelled means the operation was stopped by its context.
	ErrCancelled = errors.New("operation cancelled")
)

// Card errors - generally not retryable
var (
	ErrNoCard          = errors.New("no card in field")
	ErrUIDMismatch     = errors.New("selected card has a different UID")
	ErrNonCompliantTag = errors.New("tag is not ISO/IEC 14443-4 compliant")
	ErrAuthFailed      = errors.New("authentication failed")
	ErrNACK            = errors.New("card answered NACK")
	ErrCRC             = errors.New("CRC mismatch")
	ErrNotSelected     = errors.New("no card selected")
	ErrInvalidBlock    = errors.New("invalid block")
)

// ErrorType represents the category of error for retry logic
type ErrorType int

const (
	// ErrorTypeTransient indicates a potentially retryable error
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent indicates a non-retryable error
	ErrorTypePermanent
	// ErrorTypeTimeout indicates a timeout error
	ErrorTypeTimeout
)

// FrontendError wraps a front end failure with the operation and device.
type FrontendError struct {
	Err       error
	Op        string
	Device    string
	Type      ErrorType
	Retryable bool
}

func (e *FrontendError) Error() string {
	if e.Device != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Device, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FrontendError) Unwrap() error {
	return e.Err
}

// NewFrontendError creates a front end error with consistent formatting
func NewFrontendError(op, device string, err error, errType ErrorType) *FrontendError {
	return &FrontendError{
		Op:        op,
		Device:    device,
		Err:       err,
		Type:      errType,
		Retryable: errType == ErrorTypeTransient || errType == ErrorTypeTimeout,
	}
}

// NewFrontendTimeoutError creates a timeout error for a front end operation
func NewFrontendTimeoutError(op, device string) *FrontendError {
	return NewFrontendError(op, device, ErrFrontendTimeout, ErrorTypeTimeout)
}

// NewFrontendReadError creates a read error (transient)
func NewFrontendReadError(op, device string, err error) *FrontendError {
	return NewFrontendError(op, device, fmt.Errorf("%w: %w", ErrFrontendRead, err), ErrorTypeTransient)
}

// NewFrontendWriteError creates a write error (transient)
func NewFrontendWriteError(op, device string, err error) *FrontendError {
	return NewFrontendError(op, device, fmt.Errorf("%w: %w", ErrFrontendWrite, err), ErrorTypeTransient)
}

// NewChecksumMismatchError creates a checksum mismatch error (transient)
func NewChecksumMismatchError(op, device string) *FrontendError {
	return NewFrontendError(op, device, ErrChecksumMismatch, ErrorTypeTransient)
}

// NewFrontendClosedError creates a closed front end error (permanent)
func NewFrontendClosedError(op, device string) *FrontendError {
	return NewFrontendError(op, device, ErrFrontendClosed, ErrorTypePermanent)
}

// IsRetryable returns true if the error is potentially retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var fe *FrontendError
	if errors.As(err, &fe) {
		return fe.Retryable
	}

	switch {
	case errors.Is(err, ErrTimeout),
		errors.Is(err, ErrNoCard),
		errors.Is(err, ErrProtocolViolation),
		errors.Is(err, ErrFrameTooLong),
		errors.Is(err, ErrCRC),
		errors.Is(err, ErrFrontendTimeout),
		errors.Is(err, ErrChecksumMismatch):
		return true
	default:
		return false
	}
}

// IsFatal returns true if the front end is gone and the session should end.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var fe *FrontendError
	if errors.As(err, &fe) && fe.Type == ErrorTypePermanent {
		return true
	}

	if isDeviceGoneError(err) {
		return true
	}

	switch {
	case errors.Is(err, ErrFrontendClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}

// Windows error codes for device disconnection detection.
const (
	errAccessDenied syscall.Errno = 5   // ERROR_ACCESS_DENIED
	errGenFailure   syscall.Errno = 31  // ERROR_GEN_FAILURE
	errNoSuchDevice syscall.Errno = 433 // ERROR_NO_SUCH_DEVICE
)

// isDeviceGoneError checks for OS-level errors raised when a USB front end is
// unplugged during I/O.
func isDeviceGoneError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}

	//nolint:exhaustive // Only checking specific device-gone errors
	switch errno {
	case syscall.EIO, syscall.ENXIO, syscall.ENODEV:
		return true
	}

	if runtime.GOOS == "windows" {
		//nolint:exhaustive // Only checking specific device-gone errors
		switch errno {
		case errAccessDenied, errGenFailure, errNoSuchDevice:
			return true
		}
	}
	return false
}
