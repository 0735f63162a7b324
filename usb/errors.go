// Copyright 2023 The usbsh Authors
// This file is part of the usbsh library.
//
// The usbsh library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The usbsh library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the usbsh library. If not, see <http://www.gnu.org/licenses/>.

package usb

import (
	"context"
	"errors"
)

// ErrorCode is a libusb result code. Zero means success, negative values
// are the libusb error enumeration.
type ErrorCode int

const (
	Success           ErrorCode = 0
	ErrorIO           ErrorCode = -1
	ErrorInvalidParam ErrorCode = -2
	ErrorAccess       ErrorCode = -3
	ErrorNoDevice     ErrorCode = -4
	ErrorNotFound     ErrorCode = -5
	ErrorBusy         ErrorCode = -6
	ErrorTimeout      ErrorCode = -7
	ErrorOverflow     ErrorCode = -8
	ErrorPipe         ErrorCode = -9
	ErrorInterrupted  ErrorCode = -10
	ErrorNoMem        ErrorCode = -11
	ErrorNotSupported ErrorCode = -12
	ErrorOther        ErrorCode = -99
)

var (
	// ErrClosed is returned by every operation on a manager that has been
	// shut down.
	ErrClosed = errors.New("usb: manager closed")

	// ErrDeviceClosed is returned by operations on a device handle that has
	// already been closed.
	ErrDeviceClosed = errors.New("usb: device closed")

	// ErrNotFound is returned when no attached device matches the query.
	ErrNotFound = errors.New("usb: device not found")
)

// CodeInfo pairs a result code with its symbolic libusb name and human
// readable description.
type CodeInfo struct {
	Code        ErrorCode
	Name        string
	Description string
}

// codes lists the libusb result codes in declaration order. The
// descriptions match the ones libusb ships, quirks included.
var codes = []CodeInfo{
	{Success, "LIBUSB_SUCCESS", "Success (no error)"},
	{ErrorIO, "LIBUSB_ERROR_IO", "Input/output error."},
	{ErrorInvalidParam, "LIBUSB_ERROR_INVALID_PARAM", "Invalid parameter."},
	{ErrorAccess, "LIBUSB_ERROR_ACCESS", "Access denied (insufficient permissions)"},
	{ErrorNoDevice, "LIBUSB_ERROR_NO_DEVICE", "No such device (it may have been disconnected)"},
	{ErrorNotFound, "LIBUSB_ERROR_NOT_FOUND", "Entity not found."},
	{ErrorBusy, "LIBUSB_ERROR_BUSY", "Resource busy."},
	{ErrorTimeout, "LIBUSB_ERROR_TIMEOUT", "Operation timed out."},
	{ErrorOverflow, "LIBUSB_ERROR_OVERFLOW", "Overflow."},
	{ErrorPipe, "LIBUSB_ERROR_PIPE", "Pipe error."},
	{ErrorInterrupted, "LIBUSB_ERROR_INTERRUPTED", "System call interrupted (perhaps due to signal)"},
	{ErrorNoMem, "LIBUSB_ERROR_NO_MEM", "Insufficient memory."},
	{ErrorNotSupported, "LIBUSB_ERROR_NOT_SUPPORTED", "Operation not supported or unimplemented on this platform."},
	{ErrorOther, "LIBUSB_ERROR_OTHER", "Other error."},
}

var codesByValue = func() map[ErrorCode]CodeInfo {
	m := make(map[ErrorCode]CodeInfo, len(codes))
	for _, info := range codes {
		m[info.Code] = info
	}
	return m
}()

// Codes returns the known libusb result codes in declaration order.
func Codes() []CodeInfo {
	return append([]CodeInfo(nil), codes...)
}

// Name returns the symbolic libusb name of the code, e.g.
// "LIBUSB_ERROR_TIMEOUT". Codes outside the table yield "UNKNOWN".
func (e ErrorCode) Name() string {
	if info, ok := codesByValue[e]; ok {
		return info.Name
	}
	return "UNKNOWN"
}

// Description returns the human readable description of the code. Codes
// outside the table yield "Unknown error.".
func (e ErrorCode) Description() string {
	if info, ok := codesByValue[e]; ok {
		return info.Description
	}
	return "Unknown error."
}

// Error renders the code as libusb reports failures: description first,
// symbolic name in brackets.
func (e ErrorCode) Error() string {
	return e.Description() + " [" + e.Name() + "]"
}

// Code extracts the libusb result code conveyed by err. Errors that do not
// carry one map onto ErrorOther; nil maps onto Success.
func Code(err error) ErrorCode {
	if err == nil {
		return Success
	}
	var code ErrorCode
	if errors.As(err, &code) {
		return code
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return ErrorNotFound
	case errors.Is(err, ErrClosed), errors.Is(err, ErrDeviceClosed):
		return ErrorNoDevice
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTimeout
	case errors.Is(err, context.Canceled):
		return ErrorInterrupted
	}
	return ErrorOther
}
