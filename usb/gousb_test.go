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
	"strings"
	"testing"
)

// Tests that a failed device open reports a real error even when the
// library yields an empty device list without an error of its own.
func TestOpenFailureWrap(t *testing.T) {
	err := openFailure(nil)
	if code := Code(err); code != ErrorOther {
		t.Fatalf("nil open failure code = %d, want %d", code, ErrorOther)
	}
	if msg := err.Error(); strings.Contains(msg, "%!w") || !strings.Contains(msg, "Other error.") {
		t.Fatalf("nil open failure message garbled: %q", msg)
	}
	if err := openFailure(ErrorAccess); Code(err) != ErrorAccess {
		t.Fatalf("open failure code = %d, want %d", Code(err), ErrorAccess)
	}
}
