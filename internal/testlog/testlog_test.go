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

package testlog

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"

	log "github.com/inconshreveable/log15"
)

type mockT struct {
	out io.Writer
}

func (t *mockT) Helper() {
	// noop for the purposes of unit tests
}

func (t *mockT) Logf(format string, args ...interface{}) {
	// testlog only calls Logf with its internal mutex held, so output can
	// be written here without further locking
	if _, err := fmt.Fprintf(t.out, format, args...); err != nil {
		panic(err)
	}
}

func TestSubLogger(t *testing.T) {
	var outp bytes.Buffer
	mock := &mockT{&outp}

	l := Logger(mock, log.LvlInfo)
	subLogger := l.New("port", 4)

	l.Info("claiming interface")
	subLogger.Info("transfer scheduled", "bytes", 109)
	l.Debug("hidden by the level filter")
	l.Info("releasing interface")

	out := outp.String()
	for _, want := range []string{
		"claiming interface",
		"transfer scheduled",
		"port=4",
		"bytes=109",
		"releasing interface",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "hidden by the level filter") {
		t.Errorf("level filter not applied:\n%s", out)
	}
	// Records must render as plain logfmt without terminal escapes, or the
	// key=value assertions above would never hold.
	if strings.Contains(out, "\x1b[") {
		t.Errorf("output contains ANSI escape sequences:\n%q", out)
	}
	// The parent logger must not inherit the sub logger context
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "releasing interface") && strings.Contains(line, "port=4") {
			t.Errorf("sub logger context leaked into parent:\n%s", line)
		}
	}
}
