// Copyright 2023 The usbsh Authors
// This file is part of usbsh.
//
// usbsh is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// usbsh is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with usbsh. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/usbsh/usbsh/params"
)

// Tests that a console can be started and producing the welcome banner, and
// that it terminates on the exit command.
func TestConsoleWelcome(t *testing.T) {
	usbsh := runUsbsh(t, "console")

	// The devices line is best effort and depends on the host hardware and
	// permissions, so pin down the stable parts of the banner with a single
	// pattern tolerating whatever sits in between.
	usbsh.ExpectRegexp(`(?s)Welcome to the usbsh JavaScript console!.*` +
		`instance: usbsh/v.*` +
		`modules: debug mirao usb.*` +
		`To exit, press ctrl-d or type exit`)

	usbsh.InputLine("exit")
	usbsh.WaitExit()
}

// Tests that --exec evaluates a statement and returns without entering
// interactive mode.
func TestConsoleExec(t *testing.T) {
	usbsh := runUsbsh(t, "--exec", "2+2", "console")
	usbsh.Expect("4\n")
	usbsh.ExpectExit()
}

// Tests that the js command runs script files in the bound environment.
func TestJSRunner(t *testing.T) {
	script := filepath.Join(t.TempDir(), "test.js")
	source := `
		console.log("script ran");
		console.log(typeof usb.open, typeof mirao.send);
	`
	if err := os.WriteFile(script, []byte(source), 0644); err != nil {
		t.Fatal(err)
	}
	usbsh := runUsbsh(t, "js", script)
	usbsh.Expect(`
script ran
function function
`)
	usbsh.ExpectExit()
}

// Tests that the version command reports the params version.
func TestVersion(t *testing.T) {
	usbsh := runUsbsh(t, "version")
	usbsh.ExpectRegexp(`
usbsh
Version: ` + regexp.QuoteMeta(params.VersionWithMeta))
	usbsh.WaitExit()
}

// Tests that flag values reach the dumped configuration.
func TestDumpConfig(t *testing.T) {
	usbsh := runUsbsh(t, "--usb.debug", "3", "dumpconfig")
	usbsh.ExpectRegexp(`Debug = 3`)
	usbsh.WaitExit()
}
