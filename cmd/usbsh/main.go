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

// usbsh is a JavaScript console for the devices on the host's USB buses.
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/urfave/cli/v2"
	"github.com/usbsh/usbsh/console/prompt"
	"github.com/usbsh/usbsh/internal/debug"
	"github.com/usbsh/usbsh/internal/flags"
)

const clientIdentifier = "usbsh" // Client identifier to advertise in the banner

var (
	dataDirFlag = &flags.DirectoryFlag{
		Name:     "datadir",
		Usage:    "Data directory for the console history",
		Value:    flags.DirectoryString(defaultDataDir()),
		Category: flags.ConsoleCategory,
	}
	configFileFlag = &cli.StringFlag{
		Name:     "config",
		Usage:    "TOML configuration file",
		Category: flags.ConsoleCategory,
	}
	jsPathFlag = &flags.DirectoryFlag{
		Name:     "jspath",
		Usage:    "JavaScript root path for `loadScript`",
		Value:    flags.DirectoryString("."),
		Category: flags.ConsoleCategory,
	}
	preloadJSFlag = &cli.StringFlag{
		Name:     "preload",
		Usage:    "Comma separated list of JavaScript files to preload into the console",
		Category: flags.ConsoleCategory,
	}
	execFlag = &cli.StringFlag{
		Name:     "exec",
		Usage:    "Execute JavaScript statement",
		Category: flags.ConsoleCategory,
	}
	usbDebugFlag = &cli.IntFlag{
		Name:     "usb.debug",
		Usage:    "libusb log level (0=none, 1=error, 2=warn, 3=info, 4=debug)",
		Category: flags.DeviceCategory,
	}

	// consoleFlags tune the JavaScript environment, baseFlags everything else.
	consoleFlags = []cli.Flag{jsPathFlag, preloadJSFlag, execFlag}
	baseFlags    = []cli.Flag{dataDirFlag, configFileFlag, usbDebugFlag}
)

var app = flags.NewApp("the USB device JavaScript console")

func init() {
	app.Name = clientIdentifier
	app.Action = usbshConsole
	app.Commands = []*cli.Command{
		consoleCommand,
		javascriptCommand,
		listCommand,
		dumpConfigCommand,
		versionCommand,
		licenseCommand,
	}
	sort.Sort(cli.CommandsByName(app.Commands))
	app.Flags = flags.Merge(baseFlags, consoleFlags, debug.Flags)
	app.Before = func(ctx *cli.Context) error {
		flags.MigrateGlobalFlags(ctx)
		return debug.Setup(ctx)
	}
	app.After = func(ctx *cli.Context) error {
		debug.Exit()
		prompt.Stdin.Close() // Resets terminal mode.
		return nil
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
