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
	"fmt"

	"github.com/urfave/cli/v2"
	"github.com/usbsh/usbsh/console"
	"github.com/usbsh/usbsh/internal/flags"
	"github.com/usbsh/usbsh/usb"
)

var (
	consoleCommand = &cli.Command{
		Action: usbshConsole,
		Name:   "console",
		Usage:  "Start an interactive JavaScript environment",
		Flags:  flags.Merge(baseFlags, consoleFlags),
		Description: `
The usbsh console is an interactive shell for the JavaScript runtime environment
with the host's USB devices bound in as the usb object. Running usbsh without a
command does the same thing.`,
	}
	javascriptCommand = &cli.Command{
		Action:    ephemeralConsole,
		Name:      "js",
		Usage:     "Execute the specified JavaScript files",
		ArgsUsage: "<jsfile> [jsfile...]",
		Flags:     flags.Merge(baseFlags, consoleFlags),
		Description: `
The js command runs the given JavaScript files in a non-interactive JavaScript
environment and tears it down again. The usb object and the device control
modules are available exactly as in the interactive console.`,
	}
)

// makeFullConsole assembles the USB manager and the JavaScript console based
// on the effective configuration. The caller tears both down.
func makeFullConsole(ctx *cli.Context) (*console.Console, *usb.Manager, error) {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	manager := usb.New(cfg.USB)
	client, err := console.New(console.Config{
		DataDir: cfg.Console.DataDir,
		DocRoot: cfg.Console.DocRoot,
		Manager: manager,
		Preload: cfg.Console.Preload,
	})
	if err != nil {
		manager.Close()
		return nil, nil, fmt.Errorf("failed to start the JavaScript console: %v", err)
	}
	return client, manager, nil
}

// usbshConsole starts an interactive JavaScript console bound to the host's
// USB devices. It is both the console command and the default action of the
// binary.
func usbshConsole(ctx *cli.Context) error {
	if ctx.Args().Len() > 0 {
		return fmt.Errorf("invalid command: %q", ctx.Args().First())
	}
	client, manager, err := makeFullConsole(ctx)
	if err != nil {
		return err
	}
	defer manager.Close()
	defer client.Stop(false)

	// If only a short execution was requested, evaluate and return.
	if script := ctx.String(execFlag.Name); script != "" {
		client.Evaluate(script)
		return nil
	}
	// Otherwise print the welcome screen and enter interactive mode.
	client.Welcome()
	client.Interactive()

	return nil
}

// ephemeralConsole executes the JavaScript files given as arguments in a
// throwaway console and tears everything down again.
func ephemeralConsole(ctx *cli.Context) error {
	client, manager, err := makeFullConsole(ctx)
	if err != nil {
		return err
	}
	defer manager.Close()
	defer client.Stop(false)

	for _, file := range ctx.Args().Slice() {
		if err = client.Execute(file); err != nil {
			return fmt.Errorf("failed to execute %s: %v", file, err)
		}
	}
	if script := ctx.String(execFlag.Name); script != "" {
		client.Evaluate(script)
	}
	return nil
}
