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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"unicode"

	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"
	"github.com/usbsh/usbsh/internal/flags"
	"github.com/usbsh/usbsh/usb"
)

var dumpConfigCommand = &cli.Command{
	Action:      dumpConfig,
	Name:        "dumpconfig",
	Usage:       "Export configuration values in a TOML format",
	ArgsUsage:   "<dumpfile (optional)>",
	Flags:       flags.Merge(baseFlags, consoleFlags),
	Description: `Export configuration values in TOML format (to stdout by default).`,
}

// consoleSettings is the TOML face of the console section: the fields of
// console.Config a file can meaningfully set.
type consoleSettings struct {
	DataDir string
	DocRoot string
	Preload []string
}

// usbshConfig is the collection of configurations of the binary, one section
// per subsystem.
type usbshConfig struct {
	USB     usb.Config
	Console consoleSettings
}

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

// loadConfigFile reads the given TOML file into cfg.
func loadConfigFile(file string, cfg *usbshConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(f).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// defaultConfig returns the configuration the binary runs with when neither a
// config file nor flags adjust it.
func defaultConfig() usbshConfig {
	return usbshConfig{
		Console: consoleSettings{
			DataDir: defaultDataDir(),
			DocRoot: ".",
		},
	}
}

// makeConfig assembles the effective configuration: defaults, overridden by
// the config file, overridden by the command line flags.
func makeConfig(ctx *cli.Context) (usbshConfig, error) {
	cfg := defaultConfig()
	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := loadConfigFile(file, &cfg); err != nil {
			return cfg, err
		}
	}
	if ctx.IsSet(dataDirFlag.Name) {
		cfg.Console.DataDir = ctx.String(dataDirFlag.Name)
	}
	if ctx.IsSet(jsPathFlag.Name) {
		cfg.Console.DocRoot = ctx.String(jsPathFlag.Name)
	}
	if ctx.IsSet(preloadJSFlag.Name) {
		cfg.Console.Preload = makePreloads(ctx, cfg.Console.DocRoot)
	}
	if ctx.IsSet(usbDebugFlag.Name) {
		cfg.USB.Debug = ctx.Int(usbDebugFlag.Name)
	}
	return cfg, nil
}

// makePreloads retrieves the absolute paths for the console JavaScript
// scripts to preload before starting.
func makePreloads(ctx *cli.Context, docRoot string) []string {
	var preloads []string
	for _, file := range strings.Split(ctx.String(preloadJSFlag.Name), ",") {
		preloads = append(preloads, strings.TrimSpace(file))
	}
	for i, file := range preloads {
		if !filepath.IsAbs(file) {
			preloads[i] = filepath.Join(docRoot, file)
		}
	}
	return preloads
}

// dumpConfig is the dumpconfig command.
func dumpConfig(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	out, err := tomlSettings.Marshal(&cfg)
	if err != nil {
		return err
	}

	dump := os.Stdout
	if ctx.NArg() > 0 {
		dump, err = os.OpenFile(ctx.Args().Get(0), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		defer dump.Close()
	}
	dump.Write(out)

	return nil
}

// defaultDataDir is the default console history location, a hidden directory
// in the platform's conventional home.
func defaultDataDir() string {
	home := flags.HomeDir()
	if home == "" {
		// As we cannot guess a stable location, return empty and
		// handle later.
		return ""
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Usbsh")
	case "windows":
		if appdata := os.Getenv("LOCALAPPDATA"); appdata != "" {
			return filepath.Join(appdata, "Usbsh")
		}
		return filepath.Join(home, "AppData", "Local", "Usbsh")
	default:
		return filepath.Join(home, ".usbsh")
	}
}
