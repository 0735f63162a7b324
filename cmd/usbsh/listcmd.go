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
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
	"github.com/usbsh/usbsh/internal/flags"
	"github.com/usbsh/usbsh/usb"
)

var (
	listStringsFlag = &cli.BoolFlag{
		Name:     "strings",
		Usage:    "Open each device to resolve its string descriptors (may need permissions)",
		Category: flags.DeviceCategory,
	}

	listCommand = &cli.Command{
		Action: listDevices,
		Name:   "list",
		Usage:  "List the devices attached to the USB buses",
		Flags:  flags.Merge(baseFlags, []cli.Flag{listStringsFlag}),
		Description: `
Print one row per attached USB device, with its bus topology position and the
identity of its device descriptor. With --strings every device is additionally
opened to resolve the manufacturer, product and serial number strings, which
usually requires device access permissions.`,
	}
)

// listDevices is the list command: an lsusb style table of the attached
// devices, straight off a fresh enumeration snapshot.
func listDevices(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	manager := usb.New(cfg.USB)
	defer manager.Close()

	if ctx.Bool(listStringsFlag.Name) {
		return manager.Summary(os.Stdout)
	}
	infos, err := manager.List()
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Bus", "Port", "Path", "Address", "ID", "Class", "Speed"})
	table.SetBorder(false)
	for _, info := range infos {
		table.Append([]string{
			strconv.Itoa(info.Bus),
			strconv.Itoa(info.Port),
			info.PortPath(),
			strconv.Itoa(info.Address),
			info.ID(),
			strconv.Itoa(int(info.Class)),
			info.Speed,
		})
	}
	table.Render()
	return nil
}
