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

// Package usbtest provides a scripted usb.Transport for exercising the usb
// package and its consumers without hardware attached.
package usbtest

import (
	"sync"
	"time"

	"github.com/usbsh/usbsh/usb"
)

// Hub is a Transport whose bus population is scripted by the test.
type Hub struct {
	// InitErr, when set, fails Init.
	InitErr error
	// ListErr, when set, fails List.
	ListErr error

	mu      sync.Mutex
	devices []*Device
	inited  bool
	closed  bool
	debug   []int
}

// NewHub returns a hub with the given devices attached.
func NewHub(devices ...*Device) *Hub {
	return &Hub{devices: devices}
}

// Attach plugs a device into the hub.
func (h *Hub) Attach(d *Device) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.devices = append(h.devices, d)
}

// Detach unplugs a device from the hub. Open handles keep working, as they
// do with real hardware until the kernel notices.
func (h *Hub) Detach(d *Device) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, dev := range h.devices {
		if dev == d {
			h.devices = append(h.devices[:i], h.devices[i+1:]...)
			return
		}
	}
}

func (h *Hub) Init() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.InitErr != nil {
		return h.InitErr
	}
	h.inited = true
	return nil
}

func (h *Hub) SetDebug(level int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.debug = append(h.debug, level)
}

func (h *Hub) List() ([]usb.DeviceInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ListErr != nil {
		return nil, h.ListErr
	}
	infos := make([]usb.DeviceInfo, 0, len(h.devices))
	for _, d := range h.devices {
		infos = append(infos, d.Desc)
	}
	return infos, nil
}

func (h *Hub) Open(bus, port int) (usb.RawDevice, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, d := range h.devices {
		if d.Desc.Bus == bus && d.Desc.Port == port {
			return d.open()
		}
	}
	return nil, usb.ErrNotFound
}

func (h *Hub) OpenVIDPID(vendor, product uint16) (usb.RawDevice, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, d := range h.devices {
		if d.Desc.Vendor == vendor && d.Desc.Product == product {
			return d.open()
		}
	}
	return nil, usb.ErrNotFound
}

func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// Inited reports whether the manager initialised the hub.
func (h *Hub) Inited() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inited
}

// Closed reports whether the manager shut the hub down.
func (h *Hub) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// DebugLevels returns every level passed to SetDebug, in call order.
func (h *Hub) DebugLevels() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int(nil), h.debug...)
}

// ControlRecord captures the arguments of one control transfer.
type ControlRecord struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Data        []byte
}

// Device is a scripted RawDevice. The zero value works; populate the
// fields the test cares about and attach it to a Hub.
type Device struct {
	Desc usb.DeviceInfo

	// Identity strings served by the descriptor resolution calls.
	ManufacturerName string
	ProductName      string
	Serial           string

	// StringDescriptors holds raw descriptor strings by index.
	StringDescriptors map[int]string

	// Interfaces maps interface numbers to the endpoint addresses they
	// expose once claimed.
	Interfaces map[int][]uint8

	// OpenErr fails opening the device, ClaimErr fails every claim.
	OpenErr  error
	ClaimErr error

	// ControlFn and TransferFn, when set, script the outcome of control
	// and endpoint transfers. Unscripted transfers succeed and report the
	// full buffer as transferred; writes are additionally recorded.
	ControlFn  func(requestType, request uint8, value, index uint16, data []byte) (int, error)
	TransferFn func(endpoint uint8, data []byte, timeout time.Duration) (int, error)

	mu       sync.Mutex
	opens    int
	closes   int
	claimed  map[int]bool
	controls []ControlRecord
	written  map[uint8][][]byte
}

func (d *Device) open() (usb.RawDevice, error) {
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	return d, nil
}

func (d *Device) Info() usb.DeviceInfo {
	return d.Desc
}

func (d *Device) Manufacturer() (string, error) {
	return d.ManufacturerName, nil
}

func (d *Device) Product() (string, error) {
	return d.ProductName, nil
}

func (d *Device) SerialNumber() (string, error) {
	return d.Serial, nil
}

func (d *Device) GetStringDescriptor(index int) (string, error) {
	if s, ok := d.StringDescriptors[index]; ok {
		return s, nil
	}
	return "", usb.ErrorInvalidParam
}

func (d *Device) ClaimInterface(number int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ClaimErr != nil {
		return d.ClaimErr
	}
	if _, ok := d.Interfaces[number]; !ok {
		return usb.ErrorNotFound
	}
	if d.claimed[number] {
		return usb.ErrorBusy
	}
	if d.claimed == nil {
		d.claimed = make(map[int]bool)
	}
	d.claimed[number] = true
	return nil
}

func (d *Device) ReleaseInterface(number int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.claimed[number] {
		return usb.ErrorNotFound
	}
	delete(d.claimed, number)
	return nil
}

func (d *Device) Control(requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error) {
	d.mu.Lock()
	d.controls = append(d.controls, ControlRecord{requestType, request, value, index, append([]byte(nil), data...)})
	d.mu.Unlock()
	if d.ControlFn != nil {
		return d.ControlFn(requestType, request, value, index, data)
	}
	return len(data), nil
}

func (d *Device) Bulk(endpoint uint8, data []byte, timeout time.Duration) (int, error) {
	return d.transfer(endpoint, data, timeout)
}

func (d *Device) Interrupt(endpoint uint8, data []byte, timeout time.Duration) (int, error) {
	return d.transfer(endpoint, data, timeout)
}

func (d *Device) transfer(endpoint uint8, data []byte, timeout time.Duration) (int, error) {
	if !d.endpointClaimed(endpoint) {
		return 0, usb.ErrorNotFound
	}
	if d.TransferFn != nil {
		return d.TransferFn(endpoint, data, timeout)
	}
	if endpoint&0x80 == 0 {
		d.mu.Lock()
		if d.written == nil {
			d.written = make(map[uint8][][]byte)
		}
		d.written[endpoint] = append(d.written[endpoint], append([]byte(nil), data...))
		d.mu.Unlock()
	}
	return len(data), nil
}

func (d *Device) endpointClaimed(endpoint uint8) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for number, endpoints := range d.Interfaces {
		if !d.claimed[number] {
			continue
		}
		for _, ep := range endpoints {
			if ep == endpoint {
				return true
			}
		}
	}
	return false
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	return nil
}

// Claimed reports whether the numbered interface is currently claimed.
func (d *Device) Claimed(number int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.claimed[number]
}

// Opens returns how many times the device was opened.
func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Closes returns how many times the device was closed.
func (d *Device) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// Controls returns every control transfer issued so far, in call order.
func (d *Device) Controls() []ControlRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ControlRecord(nil), d.controls...)
}

// Written returns the payloads written to the given OUT endpoint, in call
// order.
func (d *Device) Written(endpoint uint8) [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.written[endpoint]...)
}
