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
	"fmt"
	"runtime"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// Device is an open handle on an attached USB device. The handle state
// lives in an inner struct shared with the manager, so a Device dropped
// without Close is still released by its finalizer or, failing that, by
// the manager shutting down.
type Device struct {
	h *handle
}

type handle struct {
	manager *Manager
	raw     RawDevice
	info    DeviceInfo

	// Identity strings resolved once at open, best effort.
	manufacturer string
	description  string
	serial       string

	mu      sync.Mutex
	closed  bool
	claimed mapset.Set[int]
}

// newDevice wraps an open raw handle, resolving the identity strings and
// registering the handle for shutdown. The caller must hold m.mu.
func (m *Manager) newDevice(raw RawDevice) *Device {
	h := &handle{
		manager:      m,
		raw:          raw,
		info:         raw.Info(),
		manufacturer: resolveString(raw.Manufacturer),
		description:  resolveString(raw.Product),
		serial:       resolveString(raw.SerialNumber),
		claimed:      mapset.NewThreadUnsafeSet[int](),
	}
	m.handles[h] = struct{}{}
	d := &Device{h: h}
	runtime.SetFinalizer(d, (*Device).finalize)
	return d
}

// resolveString reads an identity string, substituting "unknown" for
// strings the device does not carry or refuses to serve.
func resolveString(read func() (string, error)) string {
	s, err := read()
	if err != nil || s == "" {
		return "unknown"
	}
	return s
}

// Bus returns the number of the bus the device is attached to.
func (d *Device) Bus() int { return d.h.info.Bus }

// Port returns the number of the port the device is attached to.
func (d *Device) Port() int { return d.h.info.Port }

// Address returns the address the host assigned to the device.
func (d *Device) Address() int { return d.h.info.Address }

// Vendor returns the vendor identifier from the device descriptor.
func (d *Device) Vendor() uint16 { return d.h.info.Vendor }

// Product returns the product identifier from the device descriptor.
func (d *Device) Product() uint16 { return d.h.info.Product }

// Manufacturer returns the manufacturer string resolved at open, or
// "unknown".
func (d *Device) Manufacturer() string { return d.h.manufacturer }

// Description returns the product description string resolved at open, or
// "unknown".
func (d *Device) Description() string { return d.h.description }

// SerialNumber returns the serial number string resolved at open, or
// "unknown".
func (d *Device) SerialNumber() string { return d.h.serial }

// Info returns the descriptor snapshot the device was opened from.
func (d *Device) Info() DeviceInfo { return d.h.info }

func (d *Device) String() string {
	info := d.h.info
	return fmt.Sprintf("USB Device: bus=%d, port=%d, address=%d, vendor=0x%04x, product=0x%04x",
		info.Bus, info.Port, info.Address, info.Vendor, info.Product)
}

// ClaimInterface claims the numbered interface of the active
// configuration. Claimed interfaces are tracked and given back when the
// handle closes.
func (d *Device) ClaimInterface(number int) error {
	h := d.h
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrDeviceClosed
	}
	if err := h.raw.ClaimInterface(number); err != nil {
		return err
	}
	h.claimed.Add(number)
	return nil
}

// ReleaseInterface gives back a previously claimed interface.
func (d *Device) ReleaseInterface(number int) error {
	h := d.h
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrDeviceClosed
	}
	if err := h.raw.ReleaseInterface(number); err != nil {
		return err
	}
	h.claimed.Remove(number)
	return nil
}

// GetStringDescriptor reads the ASCII string descriptor at index.
func (d *Device) GetStringDescriptor(index int) (string, error) {
	h := d.h
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return "", ErrDeviceClosed
	}
	return h.raw.GetStringDescriptor(index)
}

// Control performs a control transfer on endpoint zero and returns the
// number of bytes transferred. A timeout of zero means unlimited.
func (d *Device) Control(requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error) {
	h := d.h
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, ErrDeviceClosed
	}
	return h.raw.Control(requestType, request, value, index, data, timeout)
}

// Bulk performs a bulk transfer on the given endpoint. Bit 7 of the
// endpoint address selects the direction: set reads into data, clear
// writes from it. The byte count is meaningful alongside an ErrorTimeout,
// so interrupted transfers can be resumed.
func (d *Device) Bulk(endpoint uint8, data []byte, timeout time.Duration) (int, error) {
	h := d.h
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, ErrDeviceClosed
	}
	return h.raw.Bulk(endpoint, data, timeout)
}

// Interrupt performs an interrupt transfer on the given endpoint, with the
// same conventions as Bulk.
func (d *Device) Interrupt(endpoint uint8, data []byte, timeout time.Duration) (int, error) {
	h := d.h
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, ErrDeviceClosed
	}
	return h.raw.Interrupt(endpoint, data, timeout)
}

// Close releases the claimed interfaces and closes the handle. Closing a
// closed device is a no-op.
func (d *Device) Close() error {
	runtime.SetFinalizer(d, nil)
	return d.h.close()
}

func (d *Device) finalize() {
	d.h.close()
}

// close tears the handle down exactly once: claimed interfaces are given
// back, the raw handle is closed and the manager drops its bookkeeping.
func (h *handle) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for _, number := range h.claimed.ToSlice() {
		h.raw.ReleaseInterface(number)
	}
	h.claimed.Clear()
	err := h.raw.Close()
	h.manager.forget(h)
	return err
}
