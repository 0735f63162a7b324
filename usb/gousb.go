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
	"fmt"
	"time"

	"github.com/google/gousb"
)

// gousbTransport is the production Transport, backed by the gousb bindings
// for libusb. It is the only place in the package that speaks gousb.
type gousbTransport struct {
	ctx *gousb.Context
}

func newGousbTransport() *gousbTransport {
	return &gousbTransport{}
}

func (t *gousbTransport) Init() (err error) {
	// gousb panics when libusb cannot be initialised.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("usb: libusb init failed: %v", r)
		}
	}()
	t.ctx = gousb.NewContext()
	return nil
}

func (t *gousbTransport) SetDebug(level int) {
	t.ctx.Debug(level)
}

func (t *gousbTransport) List() ([]DeviceInfo, error) {
	var infos []DeviceInfo
	// An opener that never opens walks the descriptors only.
	_, err := t.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		infos = append(infos, newDeviceInfo(desc))
		return false
	})
	if err != nil {
		return nil, translate(err)
	}
	return infos, nil
}

func (t *gousbTransport) Open(bus, port int) (RawDevice, error) {
	var match *gousb.DeviceDesc
	devs, err := t.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if match == nil && desc.Bus == bus && desc.Port == port {
			match = desc
			return true
		}
		return false
	})
	if match == nil {
		return nil, ErrNotFound
	}
	if len(devs) == 0 {
		return nil, openFailure(err)
	}
	return &gousbDevice{dev: devs[0], info: newDeviceInfo(match)}, nil
}

// openFailure wraps the error of a failed device open. The library can
// report a matched-but-unopened device with a nil error, which still has
// to surface as a failure.
func openFailure(err error) error {
	if err == nil {
		return fmt.Errorf("failed to open device: %w", ErrorOther)
	}
	return fmt.Errorf("failed to open device: %w", translate(err))
}

func (t *gousbTransport) OpenVIDPID(vendor, product uint16) (RawDevice, error) {
	dev, err := t.ctx.OpenDeviceWithVIDPID(gousb.ID(vendor), gousb.ID(product))
	if err != nil {
		return nil, openFailure(err)
	}
	if dev == nil {
		return nil, ErrNotFound
	}
	return &gousbDevice{dev: dev, info: newDeviceInfo(dev.Desc)}, nil
}

func (t *gousbTransport) Close() error {
	if t.ctx == nil {
		return nil
	}
	return t.ctx.Close()
}

func newDeviceInfo(desc *gousb.DeviceDesc) DeviceInfo {
	return DeviceInfo{
		Bus:     desc.Bus,
		Port:    desc.Port,
		Path:    append([]int(nil), desc.Path...),
		Address: desc.Address,
		Speed:   desc.Speed.String(),
		Vendor:  uint16(desc.Vendor),
		Product: uint16(desc.Product),
		Class:   uint8(desc.Class),
	}
}

// gousbDevice adapts an open gousb handle to the RawDevice interface.
// gousb models interface claiming as objects rather than numbers, so the
// adapter keeps the active configuration and the claimed interfaces around
// to translate between the two views.
type gousbDevice struct {
	dev  *gousb.Device
	info DeviceInfo

	cfg    *gousb.Config            // active configuration, fetched on first claim
	claims map[int]*gousb.Interface // interfaces claimed through ClaimInterface
}

func (d *gousbDevice) Info() DeviceInfo {
	return d.info
}

func (d *gousbDevice) Manufacturer() (string, error) {
	s, err := d.dev.Manufacturer()
	return s, translate(err)
}

func (d *gousbDevice) Product() (string, error) {
	s, err := d.dev.Product()
	return s, translate(err)
}

func (d *gousbDevice) SerialNumber() (string, error) {
	s, err := d.dev.SerialNumber()
	return s, translate(err)
}

func (d *gousbDevice) GetStringDescriptor(index int) (string, error) {
	s, err := d.dev.GetStringDescriptor(index)
	return s, translate(err)
}

func (d *gousbDevice) ClaimInterface(number int) error {
	if d.claims[number] != nil {
		return ErrorBusy
	}
	if d.cfg == nil {
		num, err := d.dev.ActiveConfigNum()
		if err != nil {
			return translate(err)
		}
		cfg, err := d.dev.Config(num)
		if err != nil {
			return translate(err)
		}
		d.cfg = cfg
	}
	intf, err := d.cfg.Interface(number, 0)
	if err != nil {
		return translate(err)
	}
	if d.claims == nil {
		d.claims = make(map[int]*gousb.Interface)
	}
	d.claims[number] = intf
	return nil
}

func (d *gousbDevice) ReleaseInterface(number int) error {
	intf := d.claims[number]
	if intf == nil {
		return ErrorNotFound
	}
	intf.Close()
	delete(d.claims, number)
	return nil
}

func (d *gousbDevice) Control(requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error) {
	d.dev.ControlTimeout = timeout
	n, err := d.dev.Control(requestType, request, value, index, data)
	return n, translate(err)
}

func (d *gousbDevice) Bulk(endpoint uint8, data []byte, timeout time.Duration) (int, error) {
	return d.transfer(endpoint, data, timeout)
}

// Interrupt is the same call as Bulk at this layer: gousb derives the
// transfer type from the endpoint's descriptor.
func (d *gousbDevice) Interrupt(endpoint uint8, data []byte, timeout time.Duration) (int, error) {
	return d.transfer(endpoint, data, timeout)
}

func (d *gousbDevice) transfer(endpoint uint8, data []byte, timeout time.Duration) (int, error) {
	intf, err := d.endpointInterface(endpoint)
	if err != nil {
		return 0, err
	}
	ctx, cancel := transferContext(timeout)
	defer cancel()
	if endpoint&0x80 != 0 {
		ep, err := intf.InEndpoint(int(endpoint & 0x0f))
		if err != nil {
			return 0, translate(err)
		}
		n, err := ep.ReadContext(ctx, data)
		return n, translate(err)
	}
	ep, err := intf.OutEndpoint(int(endpoint & 0x0f))
	if err != nil {
		return 0, translate(err)
	}
	n, err := ep.WriteContext(ctx, data)
	return n, translate(err)
}

// endpointInterface returns the claimed interface carrying the endpoint.
func (d *gousbDevice) endpointInterface(address uint8) (*gousb.Interface, error) {
	for _, intf := range d.claims {
		if _, ok := intf.Setting.Endpoints[gousb.EndpointAddress(address)]; ok {
			return intf, nil
		}
	}
	return nil, ErrorNotFound
}

func (d *gousbDevice) Close() error {
	for number, intf := range d.claims {
		intf.Close()
		delete(d.claims, number)
	}
	if d.cfg != nil {
		d.cfg.Close()
		d.cfg = nil
	}
	return translate(d.dev.Close())
}

// transferContext turns a libusb style timeout into a context: zero means
// unlimited.
func transferContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), timeout)
}

// translate maps gousb and context errors onto ErrorCode values, so that
// everything above the transport sees libusb result codes only.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var le gousb.Error
	if errors.As(err, &le) {
		return ErrorCode(le)
	}
	var ts gousb.TransferStatus
	if errors.As(err, &ts) {
		switch ts {
		case gousb.TransferTimedOut:
			return ErrorTimeout
		case gousb.TransferCancelled:
			return ErrorInterrupted
		case gousb.TransferStall:
			return ErrorPipe
		case gousb.TransferNoDevice:
			return ErrorNoDevice
		case gousb.TransferOverflow:
			return ErrorOverflow
		}
		return ErrorIO
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrorInterrupted
	}
	return err
}
