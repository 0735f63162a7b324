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

package console

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/dop251/goja"
	"github.com/usbsh/usbsh/internal/jsre"
	"github.com/usbsh/usbsh/usb"
)

// bridge is a collection of JavaScript utility methods to bridge the .js
// runtime environment and the Go USB manager.
type bridge struct {
	usb     *usb.Manager // USB manager to route device calls through
	printer io.Writer    // Output writer to serialize any display strings to
}

// newBridge creates a new JavaScript wrapper around a USB manager.
func newBridge(manager *usb.Manager, printer io.Writer) *bridge {
	return &bridge{
		usb:     manager,
		printer: printer,
	}
}

// throwUSBError raises a USB failure into the JS environment as a thrown
// error object carrying the numeric code, its symbolic name and its
// description next to the message, so scripts can branch on what failed.
func throwUSBError(vm *goja.Runtime, err error) {
	code := usb.Code(err)
	errObj := vm.NewGoError(err)
	errObj.Set("code", int(code))
	errObj.Set("errorName", code.Name())
	errObj.Set("description", code.Description())
	panic(errObj)
}

// List returns the descriptor records of every attached USB device. The
// device list is reloaded on every call.
func (b *bridge) List(call jsre.Call) (goja.Value, error) {
	infos, err := b.usb.List()
	if err != nil {
		throwUSBError(call.VM, err)
	}
	records := make([]map[string]interface{}, 0, len(infos))
	for _, info := range infos {
		records = append(records, descriptorRecord(info))
	}
	return call.VM.ToValue(records), nil
}

// Summary prints a human readable table of the attached devices to the
// console output.
func (b *bridge) Summary(call jsre.Call) (goja.Value, error) {
	if err := b.usb.Summary(b.printer); err != nil {
		throwUSBError(call.VM, err)
	}
	return goja.Undefined(), nil
}

// Open opens the device attached at the given bus and port and returns its
// device object, or null when nothing is attached there. Failures opening a
// present device throw.
func (b *bridge) Open(call jsre.Call) (goja.Value, error) {
	if len(call.Arguments) != 2 {
		return nil, errors.New("usage: open(bus, port)")
	}
	bus := int(call.Argument(0).ToInteger())
	port := int(call.Argument(1).ToInteger())
	dev, err := b.usb.Open(bus, port)
	if errors.Is(err, usb.ErrNotFound) {
		return goja.Null(), nil
	}
	if err != nil {
		throwUSBError(call.VM, err)
	}
	return b.deviceObject(call.VM, dev), nil
}

// OpenVidPid opens the first device matching the given vendor and product
// identifiers, or returns null when none is attached.
func (b *bridge) OpenVidPid(call jsre.Call) (goja.Value, error) {
	if len(call.Arguments) != 2 {
		return nil, errors.New("usage: openVidPid(vendor, product)")
	}
	vendor := uint16(call.Argument(0).ToInteger() & 0xffff)
	product := uint16(call.Argument(1).ToInteger() & 0xffff)
	dev, err := b.usb.OpenVIDPID(vendor, product)
	if errors.Is(err, usb.ErrNotFound) {
		return goja.Null(), nil
	}
	if err != nil {
		throwUSBError(call.VM, err)
	}
	return b.deviceObject(call.VM, dev), nil
}

// Debug sets the log level of the underlying USB library, 0 (none) through
// 4 (debug).
func (b *bridge) Debug(call jsre.Call) (goja.Value, error) {
	if len(call.Arguments) != 1 || !isNumber(call.Argument(0)) {
		return nil, errors.New("usage: debug(level)")
	}
	if err := b.usb.Debug(int(call.Argument(0).ToInteger())); err != nil {
		throwUSBError(call.VM, err)
	}
	return goja.Undefined(), nil
}

// ErrorName returns the symbolic name of a USB error code.
func (b *bridge) ErrorName(call jsre.Call) (goja.Value, error) {
	if len(call.Arguments) != 1 {
		return nil, errors.New("usage: errorName(code)")
	}
	code := usb.ErrorCode(call.Argument(0).ToInteger())
	return call.VM.ToValue(code.Name()), nil
}

// ErrorDescription returns the human readable description of a USB error
// code.
func (b *bridge) ErrorDescription(call jsre.Call) (goja.Value, error) {
	if len(call.Arguments) != 1 {
		return nil, errors.New("usage: errorDescription(code)")
	}
	code := usb.ErrorCode(call.Argument(0).ToInteger())
	return call.VM.ToValue(code.Description()), nil
}

// Sleep will block the console for the specified number of seconds.
func (b *bridge) Sleep(call jsre.Call) (goja.Value, error) {
	if len(call.Arguments) < 1 || !isNumber(call.Argument(0)) {
		return nil, errors.New("usage: sleep(<number of seconds>)")
	}
	sleep := call.Argument(0).ToFloat()
	time.Sleep(time.Duration(sleep * float64(time.Second)))
	return call.VM.ToValue(true), nil
}

// descriptorRecord flattens a device descriptor into the JS record shape
// served by usb.list().
func descriptorRecord(info usb.DeviceInfo) map[string]interface{} {
	ports := make([]int, len(info.Path))
	copy(ports, info.Path)
	return map[string]interface{}{
		"bus":     info.Bus,
		"port":    info.Port,
		"ports":   ports,
		"address": info.Address,
		"vendor":  info.Vendor,
		"product": info.Product,
		"class":   info.Class,
		"speed":   info.Speed,
	}
}

// deviceObject wraps an open device handle into a JS object carrying the
// descriptor fields as plain values and the transfer operations as methods.
func (b *bridge) deviceObject(vm *goja.Runtime, dev *usb.Device) *goja.Object {
	obj := vm.NewObject()
	obj.Set("bus", dev.Bus())
	obj.Set("port", dev.Port())
	obj.Set("address", dev.Address())
	obj.Set("vendor", dev.Vendor())
	obj.Set("product", dev.Product())
	obj.Set("manufacturer", dev.Manufacturer())
	obj.Set("description", dev.Description())
	obj.Set("serial", dev.SerialNumber())

	obj.Set("claimInterface", jsre.MakeCallback(vm, func(call jsre.Call) (goja.Value, error) {
		if len(call.Arguments) != 1 || !isNumber(call.Argument(0)) {
			return nil, errors.New("usage: claimInterface(number)")
		}
		code := usb.Code(dev.ClaimInterface(int(call.Argument(0).ToInteger())))
		return call.VM.ToValue(int(code)), nil
	}))
	obj.Set("releaseInterface", jsre.MakeCallback(vm, func(call jsre.Call) (goja.Value, error) {
		if len(call.Arguments) != 1 || !isNumber(call.Argument(0)) {
			return nil, errors.New("usage: releaseInterface(number)")
		}
		code := usb.Code(dev.ReleaseInterface(int(call.Argument(0).ToInteger())))
		return call.VM.ToValue(int(code)), nil
	}))
	obj.Set("getString", jsre.MakeCallback(vm, func(call jsre.Call) (goja.Value, error) {
		if len(call.Arguments) != 1 || !isNumber(call.Argument(0)) {
			return nil, errors.New("usage: getString(index)")
		}
		s, err := dev.GetStringDescriptor(int(call.Argument(0).ToInteger()))
		if err != nil {
			return call.VM.ToValue(int(usb.Code(err))), nil
		}
		return call.VM.ToValue(s), nil
	}))
	obj.Set("controlTransfer", jsre.MakeCallback(vm, func(call jsre.Call) (goja.Value, error) {
		if len(call.Arguments) != 7 {
			return nil, errors.New("usage: controlTransfer(requestType, request, value, index, data, length, timeout)")
		}
		var (
			requestType = uint8(call.Argument(0).ToInteger() & 0xff)
			request     = uint8(call.Argument(1).ToInteger() & 0xff)
			value       = uint16(call.Argument(2).ToInteger() & 0xffff)
			index       = uint16(call.Argument(3).ToInteger() & 0xffff)
		)
		buf, err := bufferOf(call.Argument(4))
		if err != nil {
			return nil, err
		}
		length := int(call.Argument(5).ToInteger())
		if length < 0 || length > len(buf) {
			return nil, errors.New("length must be at most the size of the data")
		}
		timeout := durationMillis(call.Argument(6))
		n, err := dev.Control(requestType, request, value, index, buf[:length], timeout)
		if err != nil {
			return call.VM.ToValue(int(usb.Code(err))), nil
		}
		return call.VM.ToValue(n), nil
	}))
	obj.Set("bulkTransfer", jsre.MakeCallback(vm, transferMethod("bulkTransfer", dev.Bulk)))
	obj.Set("interruptTransfer", jsre.MakeCallback(vm, transferMethod("interruptTransfer", dev.Interrupt)))
	obj.Set("close", jsre.MakeCallback(vm, func(call jsre.Call) (goja.Value, error) {
		return call.VM.ToValue(int(usb.Code(dev.Close()))), nil
	}))
	obj.Set("toString", jsre.MakeCallback(vm, func(call jsre.Call) (goja.Value, error) {
		return call.VM.ToValue(dev.String()), nil
	}))
	return obj
}

// transferMethod builds the JS method for one endpoint transfer flavor. The
// method signature is (endpoint, data, length, timeout [, offset]) and the
// result is {transferred, code} where transferred is the running total
// including the resume offset. The total advances past the offset only on
// success or timeout, so a caller can retry a timed out transfer by passing
// the reported total back in as the next offset.
func transferMethod(name string, do func(uint8, []byte, time.Duration) (int, error)) func(jsre.Call) (goja.Value, error) {
	return func(call jsre.Call) (goja.Value, error) {
		nargs := len(call.Arguments)
		if nargs != 4 && nargs != 5 {
			return nil, fmt.Errorf("usage: %s(endpoint, data, length, timeout [, offset])", name)
		}
		endpoint := uint8(call.Argument(0).ToInteger() & 0xff)
		buf, err := bufferOf(call.Argument(1))
		if err != nil {
			return nil, err
		}
		length := int(call.Argument(2).ToInteger())
		if length < 0 || length > len(buf) {
			return nil, errors.New("invalid length")
		}
		timeout := durationMillis(call.Argument(3))
		offset := 0
		if nargs == 5 {
			offset = int(call.Argument(4).ToInteger())
			if offset < 0 || offset > length {
				return nil, errors.New("invalid offset")
			}
		}
		// A fully consumed buffer is a successful no-op.
		var (
			n     int
			tferr error
		)
		if length > offset {
			n, tferr = do(endpoint, buf[offset:length], timeout)
		}
		code := usb.Code(tferr)
		total := offset
		if code == usb.Success || code == usb.ErrorTimeout {
			total += n
		}
		result := call.VM.NewObject()
		result.Set("transferred", total)
		result.Set("code", int(code))
		return result, nil
	}
}

// bufferOf returns the byte slice backing an ArrayBuffer or typed array
// value. The slice shares memory with the JS side, so IN transfers fill the
// script's buffer in place. null and undefined yield an empty slice.
func bufferOf(v goja.Value) ([]byte, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	if ab, ok := v.Export().(goja.ArrayBuffer); ok {
		return ab.Bytes(), nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, errors.New("data must be an ArrayBuffer or a typed array")
	}
	bv := obj.Get("buffer")
	if bv == nil {
		return nil, errors.New("data must be an ArrayBuffer or a typed array")
	}
	ab, ok := bv.Export().(goja.ArrayBuffer)
	if !ok {
		return nil, errors.New("data must be an ArrayBuffer or a typed array")
	}
	bytes := ab.Bytes()
	var offset, length int64
	if ov := obj.Get("byteOffset"); ov != nil {
		offset = ov.ToInteger()
	}
	length = int64(len(bytes))
	if lv := obj.Get("byteLength"); lv != nil {
		length = lv.ToInteger()
	}
	if offset < 0 || length < 0 || offset+length > int64(len(bytes)) {
		return nil, errors.New("typed array view out of range")
	}
	return bytes[offset : offset+length], nil
}

func durationMillis(v goja.Value) time.Duration {
	return time.Duration(v.ToInteger()) * time.Millisecond
}

func isNumber(v goja.Value) bool {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return false
	}
	kind := v.ExportType().Kind()
	return kind >= reflect.Int && kind <= reflect.Float64
}
