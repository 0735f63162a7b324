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

package usb_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/usbsh/usbsh/usb"
	"github.com/usbsh/usbsh/usb/usbtest"
)

// makeDevice returns a scripted mirror-ish device on bus 1, port 4 with one
// claimable interface carrying a bulk in/out endpoint pair.
func makeDevice() *usbtest.Device {
	return &usbtest.Device{
		Desc: usb.DeviceInfo{
			Bus:     1,
			Port:    4,
			Path:    []int{4},
			Address: 7,
			Speed:   "full",
			Vendor:  0x0403,
			Product: 0x6001,
		},
		ManufacturerName: "FTDI",
		ProductName:      "FT245R USB FIFO",
		Serial:           "A600crtV",
		StringDescriptors: map[int]string{
			1: "FTDI",
			2: "FT245R USB FIFO",
			3: "A600crtV",
		},
		Interfaces: map[int][]uint8{
			0: {0x02, 0x81},
		},
	}
}

func TestLazyInit(t *testing.T) {
	hub := usbtest.NewHub(makeDevice())
	manager := usb.New(usb.Config{Transport: hub, Debug: 3})
	defer manager.Close()

	if hub.Inited() {
		t.Fatal("transport initialised before first use")
	}
	if _, err := manager.List(); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !hub.Inited() {
		t.Fatal("transport not initialised by first use")
	}
	if levels := hub.DebugLevels(); len(levels) != 1 || levels[0] != 3 {
		t.Fatalf("debug levels = %v, want [3]", levels)
	}
}

func TestInitFailure(t *testing.T) {
	hub := usbtest.NewHub()
	hub.InitErr = usb.ErrorNoMem
	manager := usb.New(usb.Config{Transport: hub})
	defer manager.Close()

	if _, err := manager.List(); usb.Code(err) != usb.ErrorNoMem {
		t.Fatalf("list error = %v, want LIBUSB_ERROR_NO_MEM", err)
	}
	// Initialisation is retried, not latched.
	hub.InitErr = nil
	if _, err := manager.List(); err != nil {
		t.Fatalf("list after recovery: %v", err)
	}
}

func TestListSnapshot(t *testing.T) {
	first, second := makeDevice(), makeDevice()
	second.Desc.Bus, second.Desc.Port = 2, 1

	hub := usbtest.NewHub(first, second)
	manager := usb.New(usb.Config{Transport: hub})
	defer manager.Close()

	infos, err := manager.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("have %d devices, want 2", len(infos))
	}
	hub.Detach(second)

	infos, err = manager.List()
	if err != nil {
		t.Fatalf("list after detach: %v", err)
	}
	if len(infos) != 1 || infos[0].Bus != 1 {
		t.Fatalf("stale snapshot after detach: %v", infos)
	}
}

func TestOpen(t *testing.T) {
	hub := usbtest.NewHub(makeDevice())
	manager := usb.New(usb.Config{Transport: hub})
	defer manager.Close()

	dev, err := manager.Open(1, 4)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer dev.Close()

	if dev.Bus() != 1 || dev.Port() != 4 || dev.Address() != 7 {
		t.Errorf("location = %d/%d/%d, want 1/4/7", dev.Bus(), dev.Port(), dev.Address())
	}
	if dev.Vendor() != 0x0403 || dev.Product() != 0x6001 {
		t.Errorf("id = %04x:%04x, want 0403:6001", dev.Vendor(), dev.Product())
	}
	if dev.Manufacturer() != "FTDI" || dev.Description() != "FT245R USB FIFO" || dev.SerialNumber() != "A600crtV" {
		t.Errorf("strings = %q/%q/%q", dev.Manufacturer(), dev.Description(), dev.SerialNumber())
	}
}

func TestOpenNotFound(t *testing.T) {
	hub := usbtest.NewHub(makeDevice())
	manager := usb.New(usb.Config{Transport: hub})
	defer manager.Close()

	if _, err := manager.Open(1, 5); !errors.Is(err, usb.ErrNotFound) {
		t.Fatalf("open error = %v, want ErrNotFound", err)
	}
	if _, err := manager.OpenVIDPID(0xdead, 0xbeef); !errors.Is(err, usb.ErrNotFound) {
		t.Fatalf("openVIDPID error = %v, want ErrNotFound", err)
	}
}

func TestOpenVIDPID(t *testing.T) {
	hub := usbtest.NewHub(makeDevice())
	manager := usb.New(usb.Config{Transport: hub})
	defer manager.Close()

	dev, err := manager.OpenVIDPID(0x0403, 0x6001)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer dev.Close()

	if dev.Bus() != 1 || dev.Port() != 4 {
		t.Errorf("location = %d/%d, want 1/4", dev.Bus(), dev.Port())
	}
}

func TestUnknownStrings(t *testing.T) {
	blank := makeDevice()
	blank.ManufacturerName, blank.ProductName, blank.Serial = "", "", ""

	hub := usbtest.NewHub(blank)
	manager := usb.New(usb.Config{Transport: hub})
	defer manager.Close()

	dev, err := manager.Open(1, 4)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer dev.Close()

	if dev.Manufacturer() != "unknown" || dev.Description() != "unknown" || dev.SerialNumber() != "unknown" {
		t.Errorf("strings = %q/%q/%q, want unknown placeholders",
			dev.Manufacturer(), dev.Description(), dev.SerialNumber())
	}
}

func TestDeviceString(t *testing.T) {
	hub := usbtest.NewHub(makeDevice())
	manager := usb.New(usb.Config{Transport: hub})
	defer manager.Close()

	dev, err := manager.Open(1, 4)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer dev.Close()

	want := "USB Device: bus=1, port=4, address=7, vendor=0x0403, product=0x6001"
	if got := dev.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestClaimRelease(t *testing.T) {
	fake := makeDevice()
	hub := usbtest.NewHub(fake)
	manager := usb.New(usb.Config{Transport: hub})
	defer manager.Close()

	dev, err := manager.Open(1, 4)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer dev.Close()

	if err := dev.ClaimInterface(0); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !fake.Claimed(0) {
		t.Fatal("interface not claimed on the device")
	}
	if err := dev.ClaimInterface(0); usb.Code(err) != usb.ErrorBusy {
		t.Fatalf("double claim error = %v, want LIBUSB_ERROR_BUSY", err)
	}
	if err := dev.ClaimInterface(3); usb.Code(err) != usb.ErrorNotFound {
		t.Fatalf("claim of missing interface = %v, want LIBUSB_ERROR_NOT_FOUND", err)
	}
	if err := dev.ReleaseInterface(0); err != nil {
		t.Fatalf("release: %v", err)
	}
	if fake.Claimed(0) {
		t.Fatal("interface still claimed after release")
	}
	if err := dev.ReleaseInterface(0); usb.Code(err) != usb.ErrorNotFound {
		t.Fatalf("double release error = %v, want LIBUSB_ERROR_NOT_FOUND", err)
	}
}

func TestGetStringDescriptor(t *testing.T) {
	hub := usbtest.NewHub(makeDevice())
	manager := usb.New(usb.Config{Transport: hub})
	defer manager.Close()

	dev, err := manager.Open(1, 4)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer dev.Close()

	if s, err := dev.GetStringDescriptor(3); err != nil || s != "A600crtV" {
		t.Fatalf("descriptor 3 = %q, %v", s, err)
	}
	if _, err := dev.GetStringDescriptor(9); usb.Code(err) != usb.ErrorInvalidParam {
		t.Fatalf("missing descriptor error = %v, want LIBUSB_ERROR_INVALID_PARAM", err)
	}
}

func TestControl(t *testing.T) {
	fake := makeDevice()
	hub := usbtest.NewHub(fake)
	manager := usb.New(usb.Config{Transport: hub})
	defer manager.Close()

	dev, err := manager.Open(1, 4)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer dev.Close()

	n, err := dev.Control(0x40, 0x03, 0x4138, 0, nil, time.Second)
	if err != nil || n != 0 {
		t.Fatalf("control = %d, %v", n, err)
	}
	records := fake.Controls()
	if len(records) != 1 {
		t.Fatalf("have %d control records, want 1", len(records))
	}
	rec := records[0]
	if rec.RequestType != 0x40 || rec.Request != 0x03 || rec.Value != 0x4138 || rec.Index != 0 {
		t.Fatalf("control record = %+v", rec)
	}
}

func TestTransfers(t *testing.T) {
	fake := makeDevice()
	hub := usbtest.NewHub(fake)
	manager := usb.New(usb.Config{Transport: hub})
	defer manager.Close()

	dev, err := manager.Open(1, 4)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer dev.Close()

	// Transfers on endpoints of unclaimed interfaces must be refused.
	if _, err := dev.Bulk(0x02, []byte{1, 2, 3}, time.Second); usb.Code(err) != usb.ErrorNotFound {
		t.Fatalf("unclaimed transfer error = %v, want LIBUSB_ERROR_NOT_FOUND", err)
	}
	if err := dev.ClaimInterface(0); err != nil {
		t.Fatalf("claim: %v", err)
	}
	payload := []byte{0xa5, 0x5a, 0xff}
	n, err := dev.Bulk(0x02, payload, time.Second)
	if err != nil || n != len(payload) {
		t.Fatalf("bulk out = %d, %v", n, err)
	}
	written := fake.Written(0x02)
	if len(written) != 1 || !bytes.Equal(written[0], payload) {
		t.Fatalf("endpoint saw %v, want [%v]", written, payload)
	}
	// Interrupt rides the same path.
	if _, err := dev.Interrupt(0x81, make([]byte, 8), time.Second); err != nil {
		t.Fatalf("interrupt in: %v", err)
	}
}

func TestTransferTimeout(t *testing.T) {
	fake := makeDevice()
	fake.TransferFn = func(endpoint uint8, data []byte, timeout time.Duration) (int, error) {
		return 3, usb.ErrorTimeout
	}
	hub := usbtest.NewHub(fake)
	manager := usb.New(usb.Config{Transport: hub})
	defer manager.Close()

	dev, err := manager.Open(1, 4)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer dev.Close()

	if err := dev.ClaimInterface(0); err != nil {
		t.Fatalf("claim: %v", err)
	}
	// A timeout still reports the bytes that made it through.
	n, err := dev.Bulk(0x02, make([]byte, 8), time.Millisecond)
	if usb.Code(err) != usb.ErrorTimeout {
		t.Fatalf("error = %v, want LIBUSB_ERROR_TIMEOUT", err)
	}
	if n != 3 {
		t.Fatalf("partial transfer = %d, want 3", n)
	}
}

func TestDeviceClose(t *testing.T) {
	fake := makeDevice()
	hub := usbtest.NewHub(fake)
	manager := usb.New(usb.Config{Transport: hub})
	defer manager.Close()

	dev, err := manager.Open(1, 4)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := dev.ClaimInterface(0); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if fake.Claimed(0) {
		t.Error("claimed interface survived close")
	}
	if fake.Closes() != 1 {
		t.Errorf("device closed %d times, want 1", fake.Closes())
	}
	// Closing twice is harmless, using the handle is not.
	if err := dev.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if fake.Closes() != 1 {
		t.Errorf("second close reached the device, closes = %d", fake.Closes())
	}
	if err := dev.ClaimInterface(0); !errors.Is(err, usb.ErrDeviceClosed) {
		t.Errorf("claim after close = %v, want ErrDeviceClosed", err)
	}
	if _, err := dev.Bulk(0x02, nil, 0); !errors.Is(err, usb.ErrDeviceClosed) {
		t.Errorf("bulk after close = %v, want ErrDeviceClosed", err)
	}
	if _, err := dev.GetStringDescriptor(1); !errors.Is(err, usb.ErrDeviceClosed) {
		t.Errorf("descriptor after close = %v, want ErrDeviceClosed", err)
	}
	// Descriptor data stays readable, matching a cached snapshot.
	if dev.Vendor() != 0x0403 {
		t.Errorf("vendor after close = %04x", dev.Vendor())
	}
}

func TestManagerClose(t *testing.T) {
	first, second := makeDevice(), makeDevice()
	second.Desc.Bus, second.Desc.Port = 2, 1

	hub := usbtest.NewHub(first, second)
	manager := usb.New(usb.Config{Transport: hub})

	devA, err := manager.Open(1, 4)
	if err != nil {
		t.Fatalf("open A: %v", err)
	}
	devB, err := manager.Open(2, 1)
	if err != nil {
		t.Fatalf("open B: %v", err)
	}
	if err := devA.ClaimInterface(0); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := manager.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if first.Closes() != 1 || second.Closes() != 1 {
		t.Errorf("device closes = %d/%d, want 1/1", first.Closes(), second.Closes())
	}
	if first.Claimed(0) {
		t.Error("claimed interface survived manager shutdown")
	}
	if !hub.Closed() {
		t.Error("transport not closed")
	}
	// Everything is dead now.
	if _, err := manager.List(); !errors.Is(err, usb.ErrClosed) {
		t.Errorf("list after close = %v, want ErrClosed", err)
	}
	if _, err := manager.Open(1, 4); !errors.Is(err, usb.ErrClosed) {
		t.Errorf("open after close = %v, want ErrClosed", err)
	}
	if _, err := devB.Bulk(0x02, nil, 0); !errors.Is(err, usb.ErrDeviceClosed) {
		t.Errorf("transfer after close = %v, want ErrDeviceClosed", err)
	}
	if err := manager.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestManagerCloseUnused(t *testing.T) {
	hub := usbtest.NewHub()
	manager := usb.New(usb.Config{Transport: hub})
	if err := manager.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if hub.Inited() || hub.Closed() {
		t.Error("unused manager touched the transport")
	}
}

func TestDebug(t *testing.T) {
	hub := usbtest.NewHub()
	manager := usb.New(usb.Config{Transport: hub})
	defer manager.Close()

	if err := manager.Debug(4); err != nil {
		t.Fatalf("debug: %v", err)
	}
	if levels := hub.DebugLevels(); len(levels) != 1 || levels[0] != 4 {
		t.Fatalf("debug levels = %v, want [4]", levels)
	}
}

func TestSummary(t *testing.T) {
	open := makeDevice()
	locked := makeDevice()
	locked.Desc.Bus, locked.Desc.Port = 2, 1
	locked.Desc.Vendor, locked.Desc.Product = 0x1234, 0xabcd
	locked.OpenErr = usb.ErrorAccess

	hub := usbtest.NewHub(open, locked)
	manager := usb.New(usb.Config{Transport: hub})
	defer manager.Close()

	var buf bytes.Buffer
	if err := manager.Summary(&buf); err != nil {
		t.Fatalf("summary: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"0403:6001", "FTDI", "FT245R USB FIFO", "A600crtV", "1234:abcd"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary output missing %q:\n%s", want, out)
		}
	}
	// The unopenable device must still be listed, with blank strings.
	if strings.Count(out, "FTDI") != 1 {
		t.Errorf("summary leaked strings across devices:\n%s", out)
	}
	// Probing handles must not linger.
	if open.Closes() != open.Opens() {
		t.Errorf("summary leaked handles: %d opens, %d closes", open.Opens(), open.Closes())
	}
}

func TestDeviceInfoHelpers(t *testing.T) {
	info := usb.DeviceInfo{Bus: 3, Port: 2, Path: []int{2, 4, 1}, Vendor: 0x0403, Product: 0x6001}
	if got, want := info.ID(), "0403:6001"; got != want {
		t.Errorf("ID() = %q, want %q", got, want)
	}
	if got, want := info.PortPath(), "2.4.1"; got != want {
		t.Errorf("PortPath() = %q, want %q", got, want)
	}
	if got, want := (usb.DeviceInfo{}).PortPath(), "0"; got != want {
		t.Errorf("empty PortPath() = %q, want %q", got, want)
	}
}
