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
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	log "github.com/inconshreveable/log15"
	"github.com/stretchr/testify/require"
	"github.com/usbsh/usbsh/console/prompt"
	"github.com/usbsh/usbsh/internal/testlog"
	"github.com/usbsh/usbsh/usb"
	"github.com/usbsh/usbsh/usb/usbtest"
)

// hookedPrompter satisfies UserPrompter to simulate user input via channels.
type hookedPrompter struct {
	scheduler chan string
}

func (p *hookedPrompter) PromptInput(prompt string) (string, error) {
	// Send the prompt to the tester
	select {
	case p.scheduler <- prompt:
	case <-time.After(time.Second):
		return "", errors.New("prompt timeout")
	}
	// Retrieve the response and feed to the console
	select {
	case input := <-p.scheduler:
		return input, nil
	case <-time.After(time.Second):
		return "", errors.New("input timeout")
	}
}

func (p *hookedPrompter) PromptConfirm(prompt string) (bool, error) {
	return false, errors.New("not implemented")
}
func (p *hookedPrompter) SetHistory(history []string)                     {}
func (p *hookedPrompter) AppendHistory(command string)                    {}
func (p *hookedPrompter) ClearHistory()                                   {}
func (p *hookedPrompter) SetWordCompleter(completer prompt.WordCompleter) {}

// mirrorDevice returns a scripted device shaped like the MIRAO 52-e
// electronics: the generic FTDI identity in front of one interface with a
// bulk OUT and a bulk IN endpoint.
func mirrorDevice() *usbtest.Device {
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
		ProductName:      "MIRAO 52-e",
		Serial:           "MR52E031",
		StringDescriptors: map[int]string{
			1: "FTDI",
			2: "MIRAO 52-e",
			3: "MR52E031",
		},
		Interfaces: map[int][]uint8{
			0: {0x02, 0x81},
		},
	}
}

// tester is a console test environment for the console tests to operate on.
type tester struct {
	workspace string
	hub       *usbtest.Hub
	device    *usbtest.Device
	console   *Console
	input     *hookedPrompter
	output    *bytes.Buffer
}

// newTester creates a test environment with one mirror attached, based on
// which the console can operate.
func newTester(t *testing.T, confOverride func(*Config)) *tester {
	t.Helper()

	workspace := t.TempDir()
	device := mirrorDevice()
	hub := usbtest.NewHub(device)
	manager := usb.New(usb.Config{Transport: hub, Logger: testlog.Logger(t, log.LvlDebug)})

	prompter := &hookedPrompter{scheduler: make(chan string)}
	printer := new(bytes.Buffer)

	config := Config{
		DataDir:  workspace,
		DocRoot:  workspace,
		Manager:  manager,
		Prompter: prompter,
		Printer:  printer,
	}
	if confOverride != nil {
		confOverride(&config)
	}
	console, err := New(config)
	require.NoError(t, err, "failed to create JavaScript console")

	t.Cleanup(func() {
		console.Stop(false)
		manager.Close()
	})
	return &tester{
		workspace: workspace,
		hub:       hub,
		device:    device,
		console:   console,
		input:     prompter,
		output:    printer,
	}
}

// run evaluates a statement and returns everything printed for it.
func (env *tester) run(statement string) string {
	env.output.Reset()
	env.console.Evaluate(statement)
	return env.output.String()
}

// Tests that the console banner lists the build, the data directory and the
// attached device count.
func TestWelcome(t *testing.T) {
	tester := newTester(t, nil)
	tester.console.Welcome()

	output := tester.output.String()
	if want := "Welcome to the usbsh JavaScript console!"; !strings.Contains(output, want) {
		t.Fatalf("console output missing welcome message: have\n%s\nwant also %s", output, want)
	}
	if want := "instance: usbsh/v"; !strings.Contains(output, want) {
		t.Fatalf("console output missing instance: have\n%s\nwant also %s", output, want)
	}
	if want := "datadir: " + tester.workspace; !strings.Contains(output, want) {
		t.Fatalf("console output missing datadir: have\n%s\nwant also %s", output, want)
	}
	if want := "devices: 1 attached"; !strings.Contains(output, want) {
		t.Fatalf("console output missing device count: have\n%s\nwant also %s", output, want)
	}
	if want := "modules: debug mirao usb"; !strings.Contains(output, want) {
		t.Fatalf("console output missing modules: have\n%s\nwant also %s", output, want)
	}
}

// Tests that JavaScript statement evaluation works as intended.
func TestEvaluate(t *testing.T) {
	tester := newTester(t, nil)
	if output := tester.run("2 + 2"); !strings.Contains(output, "4") {
		t.Fatalf("statement evaluation failed: have %s, want %s", output, "4")
	}
}

// Tests that the console can be used in interactive mode.
func TestInteractive(t *testing.T) {
	tester := newTester(t, nil)
	go tester.console.Interactive()

	// Wait for a prompt and send a statement back
	select {
	case <-tester.input.scheduler:
	case <-time.After(time.Second):
		t.Fatalf("initial prompt timeout")
	}
	select {
	case tester.input.scheduler <- "2+2":
	case <-time.After(time.Second):
		t.Fatalf("input feedback timeout")
	}
	// Wait for the second prompt and ensure the first statement was evaluated
	select {
	case <-tester.input.scheduler:
	case <-time.After(time.Second):
		t.Fatalf("secondary prompt timeout")
	}
	if output := tester.output.String(); !strings.Contains(output, "4") {
		t.Fatalf("statement evaluation failed: have %s, want %s", output, "4")
	}
}

// Tests that preloaded JavaScript files have been executed before the user
// is given input.
func TestPreload(t *testing.T) {
	tester := newTester(t, func(config *Config) {
		path := filepath.Join(config.DataDir, "preload.js")
		if err := os.WriteFile(path, []byte(`var preloaded = "spock"`), 0600); err != nil {
			t.Fatalf("failed to write preload: %v", err)
		}
		config.Preload = []string{path}
	})
	if output := tester.run("preloaded"); !strings.Contains(output, "spock") {
		t.Fatalf("preloaded variable missing: have %s, want %s", output, "spock")
	}
}

// Tests that JavaScript scripts can be executed from file.
func TestExecute(t *testing.T) {
	tester := newTester(t, nil)

	path := filepath.Join(tester.workspace, "exec.js")
	require.NoError(t, os.WriteFile(path, []byte("var executed = 10 + 2;"), 0600))
	require.NoError(t, tester.console.Execute("exec.js"))

	if output := tester.run("executed"); !strings.Contains(output, "12") {
		t.Fatalf("script execution failed: have %s, want %s", output, "12")
	}
}

// Tests that usb.list serves the descriptor records of the attached devices.
func TestList(t *testing.T) {
	tester := newTester(t, nil)

	if output := tester.run("usb.list().length"); !strings.Contains(output, "1") {
		t.Fatalf("device count mismatch: have %s, want %s", output, "1")
	}
	for statement, want := range map[string]string{
		"usb.list()[0].bus":     "1",
		"usb.list()[0].port":    "4",
		"usb.list()[0].address": "7",
		"usb.list()[0].vendor":  "1027",  // 0x0403
		"usb.list()[0].product": "24577", // 0x6001
		"usb.list()[0].speed":   "full",
	} {
		if output := tester.run(statement); !strings.Contains(output, want) {
			t.Fatalf("%s mismatch: have %s, want %s", statement, output, want)
		}
	}
	// Detached devices must drop out on the next listing
	tester.hub.Detach(tester.device)
	if output := tester.run("usb.list().length"); !strings.Contains(output, "0") {
		t.Fatalf("device count after detach mismatch: have %s, want %s", output, "0")
	}
}

// Tests that the error code globals carry the libusb values and that the
// translation helpers resolve them.
func TestErrorGlobals(t *testing.T) {
	tester := newTester(t, nil)

	if output := tester.run("USB_SUCCESS"); !strings.Contains(output, "0") {
		t.Fatalf("USB_SUCCESS mismatch: have %s, want %s", output, "0")
	}
	if output := tester.run("USB_ERROR_TIMEOUT"); !strings.Contains(output, "-7") {
		t.Fatalf("USB_ERROR_TIMEOUT mismatch: have %s, want %s", output, "-7")
	}
	if output := tester.run("usb.errorName(-7)"); !strings.Contains(output, "LIBUSB_ERROR_TIMEOUT") {
		t.Fatalf("error name mismatch: have %s", output)
	}
	if output := tester.run("usb.errorDescription(-7)"); !strings.Contains(output, "Operation timed out.") {
		t.Fatalf("error description mismatch: have %s", output)
	}
}

// Tests that opening an absent device yields null instead of throwing.
func TestOpenMissing(t *testing.T) {
	tester := newTester(t, nil)
	if output := tester.run("usb.open(9, 9)"); !strings.Contains(output, "null") {
		t.Fatalf("open of absent device mismatch: have %s, want %s", output, "null")
	}
}

// Tests that failing to open a present device throws an error object whose
// code, symbolic name and description are available to the script.
func TestOpenFailure(t *testing.T) {
	tester := newTester(t, nil)
	tester.device.OpenErr = usb.ErrorAccess

	output := tester.run(`try { usb.open(1, 4); } catch (e) { e.code + "|" + e.errorName + "|" + e.description; }`)
	if want := "-3|LIBUSB_ERROR_ACCESS|Access denied (insufficient permissions)"; !strings.Contains(output, want) {
		t.Fatalf("thrown error mismatch: have %s, want %s", output, want)
	}
	// The message carries the underlying failure text
	output = tester.run(`try { usb.open(1, 4); } catch (e) { e.message; }`)
	if want := "Access denied"; !strings.Contains(output, want) {
		t.Fatalf("thrown message mismatch: have %s, want %s", output, want)
	}
}

// Tests the scalar fields and the interface bookkeeping of a device object.
func TestDeviceObject(t *testing.T) {
	tester := newTester(t, nil)

	tester.run("var d = usb.open(1, 4)")
	for statement, want := range map[string]string{
		"d.vendor":       "1027",
		"d.product":      "24577",
		"d.manufacturer": "FTDI",
		"d.description":  "MIRAO 52-e",
		"d.serial":       "MR52E031",
		"d.getString(2)": "MIRAO 52-e",
		"d.toString()":   "USB Device: bus=1, port=4, address=7, vendor=0x0403, product=0x6001",
	} {
		if output := tester.run(statement); !strings.Contains(output, want) {
			t.Fatalf("%s mismatch: have %s, want %s", statement, output, want)
		}
	}
	if output := tester.run("d.claimInterface(0)"); !strings.Contains(output, "0") {
		t.Fatalf("claim result mismatch: have %s, want %s", output, "0")
	}
	require.True(t, tester.device.Claimed(0), "interface not claimed on the device")

	// Claiming an absent interface reports the code instead of throwing
	if output := tester.run("d.claimInterface(3)"); !strings.Contains(output, "-5") {
		t.Fatalf("claim of absent interface mismatch: have %s, want %s", output, "-5")
	}
	tester.run("d.releaseInterface(0)")
	require.False(t, tester.device.Claimed(0), "interface still claimed on the device")
}

// Tests that control transfers pass their arguments through untouched.
func TestControlTransfer(t *testing.T) {
	tester := newTester(t, nil)

	tester.run("var d = usb.open(1, 4)")
	if output := tester.run("d.controlTransfer(0x40, 0x03, 0x4138, 0, null, 0, 1000)"); !strings.Contains(output, "0") {
		t.Fatalf("control transfer count mismatch: have %s, want %s", output, "0")
	}
	records := tester.device.Controls()
	want := []usbtest.ControlRecord{{RequestType: 0x40, Request: 0x03, Value: 0x4138, Index: 0}}
	if !reflect.DeepEqual(records, want) {
		t.Fatalf("control transfer mismatch:\nhave %swant %s", spew.Sdump(records), spew.Sdump(want))
	}
	// Requesting more bytes than the buffer holds must fail before touching
	// the device
	if output := tester.run("d.controlTransfer(0x40, 0x03, 0, 0, null, 4, 1000)"); !strings.Contains(output, "length must be at most the size of the data") {
		t.Fatalf("oversized control transfer mismatch: have %s", output)
	}
	require.Len(t, tester.device.Controls(), 1, "rejected transfer reached the device")
}

// Tests the {transferred, code} result shape of endpoint transfers, the in
// place buffer fill of IN transfers and the offset based resume after a
// timeout.
func TestBulkTransfer(t *testing.T) {
	tester := newTester(t, nil)

	tester.run("var d = usb.open(1, 4)")
	tester.run("d.claimInterface(0)")

	// A full write reports every byte moved
	tester.run("var out = new Uint8Array([1, 2, 3, 4])")
	if output := tester.run("var r = d.bulkTransfer(0x02, out, 4, 1000); r.transferred + ',' + r.code"); !strings.Contains(output, "4,0") {
		t.Fatalf("bulk write result mismatch: have %s, want %s", output, "4,0")
	}
	writes := tester.device.Written(0x02)
	if want := [][]byte{{1, 2, 3, 4}}; !reflect.DeepEqual(writes, want) {
		t.Fatalf("bulk payload mismatch:\nhave %swant %s", spew.Sdump(writes), spew.Sdump(want))
	}

	// An IN transfer fills the script's buffer in place
	tester.device.TransferFn = func(endpoint uint8, data []byte, timeout time.Duration) (int, error) {
		copy(data, []byte{0x01, 0x60, 0x00})
		return len(data), nil
	}
	tester.run("var in_ = new Uint8Array(3)")
	if output := tester.run("d.bulkTransfer(0x81, in_, 3, 1000).transferred"); !strings.Contains(output, "3") {
		t.Fatalf("bulk read count mismatch: have %s, want %s", output, "3")
	}
	if output := tester.run("in_[0] + ',' + in_[1] + ',' + in_[2]"); !strings.Contains(output, "1,96,0") {
		t.Fatalf("bulk read buffer mismatch: have %s, want %s", output, "1,96,0")
	}

	// A timed out transfer reports the partial count so the script can
	// resume from that offset
	var payloads [][]byte
	step := 0
	tester.device.TransferFn = func(endpoint uint8, data []byte, timeout time.Duration) (int, error) {
		payloads = append(payloads, append([]byte(nil), data...))
		if step++; step == 1 {
			return 2, usb.ErrorTimeout
		}
		return len(data), nil
	}
	if output := tester.run("var t = d.bulkTransfer(0x02, out, 4, 100); t.transferred + ',' + t.code"); !strings.Contains(output, "2,-7") {
		t.Fatalf("timeout result mismatch: have %s, want %s", output, "2,-7")
	}
	if output := tester.run("var t2 = d.bulkTransfer(0x02, out, 4, 100, t.transferred); t2.transferred + ',' + t2.code"); !strings.Contains(output, "4,0") {
		t.Fatalf("resume result mismatch: have %s, want %s", output, "4,0")
	}
	want := [][]byte{{1, 2, 3, 4}, {3, 4}}
	if !reflect.DeepEqual(payloads, want) {
		t.Fatalf("resume payload mismatch:\nhave %swant %s", spew.Sdump(payloads), spew.Sdump(want))
	}
}

// Tests that a zero timeout reaches the device as an unlimited deadline and
// that zero length transfers complete as successful no-ops.
func TestTransferEdgeCases(t *testing.T) {
	tester := newTester(t, nil)

	tester.run("var d = usb.open(1, 4)")
	tester.run("d.claimInterface(0)")

	var timeouts []time.Duration
	tester.device.TransferFn = func(endpoint uint8, data []byte, timeout time.Duration) (int, error) {
		timeouts = append(timeouts, timeout)
		return len(data), nil
	}
	tester.run("var buf = new Uint8Array(2)")
	if output := tester.run("d.bulkTransfer(0x02, buf, 2, 0).code"); !strings.Contains(output, "0") {
		t.Fatalf("unlimited timeout transfer failed: have %s", output)
	}
	if want := []time.Duration{0}; !reflect.DeepEqual(timeouts, want) {
		t.Fatalf("timeout mismatch:\nhave %swant %s", spew.Sdump(timeouts), spew.Sdump(want))
	}

	// A zero length transfer is a successful no-op that never reaches the
	// device
	if output := tester.run("var z = d.bulkTransfer(0x02, null, 0, 1000); z.transferred + ',' + z.code"); !strings.Contains(output, "0,0") {
		t.Fatalf("zero length transfer mismatch: have %s, want %s", output, "0,0")
	}
	if len(timeouts) != 1 {
		t.Fatalf("zero length transfer reached the device")
	}
}

// Tests that the command frame builder produces the documented wire format.
func TestMiraoFrame(t *testing.T) {
	tester := newTester(t, nil)

	tester.run("var flat = []; for (var i = 0; i < 52; i++) { flat.push(0); }")
	tester.run("var f = new Uint8Array(mirao.frame(flat))")
	for statement, want := range map[string]string{
		"f.length": "109",
		"f[0]":     "165", // 0xa5
		"f[1]":     "60",  // 0x3c
		"f[2]":     "0",   // DAC mid scale, low byte
		"f[3]":     "128", // DAC mid scale, high byte
		"f[108]":   "0",   // 52 * (0x00 + 0x80) wraps to zero
	} {
		if output := tester.run(statement); !strings.Contains(output, want) {
			t.Fatalf("%s mismatch: have %s, want %s", statement, output, want)
		}
	}
	// Saturated commands hit the DAC rails
	tester.run("flat[0] = 1; flat[1] = -1;")
	tester.run("var g = new Uint8Array(mirao.frame(flat))")
	for statement, want := range map[string]string{
		"g[2]": "255", // 0xffff low
		"g[3]": "255", // 0xffff high
		"g[4]": "1",   // 0x0001 low
		"g[5]": "0",   // 0x0001 high
	} {
		if output := tester.run(statement); !strings.Contains(output, want) {
			t.Fatalf("%s mismatch: have %s, want %s", statement, output, want)
		}
	}
}

// Tests that command vectors violating the mirror's safety envelope are
// rejected before any device interaction.
func TestMiraoEnvelope(t *testing.T) {
	tester := newTester(t, nil)

	if output := tester.run("mirao.check([1, 2, 3])"); !strings.Contains(output, "expected 52 actuator commands, got 3") {
		t.Fatalf("short vector not rejected: have %s", output)
	}
	tester.run("var flat = []; for (var i = 0; i < 52; i++) { flat.push(0); }")

	if output := tester.run("flat[7] = 1.5; mirao.check(flat)"); !strings.Contains(output, "actuator 7 command 1.5 outside [-1, 1]") {
		t.Fatalf("oversized command not rejected: have %s", output)
	}
	if output := tester.run("for (var i = 0; i < 52; i++) { flat[i] = 0.5; } mirao.check(flat)"); !strings.Contains(output, "exceeds 25") {
		t.Fatalf("oversized total not rejected: have %s", output)
	}
	// Sending without an open mirror fails before framing
	if output := tester.run("mirao.send(flat)"); !strings.Contains(output, "mirror not open") {
		t.Fatalf("send without open not rejected: have %s", output)
	}
}

// Tests the full mirror session: open claims the interface and replays the
// FTDI setup, send frames the commands onto the OUT endpoint and checks the
// status reply, close releases the interface.
func TestMiraoSession(t *testing.T) {
	tester := newTester(t, nil)

	// Script the endpoint behavior: record OUT frames, serve an all well
	// status on IN
	var frames [][]byte
	tester.device.TransferFn = func(endpoint uint8, data []byte, timeout time.Duration) (int, error) {
		if endpoint&0x80 == 0 {
			frames = append(frames, append([]byte(nil), data...))
			return len(data), nil
		}
		copy(data, []byte{0x01, 0x60, 0x00})
		return len(data), nil
	}

	if output := tester.run("mirao.find().port"); !strings.Contains(output, "4") {
		t.Fatalf("mirror not found: have %s", output)
	}
	tester.run("mirao.open()")
	require.True(t, tester.device.Claimed(0), "mirror interface not claimed")

	records := tester.device.Controls()
	want := []usbtest.ControlRecord{
		{RequestType: 0x40, Request: 0x00, Value: 0x0000, Index: 1}, // reset
		{RequestType: 0x40, Request: 0x00, Value: 0x0001, Index: 1}, // purge RX
		{RequestType: 0x40, Request: 0x00, Value: 0x0002, Index: 1}, // purge TX
		{RequestType: 0x40, Request: 0x09, Value: 0x0002, Index: 1}, // latency timer
	}
	if !reflect.DeepEqual(records, want) {
		t.Fatalf("FTDI setup sequence mismatch:\nhave %swant %s", spew.Sdump(records), spew.Sdump(want))
	}

	// Opening twice must be refused
	if output := tester.run("mirao.open()"); !strings.Contains(output, "mirror already open") {
		t.Fatalf("double open not rejected: have %s", output)
	}

	// Flatten the mirror and verify the frame on the wire
	if output := tester.run("mirao.reset()"); !strings.Contains(output, "true") {
		t.Fatalf("reset failed: have %s", output)
	}
	require.Len(t, frames, 1, "reset did not produce exactly one frame")
	frame := frames[0]
	require.Len(t, frame, 109, "frame length mismatch")
	require.Equal(t, byte(0xa5), frame[0], "first sync byte mismatch")
	require.Equal(t, byte(0x3c), frame[1], "second sync byte mismatch")
	for i := 0; i < 52; i++ {
		if frame[2+2*i] != 0x00 || frame[3+2*i] != 0x80 {
			t.Fatalf("actuator %d not at DAC mid scale: %s", i, spew.Sdump(frame))
		}
	}

	// A non zero status byte must surface as a refusal
	tester.device.TransferFn = func(endpoint uint8, data []byte, timeout time.Duration) (int, error) {
		if endpoint&0x80 == 0 {
			return len(data), nil
		}
		copy(data, []byte{0x01, 0x60, 0x2a})
		return len(data), nil
	}
	if output := tester.run("mirao.reset()"); !strings.Contains(output, "mirror refused command: status 0x2a") {
		t.Fatalf("refused status not surfaced: have %s", output)
	}

	// Closing releases the interface and survives a second call
	tester.run("mirao.close()")
	require.False(t, tester.device.Claimed(0), "mirror interface still claimed")
	tester.run("mirao.close()")
	if output := tester.run("mirao.device()"); !strings.Contains(output, "null") {
		t.Fatalf("device handle not cleared: have %s", output)
	}
}

// Tests that opening with a serial filter skips mismatched FTDI devices.
func TestMiraoSerialFilter(t *testing.T) {
	tester := newTester(t, nil)

	if output := tester.run(`mirao.open("OTHER")`); !strings.Contains(output, "no MIRAO 52-e mirror with serial OTHER") {
		t.Fatalf("serial mismatch not reported: have %s", output)
	}
	require.False(t, tester.device.Claimed(0), "interface claimed despite serial mismatch")
	require.Equal(t, tester.device.Opens(), tester.device.Closes(), "handle leaked by the serial filter")

	tester.run(`mirao.open("MR52E031")`)
	require.True(t, tester.device.Claimed(0), "matching serial not opened")
}

// Tests that the scrollback history survives a console restart.
func TestHistoryPersistence(t *testing.T) {
	tester := newTester(t, nil)
	go tester.console.Interactive()

	for _, input := range []string{"1 + 1", "exit"} {
		select {
		case <-tester.input.scheduler:
		case <-time.After(time.Second):
			t.Fatalf("prompt timeout")
		}
		select {
		case tester.input.scheduler <- input:
		case <-time.After(time.Second):
			t.Fatalf("input feedback timeout")
		}
	}
	require.NoError(t, tester.console.Stop(false))

	history, err := os.ReadFile(filepath.Join(tester.workspace, HistoryFile))
	require.NoError(t, err, "history file missing")
	if !strings.Contains(string(history), "1 + 1") {
		t.Fatalf("command missing from history: %q", history)
	}
	if strings.Contains(string(history), "exit") {
		t.Fatalf("exit recorded in history: %q", history)
	}
}
