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

// Package usb exposes the host's USB access library to Go callers. It is a
// thin delegation layer: enumeration, opening, interface claiming and
// transfers are all forwarded to libusb through the gousb bindings and the
// results are translated onto the libusb error codes callers expect. No
// protocol logic lives here.
package usb

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/inconshreveable/log15"
	"github.com/olekukonko/tablewriter"
)

// Transport is the seam between the manager and the host USB library. The
// production implementation is backed by gousb; tests substitute a hub of
// scripted devices.
type Transport interface {
	// Init creates the underlying library context.
	Init() error

	// SetDebug adjusts the library log level, 0 (none) through 4 (debug).
	SetDebug(level int)

	// List returns a descriptor snapshot of every attached device without
	// opening any of them.
	List() ([]DeviceInfo, error)

	// Open opens the first device attached at the given bus and port. It
	// returns ErrNotFound when nothing is attached there.
	Open(bus, port int) (RawDevice, error)

	// OpenVIDPID opens the first device matching the given vendor and
	// product identifiers, or ErrNotFound.
	OpenVIDPID(vendor, product uint16) (RawDevice, error)

	// Close releases the library context.
	Close() error
}

// RawDevice is an open handle of the underlying library. All methods
// delegate directly to the library; the usb package adds bookkeeping on
// top, never behavior.
type RawDevice interface {
	// Info returns the descriptor snapshot the device was opened from.
	Info() DeviceInfo

	// Manufacturer, Product and SerialNumber resolve the identity strings
	// referenced by the device descriptor.
	Manufacturer() (string, error)
	Product() (string, error)
	SerialNumber() (string, error)

	// GetStringDescriptor reads the ASCII string descriptor at index.
	GetStringDescriptor(index int) (string, error)

	// ClaimInterface claims the numbered interface of the active
	// configuration, ReleaseInterface gives it back.
	ClaimInterface(number int) error
	ReleaseInterface(number int) error

	// Control performs a control transfer on endpoint zero and returns the
	// number of bytes transferred.
	Control(requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error)

	// Bulk and Interrupt perform an endpoint transfer. Bit 7 of the
	// endpoint address selects the direction: set reads into data, clear
	// writes from it. Both return the number of bytes transferred, which
	// is meaningful alongside an ErrorTimeout.
	Bulk(endpoint uint8, data []byte, timeout time.Duration) (int, error)
	Interrupt(endpoint uint8, data []byte, timeout time.Duration) (int, error)

	// Close closes the handle.
	Close() error
}

// DeviceInfo describes one attached device: its position on the bus
// topology plus the identity fields of its device descriptor.
type DeviceInfo struct {
	Bus     int    // number of the bus the device is attached to
	Port    int    // number of the port on the deepest hub
	Path    []int  // port numbers of the hub chain, root hub first
	Address int    // address assigned by the host, changes on replug
	Speed   string // negotiated connection speed ("low", "full", "high", ...)
	Vendor  uint16 // vendor identifier from the device descriptor
	Product uint16 // product identifier from the device descriptor
	Class   uint8  // device class code from the device descriptor
}

// ID renders the vendor and product identifiers the way lsusb does,
// e.g. "0403:6001".
func (info DeviceInfo) ID() string {
	return fmt.Sprintf("%04x:%04x", info.Vendor, info.Product)
}

// PortPath renders the hub chain as a dotted path, e.g. "1.4.2". Devices
// attached directly to a root hub have an empty path and render as "0".
func (info DeviceInfo) PortPath() string {
	if len(info.Path) == 0 {
		return "0"
	}
	parts := make([]string, len(info.Path))
	for i, p := range info.Path {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ".")
}

// Config holds the settings of a Manager.
type Config struct {
	// Transport overrides the backing USB library. Leaving it nil selects
	// the gousb implementation.
	Transport Transport `toml:"-"`

	// Debug is the initial library log level, 0 (none) through 4 (debug).
	Debug int

	// Logger is a custom logger. Leaving it nil selects the package logger.
	Logger log.Logger `toml:"-"`
}

// Manager provides access to the devices on the host's USB buses. The
// library context is created lazily on first use, so building a Manager is
// free and a console session that never touches a device never initialises
// libusb. A Manager tracks the handles opened through it and closes the
// leftovers when it is shut down.
type Manager struct {
	cfg Config
	log log.Logger

	mu        sync.Mutex
	transport Transport
	started   bool
	closed    bool
	handles   map[*handle]struct{}
}

// New creates a manager for the devices reachable through the host's USB
// library.
func New(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New("mod", "usb")
	}
	return &Manager{
		cfg:     cfg,
		log:     logger,
		handles: make(map[*handle]struct{}),
	}
}

// ensure initialises the library context on first use.
// Callers must hold m.mu.
func (m *Manager) ensure() error {
	if m.closed {
		return ErrClosed
	}
	if m.started {
		return nil
	}
	t := m.cfg.Transport
	if t == nil {
		t = newGousbTransport()
	}
	if err := t.Init(); err != nil {
		return err
	}
	if m.cfg.Debug != 0 {
		t.SetDebug(m.cfg.Debug)
	}
	m.transport = t
	m.started = true
	m.log.Debug("USB context initialised", "debug", m.cfg.Debug)
	return nil
}

// Debug sets the log level of the underlying library, 0 (none) through
// 4 (debug).
func (m *Manager) Debug(level int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensure(); err != nil {
		return err
	}
	m.transport.SetDebug(level)
	return nil
}

// List returns a fresh descriptor snapshot of every attached device. The
// device list is reloaded on every call, so unplugged devices drop out and
// new ones show up.
func (m *Manager) List() ([]DeviceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensure(); err != nil {
		return nil, err
	}
	return m.transport.List()
}

// Open opens the device attached at the given bus and port and resolves
// its identity strings. It returns ErrNotFound when nothing is attached
// there. The handle is closed by Close, by the garbage collector if the
// caller loses it, and by the manager shutting down, whichever comes
// first.
func (m *Manager) Open(bus, port int) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensure(); err != nil {
		return nil, err
	}
	raw, err := m.transport.Open(bus, port)
	if err != nil {
		return nil, err
	}
	dev := m.newDevice(raw)
	m.log.Debug("Opened USB device", "bus", bus, "port", port, "id", dev.h.info.ID())
	return dev, nil
}

// OpenVIDPID opens the first device matching the given vendor and product
// identifiers, or returns ErrNotFound.
func (m *Manager) OpenVIDPID(vendor, product uint16) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensure(); err != nil {
		return nil, err
	}
	raw, err := m.transport.OpenVIDPID(vendor, product)
	if err != nil {
		return nil, err
	}
	dev := m.newDevice(raw)
	m.log.Debug("Opened USB device", "id", dev.h.info.ID(), "bus", dev.h.info.Bus, "port", dev.h.info.Port)
	return dev, nil
}

// Summary writes a human readable table of every attached device to w.
// Each device is opened to resolve its identity strings; devices that
// cannot be opened (usually for lack of permissions) are listed with the
// string columns left empty.
func (m *Manager) Summary(w io.Writer) error {
	infos, err := m.List()
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Bus", "Port", "Address", "ID", "Speed", "Manufacturer", "Product", "Serial"})
	table.SetBorder(false)
	for _, info := range infos {
		manufacturer, product, serial := "", "", ""
		if dev, err := m.Open(info.Bus, info.Port); err == nil {
			manufacturer = dev.Manufacturer()
			product = dev.Description()
			serial = dev.SerialNumber()
			dev.Close()
		}
		table.Append([]string{
			strconv.Itoa(info.Bus),
			strconv.Itoa(info.Port),
			strconv.Itoa(info.Address),
			info.ID(),
			info.Speed,
			manufacturer,
			product,
			serial,
		})
	}
	table.Render()
	return nil
}

// Close closes every handle opened through the manager and releases the
// library context. The manager cannot be used afterwards; a manager that
// was never used closes without ever initialising the library.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	transport := m.transport
	m.transport = nil
	open := make([]*handle, 0, len(m.handles))
	for h := range m.handles {
		open = append(open, h)
	}
	m.handles = nil
	m.mu.Unlock()

	for _, h := range open {
		h.close()
	}
	if len(open) > 0 {
		m.log.Debug("Closed dangling USB handles", "handles", len(open))
	}
	if transport == nil {
		return nil
	}
	return transport.Close()
}

// forget drops a handle from the shutdown bookkeeping once it is closed.
func (m *Manager) forget(h *handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handles, h)
}
