//go:build linux

package evdev

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"chordd/internal/host"
)

// UinputPath is the uinput control device.
const UinputPath = "/dev/uinput"

const (
	uiSetEvbit   = 0x40045564 // _IOW('U', 100, int)
	uiSetKeybit  = 0x40045565 // _IOW('U', 101, int)
	uiDevCreate  = 0x5501     // _IO('U', 1)
	uiDevDestroy = 0x5502     // _IO('U', 2)
	uiDevSetup   = 0x405c5503 // _IOW('U', 3, struct uinput_setup)

	busVirtual = 0x06
)

type inputID struct {
	Bustype uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

// uinputSetup is struct uinput_setup.
type uinputSetup struct {
	ID           inputID
	Name         [80]byte
	FFEffectsMax uint32
}

// VirtualKeyboard is a uinput keyboard fed with HID reports. It
// implements host.ReportSink.
type VirtualKeyboard struct {
	mu   sync.Mutex
	f    *os.File
	name string
	prev host.Report
}

var _ host.ReportSink = (*VirtualKeyboard)(nil)

// NewVirtualKeyboard creates a virtual keyboard called name.
func NewVirtualKeyboard(name string) (*VirtualKeyboard, error) {
	f, err := os.OpenFile(UinputPath, os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", UinputPath, err)
	}

	if err := setupKeyboard(f, name); err != nil {
		f.Close()
		return nil, err
	}
	return &VirtualKeyboard{f: f, name: name}, nil
}

func setupKeyboard(f *os.File, name string) error {
	for _, ev := range []int{evKey, evSyn} {
		if err := ioctlInt(f, uiSetEvbit, ev); err != nil {
			return fmt.Errorf("UI_SET_EVBIT: %w", err)
		}
	}
	for _, code := range SupportedCodes() {
		if err := ioctlInt(f, uiSetKeybit, int(code)); err != nil {
			return fmt.Errorf("UI_SET_KEYBIT %d: %w", code, err)
		}
	}

	setup := uinputSetup{ID: inputID{Bustype: busVirtual, Vendor: 0x1209, Product: 0xc0de, Version: 1}}
	copy(setup.Name[:len(setup.Name)-1], name)
	if err := ioctlPtr(f, uiDevSetup, unsafe.Pointer(&setup)); err != nil {
		return fmt.Errorf("UI_DEV_SETUP: %w", err)
	}
	if err := ioctlInt(f, uiDevCreate, 0); err != nil {
		return fmt.Errorf("UI_DEV_CREATE: %w", err)
	}
	return nil
}

// Name returns the device name.
func (v *VirtualKeyboard) Name() string {
	return v.name
}

// SendReport emits the key transitions between the previous report and r
// followed by a SYN_REPORT.
func (v *VirtualKeyboard) SendReport(r host.Report) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	transitions := Diff(v.prev, r)
	if len(transitions) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, t := range transitions {
		value := int32(ValueUp)
		if t.Down {
			value = ValueDown
		}
		binary.Write(&buf, binary.LittleEndian, rawEvent{Type: evKey, Code: t.Code, Value: value})
	}
	binary.Write(&buf, binary.LittleEndian, rawEvent{Type: evSyn, Code: synReport})

	if _, err := v.f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write %s: %w", UinputPath, err)
	}
	v.prev = r
	return nil
}

// Close releases every key and destroys the device.
func (v *VirtualKeyboard) Close() error {
	_ = v.SendReport(host.Report{})

	v.mu.Lock()
	defer v.mu.Unlock()
	_ = ioctlInt(v.f, uiDevDestroy, 0)
	return v.f.Close()
}
