//go:build !linux

package evdev

import (
	"context"

	"chordd/internal/host"
)

// UinputPath is the uinput control device.
const UinputPath = "/dev/uinput"

// Reader is unavailable on this platform.
type Reader struct{}

// Open always fails on this platform.
func Open(path string, grab bool) (*Reader, error) {
	return nil, ErrUnsupported
}

// Path returns "".
func (r *Reader) Path() string { return "" }

// Read always fails on this platform.
func (r *Reader) Read() (Event, error) { return Event{}, ErrUnsupported }

// Events returns closed channels.
func (r *Reader) Events(ctx context.Context) (<-chan Event, <-chan error) {
	events := make(chan Event)
	errc := make(chan error, 1)
	errc <- ErrUnsupported
	close(events)
	close(errc)
	return events, errc
}

// Close does nothing.
func (r *Reader) Close() error { return nil }

// VirtualKeyboard is unavailable on this platform.
type VirtualKeyboard struct{}

var _ host.ReportSink = (*VirtualKeyboard)(nil)

// NewVirtualKeyboard always fails on this platform.
func NewVirtualKeyboard(name string) (*VirtualKeyboard, error) {
	return nil, ErrUnsupported
}

// Name returns "".
func (v *VirtualKeyboard) Name() string { return "" }

// SendReport always fails on this platform.
func (v *VirtualKeyboard) SendReport(r host.Report) error { return ErrUnsupported }

// Close does nothing.
func (v *VirtualKeyboard) Close() error { return nil }
