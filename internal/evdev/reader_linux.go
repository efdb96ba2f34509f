//go:build linux

package evdev

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// _IOW('E', 0x90, int)
const eviocgrab = 0x40044590

// rawEvent is struct input_event.
type rawEvent struct {
	Time  unix.Timeval
	Type  uint16
	Code  uint16
	Value int32
}

var rawEventSize = binary.Size(rawEvent{})

// Reader reads key events from one evdev device.
type Reader struct {
	f       *os.File
	path    string
	grabbed bool
	buf     []byte
	pending []Event

	closeOnce sync.Once
	closeErr  error
}

// Open opens the device at path. With grab set the device is taken
// exclusively so its events reach only chordd.
func Open(path string, grab bool) (*Reader, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	r := &Reader{f: f, path: path, buf: make([]byte, 64*rawEventSize)}
	if grab {
		if err := ioctlInt(f, eviocgrab, 1); err != nil {
			f.Close()
			return nil, fmt.Errorf("grab %s: %w", path, err)
		}
		r.grabbed = true
	}
	return r, nil
}

// Path returns the device path.
func (r *Reader) Path() string {
	return r.path
}

// Read blocks until the next EV_KEY event.
func (r *Reader) Read() (Event, error) {
	for len(r.pending) == 0 {
		n, err := r.f.Read(r.buf)
		if err != nil {
			return Event{}, err
		}
		r.pending = decodeEvents(r.buf[:n])
	}
	ev := r.pending[0]
	r.pending = r.pending[1:]
	return ev, nil
}

func decodeEvents(b []byte) []Event {
	var out []Event
	rd := bytes.NewReader(b)
	for rd.Len() >= rawEventSize {
		var raw rawEvent
		if err := binary.Read(rd, binary.LittleEndian, &raw); err != nil {
			break
		}
		if raw.Type != evKey {
			continue
		}
		out = append(out, Event{
			Time:  time.Unix(int64(raw.Time.Sec), int64(raw.Time.Usec)*1000),
			Code:  raw.Code,
			Value: raw.Value,
		})
	}
	return out
}

// Events reads in a goroutine until ctx is done or the device fails.
// Both channels are closed when reading stops.
func (r *Reader) Events(ctx context.Context) (<-chan Event, <-chan error) {
	events := make(chan Event, 64)
	errc := make(chan error, 1)

	go func() {
		<-ctx.Done()
		r.Close()
	}()

	go func() {
		defer close(events)
		defer close(errc)
		for {
			ev, err := r.Read()
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, os.ErrClosed) {
					errc <- fmt.Errorf("read %s: %w", r.path, err)
				}
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, errc
}

// Close releases the grab and closes the device. It unblocks a pending
// Read.
func (r *Reader) Close() error {
	r.closeOnce.Do(func() {
		if r.grabbed {
			_ = ioctlInt(r.f, eviocgrab, 0)
		}
		r.closeErr = r.f.Close()
	})
	return r.closeErr
}
