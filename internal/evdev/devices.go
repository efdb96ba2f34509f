package evdev

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ErrNoKeyboard is returned when no keyboard device can be found.
var ErrNoKeyboard = errors.New("evdev: no keyboard found")

// ProcDevices lists the kernel's input devices.
const ProcDevices = "/proc/bus/input/devices"

// Device describes one input device from /proc/bus/input/devices.
type Device struct {
	Name     string
	Phys     string
	Path     string
	Keyboard bool
}

// ListDevices returns the input devices known to the kernel.
func ListDevices() ([]Device, error) {
	f, err := os.Open(ProcDevices)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", ProcDevices, err)
	}
	defer f.Close()
	return ParseDevices(f)
}

// FindKeyboard returns the first keyboard whose name is not exclude,
// typically chordd's own virtual keyboard.
func FindKeyboard(exclude string) (Device, error) {
	devices, err := ListDevices()
	if err != nil {
		return Device{}, err
	}
	for _, d := range devices {
		if d.Keyboard && d.Path != "" && d.Name != exclude {
			return d, nil
		}
	}
	return Device{}, ErrNoKeyboard
}

// ParseDevices parses the /proc/bus/input/devices format: blocks of
// "X: ..." lines separated by blank lines.
func ParseDevices(r io.Reader) ([]Device, error) {
	var (
		devices  []Device
		cur      Device
		handlers []string
		keyBits  string
		inBlock  bool
	)

	flush := func() {
		if inBlock {
			cur.Keyboard = hasKbdHandler(handlers) && looksLikeKeyboard(keyBits)
			devices = append(devices, cur)
		}
		cur, handlers, keyBits, inBlock = Device{}, nil, "", false
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			flush()
			continue
		}
		inBlock = true

		switch {
		case strings.HasPrefix(line, "N: Name="):
			cur.Name = strings.Trim(strings.TrimPrefix(line, "N: Name="), `"`)
		case strings.HasPrefix(line, "P: Phys="):
			cur.Phys = strings.TrimPrefix(line, "P: Phys=")
		case strings.HasPrefix(line, "H: Handlers="):
			handlers = strings.Fields(strings.TrimPrefix(line, "H: Handlers="))
			for _, h := range handlers {
				if strings.HasPrefix(h, "event") {
					cur.Path = "/dev/input/" + h
				}
			}
		case strings.HasPrefix(line, "B: KEY="):
			keyBits = strings.TrimPrefix(line, "B: KEY=")
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read devices: %w", err)
	}
	return devices, nil
}

func hasKbdHandler(handlers []string) bool {
	for _, h := range handlers {
		if h == "kbd" {
			return true
		}
	}
	return false
}

// looksLikeKeyboard checks the KEY capability bitmap for Q and A. Power
// buttons and mice also carry a kbd handler but not letter keys.
func looksLikeKeyboard(bits string) bool {
	words := strings.Fields(bits)
	if len(words) == 0 {
		return false
	}
	low, err := strconv.ParseUint(words[len(words)-1], 16, 64)
	if err != nil {
		return false
	}
	want := uint64(1)<<keyQ | uint64(1)<<keyA
	return low&want == want
}
