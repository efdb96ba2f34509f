package evdev

import (
	"chordd/internal/host"
	"chordd/internal/keycode"
)

// Transition is one key going up or down on the virtual keyboard.
type Transition struct {
	Code uint16
	Down bool
}

// Diff returns the transitions that turn prev into next. Releases come
// first, and modifiers are pressed before keys so shifted keys come out
// shifted.
func Diff(prev, next host.Report) []Transition {
	var out []Transition

	prevKeys := prev.Pressed()
	nextKeys := next.Pressed()

	for _, k := range prevKeys {
		if !contains(nextKeys, k) {
			if code, ok := Code(k); ok {
				out = append(out, Transition{Code: code})
			}
		}
	}
	for bit, code := range modifierCodes {
		m := keycode.ModMask(1) << bit
		if prev.Mods&m != 0 && next.Mods&m == 0 {
			out = append(out, Transition{Code: code})
		}
	}
	for bit, code := range modifierCodes {
		m := keycode.ModMask(1) << bit
		if prev.Mods&m == 0 && next.Mods&m != 0 {
			out = append(out, Transition{Code: code, Down: true})
		}
	}
	for _, k := range nextKeys {
		if !contains(prevKeys, k) {
			if code, ok := Code(k); ok {
				out = append(out, Transition{Code: code, Down: true})
			}
		}
	}
	return out
}

func contains(keys []keycode.Keycode, k keycode.Keycode) bool {
	for _, x := range keys {
		if x == k {
			return true
		}
	}
	return false
}
