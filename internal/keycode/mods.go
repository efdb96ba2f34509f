package keycode

import "strings"

// Mods is the compact 5-bit modifier set carried inside a mod-tap keycode.
// The four low bits select Ctrl, Shift, Alt and GUI; ModRight switches all
// of them to the right-hand variants.
type Mods uint8

const (
	ModCtrl  Mods = 0x01
	ModShift Mods = 0x02
	ModAlt   Mods = 0x04
	ModGUI   Mods = 0x08
	ModRight Mods = 0x10
)

// Mask expands compact mods into HID modifier bits.
func (m Mods) Mask() ModMask {
	if m&ModRight == 0 {
		return ModMask(m & 0x0F)
	}
	return ModMask(m&0x0F) << 4
}

// ModMask is the 8-bit HID modifier byte.
type ModMask uint8

const (
	MaskLCtrl  ModMask = 0x01
	MaskLShift ModMask = 0x02
	MaskLAlt   ModMask = 0x04
	MaskLGUI   ModMask = 0x08
	MaskRCtrl  ModMask = 0x10
	MaskRShift ModMask = 0x20
	MaskRAlt   ModMask = 0x40
	MaskRGUI   ModMask = 0x80

	MaskCtrl  = MaskLCtrl | MaskRCtrl
	MaskShift = MaskLShift | MaskRShift
	MaskAlt   = MaskLAlt | MaskRAlt
	MaskGUI   = MaskLGUI | MaskRGUI
)

var maskNames = []struct {
	mask ModMask
	name string
}{
	{MaskLCtrl, "LCTL"},
	{MaskLShift, "LSFT"},
	{MaskLAlt, "LALT"},
	{MaskLGUI, "LGUI"},
	{MaskRCtrl, "RCTL"},
	{MaskRShift, "RSFT"},
	{MaskRAlt, "RALT"},
	{MaskRGUI, "RGUI"},
}

// Has reports whether all bits of o are set in m.
func (m ModMask) Has(o ModMask) bool {
	return m&o == o
}

// String returns the mods joined by '|', e.g. "LCTL|LSFT".
func (m ModMask) String() string {
	if m == 0 {
		return "none"
	}
	var parts []string
	for _, n := range maskNames {
		if m&n.mask != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseModMask parses a '|' separated list of mod names ("LSFT|LCTL",
// "SHIFT", "CTRL").
func ParseModMask(s string) (ModMask, error) {
	var m ModMask
	for _, part := range strings.Split(s, "|") {
		part = strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(part), "MOD_")))
		bit, ok := modAliases[part]
		if !ok {
			return 0, &ParseError{Input: s, Reason: "unknown modifier " + part}
		}
		m |= bit
	}
	return m, nil
}

var modAliases = map[string]ModMask{
	"LCTL": MaskLCtrl, "LCTRL": MaskLCtrl, "LSFT": MaskLShift, "LSHIFT": MaskLShift,
	"LALT": MaskLAlt, "LOPT": MaskLAlt, "LGUI": MaskLGUI, "LCMD": MaskLGUI, "LWIN": MaskLGUI,
	"RCTL": MaskRCtrl, "RCTRL": MaskRCtrl, "RSFT": MaskRShift, "RSHIFT": MaskRShift,
	"RALT": MaskRAlt, "ROPT": MaskRAlt, "ALGR": MaskRAlt, "RGUI": MaskRGUI, "RCMD": MaskRGUI, "RWIN": MaskRGUI,
	"CTRL": MaskCtrl, "SHIFT": MaskShift, "ALT": MaskAlt, "GUI": MaskGUI,
}

// CompactMods converts a HID mask into compact mods. The mask must use
// only left-hand or only right-hand bits.
func CompactMods(m ModMask) (Mods, bool) {
	switch {
	case m == 0:
		return 0, true
	case m&0xF0 == 0:
		return Mods(m), true
	case m&0x0F == 0:
		return Mods(m>>4) | ModRight, true
	default:
		return 0, false
	}
}
