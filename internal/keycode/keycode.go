// Package keycode defines the 16-bit keycodes, modifier sets and matrix
// positions shared by the chord engine, the host pipeline and the config.
//
// The encoding follows the common keyboard firmware layout:
//
//	0x0000-0x00FF  basic keycodes (HID keyboard usages)
//	0x2000-0x3FFF  mod-tap:   0x2000 | mods<<8 | tap
//	0x4000-0x4FFF  layer-tap: 0x4000 | layer<<8 | tap
//
// Mod-tap and layer-tap keys are the dual-role keys the engine resolves.
package keycode

// Keycode is a logical key identifier.
type Keycode uint16

// Basic keycodes.
const (
	None        Keycode = 0x0000
	Transparent Keycode = 0x0001

	A Keycode = 0x0004 + iota - 2
	B
	C
	D
	E
	F
	G
	H
	I
	J
	K
	L
	M
	N
	O
	P
	Q
	R
	S
	T
	U
	V
	W
	X
	Y
	Z
	N1
	N2
	N3
	N4
	N5
	N6
	N7
	N8
	N9
	N0
	Enter
	Escape
	Backspace
	Tab
	Space
	Minus
	Equal
	LeftBracket
	RightBracket
	Backslash
	NonUSHash
	Semicolon
	Quote
	Grave
	Comma
	Dot
	Slash
	CapsLock
	F1
	F2
	F3
	F4
	F5
	F6
	F7
	F8
	F9
	F10
	F11
	F12
)

// Navigation keycodes.
const (
	Insert   Keycode = 0x0049
	Home     Keycode = 0x004A
	PageUp   Keycode = 0x004B
	Delete   Keycode = 0x004C
	End      Keycode = 0x004D
	PageDown Keycode = 0x004E
	Right    Keycode = 0x004F
	Left     Keycode = 0x0050
	Down     Keycode = 0x0051
	Up       Keycode = 0x0052
)

// Modifier keycodes.
const (
	LCtrl  Keycode = 0x00E0
	LShift Keycode = 0x00E1
	LAlt   Keycode = 0x00E2
	LGUI   Keycode = 0x00E3
	RCtrl  Keycode = 0x00E4
	RShift Keycode = 0x00E5
	RAlt   Keycode = 0x00E6
	RGUI   Keycode = 0x00E7
)

const (
	modTapMin   Keycode = 0x2000
	modTapMax   Keycode = 0x3FFF
	layerTapMin Keycode = 0x4000
	layerTapMax Keycode = 0x4FFF
)

// ModTap returns the dual-role keycode that sends tap when tapped and
// holds mods when held.
func ModTap(mods Mods, tap Keycode) Keycode {
	return modTapMin | Keycode(mods&0x1F)<<8 | (tap & 0xFF)
}

// LayerTap returns the dual-role keycode that sends tap when tapped and
// activates layer (0-15) when held.
func LayerTap(layer uint8, tap Keycode) Keycode {
	return layerTapMin | Keycode(layer&0x0F)<<8 | (tap & 0xFF)
}

// IsBasic reports whether k is a plain HID usage.
func (k Keycode) IsBasic() bool {
	return k <= 0x00FF
}

// IsModTap reports whether k is a mod-tap key.
func (k Keycode) IsModTap() bool {
	return k >= modTapMin && k <= modTapMax
}

// IsLayerTap reports whether k is a layer-tap key.
func (k Keycode) IsLayerTap() bool {
	return k >= layerTapMin && k <= layerTapMax
}

// IsTapHold reports whether k is a dual-role key.
func (k Keycode) IsTapHold() bool {
	return k.IsModTap() || k.IsLayerTap()
}

// TapKeycode returns the keycode sent when a dual-role key is tapped.
// Basic keycodes are returned unchanged.
func (k Keycode) TapKeycode() Keycode {
	if k.IsTapHold() {
		return k & 0xFF
	}
	return k
}

// ModTapMods returns the compact mods of a mod-tap key, or 0.
func (k Keycode) ModTapMods() Mods {
	if !k.IsModTap() {
		return 0
	}
	return Mods((k >> 8) & 0x1F)
}

// LayerTapLayer returns the layer of a layer-tap key, or 0.
func (k Keycode) LayerTapLayer() uint8 {
	if !k.IsLayerTap() {
		return 0
	}
	return uint8((k >> 8) & 0x0F)
}

// IsModifier reports whether k is one of the eight modifier keys.
func (k Keycode) IsModifier() bool {
	return k >= LCtrl && k <= RGUI
}

// IsLetter reports whether k is A-Z.
func (k Keycode) IsLetter() bool {
	return k >= A && k <= Z
}

// ModifierMask returns the HID modifier bit of a modifier keycode.
func (k Keycode) ModifierMask() ModMask {
	if !k.IsModifier() {
		return 0
	}
	return ModMask(1) << (k - LCtrl)
}

// Pos is a physical key position in the switch matrix.
type Pos struct {
	Row uint8 `json:"row" yaml:"row" toml:"row"`
	Col uint8 `json:"col" yaml:"col" toml:"col"`
}
