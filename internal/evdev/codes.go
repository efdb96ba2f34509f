// Package evdev reads physical keyboards through the Linux input
// subsystem and writes reports to a uinput virtual keyboard.
//
// Key positions follow an ANSI board laid out as a 6x14 matrix that
// matches the built-in keymap; row 5 is the function row.
package evdev

import (
	"errors"
	"time"

	"chordd/internal/keycode"
)

// ErrUnsupported is returned on platforms without evdev and uinput.
var ErrUnsupported = errors.New("evdev: only supported on linux")

// Linux input event types and values.
const (
	evSyn = 0x00
	evKey = 0x01

	synReport = 0

	// ValueUp, ValueDown and ValueRepeat are EV_KEY values.
	ValueUp     = 0
	ValueDown   = 1
	ValueRepeat = 2
)

// Event is one EV_KEY event from a keyboard.
type Event struct {
	Time  time.Time
	Code  uint16
	Value int32
}

// Pressed reports whether e is a key press.
func (e Event) Pressed() bool {
	return e.Value == ValueDown
}

// Pos returns the matrix position of the key, if it has one.
func (e Event) Pos() (keycode.Pos, bool) {
	return Position(e.Code)
}

// Linux key codes (input-event-codes.h).
const (
	keyEsc        = 1
	key1          = 2
	key0          = 11
	keyMinus      = 12
	keyEqual      = 13
	keyBackspace  = 14
	keyTab        = 15
	keyQ          = 16
	keyW          = 17
	keyE          = 18
	keyR          = 19
	keyT          = 20
	keyY          = 21
	keyU          = 22
	keyI          = 23
	keyO          = 24
	keyP          = 25
	keyLeftBrace  = 26
	keyRightBrace = 27
	keyEnter      = 28
	keyLeftCtrl   = 29
	keyA          = 30
	keyS          = 31
	keyD          = 32
	keyF          = 33
	keyG          = 34
	keyH          = 35
	keyJ          = 36
	keyK          = 37
	keyL          = 38
	keySemicolon  = 39
	keyApostrophe = 40
	keyGrave      = 41
	keyLeftShift  = 42
	keyBackslash  = 43
	keyZ          = 44
	keyX          = 45
	keyC          = 46
	keyV          = 47
	keyB          = 48
	keyN          = 49
	keyM          = 50
	keyComma      = 51
	keyDot        = 52
	keySlash      = 53
	keyRightShift = 54
	keyLeftAlt    = 56
	keySpace      = 57
	keyCapsLock   = 58
	keyF1         = 59
	keyF10        = 68
	key102nd      = 86
	keyF11        = 87
	keyF12        = 88
	keyRightCtrl  = 97
	keyRightAlt   = 100
	keyHome       = 102
	keyUp         = 103
	keyPageUp     = 104
	keyLeft       = 105
	keyRight      = 106
	keyEnd        = 107
	keyDown       = 108
	keyPageDown   = 109
	keyInsert     = 110
	keyDelete     = 111
	keyLeftMeta   = 125
	keyRightMeta  = 126
	keyCompose    = 127
)

// ansiMatrix places evdev codes on the matrix. Zero is an empty slot.
var ansiMatrix = [6][14]uint16{
	{keyGrave, key1, key1 + 1, key1 + 2, key1 + 3, key1 + 4, key1 + 5, key1 + 6, key1 + 7, key1 + 8, key0, keyMinus, keyEqual, keyBackspace},
	{keyTab, keyQ, keyW, keyE, keyR, keyT, keyY, keyU, keyI, keyO, keyP, keyLeftBrace, keyRightBrace, keyBackslash},
	{keyCapsLock, keyA, keyS, keyD, keyF, keyG, keyH, keyJ, keyK, keyL, keySemicolon, keyApostrophe, keyEnter, keyInsert},
	{keyLeftShift, keyZ, keyX, keyC, keyV, keyB, keyN, keyM, keyComma, keyDot, keySlash, keyRightShift, keyUp, keyPageUp},
	{keyLeftCtrl, keyLeftMeta, keyLeftAlt, keySpace, keyRightAlt, keyRightMeta, keyCompose, keyRightCtrl, keyLeft, keyDown, keyRight, keyHome, keyEnd, keyPageDown},
	{keyEsc, keyF1, keyF1 + 1, keyF1 + 2, keyF1 + 3, keyF1 + 4, keyF1 + 5, keyF1 + 6, keyF1 + 7, keyF1 + 8, keyF10, keyF11, keyF12, keyDelete},
}

var positions = func() map[uint16]keycode.Pos {
	m := make(map[uint16]keycode.Pos, 84)
	for r, row := range ansiMatrix {
		for c, code := range row {
			if code != 0 {
				m[code] = keycode.Pos{Row: uint8(r), Col: uint8(c)}
			}
		}
	}
	return m
}()

// Position returns the matrix position of an evdev key code.
func Position(code uint16) (keycode.Pos, bool) {
	pos, ok := positions[code]
	return pos, ok
}

// CodeAt returns the evdev key code at pos, or 0.
func CodeAt(pos keycode.Pos) uint16 {
	if int(pos.Row) >= len(ansiMatrix) || int(pos.Col) >= len(ansiMatrix[0]) {
		return 0
	}
	return ansiMatrix[pos.Row][pos.Col]
}

var hidToEvdev = map[keycode.Keycode]uint16{
	keycode.Escape: keyEsc, keycode.N0: key0, keycode.Minus: keyMinus,
	keycode.Equal: keyEqual, keycode.Backspace: keyBackspace, keycode.Tab: keyTab,
	keycode.Q: keyQ, keycode.W: keyW, keycode.E: keyE, keycode.R: keyR,
	keycode.T: keyT, keycode.Y: keyY, keycode.U: keyU, keycode.I: keyI,
	keycode.O: keyO, keycode.P: keyP, keycode.LeftBracket: keyLeftBrace,
	keycode.RightBracket: keyRightBrace, keycode.Enter: keyEnter,
	keycode.A: keyA, keycode.S: keyS, keycode.D: keyD, keycode.F: keyF,
	keycode.G: keyG, keycode.H: keyH, keycode.J: keyJ, keycode.K: keyK,
	keycode.L: keyL, keycode.Semicolon: keySemicolon, keycode.Quote: keyApostrophe,
	keycode.Grave: keyGrave, keycode.Backslash: keyBackslash, keycode.NonUSHash: key102nd,
	keycode.Z: keyZ, keycode.X: keyX, keycode.C: keyC, keycode.V: keyV,
	keycode.B: keyB, keycode.N: keyN, keycode.M: keyM, keycode.Comma: keyComma,
	keycode.Dot: keyDot, keycode.Slash: keySlash, keycode.Space: keySpace,
	keycode.CapsLock: keyCapsLock, keycode.F11: keyF11, keycode.F12: keyF12,
	keycode.Home: keyHome, keycode.Up: keyUp, keycode.PageUp: keyPageUp,
	keycode.Left: keyLeft, keycode.Right: keyRight, keycode.End: keyEnd,
	keycode.Down: keyDown, keycode.PageDown: keyPageDown, keycode.Insert: keyInsert,
	keycode.Delete: keyDelete,
	keycode.LCtrl: keyLeftCtrl, keycode.LShift: keyLeftShift, keycode.LAlt: keyLeftAlt,
	keycode.LGUI: keyLeftMeta, keycode.RCtrl: keyRightCtrl, keycode.RShift: keyRightShift,
	keycode.RAlt: keyRightAlt, keycode.RGUI: keyRightMeta,
}

func init() {
	for k := keycode.N1; k <= keycode.N9; k++ {
		hidToEvdev[k] = key1 + uint16(k-keycode.N1)
	}
	for k := keycode.F1; k <= keycode.F10; k++ {
		hidToEvdev[k] = keyF1 + uint16(k-keycode.F1)
	}
}

// Code returns the evdev key code that types kc.
func Code(kc keycode.Keycode) (uint16, bool) {
	code, ok := hidToEvdev[kc]
	return code, ok
}

// modifierCodes lists the evdev codes of the eight HID modifier bits in
// bit order.
var modifierCodes = [8]uint16{
	keyLeftCtrl, keyLeftShift, keyLeftAlt, keyLeftMeta,
	keyRightCtrl, keyRightShift, keyRightAlt, keyRightMeta,
}

// SupportedCodes returns every evdev key code the virtual keyboard can
// emit.
func SupportedCodes() []uint16 {
	codes := make([]uint16, 0, len(hidToEvdev))
	for _, code := range hidToEvdev {
		codes = append(codes, code)
	}
	return codes
}
