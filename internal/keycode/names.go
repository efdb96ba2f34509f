package keycode

import (
	"fmt"
	"strconv"
	"strings"
)

// basicNames maps basic keycodes to their canonical short names.
var basicNames = map[Keycode]string{
	None: "NO", Transparent: "TRNS",
	Enter: "ENT", Escape: "ESC", Backspace: "BSPC", Tab: "TAB", Space: "SPC",
	Minus: "MINS", Equal: "EQL", LeftBracket: "LBRC", RightBracket: "RBRC",
	Backslash: "BSLS", NonUSHash: "NUHS", Semicolon: "SCLN", Quote: "QUOT",
	Grave: "GRV", Comma: "COMM", Dot: "DOT", Slash: "SLSH", CapsLock: "CAPS",
	Insert: "INS", Home: "HOME", PageUp: "PGUP", Delete: "DEL", End: "END",
	PageDown: "PGDN", Right: "RGHT", Left: "LEFT", Down: "DOWN", Up: "UP",
	LCtrl: "LCTL", LShift: "LSFT", LAlt: "LALT", LGUI: "LGUI",
	RCtrl: "RCTL", RShift: "RSFT", RAlt: "RALT", RGUI: "RGUI",
}

var nameLookup = func() map[string]Keycode {
	m := make(map[string]Keycode, 128)
	for k, n := range basicNames {
		m[n] = k
	}
	for k := A; k <= Z; k++ {
		m[string(rune('A'+int(k-A)))] = k
	}
	for k := N1; k <= N9; k++ {
		m[strconv.Itoa(int(k-N1)+1)] = k
	}
	m["0"] = N0
	for k := F1; k <= F12; k++ {
		m["F"+strconv.Itoa(int(k-F1)+1)] = k
	}
	aliases := map[string]Keycode{
		"ENTER": Enter, "ESCAPE": Escape, "BACKSPACE": Backspace, "SPACE": Space,
		"COMMA": Comma, "PERIOD": Dot, "QUOTE": Quote, "SLASH": Slash,
		"SEMICOLON": Semicolon, "MINUS": Minus, "EQUAL": Equal,
		".": Dot, ",": Comma, "'": Quote, "/": Slash, ";": Semicolon,
		"-": Minus, "=": Equal, "`": Grave, "[": LeftBracket, "]": RightBracket,
		"LCTRL": LCtrl, "LSHIFT": LShift, "RCTRL": RCtrl, "RSHIFT": RShift,
		"RIGHT": Right, "XXXXXXX": None, "_______": Transparent,
	}
	for n, k := range aliases {
		m[n] = k
	}
	return m
}()

// modTapShorthands maps "<MOD>_T" prefixes to their mods.
var modTapShorthands = map[string]Mods{
	"LCTL_T": ModCtrl, "LSFT_T": ModShift, "LALT_T": ModAlt, "LGUI_T": ModGUI,
	"RCTL_T": ModCtrl | ModRight, "RSFT_T": ModShift | ModRight,
	"RALT_T": ModAlt | ModRight, "RGUI_T": ModGUI | ModRight,
	"CTL_T": ModCtrl, "SFT_T": ModShift, "ALT_T": ModAlt, "GUI_T": ModGUI,
	"LCMD_T": ModGUI, "RCMD_T": ModGUI | ModRight, "LOPT_T": ModAlt, "ROPT_T": ModAlt | ModRight,
}

// String returns the canonical name of k, e.g. "A", "MT(LSFT,A)",
// "LT(1,SPC)".
func (k Keycode) String() string {
	switch {
	case k.IsModTap():
		return fmt.Sprintf("MT(%s,%s)", k.ModTapMods().Mask(), k.TapKeycode())
	case k.IsLayerTap():
		return fmt.Sprintf("LT(%d,%s)", k.LayerTapLayer(), k.TapKeycode())
	}
	if n, ok := basicNames[k]; ok {
		return n
	}
	switch {
	case k.IsLetter():
		return string(rune('A' + int(k-A)))
	case k >= N1 && k <= N9:
		return strconv.Itoa(int(k-N1) + 1)
	case k == N0:
		return "0"
	case k >= F1 && k <= F12:
		return "F" + strconv.Itoa(int(k-F1)+1)
	}
	return fmt.Sprintf("0x%04X", uint16(k))
}

// ParseError reports an unparseable keycode or modifier specification.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("keycode %q: %s", e.Input, e.Reason)
}

// Parse parses a keycode specification. Accepted forms:
//
//	A, KC_A, SPC, LSFT, 0x0004
//	MT(LSFT,A), MT(MOD_LCTL|MOD_LSFT,KC_F)
//	LSFT_T(A), RGUI_T(SCLN)
//	LT(1,SPC)
func Parse(s string) (Keycode, error) {
	in := strings.ToUpper(strings.TrimSpace(s))
	if in == "" {
		return None, &ParseError{Input: s, Reason: "empty"}
	}

	if open := strings.IndexByte(in, '('); open > 0 {
		if !strings.HasSuffix(in, ")") {
			return None, &ParseError{Input: s, Reason: "missing ')'"}
		}
		fn := in[:open]
		args := splitArgs(in[open+1 : len(in)-1])
		return parseCall(s, fn, args)
	}

	if strings.HasPrefix(in, "0X") {
		v, err := strconv.ParseUint(in[2:], 16, 16)
		if err != nil {
			return None, &ParseError{Input: s, Reason: "bad hex value"}
		}
		return Keycode(v), nil
	}

	if k, ok := nameLookup[strings.TrimPrefix(in, "KC_")]; ok {
		return k, nil
	}
	return None, &ParseError{Input: s, Reason: "unknown key name"}
}

// MustParse is Parse for compile-time constant specifications.
func MustParse(s string) Keycode {
	k, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return k
}

func parseCall(raw, fn string, args []string) (Keycode, error) {
	switch fn {
	case "MT":
		if len(args) != 2 {
			return None, &ParseError{Input: raw, Reason: "MT takes two arguments"}
		}
		mask, err := ParseModMask(args[0])
		if err != nil {
			return None, err
		}
		mods, ok := CompactMods(mask)
		if !ok || mods == 0 {
			return None, &ParseError{Input: raw, Reason: "mod-tap mods must be all left or all right hand"}
		}
		tap, err := parseTap(raw, args[1])
		if err != nil {
			return None, err
		}
		return ModTap(mods, tap), nil
	case "LT":
		if len(args) != 2 {
			return None, &ParseError{Input: raw, Reason: "LT takes two arguments"}
		}
		layer, err := strconv.ParseUint(args[0], 10, 8)
		if err != nil || layer > 15 {
			return None, &ParseError{Input: raw, Reason: "layer must be 0-15"}
		}
		tap, err := parseTap(raw, args[1])
		if err != nil {
			return None, err
		}
		return LayerTap(uint8(layer), tap), nil
	}

	mods, ok := modTapShorthands[fn]
	if !ok {
		return None, &ParseError{Input: raw, Reason: "unknown function " + fn}
	}
	if len(args) != 1 {
		return None, &ParseError{Input: raw, Reason: fn + " takes one argument"}
	}
	tap, err := parseTap(raw, args[0])
	if err != nil {
		return None, err
	}
	return ModTap(mods, tap), nil
}

func parseTap(raw, arg string) (Keycode, error) {
	tap, err := Parse(arg)
	if err != nil {
		return None, err
	}
	if !tap.IsBasic() {
		return None, &ParseError{Input: raw, Reason: "tap keycode must be basic"}
	}
	return tap, nil
}

func splitArgs(s string) []string {
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
