package keycode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModTapEncoding(t *testing.T) {
	k := ModTap(ModShift, A)
	assert.True(t, k.IsModTap())
	assert.True(t, k.IsTapHold())
	assert.False(t, k.IsLayerTap())
	assert.Equal(t, A, k.TapKeycode())
	assert.Equal(t, ModShift, k.ModTapMods())
	assert.Equal(t, MaskLShift, k.ModTapMods().Mask())
}

func TestRightHandModsExpand(t *testing.T) {
	k := ModTap(ModCtrl|ModRight, K)
	assert.Equal(t, MaskRCtrl, k.ModTapMods().Mask())
}

func TestLayerTapEncoding(t *testing.T) {
	k := LayerTap(3, Space)
	assert.True(t, k.IsLayerTap())
	assert.Equal(t, uint8(3), k.LayerTapLayer())
	assert.Equal(t, Space, k.TapKeycode())
	assert.Equal(t, Mods(0), k.ModTapMods())
}

func TestBasicKeycodeValues(t *testing.T) {
	assert.Equal(t, Keycode(0x04), A)
	assert.Equal(t, Keycode(0x1D), Z)
	assert.Equal(t, Keycode(0x27), N0)
	assert.Equal(t, Keycode(0x2C), Space)
	assert.Equal(t, Keycode(0x37), Dot)
	assert.Equal(t, Keycode(0x45), F12)
}

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  Keycode
	}{
		{"a", A},
		{"KC_A", A},
		{"spc", Space},
		{"lsft", LShift},
		{"0x0004", A},
		{"MT(LSFT,A)", ModTap(ModShift, A)},
		{"MT(MOD_LCTL|MOD_LSFT, KC_F)", ModTap(ModCtrl|ModShift, F)},
		{"LSFT_T(A)", ModTap(ModShift, A)},
		{"rgui_t(scln)", ModTap(ModGUI|ModRight, Semicolon)},
		{"LT(1,SPC)", LayerTap(1, Space)},
		{"F12", F12},
		{"7", N7},
		{".", Dot},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, input := range []string{
		"", "NOPE", "MT(LSFT)", "MT(LSFT|RCTL,A)", "LT(16,A)", "LT(1,MT(LSFT,A))", "FOO_T(A)", "MT(LSFT,A",
	} {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			var perr *ParseError
			assert.ErrorAs(t, err, &perr)
		})
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, k := range []Keycode{
		A, Z, N1, N0, F5, Space, Quote, LGUI, RAlt,
		ModTap(ModShift, A), ModTap(ModAlt|ModRight, L), LayerTap(2, Backspace),
	} {
		t.Run(k.String(), func(t *testing.T) {
			got, err := Parse(k.String())
			require.NoError(t, err)
			assert.Equal(t, k, got)
		})
	}
}

func TestModifierMask(t *testing.T) {
	assert.Equal(t, MaskLCtrl, LCtrl.ModifierMask())
	assert.Equal(t, MaskRGUI, RGUI.ModifierMask())
	assert.Equal(t, ModMask(0), A.ModifierMask())
	assert.True(t, RShift.IsModifier())
	assert.False(t, ModTap(ModShift, A).IsModifier())
}

func TestParseModMask(t *testing.T) {
	m, err := ParseModMask("LSFT|mod_lctl")
	require.NoError(t, err)
	assert.Equal(t, MaskLShift|MaskLCtrl, m)
	assert.Equal(t, "LCTL|LSFT", m.String())

	m, err = ParseModMask("shift")
	require.NoError(t, err)
	assert.Equal(t, MaskShift, m)

	_, err = ParseModMask("HYPER")
	assert.Error(t, err)
}

func TestCompactMods(t *testing.T) {
	m, ok := CompactMods(MaskRShift | MaskRAlt)
	require.True(t, ok)
	assert.Equal(t, ModShift|ModAlt|ModRight, m)

	_, ok = CompactMods(MaskLShift | MaskRShift)
	assert.False(t, ok)
}
