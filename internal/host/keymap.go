package host

import (
	"fmt"
	"strings"

	"chordd/internal/keycode"
)

// MaxLayers is the number of layers a layer-tap key can address.
const MaxLayers = 16

// Keymap is a stack of layers, each indexed by [row][col].
type Keymap struct {
	layers [][][]keycode.Keycode
}

// ParseKeymap parses layers of whitespace separated keycode rows, as
// stored in the [keymap] config section.
func ParseKeymap(layers [][]string) (*Keymap, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("keymap: no layers")
	}
	if len(layers) > MaxLayers {
		return nil, fmt.Errorf("keymap: %d layers, at most %d", len(layers), MaxLayers)
	}

	km := &Keymap{layers: make([][][]keycode.Keycode, len(layers))}
	for l, rows := range layers {
		km.layers[l] = make([][]keycode.Keycode, len(rows))
		for r, row := range rows {
			specs := strings.Fields(row)
			km.layers[l][r] = make([]keycode.Keycode, len(specs))
			for c, spec := range specs {
				kc, err := keycode.Parse(spec)
				if err != nil {
					return nil, fmt.Errorf("keymap layer %d row %d col %d: %w", l, r, c, err)
				}
				km.layers[l][r][c] = kc
			}
		}
	}
	return km, nil
}

// Layers returns the number of layers.
func (m *Keymap) Layers() int {
	return len(m.layers)
}

// At returns the keycode at pos on layer, or keycode.None when pos is
// outside the layer.
func (m *Keymap) At(layer int, pos keycode.Pos) keycode.Keycode {
	if layer < 0 || layer >= len(m.layers) {
		return keycode.None
	}
	rows := m.layers[layer]
	if int(pos.Row) >= len(rows) || int(pos.Col) >= len(rows[pos.Row]) {
		return keycode.None
	}
	return rows[pos.Row][pos.Col]
}

// Lookup resolves pos through the active layers, highest first. Layer 0
// is always active; transparent keys fall through to the layer below.
func (m *Keymap) Lookup(active uint16, pos keycode.Pos) keycode.Keycode {
	active |= 1
	for l := len(m.layers) - 1; l >= 0; l-- {
		if active&(1<<l) == 0 {
			continue
		}
		if kc := m.At(l, pos); kc != keycode.Transparent {
			return kc
		}
	}
	return keycode.None
}

// Find returns the first base layer position holding kc.
func (m *Keymap) Find(kc keycode.Keycode) (keycode.Pos, bool) {
	if len(m.layers) == 0 {
		return keycode.Pos{}, false
	}
	for r, row := range m.layers[0] {
		for c, k := range row {
			if k == kc {
				return keycode.Pos{Row: uint8(r), Col: uint8(c)}, true
			}
		}
	}
	return keycode.Pos{}, false
}
