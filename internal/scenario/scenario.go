// Package scenario replays scripted key events through a real engine and
// host pipeline on a virtual clock.
//
// A scenario file (YAML, TOML or JSON) names a config override, a list of
// timed press, release and tick events, and the reports and settlements
// the run is expected to produce:
//
//	name: chord on opposite hands
//	config:
//	  timeouts: {default_ms: 200}
//	events:
//	  - {at_ms: 0, press: F}
//	  - {at_ms: 50, press: U}
//	expect:
//	  reports: ["LSFT+U"]
//
// Keys are physical key labels on the ANSI board ("F", "SPC"), matrix
// positions ("r2c4") or combo events ("combo:ESC").
package scenario

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"chordd/internal/chord"
	"chordd/internal/config"
	"chordd/internal/evdev"
	"chordd/internal/keycode"
)

//go:embed scenario.schema.json
var schemaJSON []byte

const schemaURL = "scenario.schema.json"

var (
	// ErrUnknownFormat is returned for files that are not YAML, TOML or JSON.
	ErrUnknownFormat = errors.New("scenario: unknown format")
	// ErrOutOfOrder is returned when event times decrease.
	ErrOutOfOrder = errors.New("scenario: events out of order")
)

// ComboPos is the matrix position combo events are reported at.
var ComboPos = keycode.Pos{Row: 255, Col: 0}

// EventKind is what an event does.
type EventKind uint8

const (
	Press EventKind = iota + 1
	Release
	Tick
)

func (k EventKind) String() string {
	switch k {
	case Press:
		return "press"
	case Release:
		return "release"
	case Tick:
		return "tick"
	default:
		return "unknown"
	}
}

// Event is one timed step of a scenario.
type Event struct {
	AtMs int
	Kind EventKind
	// Key is the key as written in the file.
	Key string
	Pos keycode.Pos
	// Type and Keycode describe combo events.
	Type    chord.EventType
	Keycode keycode.Keycode
}

func (ev Event) String() string {
	if ev.Kind == Tick {
		return "tick"
	}
	return ev.Kind.String() + " " + ev.Key
}

// ExpectedSettlement is one settlement a scenario expects, in order.
type ExpectedSettlement struct {
	Key     string `json:"key"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
	AtMs    *int   `json:"at_ms,omitempty"`
	Eager   *bool  `json:"eager,omitempty"`
}

// Expect lists what a run must produce. Empty fields are not checked.
type Expect struct {
	Reports     []string             `json:"reports,omitempty"`
	Settlements []ExpectedSettlement `json:"settlements,omitempty"`
	FinalState  string               `json:"final_state,omitempty"`
}

// Scenario is a parsed scenario file.
type Scenario struct {
	Name        string
	Description string
	Path        string

	// Config is the default configuration with the file's overrides.
	Config *config.Config

	// TickMs, when positive, ticks the engine every TickMs milliseconds of
	// virtual time in addition to explicit tick events. UntilMs extends
	// the run past the last event.
	TickMs  int
	UntilMs int

	Events []Event
	Expect Expect
}

type fileEvent struct {
	AtMs    int    `json:"at_ms"`
	Press   string `json:"press"`
	Release string `json:"release"`
	Tick    bool   `json:"tick"`
}

type file struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Config      json.RawMessage `json:"config"`
	TickMs      int             `json:"tick_ms"`
	UntilMs     int             `json:"until_ms"`
	Events      []fileEvent     `json:"events"`
	Expect      Expect          `json:"expect"`
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Schema returns the embedded JSON schema for scenario files.
func Schema() []byte {
	return append([]byte(nil), schemaJSON...)
}

// LoadFile reads and parses a scenario, choosing the format by extension.
func LoadFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	sc, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	sc.Path = path
	return sc, nil
}

// Parse parses a scenario in the given format ("yaml", "yml", "toml" or
// "json") and validates it against the schema.
func Parse(data []byte, format string) (*Scenario, error) {
	var doc any
	switch format {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	case "toml":
		var m map[string]any
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
		doc = m
	case "json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	// Every format goes through JSON so the schema sees one value model.
	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("normalize scenario: %w", err)
	}
	if err := validate(normalized); err != nil {
		return nil, err
	}

	var f file
	if err := json.Unmarshal(normalized, &f); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	return build(&f)
}

func validate(normalized []byte) error {
	s, err := compiledSchema()
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(normalized))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("decode scenario: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("invalid scenario: %w", err)
	}
	return nil
}

func build(f *file) (*Scenario, error) {
	cfg := config.DefaultConfig()
	if len(f.Config) > 0 && string(f.Config) != "null" {
		dec := json.NewDecoder(bytes.NewReader(f.Config))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("config override: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config override: %w", err)
	}

	sc := &Scenario{
		Name:        f.Name,
		Description: f.Description,
		Config:      cfg,
		TickMs:      f.TickMs,
		UntilMs:     f.UntilMs,
		Expect:      f.Expect,
	}

	last := 0
	for i, fe := range f.Events {
		if fe.AtMs < last {
			return nil, fmt.Errorf("%w: event %d at %dms follows %dms", ErrOutOfOrder, i, fe.AtMs, last)
		}
		last = fe.AtMs

		ev := Event{AtMs: fe.AtMs, Type: chord.KeyEvent}
		switch {
		case fe.Tick:
			ev.Kind = Tick
			sc.Events = append(sc.Events, ev)
			continue
		case fe.Press != "":
			ev.Kind, ev.Key = Press, fe.Press
		default:
			ev.Kind, ev.Key = Release, fe.Release
		}
		if err := resolveKey(&ev); err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		sc.Events = append(sc.Events, ev)
	}

	for i, es := range sc.Expect.Settlements {
		if _, err := keycode.Parse(es.Key); err != nil {
			return nil, fmt.Errorf("expected settlement %d: %w", i, err)
		}
	}
	return sc, nil
}

var posPattern = regexp.MustCompile(`^[rR](\d+)[cC](\d+)$`)

// resolveKey fills in the position (and combo keycode) of ev.Key.
func resolveKey(ev *Event) error {
	key := strings.TrimSpace(ev.Key)

	if rest, ok := strings.CutPrefix(strings.ToLower(key), "combo:"); ok {
		kc, err := keycode.Parse(rest)
		if err != nil {
			return err
		}
		ev.Pos, ev.Type, ev.Keycode = ComboPos, chord.ComboEvent, kc
		return nil
	}

	if m := posPattern.FindStringSubmatch(key); m != nil {
		row, err1 := strconv.ParseUint(m[1], 10, 8)
		col, err2 := strconv.ParseUint(m[2], 10, 8)
		if err1 != nil || err2 != nil {
			return fmt.Errorf("key %q: position out of range", key)
		}
		ev.Pos = keycode.Pos{Row: uint8(row), Col: uint8(col)}
		return nil
	}

	kc, err := keycode.Parse(key)
	if err != nil {
		return err
	}
	code, ok := evdev.Code(kc)
	if !ok {
		return fmt.Errorf("key %q: not a physical key", key)
	}
	pos, ok := evdev.Position(code)
	if !ok {
		return fmt.Errorf("key %q: not on the matrix", key)
	}
	ev.Pos = pos
	return nil
}
