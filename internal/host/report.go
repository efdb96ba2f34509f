package host

import (
	"strings"
	"sync"

	"chordd/internal/keycode"
)

// ReportKeys is the number of key slots in a boot keyboard report.
const ReportKeys = 6

// Report is a 6KRO HID keyboard report.
type Report struct {
	Mods keycode.ModMask
	Keys [ReportKeys]keycode.Keycode
}

// Pressed returns the non-empty key slots.
func (r Report) Pressed() []keycode.Keycode {
	var keys []keycode.Keycode
	for _, k := range r.Keys {
		if k != keycode.None {
			keys = append(keys, k)
		}
	}
	return keys
}

// String renders r as "LSFT+A", "A+S" or "-" for an empty report.
func (r Report) String() string {
	var parts []string
	if r.Mods != 0 {
		parts = append(parts, r.Mods.String())
	}
	for _, k := range r.Pressed() {
		parts = append(parts, k.String())
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "+")
}

// ReportSink receives reports whenever the host state changes.
type ReportSink interface {
	SendReport(r Report) error
}

// Recorder is a ReportSink that keeps every report.
type Recorder struct {
	mu      sync.Mutex
	reports []Report
}

// SendReport appends r.
func (rec *Recorder) SendReport(r Report) error {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.reports = append(rec.reports, r)
	return nil
}

// Reports returns a copy of the recorded reports.
func (rec *Recorder) Reports() []Report {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]Report(nil), rec.reports...)
}

// Strings returns the recorded reports rendered with Report.String.
func (rec *Recorder) Strings() []string {
	reports := rec.Reports()
	out := make([]string, len(reports))
	for i, r := range reports {
		out[i] = r.String()
	}
	return out
}

// Reset discards the recorded reports.
func (rec *Recorder) Reset() {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.reports = nil
}
