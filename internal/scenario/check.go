package scenario

import (
	"fmt"
	"slices"
	"strings"

	"chordd/internal/keycode"
)

// Mismatch is one expectation a transcript failed.
type Mismatch struct {
	Field string
	Want  string
	Got   string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: want %s, got %s", m.Field, m.Want, m.Got)
}

// CheckError lists every failed expectation.
type CheckError struct {
	Scenario   string
	Mismatches []Mismatch
}

func (e *CheckError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario %q failed:", e.Scenario)
	for _, m := range e.Mismatches {
		b.WriteString("\n  ")
		b.WriteString(m.String())
	}
	return b.String()
}

// Check compares tr against exp. It returns a *CheckError listing every
// mismatch, or nil.
func Check(tr *Transcript, exp Expect) error {
	var mm []Mismatch

	if exp.Reports != nil && !slices.Equal(exp.Reports, tr.Reports) {
		mm = append(mm, Mismatch{"reports", quote(exp.Reports), quote(tr.Reports)})
	}

	if exp.Settlements != nil {
		if len(exp.Settlements) != len(tr.Settlements) {
			mm = append(mm, Mismatch{
				"settlements",
				fmt.Sprintf("%d", len(exp.Settlements)),
				fmt.Sprintf("%d %v", len(tr.Settlements), tr.Settlements),
			})
		}
		for i, want := range exp.Settlements {
			if i >= len(tr.Settlements) {
				break
			}
			mm = append(mm, checkSettlement(i, want, tr.Settlements[i])...)
		}
	}

	if exp.FinalState != "" && exp.FinalState != tr.FinalState.String() {
		mm = append(mm, Mismatch{"final_state", exp.FinalState, tr.FinalState.String()})
	}

	if len(mm) == 0 {
		return nil
	}
	return &CheckError{Scenario: tr.Name, Mismatches: mm}
}

func checkSettlement(i int, want ExpectedSettlement, got Settled) []Mismatch {
	var mm []Mismatch
	field := func(name string) string { return fmt.Sprintf("settlements[%d].%s", i, name) }

	if kc, err := keycode.Parse(want.Key); err != nil || kc != got.Keycode {
		mm = append(mm, Mismatch{field("key"), want.Key, got.Keycode.String()})
	}
	if want.Outcome != got.Outcome.String() {
		mm = append(mm, Mismatch{field("outcome"), want.Outcome, got.Outcome.String()})
	}
	if want.Reason != "" && want.Reason != got.Reason.String() {
		mm = append(mm, Mismatch{field("reason"), want.Reason, got.Reason.String()})
	}
	if want.AtMs != nil && *want.AtMs != got.AtMs {
		mm = append(mm, Mismatch{field("at_ms"), fmt.Sprint(*want.AtMs), fmt.Sprint(got.AtMs)})
	}
	if want.Eager != nil && *want.Eager != got.Eager {
		mm = append(mm, Mismatch{field("eager"), fmt.Sprint(*want.Eager), fmt.Sprint(got.Eager)})
	}
	return mm
}

func quote(s []string) string {
	return "[" + strings.Join(s, " ") + "]"
}

// RunAndCheck runs sc and checks it against its own expectations.
func RunAndCheck(sc *Scenario, opts Options) (*Transcript, error) {
	tr, err := Run(sc, opts)
	if err != nil {
		return nil, err
	}
	return tr, Check(tr, sc.Expect)
}
