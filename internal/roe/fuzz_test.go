package roe

import (
	"testing"
	"time"
)

// FuzzParse asserts that no input makes Parse panic, and that any snapshot
// it accepts satisfies the load-time invariants the validator relies on.
func FuzzParse(f *testing.F) {
	f.Add([]byte(validDoc))
	f.Add([]byte("engagement: e\naggression: low\nallowed_targets: [10.0.0.0/8]\n"))
	f.Add([]byte("allowed_targets: [::1]\n"))
	f.Add([]byte("{{{{"))
	f.Add([]byte(""))

	f.Fuzz(func(t *testing.T, data []byte) {
		snap, err := Parse(data)
		if err != nil {
			return
		}
		if snap.Doc.Engagement == "" {
			t.Error("accepted document without engagement name")
		}
		if len(snap.prefixes) == 0 && len(snap.names) == 0 {
			t.Error("accepted document with empty allowed set")
		}
		// ActiveAt must be total on accepted documents.
		_ = snap.ActiveAt(time.Now())
	})
}
