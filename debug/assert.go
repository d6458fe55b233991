//go:build debug

package debug

// Enabled guards assertions that are expensive to evaluate, e.g. a full heap
// walk: `if debug.Enabled { ... }`.
const Enabled = true

func Assert(b bool, message string) {
	if !b {
		panic("assertion failed: " + message)
	}
}
