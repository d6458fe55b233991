//go:build !debug

// Package debug provides kernel invariant assertions that are enabled with the
// debug build tag and otherwise compile to no-ops.
package debug

// Enabled guards assertions that are expensive to evaluate, e.g. a full heap
// walk: `if debug.Enabled { ... }`.
const Enabled = false

// Assert panics if b is false.
func Assert(b bool, message string) {}
