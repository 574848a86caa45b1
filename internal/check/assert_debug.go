//go:build debug

// Package check holds invariant assertions that only fire in builds tagged
// debug. Tests run with -tags debug to turn them on.
package check

import "fmt"

// That panics with the formatted message when cond is false.
func That(cond bool, format string, args ...any) {
	if !cond {
		panic("invariant violated: " + fmt.Sprintf(format, args...))
	}
}
