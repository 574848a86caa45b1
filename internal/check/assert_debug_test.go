//go:build debug

package check

import "testing"

func TestThatPanicsOnViolation(t *testing.T) {
	That(true, "never fires")

	defer func() {
		r := recover()
		if r != "invariant violated: 2 > 1" {
			t.Errorf("recover() = %v", r)
		}
	}()
	That(false, "%d > %d", 2, 1)
}
