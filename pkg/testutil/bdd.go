package testutil

import "testing"

// Given, When, Then, and And prefix subtests so end-to-end scenarios read as
// sentences in `go test -v` output. They are plain t.Run wrappers, not a
// step framework: steps inside one scenario run in order and share state
// through the enclosing closure.

func Given(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Given "+desc, fn)
}

func When(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("When "+desc, fn)
}

func Then(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Then "+desc, fn)
}

func And(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("And "+desc, fn)
}
