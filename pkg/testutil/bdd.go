package testutil

import "testing"

// Given, When and Then nest gateway scenarios as subtests named
// "Given <state>/When <action>/Then <outcome>", so `go test -run` can select
// a single outcome of an approval or execution flow.
func Given(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Given "+desc, fn)
}

// When is a step inside a Given.
func When(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("When "+desc, fn)
}

// Then asserts one outcome. Keep each Then to a single observable fact.
func Then(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Then "+desc, fn)
}
