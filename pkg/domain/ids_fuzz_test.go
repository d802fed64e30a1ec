package domain

import (
	"testing"
	"unicode/utf8"
)

// FuzzParseTaskID checks that parsing never panics and that accepted IDs round-trip.
// Task IDs arrive in request bodies, so this is a trust boundary.
func FuzzParseTaskID(f *testing.F) {
	f.Add("")
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("00000000-0000-0000-0000-000000000000")
	f.Add("not-a-uuid")
	f.Add("'; DROP TABLE tasks;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))
	f.Add("550e8400-e29b-41d4-a716-446655440000\x00suffix")

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseTaskID(input)
		if err == nil {
			roundTrip, err2 := ParseTaskID(id.String())
			if err2 != nil {
				t.Errorf("valid ID failed round-trip: %v", err2)
			}
			if roundTrip != id {
				t.Error("round-trip changed ID value")
			}
			if !IsUUID(id.String()) {
				t.Error("accepted ID is not recognised by IsUUID")
			}
		}
		if !utf8.ValidString(input) && err == nil {
			t.Error("non-UTF8 input was accepted")
		}
	})
}
