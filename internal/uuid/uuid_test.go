package uuid

import "testing"

func TestNewProducesValidV4(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := New()
		if !IsValid(id) {
			t.Fatalf("generated id is not a valid v4 uuid: %s", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = true
	}
}

func TestIsValid(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"6ba7b810-9dad-41d1-80b4-00c04fd430c8", true},
		{"6BA7B810-9DAD-41D1-80B4-00C04FD430C8", true},
		{"6ba7b810-9dad-11d1-80b4-00c04fd430c8", false}, // v1
		{"6ba7b810-9dad-41d1-c0b4-00c04fd430c8", false}, // bad variant
		{"{6ba7b810-9dad-41d1-80b4-00c04fd430c8}", false}, // braced form
		{"urn:uuid:6ba7b810-9dad-41d1-80b4-00c04fd430c8", false},
		{"not-a-uuid", false},
		{"", false},
	}
	for _, c := range cases {
		if got := IsValid(c.in); got != c.want {
			t.Errorf("IsValid(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(New()); err != nil {
		t.Errorf("Validate rejected a generated id: %v", err)
	}
	if err := Validate("nope"); err == nil {
		t.Error("Validate accepted garbage")
	}
}
