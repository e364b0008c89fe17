package security

import (
	"encoding/hex"
	"testing"
)

func TestDeriveDeterministic(t *testing.T) {
	d := NewDeriver("test-salt", nil)

	first := d.Derive("192.0.2.10")
	second := d.Derive("192.0.2.10")

	if first != second {
		t.Errorf("Derive not deterministic: %q != %q", first, second)
	}
	if _, err := hex.DecodeString(first); err != nil {
		t.Errorf("Derive returned non-hex token %q: %v", first, err)
	}
	if len(first) != 64 {
		t.Errorf("Derive returned token of length %d, want 64", len(first))
	}
}

func TestDeriveEquivalentForms(t *testing.T) {
	d := NewDeriver("test-salt", nil)

	tests := []struct {
		name string
		a    string
		b    string
	}{
		{
			name: "IPv6 compressed vs expanded",
			a:    "2001:db8::1",
			b:    "2001:0db8:0000:0000:0000:0000:0000:0001",
		},
		{
			name: "IPv6 case insensitive",
			a:    "2001:DB8::A",
			b:    "2001:db8::a",
		},
		{
			name: "IPv4-mapped IPv6 vs plain IPv4",
			a:    "::ffff:192.0.2.10",
			b:    "192.0.2.10",
		},
		{
			name: "surrounding whitespace",
			a:    "  192.0.2.10  ",
			b:    "192.0.2.10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, want := d.Derive(tt.a), d.Derive(tt.b); got != want {
				t.Errorf("Derive(%q) != Derive(%q)", tt.a, tt.b)
			}
		})
	}
}

func TestDeriveDistinctAddresses(t *testing.T) {
	d := NewDeriver("test-salt", nil)

	if d.Derive("192.0.2.10") == d.Derive("192.0.2.11") {
		t.Error("distinct addresses derived the same token")
	}
}

func TestDeriveSaltChangesToken(t *testing.T) {
	a := NewDeriver("salt-one", nil)
	b := NewDeriver("salt-two", nil)

	if a.Derive("192.0.2.10") == b.Derive("192.0.2.10") {
		t.Error("different salts derived the same token")
	}
}

func TestDeriveInvalidInput(t *testing.T) {
	d := NewDeriver("test-salt", nil)

	tests := []struct {
		name  string
		input string
	}{
		{"empty string", ""},
		{"hostname", "example.com"},
		{"garbage", "not-an-address"},
		{"address with port", "192.0.2.10:8080"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := d.Derive(tt.input)
			second := d.Derive(tt.input)
			if first != second {
				t.Errorf("invalid input %q not bucketed deterministically", tt.input)
			}
			if len(first) != 64 {
				t.Errorf("invalid input %q produced token of length %d, want 64", tt.input, len(first))
			}
		})
	}
}

func TestDeriveInvalidDoesNotCollideWithValid(t *testing.T) {
	d := NewDeriver("test-salt", nil)

	// The invalid bucket for a literal address string must not equal
	// the token of the parsed address.
	if d.Derive("192.0.2.10") == d.Derive("nonsense-192.0.2.10") {
		t.Error("invalid input collided with a valid address token")
	}
}
