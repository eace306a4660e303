package content

import "testing"

func TestFingerprintDeterministic(t *testing.T) {
	// WHAT: The same (text, source) pair always hashes to the same ID.
	// WHY: Dedup depends on rediscovered items producing identical IDs.
	a := Fingerprint("the network upgrade ships next week", "solana")
	b := Fingerprint("the network upgrade ships next week", "solana")
	if a != b {
		t.Fatalf("fingerprint not stable: %q vs %q", a, b)
	}
	if len(a) != fingerprintLen {
		t.Errorf("fingerprint length: got %d, want %d", len(a), fingerprintLen)
	}
}

func TestFingerprintSourceSensitive(t *testing.T) {
	// WHAT: Identical text under different sources yields different IDs.
	// WHY: The same post mirrored by two accounts is two distinct items.
	a := Fingerprint("gm builders", "alice")
	b := Fingerprint("gm builders", "bob")
	if a == b {
		t.Fatalf("fingerprint ignores source: both %q", a)
	}
}

func TestFingerprintNormalizesWhitespace(t *testing.T) {
	// WHAT: Leading/trailing whitespace does not change the ID.
	// WHY: Scroll position affects how the DOM serialises surrounding space.
	a := Fingerprint("  spaced out  ", "src")
	b := Fingerprint("spaced out", "src")
	if a != b {
		t.Errorf("whitespace changed fingerprint: %q vs %q", a, b)
	}
}
