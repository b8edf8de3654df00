package incident

import "testing"

func TestComputeFingerprintStableUnderResourceOrder(t *testing.T) {
	a := ComputeFingerprint("sentinel", "cpu.high", "High CPU", []string{"api", "worker"})
	b := ComputeFingerprint("sentinel", "cpu.high", "High CPU", []string{"worker", "api"})
	if a != b {
		t.Fatalf("expected fingerprints to match regardless of resource order, got %s vs %s", a.Hex(), b.Hex())
	}
}

// ComputeFingerprint takes no severity or description parameter, so the
// exclusion holds by signature; this checks that equal identity fields
// hash to the same fingerprint.
func TestComputeFingerprintExcludesSeverityAndDescription(t *testing.T) {
	a := ComputeFingerprint("sentinel", "cpu.high", "High CPU", []string{"api"})
	b := ComputeFingerprint("sentinel", "cpu.high", "High CPU", []string{"api"})
	if a != b {
		t.Fatalf("identical identity fields must hash identically")
	}
}

func TestComputeFingerprintDiffersOnTitle(t *testing.T) {
	a := ComputeFingerprint("sentinel", "cpu.high", "High CPU", []string{"api"})
	b := ComputeFingerprint("sentinel", "cpu.high", "High Memory", []string{"api"})
	if a == b {
		t.Fatalf("expected different titles to produce different fingerprints")
	}
}

func TestFingerprintHexRoundTrip(t *testing.T) {
	fp := ComputeFingerprint("sentinel", "cpu.high", "High CPU", []string{"api"})
	parsed, err := FingerprintFromHex(fp.Hex())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed != fp {
		t.Fatalf("round trip mismatch")
	}
}

func TestFingerprintFromHexRejectsWrongLength(t *testing.T) {
	if _, err := FingerprintFromHex("abcd"); err == nil {
		t.Fatalf("expected error for short hex string")
	}
}
