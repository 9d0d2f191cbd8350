package seq

import "testing"

func TestReverseComplement(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"A", "T"},
		{"AACGTGC", "GCACGTT"},
		{"", ""},
	}
	for _, c := range cases {
		got := string(ReverseComplement([]byte(c.in)))
		if got != c.want {
			t.Errorf("ReverseComplement(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCanonicalIsSymmetric(t *testing.T) {
	kmer := []byte("AACGT")
	h1, fwd1 := Canonical(kmer)
	h2, fwd2 := Canonical(ReverseComplement(kmer))
	if h1 != h2 {
		t.Errorf("canonical hash not symmetric: %d != %d", h1, h2)
	}
	if fwd1 == fwd2 {
		t.Errorf("strand bit should flip between a kmer and its reverse complement")
	}
}

func TestHash64Deterministic(t *testing.T) {
	a := Hash64([]byte("ACGTACGT"))
	b := Hash64([]byte("ACGTACGT"))
	if a != b {
		t.Errorf("Hash64 not deterministic: %d != %d", a, b)
	}
}
