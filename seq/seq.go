// Package seq provides 2-bit nucleotide packing and canonical k-mer
// selection for the minimizer layer.
package seq

import (
	"github.com/cespare/xxhash/v2"
)

// Base2Bnt maps an ASCII nucleotide byte to its 2-bit code. Unknown bytes
// map to 0 (A); reads are expected pre-filtered of N-runs before packing.
var Base2Bnt = [256]byte{}

// Bnt2Base is the inverse of Base2Bnt for the four canonical codes.
var Bnt2Base = [4]byte{'A', 'C', 'G', 'T'}

// complement2Bnt maps a 2-bit code to its complementary 2-bit code:
// A(0)<->T(3), C(1)<->G(2).
var complement2Bnt = [4]byte{3, 2, 1, 0}

func init() {
	Base2Bnt['A'], Base2Bnt['a'] = 0, 0
	Base2Bnt['C'], Base2Bnt['c'] = 1, 1
	Base2Bnt['G'], Base2Bnt['g'] = 2, 2
	Base2Bnt['T'], Base2Bnt['t'] = 3, 3
}

// ComplementBase returns the complementary base of an ASCII nucleotide.
func ComplementBase(b byte) byte {
	return Bnt2Base[complement2Bnt[Base2Bnt[b]]]
}

// ReverseComplement returns the reverse complement of an ASCII nucleotide
// sequence.
func ReverseComplement(s []byte) []byte {
	rc := make([]byte, len(s))
	n := len(s)
	for i, b := range s {
		rc[n-1-i] = ComplementBase(b)
	}
	return rc
}

// Hash64 returns a deterministic 64-bit fingerprint of a byte sequence.
// Stable across runs and process restarts.
func Hash64(s []byte) uint64 {
	return xxhash.Sum64(s)
}

// Canonical returns the canonical fingerprint of a k-mer: the smaller of
// hash(kmer) and hash(reverse_complement(kmer)), plus a strand bit
// recording which side won (true = forward/kmer, false = reverse
// complement won).
func Canonical(kmer []byte) (hash uint64, forwardStrand bool) {
	fwd := Hash64(kmer)
	rc := Hash64(ReverseComplement(kmer))
	if fwd <= rc {
		return fwd, true
	}
	return rc, false
}
