// Package minimizer extracts canonical (w,k)-minimizers from nucleotide
// sequences.
package minimizer

import (
	"github.com/Danderson123/pandora/perrors"
	"github.com/Danderson123/pandora/seq"
)

// Minimizer is a canonical k-mer fingerprint found in a read, together with
// the half-open interval it came from and the strand that produced the
// canonical hash.
type Minimizer struct {
	Hash       uint64
	Start, End int  // half-open [Start, End) into the source sequence
	Strand     bool // true = forward strand won the canonical comparison
}

// Path is an ordered sequence of half-open intervals into a PRG's
// linearized sequence. A single-interval Path describes a contiguous
// match; multi-interval paths describe matches that cross a PRG bubble.
type Path []Interval

// Interval is a half-open [Start, End) interval.
type Interval struct {
	Start, End int
}

// Length returns the total number of bases covered by the path.
func (p Path) Length() int {
	n := 0
	for _, iv := range p {
		n += iv.End - iv.Start
	}
	return n
}

// Equal reports whether two paths describe the same intervals in the same
// order.
func (p Path) Equal(o Path) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// MiniRecord binds a minimizer hash to the k-mer node that produced it in
// one PRG.
type MiniRecord struct {
	PrgID   uint32
	Path    Path
	KnodeID uint32
	Strand  bool
}

// Extract finds the set of (w,k)-minimizers in seqBytes. A minimizer is the
// canonical k-mer with the smallest hash within any window of w consecutive
// k-mers; at w=1 every k-mer is its own window and therefore a minimizer.
// The returned set is deduplicated on k-mer origin start: a k-mer that wins
// in more than one window is reported once, while the same canonical hash
// found at two different origins is reported once per origin (so callers
// keep positional information).
func Extract(seqBytes []byte, w, k int) ([]Minimizer, error) {
	l := len(seqBytes)
	minLen := k + w - 1
	if l < minLen {
		return nil, &perrors.SequenceTooShort{Length: l, MinLength: minLen}
	}

	numKmers := l - k + 1
	hashes := make([]uint64, numKmers)
	strands := make([]bool, numKmers)
	for i := 0; i < numKmers; i++ {
		h, fwd := seq.Canonical(seqBytes[i : i+k])
		hashes[i] = h
		strands[i] = fwd
	}

	seen := make(map[int]bool) // dedup by k-mer origin start
	var out []Minimizer
	for winStart := 0; winStart+w <= numKmers; winStart++ {
		minIdx := winStart
		for j := winStart + 1; j < winStart+w; j++ {
			if hashes[j] < hashes[minIdx] {
				minIdx = j
			}
		}
		if seen[minIdx] {
			continue
		}
		seen[minIdx] = true
		out = append(out, Minimizer{
			Hash:   hashes[minIdx],
			Start:  minIdx,
			End:    minIdx + k,
			Strand: strands[minIdx],
		})
	}
	return out, nil
}
