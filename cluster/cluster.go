// Package cluster implements the HitClusterer: it joins a read's
// minimizers against the Index and groups the resulting hits into
// per-(read, PRG, strand) clusters.
package cluster

import (
	"sort"

	"github.com/Danderson123/pandora/minimizer"
	"github.com/Danderson123/pandora/miniindex"
)

// MinimizerHit is the join of a read Minimizer and a MiniRecord, plus the
// read that produced it.
type MinimizerHit struct {
	ReadID          uint32
	PrgID           uint32
	ReadStart       int
	PrgPath         minimizer.Path
	KnodeID         uint32
	StrandAgreement bool
}

// Hits is the ordered collection of MinimizerHit used to build clusters.
type Hits []MinimizerHit

func (h Hits) Len() int      { return len(h) }
func (h Hits) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h Hits) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.PrgID != b.PrgID {
		return a.PrgID < b.PrgID
	}
	if a.StrandAgreement != b.StrandAgreement {
		return !a.StrandAgreement // false (disagreeing strand) sorts before true
	}
	if a.ReadStart != b.ReadStart {
		return a.ReadStart < b.ReadStart
	}
	return pathStart(a.PrgPath) < pathStart(b.PrgPath)
}

func pathStart(p minimizer.Path) int {
	if len(p) == 0 {
		return 0
	}
	return p[0].Start
}

// Cluster is a maximal run of hits, against one (prg_id, strand_agreement),
// taken in Hits order (so read_start never decreases), in which each hit's
// diagonal stays within max_diff of the previous hit's diagonal. The order
// of prg_path starts within a cluster is not checked.
type Cluster struct {
	PrgID           uint32
	StrandAgreement bool
	Hits            []MinimizerHit
}

// Len returns the number of hits in the cluster.
func (c Cluster) Len() int { return len(c.Hits) }

// HitClusterer turns a read's minimizers into clusters against the Index.
type HitClusterer struct {
	Index         *miniindex.Index
	MaxDiff       int
	ClusterThresh int
}

// New constructs a HitClusterer.
func New(idx *miniindex.Index, maxDiff, clusterThresh int) *HitClusterer {
	return &HitClusterer{Index: idx, MaxDiff: maxDiff, ClusterThresh: clusterThresh}
}

// Cluster runs the clustering algorithm: for every minimizer of the read,
// fetch matching MiniRecords from the index, order the resulting hits, and
// walk them into diagonal-consistent clusters.
func (hc *HitClusterer) Cluster(readID uint32, readMinis []minimizer.Minimizer) []Cluster {
	hits := hc.collectHits(readID, readMinis)
	sort.Stable(hits)
	return clusterOrderedHits(hits, hc.MaxDiff, hc.ClusterThresh)
}

func (hc *HitClusterer) collectHits(readID uint32, readMinis []minimizer.Minimizer) Hits {
	var hits Hits
	for _, m := range readMinis {
		for _, mr := range hc.Index.Get(m.Hash) {
			hits = append(hits, MinimizerHit{
				ReadID:          readID,
				PrgID:           mr.PrgID,
				ReadStart:       m.Start,
				PrgPath:         mr.Path,
				KnodeID:         mr.KnodeID,
				StrandAgreement: m.Strand == mr.Strand,
			})
		}
	}
	return hits
}

// diagonal returns the diagonal difference of a hit: read position minus
// PRG-path start.
func diagonal(h MinimizerHit) int {
	return h.ReadStart - pathStart(h.PrgPath)
}

func clusterOrderedHits(hits Hits, maxDiff, clusterThresh int) []Cluster {
	var out []Cluster
	var cur Cluster
	open := false
	var prevDiag int

	flush := func() {
		if open && cur.Len() >= clusterThresh {
			out = append(out, cur)
		}
		open = false
		cur = Cluster{}
	}

	for i, h := range hits {
		if i > 0 {
			// collapse exact duplicates (same read_start, prg_path, knode)
			p := hits[i-1]
			if p.ReadStart == h.ReadStart && p.KnodeID == h.KnodeID && p.PrgPath.Equal(h.PrgPath) && p.PrgID == h.PrgID && p.StrandAgreement == h.StrandAgreement {
				continue
			}
		}

		diag := diagonal(h)
		if !open {
			cur = Cluster{PrgID: h.PrgID, StrandAgreement: h.StrandAgreement, Hits: []MinimizerHit{h}}
			open = true
			prevDiag = diag
			continue
		}

		sameGroup := h.PrgID == cur.PrgID && h.StrandAgreement == cur.StrandAgreement
		withinDiag := absInt(diag-prevDiag) <= maxDiff
		if sameGroup && withinDiag {
			cur.Hits = append(cur.Hits, h)
			prevDiag = diag
			continue
		}

		flush()
		cur = Cluster{PrgID: h.PrgID, StrandAgreement: h.StrandAgreement, Hits: []MinimizerHit{h}}
		open = true
		prevDiag = diag
	}
	flush()
	return out
}

func absInt(a int) int {
	if a < 0 {
		return -a
	}
	return a
}
