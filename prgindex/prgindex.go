// Package prgindex builds the per-PRG k-mer graph and minimizer set from a
// flat nucleotide sequence: a PRG supplied as one linear sequence, turned
// into a linear chain of overlapping k-mer nodes, one per k-mer, bookended
// by source/sink sentinels.
package prgindex

import (
	"github.com/Danderson123/pandora/kmergraph"
	"github.com/Danderson123/pandora/miniindex"
	"github.com/Danderson123/pandora/minimizer"
)

// PRG is one gene locus: its id, name, linear sequence, and the k-mer graph
// built from that sequence.
type PRG struct {
	ID    uint32
	Name  string
	Seq   []byte
	Graph *kmergraph.KmerGraph
}

// Build constructs a linear-chain KmerGraph over seqBytes: a source
// sentinel, one node per overlapping k-mer, a sink sentinel, and edges
// linking each k-mer to its successor. Every node's AT-content is computed
// from its covered interval.
func Build(id uint32, name string, seqBytes []byte, k int) *PRG {
	g := kmergraph.New(k)
	p := &PRG{ID: id, Name: name, Seq: seqBytes, Graph: g}

	srcID := g.AddNode(nil)
	if len(seqBytes) < k {
		sinkID := g.AddNode(nil)
		g.AddEdge(srcID, sinkID)
		return p
	}

	numKmers := len(seqBytes) - k + 1
	prev := srcID
	for i := 0; i < numKmers; i++ {
		path := minimizer.Path{{Start: i, End: i + k}}
		nodeID := g.AddNode(path)
		g.Nodes[nodeID].NumAT = countAT(seqBytes[i : i+k])
		g.AddEdge(prev, nodeID)
		prev = nodeID
	}
	sinkID := g.AddNode(nil)
	g.AddEdge(prev, sinkID)
	return p
}

func countAT(s []byte) int {
	n := 0
	for _, b := range s {
		switch b {
		case 'A', 'a', 'T', 't':
			n++
		}
	}
	return n
}

// IndexMinimizers extracts this PRG's (w,k)-minimizers and registers a
// MiniRecord for each one into idx, binding the minimizer's hash to the
// KmerNode whose path matches the minimizer's covered interval.
func (p *PRG) IndexMinimizers(idx *miniindex.Index, w, k int) error {
	minis, err := minimizer.Extract(p.Seq, w, k)
	if err != nil {
		return err
	}
	for _, m := range minis {
		path := minimizer.Path{{Start: m.Start, End: m.End}}
		nodeID := p.Graph.AddNode(path) // idempotent: resolves to the existing k-mer node
		idx.Add(m.Hash, minimizer.MiniRecord{
			PrgID:   p.ID,
			Path:    path,
			KnodeID: nodeID,
			Strand:  m.Strand,
		})
	}
	return nil
}

// Sequence implements maxpath.SequenceExtractor: it reconstructs the
// nucleotide sequence covered by a path of overlapping k-mer nodes by
// taking the first node's full k-mer and appending each subsequent node's
// last base, the standard de-Bruijn-chain reconstruction for a path whose
// consecutive nodes overlap by k-1 bases.
func (p *PRG) Sequence(path []*kmergraph.KmerNode) ([]byte, error) {
	if len(path) == 0 {
		return nil, nil
	}
	first := path[0]
	if len(first.Path) == 0 {
		return nil, nil
	}
	out := make([]byte, 0, len(path)+p.Graph.K)
	out = append(out, p.Seq[first.Path[0].Start:first.Path[0].End]...)
	for _, n := range path[1:] {
		if len(n.Path) == 0 {
			continue
		}
		iv := n.Path[0]
		out = append(out, p.Seq[iv.End-1:iv.End]...)
	}
	return out, nil
}
