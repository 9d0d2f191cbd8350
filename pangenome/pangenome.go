// Package pangenome assembles per-PRG pan-graph bookkeeping (node
// coverage, per-read hit evidence, and inter-gene adjacency) from the hit
// clusters and maximum-likelihood paths the rest of this module computes.
package pangenome

import (
	"bufio"
	"fmt"
	"os"
	"sort"

	"github.com/Danderson123/pandora/cluster"
	"github.com/Danderson123/pandora/kmergraph"
	"github.com/Danderson123/pandora/perrors"
)

// Orientation encodes the relative strand pairing of the two endpoints of
// a PanEdge: 0 fwd->fwd, 1 fwd->rev, 2 rev->fwd, 3 rev->rev.
type Orientation uint8

const (
	OrientFwdFwd Orientation = 0
	OrientFwdRev Orientation = 1
	OrientRevFwd Orientation = 2
	OrientRevRev Orientation = 3
)

// RevOrient returns the orientation of the same edge observed from its
// opposite endpoint.
func RevOrient(o Orientation) Orientation {
	switch o {
	case OrientFwdFwd:
		return OrientRevRev
	case OrientRevRev:
		return OrientFwdFwd
	default:
		return o
	}
}

// PanNode is one gene/PRG locus in the pan-graph, aggregated across every
// read and sample that touched it.
type PanNode struct {
	PrgID uint32
	Name  string
	Covg  uint32

	// SamplePaths holds, per sample, the maximum-likelihood kmer-graph
	// path inferred for this PRG.
	SamplePaths map[uint32][]*kmergraph.KmerNode

	// ReadIDs is the set of pangenome Read ids quasi-mapped to this node.
	ReadIDs map[uint32]bool
}

// NewPanNode constructs an empty PanNode for prgID.
func NewPanNode(prgID uint32, name string) *PanNode {
	return &PanNode{
		PrgID:       prgID,
		Name:        name,
		SamplePaths: make(map[uint32][]*kmergraph.KmerNode),
		ReadIDs:     make(map[uint32]bool),
	}
}

// AddRead records that readID quasi-mapped to this node, incrementing
// coverage the first time a given read id is seen.
func (n *PanNode) AddRead(readID uint32) {
	if n.ReadIDs[readID] {
		return
	}
	n.ReadIDs[readID] = true
	n.Covg++
}

// SetSamplePath stores sampleID's maximum-likelihood path for this node.
func (n *PanNode) SetSamplePath(sampleID uint32, path []*kmergraph.KmerNode) {
	n.SamplePaths[sampleID] = path
}

// PanRead is one sequencing read's record of the PRG nodes it quasi-mapped
// to, in the order first observed, plus the hit evidence behind each.
type PanRead struct {
	ID uint32

	PrgIDs []uint32
	Hits   map[uint32][]cluster.Cluster
}

// NewPanRead constructs an empty PanRead for id.
func NewPanRead(id uint32) *PanRead {
	return &PanRead{ID: id, Hits: make(map[uint32][]cluster.Cluster)}
}

// AddHits records clusters as hit evidence for this read against prgID,
// appending prgID to PrgIDs the first time it's seen.
func (r *PanRead) AddHits(prgID uint32, clusters []cluster.Cluster) {
	if _, ok := r.Hits[prgID]; !ok {
		r.PrgIDs = append(r.PrgIDs, prgID)
	}
	r.Hits[prgID] = append(r.Hits[prgID], clusters...)
}

// PanEdge is a directed adjacency between two PanNodes observed on at
// least one read, with its orientation pairing and observation count.
type PanEdge struct {
	From, To    uint32
	Orientation Orientation
	Covg        uint32
}

// edgeKey canonicalizes an edge for lookup regardless of which endpoint it
// was first observed from.
type edgeKey struct {
	from, to uint32
	orient   Orientation
}

func canonicalKey(from, to uint32, orient Orientation) edgeKey {
	if from <= to {
		return edgeKey{from, to, orient}
	}
	return edgeKey{to, from, RevOrient(orient)}
}

// PanGraph is the pan-genome graph: one PanNode per PRG, one PanRead per
// read, and the PanEdges observed between adjacent PRGs on reads.
type PanGraph struct {
	Nodes map[uint32]*PanNode
	Reads map[uint32]*PanRead
	Edges map[edgeKey]*PanEdge
}

// New constructs an empty PanGraph.
func New() *PanGraph {
	return &PanGraph{
		Nodes: make(map[uint32]*PanNode),
		Reads: make(map[uint32]*PanRead),
		Edges: make(map[edgeKey]*PanEdge),
	}
}

// AddNode returns the PanNode for prgID, creating it (with name) if
// absent.
func (g *PanGraph) AddNode(prgID uint32, name string) *PanNode {
	n, ok := g.Nodes[prgID]
	if !ok {
		n = NewPanNode(prgID, name)
		g.Nodes[prgID] = n
	}
	return n
}

// AddRead returns the PanRead for readID, creating it if absent.
func (g *PanGraph) AddRead(readID uint32) *PanRead {
	r, ok := g.Reads[readID]
	if !ok {
		r = NewPanRead(readID)
		g.Reads[readID] = r
	}
	return r
}

// AddEdge records one observation of an adjacency between from and to,
// merging with the reverse-observed equivalent edge if one already
// exists, and returns the (possibly just-created) PanEdge.
func (g *PanGraph) AddEdge(from, to uint32, orient Orientation) *PanEdge {
	key := canonicalKey(from, to, orient)
	e, ok := g.Edges[key]
	if !ok {
		e = &PanEdge{From: key.from, To: key.to, Orientation: key.orient}
		g.Edges[key] = e
	}
	e.Covg++
	return e
}

// AssembleFromClusters folds one read's hit clusters into the pan-graph:
// it registers the read, records per-PRG hit evidence, bumps each hit
// node's coverage, and (when the read spans more than one PRG) adds an
// edge between successive distinct PRGs in cluster order. Inter-gene
// structural variation is not resolved here; this only records adjacency
// counts.
func (g *PanGraph) AssembleFromClusters(readID uint32, clusters []cluster.Cluster, names map[uint32]string) {
	r := g.AddRead(readID)
	var order []uint32
	seen := make(map[uint32]bool)
	for _, c := range clusters {
		n := g.AddNode(c.PrgID, names[c.PrgID])
		n.AddRead(readID)
		r.AddHits(c.PrgID, []cluster.Cluster{c})
		if !seen[c.PrgID] {
			seen[c.PrgID] = true
			order = append(order, c.PrgID)
		}
	}
	for i := 1; i < len(order); i++ {
		orient := orientationFor(clusters, order[i-1], order[i])
		g.AddEdge(order[i-1], order[i], orient)
	}
}

func orientationFor(clusters []cluster.Cluster, from, to uint32) Orientation {
	fromFwd, toFwd := true, true
	for _, c := range clusters {
		if c.PrgID == from {
			fromFwd = c.StrandAgreement
		}
		if c.PrgID == to {
			toFwd = c.StrandAgreement
		}
	}
	switch {
	case fromFwd && toFwd:
		return OrientFwdFwd
	case fromFwd && !toFwd:
		return OrientFwdRev
	case !fromFwd && toFwd:
		return OrientRevFwd
	default:
		return OrientRevRev
	}
}

// SaveGFA writes the pan-graph as a GFA: one S line per PanNode (name,
// read-coverage tag) and one L line per PanEdge (orientation encoded as
// GFA strand symbols, zero-overlap CIGAR), the <prefix>_pangraph.gfa
// artifact.
func (g *PanGraph) SaveGFA(filename string) error {
	fp, err := os.Create(filename)
	if err != nil {
		return &perrors.IOError{Path: filename, Cause: err}
	}
	defer fp.Close()
	w := bufio.NewWriter(fp)

	ids := make([]uint32, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		n := g.Nodes[id]
		if _, err := fmt.Fprintf(w, "S\t%d\t%s\tRC:i:%d\n", n.PrgID, n.Name, n.Covg); err != nil {
			return &perrors.IOError{Path: filename, Cause: err}
		}
	}

	keys := make([]edgeKey, 0, len(g.Edges))
	for k := range g.Edges {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].from != keys[j].from {
			return keys[i].from < keys[j].from
		}
		return keys[i].to < keys[j].to
	})
	for _, k := range keys {
		e := g.Edges[k]
		fromStrand, toStrand := orientStrands(e.Orientation)
		if _, err := fmt.Fprintf(w, "L\t%d\t%s\t%d\t%s\t0M\tRC:i:%d\n", e.From, fromStrand, e.To, toStrand, e.Covg); err != nil {
			return &perrors.IOError{Path: filename, Cause: err}
		}
	}
	return w.Flush()
}

func orientStrands(o Orientation) (from, to string) {
	switch o {
	case OrientFwdFwd:
		return "+", "+"
	case OrientFwdRev:
		return "+", "-"
	case OrientRevFwd:
		return "-", "+"
	default:
		return "-", "-"
	}
}
