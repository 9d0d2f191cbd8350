// Package maxpath implements the maximum-likelihood path solver over a
// KmerGraphWithCoverage: the reverse-topological dynamic program, its
// read-mapping-disambiguated variant, and a uniform random path sampler.
package maxpath

import (
	"math"
	"math/rand"
	"sort"

	"github.com/Danderson123/pandora/cluster"
	"github.com/Danderson123/pandora/kgc"
	"github.com/Danderson123/pandora/kmergraph"
	"github.com/Danderson123/pandora/miniindex"
	"github.com/Danderson123/pandora/minimizer"
	"github.com/Danderson123/pandora/perrors"
)

// tolerance is the epsilon used in the DP's tie-break comparisons.
const tolerance = 1e-6

// maxReconstructionSteps bounds path reconstruction against an
// inconsistent next[] pointer chain.
const maxReconstructionSteps = 1000000

// SequenceExtractor translates a candidate k-mer node path back into the
// nucleotide sequence it covers. The solver only consumes this interface
// to build a sequence buffer for read mapping; it never parses or builds
// the underlying PRG itself.
type SequenceExtractor interface {
	Sequence(path []*kmergraph.KmerNode) ([]byte, error)
}

// ReadLocus is one read sequence quasi-mapped to the gene locus being
// disambiguated.
type ReadLocus struct {
	ID  uint32
	Seq []byte
}

// Solver finds the maximum-mean-log-likelihood path through a KmerGraph
// under a KmerGraphWithCoverage's probability model.
type Solver struct {
	Graph                *kmergraph.KmerGraph
	KGC                  *kgc.KGC
	Model                string
	MaxNumKmersToAverage uint32

	// W, K, MaxDiff, and ClusterThresh parameterize the minimizer aligner
	// used by FindMaxPathWithReadMapping's candidate disambiguation.
	W, K                   int
	MaxDiff, ClusterThresh int
}

// New constructs a Solver.
func New(g *kmergraph.KmerGraph, k *kgc.KGC, model string, maxNumKmersToAverage uint32) *Solver {
	return &Solver{Graph: g, KGC: k, Model: model, MaxNumKmersToAverage: maxNumKmersToAverage}
}

// FindMaxPath runs the base reverse-topological DP and returns the ML path
// (exclusive of the source and sink sentinels) and its mean log-likelihood.
func (s *Solver) FindMaxPath(sampleID uint32) ([]*kmergraph.KmerNode, float64, error) {
	if s.KGC.CoverageIsZero(sampleID) {
		return nil, -math.MaxFloat64, nil
	}
	nodes := s.Graph.Nodes
	n := len(nodes)
	if n == 0 {
		return nil, -math.MaxFloat64, &perrors.NoPath{}
	}
	sinkID := uint32(n - 1)

	// nodes is already in topological order by insertion; walking it in
	// reverse visits every node after all of its successors.
	sumLogProb := make([]float64, n)
	length := make([]uint32, n)
	prevAlong := make([]uint32, n)
	for i := range prevAlong {
		prevAlong[i] = sinkID
	}

	for j := n - 1; j > 0; j-- {
		cur := nodes[j-1]
		maxMean := -math.MaxFloat64
		var maxLength uint32

		for _, outID := range cur.Out {
			outLen := length[outID]
			avgHere := -math.MaxFloat64
			if outLen > 0 {
				avgHere = sumLogProb[outID] / float64(outLen)
			}

			isTerminusAndMostLikely := outID == sinkID && s.KGC.Thresh > maxMean+tolerance
			avgIsMostLikely := outLen > 0 && avgHere > maxMean+tolerance
			avgIsClose := outLen > 0 && maxMean-avgHere <= tolerance
			isLonger := outLen > maxLength

			if !(isTerminusAndMostLikely || avgIsMostLikely || (avgIsClose && isLonger)) {
				continue
			}

			p, err := s.KGC.GetProb(s.Model, cur.ID, sampleID)
			if err != nil {
				return nil, 0, err
			}
			sumLogProb[cur.ID] = p + sumLogProb[outID]
			length[cur.ID] = 1 + outLen
			prevAlong[cur.ID] = outID

			if length[cur.ID] > s.MaxNumKmersToAverage {
				prev := prevAlong[cur.ID]
				for step := uint32(0); step < s.MaxNumKmersToAverage; step++ {
					prev = prevAlong[prev]
				}
				tailProb, err := s.KGC.GetProb(s.Model, nodes[prev].ID, sampleID)
				if err != nil {
					return nil, 0, err
				}
				sumLogProb[cur.ID] -= tailProb
				length[cur.ID]--
			}

			if outID != sinkID {
				maxMean = sumLogProb[outID] / float64(length[outID])
				maxLength = length[outID]
			} else {
				maxMean = s.KGC.Thresh
			}
		}
	}

	if length[0] == 0 {
		return nil, -math.MaxFloat64, &perrors.NoPath{}
	}

	path, err := walkNext(nodes, prevAlong, sinkID)
	if err != nil {
		return nil, 0, err
	}

	prob, err := s.KGC.ProbPath(path, sampleID, s.Model)
	if err != nil {
		return nil, 0, err
	}
	return path, prob, nil
}

// walkNext follows prevAlong from the source's chosen successor to the
// sink, collecting the nodes in between (sentinels excluded).
func walkNext(nodes []*kmergraph.KmerNode, prevAlong []uint32, sinkID uint32) ([]*kmergraph.KmerNode, error) {
	var path []*kmergraph.KmerNode
	cur := prevAlong[0]
	for cur != sinkID {
		path = append(path, nodes[cur])
		cur = prevAlong[cur]
		if len(path) > maxReconstructionSteps {
			return nil, &perrors.Infinite{}
		}
	}
	return path, nil
}

// extractSuffix returns the ML suffix path starting at and including
// startID, through to (excluding) the sink, by following prevAlong.
func extractSuffix(nodes []*kmergraph.KmerNode, prevAlong []uint32, startID, sinkID uint32) []*kmergraph.KmerNode {
	path := []*kmergraph.KmerNode{nodes[startID]}
	cur := prevAlong[startID]
	for cur != sinkID {
		path = append(path, nodes[cur])
		cur = prevAlong[cur]
	}
	return path
}

// FindMaxPathWithReadMapping runs the same reverse-topological scan as
// FindMaxPath, but at every branch point (a node with 2+ successors) picks
// next[u] by mapping reads to each candidate's ML suffix sequence instead
// of by likelihood mean.
func (s *Solver) FindMaxPathWithReadMapping(sampleID uint32, seqOf SequenceExtractor, reads []ReadLocus) ([]*kmergraph.KmerNode, float64, error) {
	if s.KGC.CoverageIsZero(sampleID) {
		return nil, -math.MaxFloat64, nil
	}
	nodes := s.Graph.Nodes
	n := len(nodes)
	if n == 0 {
		return nil, -math.MaxFloat64, &perrors.NoPath{}
	}
	sinkID := uint32(n - 1)

	prevAlong := make([]uint32, n)
	for i := range prevAlong {
		prevAlong[i] = sinkID
	}

	for j := n - 1; j > 0; j-- {
		cur := nodes[j-1]
		switch len(cur.Out) {
		case 0:
			// no outgoing edge: leave prevAlong[cur.ID] at its default (sink)
		case 1:
			prevAlong[cur.ID] = cur.Out[0]
		default:
			chosen, err := s.chooseBranch(cur, prevAlong, sinkID, sampleID, seqOf, reads)
			if err != nil {
				return nil, 0, err
			}
			prevAlong[cur.ID] = chosen
		}
	}

	path, err := walkNext(nodes, prevAlong, sinkID)
	if err != nil {
		return nil, 0, err
	}

	prob, err := s.KGC.ProbPath(path, sampleID, s.Model)
	if err != nil {
		return nil, 0, err
	}
	return path, prob, nil
}

func (s *Solver) chooseBranch(cur *kmergraph.KmerNode, prevAlong []uint32, sinkID, sampleID uint32, seqOf SequenceExtractor, reads []ReadLocus) (uint32, error) {
	nodes := s.Graph.Nodes
	candidateIDs := append([]uint32{}, cur.Out...)
	sort.Slice(candidateIDs, func(i, j int) bool { return candidateIDs[i] < candidateIDs[j] })

	type candidate struct {
		id  uint32
		seq []byte
	}
	var candidates []candidate
	for _, id := range candidateIDs {
		suffix := extractSuffix(nodes, prevAlong, id, sinkID)
		sequence, err := seqOf.Sequence(suffix)
		if err != nil {
			return 0, err
		}
		if len(sequence) > 0 {
			candidates = append(candidates, candidate{id: id, seq: sequence})
		}
	}

	counts := make(map[uint32]int)
	if len(candidates) > 0 {
		idx := miniindex.New(s.W, s.K)
		for _, c := range candidates {
			minis, err := minimizer.Extract(c.seq, s.W, s.K)
			if err != nil {
				continue
			}
			for _, m := range minis {
				idx.Add(m.Hash, minimizer.MiniRecord{
					PrgID:   c.id,
					KnodeID: c.id,
					Strand:  m.Strand,
					Path:    minimizer.Path{{Start: m.Start, End: m.End}},
				})
			}
		}
		hc := cluster.New(idx, s.MaxDiff, s.ClusterThresh)
		for _, r := range reads {
			readMinis, err := minimizer.Extract(r.Seq, s.W, s.K)
			if err != nil {
				continue
			}
			clusters := hc.Cluster(r.ID, readMinis)
			if len(clusters) == 0 {
				continue
			}
			best := clusters[0]
			for _, cl := range clusters[1:] {
				if cl.Len() > best.Len() {
					best = cl
				}
			}
			counts[best.PrgID]++
		}
	}

	var bestID uint32
	bestCount := 0
	for _, id := range candidateIDs {
		if cnt := counts[id]; cnt > bestCount {
			bestID, bestCount = id, cnt
		}
	}
	if bestCount > 0 {
		return bestID, nil
	}

	for _, id := range candidateIDs {
		if id == sinkID {
			return sinkID, nil
		}
	}

	maxCov := -1
	var chosen uint32
	for _, id := range candidateIDs {
		cov := int(s.KGC.ForwardCovg(id, sampleID) + s.KGC.ReverseCovg(id, sampleID))
		if cov > maxCov {
			maxCov = cov
			chosen = id
		}
	}
	return chosen, nil
}

// RandomPaths returns numPaths uniform-successor random walks from source
// to sink, excluding the sink sentinel, using rng for every choice.
func (s *Solver) RandomPaths(numPaths int, rng *rand.Rand) [][]*kmergraph.KmerNode {
	nodes := s.Graph.Nodes
	if len(nodes) == 0 || len(nodes[0].Out) == 0 {
		return nil
	}
	sinkID := uint32(len(nodes) - 1)

	paths := make([][]*kmergraph.KmerNode, 0, numPaths)
	for i := 0; i < numPaths; i++ {
		var path []*kmergraph.KmerNode
		curID := nodes[0].Out[rng.Intn(len(nodes[0].Out))]
		for curID != sinkID {
			path = append(path, nodes[curID])
			out := nodes[curID].Out
			if len(out) == 1 {
				curID = out[0]
			} else {
				curID = out[rng.Intn(len(out))]
			}
		}
		paths = append(paths, path)
	}
	return paths
}
