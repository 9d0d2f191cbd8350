package maxpath

import (
	"math"
	"math/rand"
	"testing"

	"github.com/Danderson123/pandora/kgc"
	"github.com/Danderson123/pandora/kmergraph"
	"github.com/Danderson123/pandora/minimizer"
)

func buildLinearChain(t *testing.T) (*kmergraph.KmerGraph, *kgc.KGC, []uint32) {
	t.Helper()
	g := kmergraph.New(5)
	src := g.AddNode(minimizer.Path{})
	a := g.AddNode(minimizer.Path{{Start: 0, End: 5}})
	b := g.AddNode(minimizer.Path{{Start: 5, End: 10}})
	c := g.AddNode(minimizer.Path{{Start: 10, End: 15}})
	sink := g.AddNode(minimizer.Path{})
	g.AddEdge(src, a)
	g.AddEdge(a, b)
	g.AddEdge(b, c)
	g.AddEdge(c, sink)

	k := kgc.New(g, 1)
	k.NumReads = 1000
	k.SetCovg(a, 368, true, 0)
	k.SetCovg(b, 135, true, 0)
	k.SetCovg(c, 368, true, 0)
	return g, k, []uint32{src, a, b, c, sink}
}

func TestFindMaxPathLinearChain(t *testing.T) {
	g, k, ids := buildLinearChain(t)
	s := New(g, k, kgc.ModelLinear, 1000)
	path, prob, err := s.FindMaxPath(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(path) != 3 || path[0].ID != ids[1] || path[1].ID != ids[2] || path[2].ID != ids[3] {
		t.Fatalf("unexpected path: %v", path)
	}
	var sum float64
	for _, n := range path {
		p, err := k.GetProb(kgc.ModelLinear, n.ID, 0)
		if err != nil {
			t.Fatal(err)
		}
		sum += p
	}
	want := sum / 3
	if math.Abs(prob-want) > 1e-9 {
		t.Errorf("prob = %v, want %v", prob, want)
	}
}

func TestFindMaxPathCoverageZero(t *testing.T) {
	g, _, _ := buildLinearChain(t)
	fresh := kgc.New(g, 1)
	s := New(g, fresh, kgc.ModelLinear, 1000)
	path, prob, err := s.FindMaxPath(0)
	if err != nil {
		t.Fatal(err)
	}
	if path != nil {
		t.Errorf("expected empty path on zero coverage, got %v", path)
	}
	if prob != -math.MaxFloat64 {
		t.Errorf("expected sentinel score on zero coverage, got %v", prob)
	}
}

func TestFindMaxPathSentinelTieBreak(t *testing.T) {
	g := kmergraph.New(5)
	src := g.AddNode(minimizer.Path{})
	a := g.AddNode(minimizer.Path{{Start: 0, End: 5}})
	b := g.AddNode(minimizer.Path{{Start: 100, End: 105}})
	sink := g.AddNode(minimizer.Path{})
	g.AddEdge(src, a)
	g.AddEdge(src, b)
	g.AddEdge(a, sink)
	g.AddEdge(b, sink)

	k := kgc.New(g, 1)
	k.NumReads = 1000
	k.SetCovg(a, 1, true, 0)
	k.SetCovg(b, 500, true, 0)
	k.Thresh = -3

	s := New(g, k, kgc.ModelLinear, 1000)
	path, _, err := s.FindMaxPath(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(path) != 1 || path[0].ID != b {
		t.Fatalf("expected solver to pick the higher-likelihood branch, got %v", path)
	}
}

func TestRandomPathsExcludeSink(t *testing.T) {
	g := kmergraph.New(5)
	src := g.AddNode(minimizer.Path{})
	a := g.AddNode(minimizer.Path{{Start: 0, End: 5}})
	sink := g.AddNode(minimizer.Path{})
	g.AddEdge(src, a)
	g.AddEdge(a, sink)

	k := kgc.New(g, 1)
	s := New(g, k, kgc.ModelLinear, 10)
	rng := rand.New(rand.NewSource(1))
	paths := s.RandomPaths(5, rng)
	if len(paths) != 5 {
		t.Fatalf("expected 5 paths, got %d", len(paths))
	}
	for _, p := range paths {
		if len(p) != 1 || p[0].ID != a {
			t.Errorf("expected every path to be [a], got %v", p)
		}
	}
}

type stubSeqExtractor struct {
	byNodeID map[uint32][]byte
}

func (s stubSeqExtractor) Sequence(path []*kmergraph.KmerNode) ([]byte, error) {
	if len(path) == 0 {
		return nil, nil
	}
	return s.byNodeID[path[0].ID], nil
}

func TestFindMaxPathWithReadMappingPicksMappedCandidate(t *testing.T) {
	g := kmergraph.New(3)
	src := g.AddNode(minimizer.Path{})
	a := g.AddNode(minimizer.Path{{Start: 0, End: 3}})
	b := g.AddNode(minimizer.Path{{Start: 100, End: 103}})
	sink := g.AddNode(minimizer.Path{})
	g.AddEdge(src, a)
	g.AddEdge(src, b)
	g.AddEdge(a, sink)
	g.AddEdge(b, sink)

	k := kgc.New(g, 1)
	k.NumReads = 10
	k.SetCovg(a, 1, true, 0)
	k.SetCovg(b, 1, true, 0)

	seqA := []byte("AACGTACGTA")
	seqB := []byte("GGGGGGGGGG")
	extractor := stubSeqExtractor{byNodeID: map[uint32][]byte{a: seqA, b: seqB}}
	reads := []ReadLocus{{ID: 0, Seq: seqA}}

	s := New(g, k, kgc.ModelLinear, 10)
	s.W, s.K, s.MaxDiff, s.ClusterThresh = 1, 3, 5, 1

	path, _, err := s.FindMaxPathWithReadMapping(0, extractor, reads)
	if err != nil {
		t.Fatal(err)
	}
	if len(path) != 1 || path[0].ID != a {
		t.Fatalf("expected read-mapped candidate, got %v", path)
	}
}

func TestFindMaxPathWithReadMappingFallsBackToCoverage(t *testing.T) {
	g := kmergraph.New(3)
	src := g.AddNode(minimizer.Path{})
	a := g.AddNode(minimizer.Path{{Start: 0, End: 3}})
	b := g.AddNode(minimizer.Path{{Start: 100, End: 103}})
	sink := g.AddNode(minimizer.Path{})
	g.AddEdge(src, a)
	g.AddEdge(src, b)
	g.AddEdge(a, sink)
	g.AddEdge(b, sink)

	k := kgc.New(g, 1)
	k.NumReads = 10
	k.SetCovg(a, 1, true, 0)
	k.SetCovg(b, 9, true, 0)

	extractor := stubSeqExtractor{byNodeID: map[uint32][]byte{}}
	s := New(g, k, kgc.ModelLinear, 10)
	s.W, s.K, s.MaxDiff, s.ClusterThresh = 1, 3, 5, 1

	path, _, err := s.FindMaxPathWithReadMapping(0, extractor, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(path) != 1 || path[0].ID != b {
		t.Fatalf("expected fallback to highest-coverage candidate, got %v", path)
	}
}

func TestFindMaxPathWithReadMappingFallsBackToSink(t *testing.T) {
	g := kmergraph.New(3)
	src := g.AddNode(minimizer.Path{})
	a := g.AddNode(minimizer.Path{{Start: 0, End: 3}})
	sink := g.AddNode(minimizer.Path{})
	g.AddEdge(src, a)
	g.AddEdge(src, sink)
	g.AddEdge(a, sink)

	k := kgc.New(g, 1)
	k.NumReads = 10
	k.SetCovg(a, 5, true, 0)

	extractor := stubSeqExtractor{byNodeID: map[uint32][]byte{}}
	s := New(g, k, kgc.ModelLinear, 10)
	s.W, s.K, s.MaxDiff, s.ClusterThresh = 1, 3, 5, 1

	path, _, err := s.FindMaxPathWithReadMapping(0, extractor, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(path) != 0 {
		t.Fatalf("expected empty path when source branches straight to sink, got %v", path)
	}
}
