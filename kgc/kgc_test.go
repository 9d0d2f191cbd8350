package kgc

import (
	"math"
	"testing"

	"github.com/Danderson123/pandora/kmergraph"
	"github.com/Danderson123/pandora/minimizer"
)

func buildChain(t *testing.T) (*kmergraph.KmerGraph, []uint32) {
	t.Helper()
	g := kmergraph.New(5)
	src := g.AddNode(minimizer.Path{})
	a := g.AddNode(minimizer.Path{{Start: 0, End: 5}})
	sink := g.AddNode(minimizer.Path{})
	if err := g.AddEdge(src, a); err != nil {
		t.Fatal(err)
	}
	if err := g.AddEdge(a, sink); err != nil {
		t.Fatal(err)
	}
	return g, []uint32{src, a, sink}
}

func TestIncrementCovgSaturates(t *testing.T) {
	g, ids := buildChain(t)
	k := New(g, 1)
	k.covg[ids[1]][0].Forward = math.MaxUint16
	if err := k.IncrementCovg(ids[1], true, 0); err != nil {
		t.Fatal(err)
	}
	if got := k.GetCovg(ids[1], true, 0); got != math.MaxUint16 {
		t.Errorf("expected saturation at MaxUint16, got %d", got)
	}
}

func TestIncrementCovgSampleOutOfRange(t *testing.T) {
	g, ids := buildChain(t)
	k := New(g, 1)
	if err := k.IncrementCovg(ids[1], true, 5); err == nil {
		t.Errorf("expected SampleOutOfRange error")
	}
}

func TestGetCovgMissingSampleIsZero(t *testing.T) {
	g, ids := buildChain(t)
	k := New(g, 2)
	if got := k.GetCovg(ids[1], true, 1); got != 0 {
		t.Errorf("expected 0 for unset sample slot, got %d", got)
	}
}

func TestCoverageIsZero(t *testing.T) {
	g, ids := buildChain(t)
	k := New(g, 1)
	if !k.CoverageIsZero(0) {
		t.Errorf("expected coverage_is_zero true on fresh graph")
	}
	k.IncrementCovg(ids[1], true, 0)
	if k.CoverageIsZero(0) {
		t.Errorf("expected coverage_is_zero false after increment")
	}
}

func TestBinProbAnalytic(t *testing.T) {
	g, ids := buildChain(t)
	k := New(g, 1)
	k.K = 15
	if err := k.SetBinomialParameterP(0.11); err != nil {
		t.Fatal(err)
	}
	k.NumReads = 5
	k.SetCovg(ids[1], 2, true, 0)
	k.SetCovg(ids[1], 1, false, 0)

	got, err := k.BinProbDefault(ids[1], 0)
	if err != nil {
		t.Fatal(err)
	}

	p := 1 / math.Exp(0.11*15)
	want := logNChooseK2(5, 2, 1) + 3*math.Log(p/2) + 2*math.Log(1-p)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("BinProb = %v, want %v", got, want)
	}
}

func TestBinProbUnsetP(t *testing.T) {
	g, ids := buildChain(t)
	k := New(g, 1)
	k.NumReads = 5
	if _, err := k.BinProbDefault(ids[1], 0); err == nil {
		t.Errorf("expected UnsetParameter error when p is unset")
	}
}

func TestBinProbZeroReadsFails(t *testing.T) {
	g, ids := buildChain(t)
	k := New(g, 1)
	k.SetBinomialParameterP(0.11)
	if _, err := k.BinProbDefault(ids[1], 0); err == nil {
		t.Errorf("expected UnsetParameter error when num_reads == 0")
	}
}

func TestLinProbZeroReadsFails(t *testing.T) {
	g, ids := buildChain(t)
	k := New(g, 1)
	if _, err := k.LinProb(ids[1], 0); err == nil {
		t.Errorf("expected error when num_reads == 0")
	}
}

func TestNbinProbCallableWithZeroReads(t *testing.T) {
	g, ids := buildChain(t)
	k := New(g, 1)
	if err := k.SetNegativeBinomialParameters(0.5, 2); err != nil {
		t.Fatal(err)
	}
	// should not panic/error even though NumReads == 0
	_ = k.NbinProb(ids[1], 0)
}

func TestGetProbInvalidModel(t *testing.T) {
	g, ids := buildChain(t)
	k := New(g, 1)
	if _, err := k.GetProb("bogus", ids[1], 0); err == nil {
		t.Errorf("expected InvalidModel error")
	}
}

func TestProbPathLinear(t *testing.T) {
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

	k := New(g, 1)
	k.NumReads = 10
	// choose covg so that log(s/num_reads) matches the example's raw
	// log-probs of {a:-1, b:-2, c:-1} isn't reproducible exactly via lin
	// model without engineering covg; instead verify linearity property
	// directly against GetProb sums.
	k.SetCovg(g.Nodes[a].ID, 3, true, 0)
	k.SetCovg(g.Nodes[b].ID, 1, true, 0)
	k.SetCovg(g.Nodes[c].ID, 3, true, 0)

	path := []*kmergraph.KmerNode{g.Nodes[src], g.Nodes[a], g.Nodes[b], g.Nodes[c], g.Nodes[sink]}
	got, err := k.ProbPath(path, 0, ModelLinear)
	if err != nil {
		t.Fatal(err)
	}

	var sum float64
	for _, n := range path {
		p, err := k.GetProb(ModelLinear, n.ID, 0)
		if err != nil {
			t.Fatal(err)
		}
		sum += p
	}
	want := sum / 3 // 5 nodes - 2 sentinel endpoints = 3
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("ProbPath = %v, want %v", got, want)
	}
}
