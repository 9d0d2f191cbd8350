package prgindex

import (
	"testing"

	"github.com/Danderson123/pandora/miniindex"
)

func TestBuildLinearChainNodeCount(t *testing.T) {
	seq := []byte("ACGTACGTAC") // length 10
	p := Build(1, "geneA", seq, 3)

	// numKmers = 10-3+1 = 8, plus source and sink sentinels.
	if len(p.Graph.Nodes) != 10 {
		t.Fatalf("expected 10 nodes, got %d", len(p.Graph.Nodes))
	}
	if !p.Graph.Nodes[0].IsSentinel() {
		t.Errorf("expected node 0 to be the source sentinel")
	}
	last := p.Graph.Nodes[len(p.Graph.Nodes)-1]
	if !last.IsSentinel() {
		t.Errorf("expected last node to be the sink sentinel")
	}
}

func TestBuildTooShortSequenceIsSourceSinkOnly(t *testing.T) {
	p := Build(1, "geneA", []byte("AC"), 5)
	if len(p.Graph.Nodes) != 2 {
		t.Fatalf("expected 2 sentinel-only nodes, got %d", len(p.Graph.Nodes))
	}
}

func TestIndexMinimizersResolvesToExistingKmerNode(t *testing.T) {
	seq := []byte("ACGTACGTACGTACGT")
	p := Build(7, "geneB", seq, 4)
	beforeNodes := len(p.Graph.Nodes)

	idx := miniindex.New(1, 4)
	if err := p.IndexMinimizers(idx, 1, 4); err != nil {
		t.Fatal(err)
	}
	if len(p.Graph.Nodes) != beforeNodes {
		t.Errorf("IndexMinimizers should not create new graph nodes, had %d now %d", beforeNodes, len(p.Graph.Nodes))
	}
	if idx.NumKeys() == 0 {
		t.Errorf("expected at least one minimizer to be indexed")
	}
}

func TestSequenceReconstructsOverlappingChain(t *testing.T) {
	seq := []byte("ACGTACGT")
	p := Build(1, "geneA", seq, 3)

	// the full chain (excluding sentinels) should reconstruct the original sequence
	path := p.Graph.Nodes[1 : len(p.Graph.Nodes)-1]
	got, err := p.Sequence(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(seq) {
		t.Errorf("Sequence = %q, want %q", got, seq)
	}
}

func TestSequenceEmptyPath(t *testing.T) {
	p := Build(1, "geneA", []byte("ACGTACGT"), 3)
	got, err := p.Sequence(nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expected nil sequence for an empty path, got %q", got)
	}
}
