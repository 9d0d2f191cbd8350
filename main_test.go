package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadReadsDispatchesOnExtension(t *testing.T) {
	fa := writeTempFile(t, "reads.fa", ">r1\nACGTACGT\n")
	records, err := readReads(fa)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].ID != "r1" {
		t.Fatalf("unexpected FASTA records: %+v", records)
	}

	fq := writeTempFile(t, "reads.fastq", "@r2\nGGGGCCCC\n+\nIIIIIIII\n")
	records, err = readReads(fq)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].ID != "r2" {
		t.Fatalf("unexpected FASTQ records: %+v", records)
	}
}

func TestBuildPRGsAndIndexIndexesEveryRecord(t *testing.T) {
	fa := writeTempFile(t, "prgs.fa", ">geneA\nACGTACGTACGTACGT\n>geneB\nTTTTGGGGCCCCAAAA\n")
	prgs, idx, err := buildPRGsAndIndex(fa, 1, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(prgs) != 2 {
		t.Fatalf("expected 2 PRGs, got %d", len(prgs))
	}
	if prgs[0].Name != "geneA" || prgs[1].Name != "geneB" {
		t.Errorf("unexpected PRG names: %q, %q", prgs[0].Name, prgs[1].Name)
	}
	if idx.NumKeys() == 0 {
		t.Errorf("expected a non-empty minimizer index")
	}
}

func TestBuildPRGsAndIndexTooShortSequenceStillProducesGraph(t *testing.T) {
	fa := writeTempFile(t, "prgs.fa", ">tiny\nAC\n")
	prgs, idx, err := buildPRGsAndIndex(fa, 1, 15)
	if err != nil {
		t.Fatal(err)
	}
	if len(prgs) != 1 {
		t.Fatalf("expected 1 PRG, got %d", len(prgs))
	}
	if len(prgs[0].Graph.Nodes) != 2 {
		t.Errorf("expected a sentinel-only graph for a too-short sequence, got %d nodes", len(prgs[0].Graph.Nodes))
	}
	if idx.NumKeys() != 0 {
		t.Errorf("expected no minimizer keys from a too-short sequence, got %d", idx.NumKeys())
	}
}

func TestWriteHistogramSortsByValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hist.txt")
	if err := writeHistogram(path, map[int]int{5: 2, 1: 1, 3: 4}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "1\t1\n3\t4\n5\t2\n"
	if string(data) != want {
		t.Errorf("writeHistogram output = %q, want %q", data, want)
	}
}
