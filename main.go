// Command pandora builds a minimizer index over a library of PRG
// sequences and maps reads against it, inferring a maximum-likelihood
// consensus path per gene and a per-sample pan-graph.
package main

import (
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jwaldrip/odin/cli"

	"github.com/Danderson123/pandora/cluster"
	"github.com/Danderson123/pandora/kgc"
	"github.com/Danderson123/pandora/maxpath"
	"github.com/Danderson123/pandora/miniindex"
	"github.com/Danderson123/pandora/minimizer"
	"github.com/Danderson123/pandora/pangenome"
	"github.com/Danderson123/pandora/perrors"
	"github.com/Danderson123/pandora/prgindex"
	"github.com/Danderson123/pandora/readio"
)

// Default (w,k) per the CLI surface.
const (
	DefaultW = 1
	DefaultK = 15
)

// maxKmersToAverage caps the DP's running-mean window; large enough that
// no realistic single-gene PRG graph needs the truncation branch.
const maxKmersToAverage = 1 << 20

var app = cli.New("1.0.0", "pan-genome PRG read mapper", func(c cli.Command) {})

func init() {
	app.DefineIntFlag("w", DefaultW, "minimizer window size")
	app.DefineIntFlag("k", DefaultK, "minimizer k-mer length")

	idx := app.DefineSubCommand("index", "build the minimizer index and per-PRG kmer graphs", Index)
	idx.DefineStringFlag("prgs", "", "PRG FASTA file (required)")

	mp := app.DefineSubCommand("map", "map reads against the PRG index and infer consensus paths", Map)
	mp.DefineStringFlag("prgs", "", "PRG FASTA file (required)")
	mp.DefineStringFlag("reads", "", "read FASTA/FASTQ file (required)")
	mp.DefineStringFlag("prefix", "", "output prefix (required)")
	mp.DefineIntFlag("max-diff", 500, "maximum diagonal difference allowed within a hit cluster")
	mp.DefineIntFlag("cluster-thresh", 1, "minimum hit cluster size to keep")
}

func main() {
	app.Start()
}

// Index implements the `index` subcommand: build every PRG's kmer graph,
// save it as GFA under kmer_prgs/, and write the aggregate minimizer
// Index alongside the PRG FASTA file.
func Index(c cli.Command) {
	w := c.Parent().Flag("w").Get().(int)
	k := c.Parent().Flag("k").Get().(int)
	prgsPath := c.Flag("prgs").String()
	if prgsPath == "" {
		log.Printf("[Index] -prgs is required")
		os.Exit(1)
	}

	prgs, idx, err := buildPRGsAndIndex(prgsPath, w, k)
	if err != nil {
		log.Printf("[Index] %v", err)
		os.Exit(2)
	}

	if err := os.MkdirAll("kmer_prgs", 0o755); err != nil {
		log.Printf("[Index] %v", err)
		os.Exit(2)
	}
	for _, p := range prgs {
		fn := filepath.Join("kmer_prgs", fmt.Sprintf("%s.k%d.w%d.gfa", p.Name, k, w))
		if err := p.Graph.Save(fn); err != nil {
			log.Printf("[Index] %v", err)
			os.Exit(2)
		}
	}
	if err := idx.Save(prgsPath); err != nil {
		log.Printf("[Index] %v", err)
		os.Exit(2)
	}
	fmt.Printf("indexed %d PRGs, %d minimizer keys\n", len(prgs), idx.NumKeys())
}

// Map implements the `map` subcommand: load or build the PRG index,
// cluster every read's minimizer hits against it, fold the hits into a
// pan-graph and per-PRG coverage, infer each gene's consensus path, and
// write the pan-graph GFA plus the coverage/probability histograms.
func Map(c cli.Command) {
	w := c.Parent().Flag("w").Get().(int)
	k := c.Parent().Flag("k").Get().(int)
	prgsPath := c.Flag("prgs").String()
	readsPath := c.Flag("reads").String()
	prefix := c.Flag("prefix").String()
	maxDiff := c.Flag("max-diff").Get().(int)
	clusterThresh := c.Flag("cluster-thresh").Get().(int)

	if prgsPath == "" || readsPath == "" || prefix == "" {
		log.Printf("[Map] -prgs, -reads and -prefix are required")
		os.Exit(1)
	}

	prgs, idx, err := loadOrBuildIndex(prgsPath, w, k)
	if err != nil {
		log.Printf("[Map] %v", err)
		os.Exit(2)
	}
	names := make(map[uint32]string, len(prgs))
	kgcs := make(map[uint32]*kgc.KGC, len(prgs))
	for _, p := range prgs {
		names[p.ID] = p.Name
		kgcs[p.ID] = kgc.New(p.Graph, 1)
	}

	reads, err := readReads(readsPath)
	if err != nil {
		log.Printf("[Map] %v", err)
		os.Exit(2)
	}

	hc := cluster.New(idx, maxDiff, clusterThresh)
	pg := pangenome.New()
	readLociByPRG := make(map[uint32][]maxpath.ReadLocus)

	for i, r := range reads {
		readID := uint32(i)
		minis, err := minimizer.Extract(r.Seq, w, k)
		if err != nil {
			continue // SequenceTooShort: this read contributes no hits
		}
		clusters := hc.Cluster(readID, minis)
		if len(clusters) == 0 {
			continue
		}
		pg.AssembleFromClusters(readID, clusters, names)
		for _, cl := range clusters {
			g, ok := kgcs[cl.PrgID]
			if !ok {
				continue
			}
			for _, hit := range cl.Hits {
				if err := g.IncrementCovg(hit.KnodeID, hit.StrandAgreement, 0); err != nil {
					log.Printf("[Map] %v", err)
				}
			}
			readLociByPRG[cl.PrgID] = append(readLociByPRG[cl.PrgID], maxpath.ReadLocus{ID: readID, Seq: r.Seq})
		}
	}

	for _, p := range prgs {
		g := kgcs[p.ID]
		g.NumReads = uint32(len(readLociByPRG[p.ID]))

		solver := maxpath.New(p.Graph, g, kgc.ModelLinear, maxKmersToAverage)
		solver.W, solver.K, solver.MaxDiff, solver.ClusterThresh = w, k, maxDiff, clusterThresh

		path, _, err := solver.FindMaxPathWithReadMapping(0, p, readLociByPRG[p.ID])
		if err != nil {
			log.Printf("[Map] %v", err)
			continue
		}
		pg.AddNode(p.ID, p.Name).SetSamplePath(0, path)
	}

	if err := pg.SaveGFA(prefix + "_pangraph.gfa"); err != nil {
		log.Printf("[Map] %v", err)
		os.Exit(2)
	}

	covgHist := make(map[int]int)
	probHist := make(map[int]int)
	for _, p := range prgs {
		g := kgcs[p.ID]
		for _, n := range p.Graph.Nodes {
			if n.IsSentinel() {
				continue
			}
			covgHist[int(g.ForwardCovg(n.ID, 0)+g.ReverseCovg(n.ID, 0))]++
			if g.NumReads == 0 {
				continue // lin model is undefined with no reads mapped to this PRG
			}
			if prob, err := g.GetProb(kgc.ModelLinear, n.ID, 0); err == nil {
				probHist[int(math.Round(prob))]++
			}
		}
	}
	if err := writeHistogram(prefix+".kmer_covgs.txt", covgHist); err != nil {
		log.Printf("[Map] %v", err)
		os.Exit(2)
	}
	if err := writeHistogram(prefix+".kmer_probs.txt", probHist); err != nil {
		log.Printf("[Map] %v", err)
		os.Exit(2)
	}
}

// buildPRGsAndIndex reads every PRG record from prgsPath, builds its kmer
// graph, and folds its minimizers into a fresh Index.
func buildPRGsAndIndex(prgsPath string, w, k int) ([]*prgindex.PRG, *miniindex.Index, error) {
	records, err := readio.ReadFasta(prgsPath)
	if err != nil {
		return nil, nil, err
	}
	idx := miniindex.New(w, k)
	prgs := make([]*prgindex.PRG, 0, len(records))
	for i, rec := range records {
		p := prgindex.Build(uint32(i), rec.ID, rec.Seq, k)
		if err := p.IndexMinimizers(idx, w, k); err != nil {
			if _, ok := err.(*perrors.SequenceTooShort); !ok {
				return nil, nil, err
			}
			// too short to minimize: keep the graph, contributes no index entries
		}
		prgs = append(prgs, p)
	}
	return prgs, idx, nil
}

// loadOrBuildIndex loads a previously saved Index for (w,k) when present,
// falling back to building one fresh; either way the PRG graphs themselves
// are rebuilt from prgsPath since Index persistence covers only the
// minimizer table, not the kmer graphs.
func loadOrBuildIndex(prgsPath string, w, k int) ([]*prgindex.PRG, *miniindex.Index, error) {
	if loaded, err := miniindex.Load(prgsPath, w, k); err == nil {
		prgs, _, buildErr := buildPRGsOnly(prgsPath, k)
		if buildErr != nil {
			return nil, nil, buildErr
		}
		return prgs, loaded, nil
	}
	return buildPRGsAndIndex(prgsPath, w, k)
}

func buildPRGsOnly(prgsPath string, k int) ([]*prgindex.PRG, *miniindex.Index, error) {
	records, err := readio.ReadFasta(prgsPath)
	if err != nil {
		return nil, nil, err
	}
	prgs := make([]*prgindex.PRG, 0, len(records))
	for i, rec := range records {
		prgs = append(prgs, prgindex.Build(uint32(i), rec.ID, rec.Seq, k))
	}
	return prgs, nil, nil
}

// readReads loads reads via ReadFastq for a .fq/.fastq extension, via
// ReadBAMRecords for a .bam extension, otherwise via ReadFasta.
func readReads(path string) ([]readio.Record, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".fq", ".fastq":
		return readio.ReadFastq(path)
	case ".bam":
		return readio.ReadBAMRecords(path)
	default:
		return readio.ReadFasta(path)
	}
}

// writeHistogram writes a two-column value\tcount histogram, sorted by
// value ascending, matching the kgc package's own dump format.
func writeHistogram(filename string, hist map[int]int) error {
	fp, err := os.Create(filename)
	if err != nil {
		return &perrors.IOError{Path: filename, Cause: err}
	}
	defer fp.Close()

	values := make([]int, 0, len(hist))
	for v := range hist {
		values = append(values, v)
	}
	sort.Ints(values)
	for _, v := range values {
		if _, err := fmt.Fprintf(fp, "%d\t%d\n", v, hist[v]); err != nil {
			return &perrors.IOError{Path: filename, Cause: err}
		}
	}
	return nil
}
