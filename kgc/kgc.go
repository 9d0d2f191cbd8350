// Package kgc implements KmerGraphWithCoverage: per-sample coverage
// bookkeeping over a borrowed KmerGraph and the three noise models used to
// score nodes.
package kgc

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/Danderson123/pandora/kmergraph"
	"github.com/Danderson123/pandora/perrors"
)

// Model names accepted by GetProb.
const (
	ModelBinomial         = "bin"
	ModelNegativeBinomial = "nbin"
	ModelLinear           = "lin"
)

// sampleCovg holds saturating forward/reverse coverage counts for one
// sample at one node.
type sampleCovg struct {
	Forward, Reverse uint16
}

// KGC borrows a KmerGraph (does not own its nodes) and tracks per-node,
// per-sample coverage plus the probability model parameters.
type KGC struct {
	Graph *kmergraph.KmerGraph

	numSamples int
	covg       [][]sampleCovg // covg[nodeID][sampleID]

	K int

	NumReads     uint32
	ExpDepthCovg uint32

	binomialP float64 // set to 1 = unset

	nbinP float64
	nbinR float64

	Thresh float64
}

// New constructs a KGC over g with numSamples coverage slots preallocated
// per node.
func New(g *kmergraph.KmerGraph, numSamples int) *KGC {
	covg := make([][]sampleCovg, len(g.Nodes))
	for i := range covg {
		covg[i] = make([]sampleCovg, numSamples)
	}
	return &KGC{
		Graph:      g,
		numSamples: numSamples,
		covg:       covg,
		K:          g.K,
		binomialP:  1,
	}
}

func (k *KGC) validSample(nodeID, sampleID uint32) bool {
	if int(nodeID) >= len(k.covg) {
		return false
	}
	return int(sampleID) < len(k.covg[nodeID])
}

// IncrementCovg increments the forward or reverse coverage of a node for
// one sample, saturating at uint16 max.
func (k *KGC) IncrementCovg(nodeID uint32, forwardStrand bool, sampleID uint32) error {
	if !k.validSample(nodeID, sampleID) {
		return &perrors.SampleOutOfRange{SampleID: sampleID}
	}
	c := &k.covg[nodeID][sampleID]
	if forwardStrand {
		if c.Forward < math.MaxUint16 {
			c.Forward++
		}
	} else {
		if c.Reverse < math.MaxUint16 {
			c.Reverse++
		}
	}
	return nil
}

// SetCovg sets the forward or reverse coverage of a node for one sample.
func (k *KGC) SetCovg(nodeID uint32, value uint16, forwardStrand bool, sampleID uint32) error {
	if !k.validSample(nodeID, sampleID) {
		return &perrors.SampleOutOfRange{SampleID: sampleID}
	}
	if forwardStrand {
		k.covg[nodeID][sampleID].Forward = value
	} else {
		k.covg[nodeID][sampleID].Reverse = value
	}
	return nil
}

// GetCovg returns the stored coverage, or 0 when the sample slot is
// absent.
func (k *KGC) GetCovg(nodeID uint32, forwardStrand bool, sampleID uint32) uint32 {
	if !k.validSample(nodeID, sampleID) {
		return 0
	}
	if forwardStrand {
		return uint32(k.covg[nodeID][sampleID].Forward)
	}
	return uint32(k.covg[nodeID][sampleID].Reverse)
}

// ForwardCovg and ReverseCovg are convenience wrappers over GetCovg.
func (k *KGC) ForwardCovg(nodeID, sampleID uint32) uint32 { return k.GetCovg(nodeID, true, sampleID) }
func (k *KGC) ReverseCovg(nodeID, sampleID uint32) uint32 { return k.GetCovg(nodeID, false, sampleID) }

// CoverageIsZero reports whether every non-sentinel node has 0 forward and
// 0 reverse coverage for sampleID.
func (k *KGC) CoverageIsZero(sampleID uint32) bool {
	for _, n := range k.Graph.Nodes {
		if n.ID == 0 || int(n.ID) == len(k.Graph.Nodes)-1 {
			continue
		}
		if k.ForwardCovg(n.ID, sampleID)+k.ReverseCovg(n.ID, sampleID) > 0 {
			return false
		}
	}
	return true
}

// SetExpDepthCovg sets the expected depth of coverage.
func (k *KGC) SetExpDepthCovg(edp uint32) error {
	if edp == 0 {
		return &perrors.InvariantViolation{What: "exp_depth_covg must be > 0"}
	}
	k.ExpDepthCovg = edp
	return nil
}

// SetBinomialParameterP derives p = 1/exp(e_rate*k) for the binomial model.
func (k *KGC) SetBinomialParameterP(eRate float64) error {
	if k.K == 0 || !(eRate > 0 && eRate < 1) {
		return &perrors.InvariantViolation{What: fmt.Sprintf("invalid binomial parameters: k=%d e_rate=%f", k.K, eRate)}
	}
	k.binomialP = 1 / math.Exp(eRate*float64(k.K))
	return nil
}

// SetNegativeBinomialParameters sets the initial (p, r) of the negative
// binomial model. Must be called once with 0 < nbP < 1 and nbR > 0 before
// AddNegativeBinomialParameters accumulates per-sample contributions.
func (k *KGC) SetNegativeBinomialParameters(nbP, nbR float64) error {
	if !(nbP > 0 && nbP < 1) || nbR <= 0 {
		return &perrors.InvariantViolation{What: fmt.Sprintf("invalid negative binomial parameters: p=%f r=%f", nbP, nbR)}
	}
	k.nbinP, k.nbinR = nbP, nbR
	return nil
}

// AddNegativeBinomialParameters accumulates per-sample increments into the
// negative binomial parameters; must follow an initial
// SetNegativeBinomialParameters call.
func (k *KGC) AddNegativeBinomialParameters(dP, dR float64) error {
	if dP == 0 && dR == 0 {
		return nil
	}
	if !(k.nbinP > 0 && k.nbinP < 1) || k.nbinR <= 0 {
		return &perrors.UnsetParameter{Name: "negative_binomial_parameter"}
	}
	k.nbinP += dP
	k.nbinR += dR
	return nil
}

// lowestFloatOver1000 is the floor applied to nbin log-probabilities to
// keep sums finite.
var lowestFloatOver1000 = -math.MaxFloat64 / 1000

// BinProb returns the binomial log-probability of node_id's observed
// coverage under num_reads trials.
func (k *KGC) BinProb(nodeID, numReads, sampleID uint32) (float64, error) {
	if k.binomialP == 1 {
		return 0, &perrors.UnsetParameter{Name: "binomial_parameter_p"}
	}
	if int(nodeID) >= len(k.Graph.Nodes) {
		return 0, &perrors.InvariantViolation{What: fmt.Sprintf("bin_prob: node %d does not exist", nodeID)}
	}
	if k.isSentinel(nodeID) {
		return 0, nil
	}
	xf := k.ForwardCovg(nodeID, sampleID)
	xr := k.ReverseCovg(nodeID, sampleID)
	s := xf + xr
	p := k.binomialP
	if s > numReads {
		return logNChooseK2(s, xf, xr) + float64(s)*math.Log(p/2), nil
	}
	return logNChooseK2(numReads, xf, xr) + float64(s)*math.Log(p/2) + float64(numReads-s)*math.Log(1-p), nil
}

// BinProbDefault dispatches to BinProb using the stored NumReads.
func (k *KGC) BinProbDefault(nodeID, sampleID uint32) (float64, error) {
	if k.NumReads == 0 {
		return 0, &perrors.UnsetParameter{Name: "num_reads"}
	}
	return k.BinProb(nodeID, k.NumReads, sampleID)
}

// NbinProb returns the negative-binomial log-probability of node_id's
// observed coverage.
func (k *KGC) NbinProb(nodeID, sampleID uint32) float64 {
	s := k.ForwardCovg(nodeID, sampleID) + k.ReverseCovg(nodeID, sampleID)
	p := negativeBinomialPMF(k.nbinR, k.nbinP, s)
	logP := math.Log(p)
	if logP < lowestFloatOver1000 {
		return lowestFloatOver1000
	}
	return logP
}

// LinProb returns the linear log-probability of node_id's observed
// coverage: log(s/num_reads). Sentinel nodes (source / sink) return 0.
func (k *KGC) LinProb(nodeID, sampleID uint32) (float64, error) {
	if k.NumReads == 0 {
		return 0, &perrors.UnsetParameter{Name: "num_reads"}
	}
	if k.isSentinel(nodeID) {
		return 0, nil
	}
	s := k.ForwardCovg(nodeID, sampleID) + k.ReverseCovg(nodeID, sampleID)
	return math.Log(float64(s) / float64(k.NumReads)), nil
}

// GetProb dispatches to the named probability model.
func (k *KGC) GetProb(model string, nodeID, sampleID uint32) (float64, error) {
	switch model {
	case ModelBinomial:
		return k.BinProbDefault(nodeID, sampleID)
	case ModelNegativeBinomial:
		return k.NbinProb(nodeID, sampleID), nil
	case ModelLinear:
		return k.LinProb(nodeID, sampleID)
	default:
		return 0, &perrors.InvalidModel{Name: model}
	}
}

// ProbPath sums node log-probs over a path and divides by the effective
// length (path length minus 1 for each sentinel endpoint, minimum 1).
func (k *KGC) ProbPath(path []*kmergraph.KmerNode, sampleID uint32, model string) (float64, error) {
	var total float64
	for _, n := range path {
		p, err := k.GetProb(model, n.ID, sampleID)
		if err != nil {
			return 0, err
		}
		total += p
	}
	length := len(path)
	if length > 0 && len(path[0].Path) == 0 {
		length--
	}
	if length > 0 && len(path[len(path)-1].Path) == 0 {
		length--
	}
	if length == 0 {
		length = 1
	}
	return total / float64(length), nil
}

func (k *KGC) isSentinel(nodeID uint32) bool {
	return nodeID == 0 || int(nodeID) == len(k.Graph.Nodes)-1
}

// logNChooseK2 is log(C(n; x1, x2)) = log(n! / (x1! x2! (n-x1-x2)!)), used
// by the binomial model.
func logNChooseK2(n, x1, x2 uint32) float64 {
	return logFactorial(n) - logFactorial(x1) - logFactorial(x2) - logFactorial(n-x1-x2)
}

func logFactorial(n uint32) float64 {
	lg, _ := math.Lgamma(float64(n) + 1)
	return lg
}

// negativeBinomialPMF computes P(X = k) for X ~ NegativeBinomial(r, p)
// (number of failures before r successes, success probability p).
func negativeBinomialPMF(r, p float64, k uint32) float64 {
	lgK, _ := math.Lgamma(float64(k) + r)
	lgR, _ := math.Lgamma(r)
	lgKp1, _ := math.Lgamma(float64(k) + 1)
	logCoeff := lgK - lgR - lgKp1
	logP := logCoeff + r*math.Log(p) + float64(k)*math.Log(1-p)
	return math.Exp(logP)
}

// SaveCovgDist writes a two-column histogram of coverage sums for sampleID
// to a "<prefix>.kmer_covgs.txt"-style text file.
func (k *KGC) SaveCovgDist(filename string, sampleID uint32) error {
	hist := make(map[int]int)
	for _, n := range k.Graph.Nodes {
		if k.isSentinel(n.ID) {
			continue
		}
		s := k.ForwardCovg(n.ID, sampleID) + k.ReverseCovg(n.ID, sampleID)
		hist[int(s)]++
	}
	return writeHistogram(filename, hist)
}

// SaveProbDist writes a two-column histogram of node log-probabilities
// under model for sampleID to a "<prefix>.kmer_probs.txt"-style text file.
// Probabilities are rounded to the nearest integer to bucket into a
// histogram.
func (k *KGC) SaveProbDist(filename, model string, sampleID uint32) error {
	hist := make(map[int]int)
	for _, n := range k.Graph.Nodes {
		if k.isSentinel(n.ID) {
			continue
		}
		p, err := k.GetProb(model, n.ID, sampleID)
		if err != nil {
			return err
		}
		hist[int(math.Round(p))]++
	}
	return writeHistogram(filename, hist)
}

func writeHistogram(filename string, hist map[int]int) error {
	fp, err := os.Create(filename)
	if err != nil {
		return &perrors.IOError{Path: filename, Cause: err}
	}
	defer fp.Close()
	w := bufio.NewWriter(fp)
	keys := make([]int, 0, len(hist))
	for k := range hist {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, key := range keys {
		fmt.Fprintf(w, "%d\t%d\n", key, hist[key])
	}
	return w.Flush()
}
