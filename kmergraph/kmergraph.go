// Package kmergraph implements the per-PRG directed acyclic k-mer graph:
// deduplicated node insertion, topological order under the bubble-level
// heuristic, and GFA load/save.
package kmergraph

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/awalterschulze/gographviz"

	"github.com/Danderson123/pandora/minimizer"
	"github.com/Danderson123/pandora/perrors"
)

// KmerNode is one node of the k-mer graph: an insertion-rank id, the path
// it covers in the PRG's linearized sequence, its adjacency, and its
// coverage/AT-content bookkeeping used by downstream inference.
type KmerNode struct {
	ID    uint32
	Path  minimizer.Path
	In    []uint32 // node ids with an edge into this node
	Out   []uint32 // node ids this node has an edge to
	Covg  uint32
	NumAT int // AT-content of the node's sequence; saved to GFA, not consulted by maxpath
}

// IsSentinel reports whether n is the source or sink (empty path).
func (n *KmerNode) IsSentinel() bool { return len(n.Path) == 0 }

// KmerGraph is an arena of KmerNode plus a cached topological order: nodes
// are stored by index (node.ID == index into Nodes), eliminating
// pointer-cycle ownership in favor of index-based adjacency.
type KmerGraph struct {
	K          int
	Nodes      []*KmerNode
	nextID     uint32
	pathIndex  map[string]uint32 // Path-string -> node id, for add_node/add_edge(path) dedup
	sortedIDs  []uint32          // cached topo_order() result; invalidated on mutation
}

// New creates an empty KmerGraph for the given k-mer length.
func New(k int) *KmerGraph {
	return &KmerGraph{K: k, pathIndex: make(map[string]uint32)}
}

func pathKey(p minimizer.Path) string {
	var sb strings.Builder
	for _, iv := range p {
		sb.WriteString(strconv.Itoa(iv.Start))
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(iv.End))
		sb.WriteByte(',')
	}
	return sb.String()
}

// AddNode inserts a node with the next id iff no node already has that
// path; otherwise it's a no-op returning the existing id. The empty path is
// exempt from this dedup rule: exactly two nodes (source and sink) are
// allowed to legitimately share the empty path, so every AddNode(emptyPath)
// call allocates a fresh sentinel node instead of collapsing onto a
// previous one.
func (g *KmerGraph) AddNode(p minimizer.Path) uint32 {
	if len(p) == 0 {
		id := g.nextID
		g.Nodes = append(g.Nodes, &KmerNode{ID: id, Path: p})
		g.nextID++
		g.sortedIDs = nil
		return id
	}
	key := pathKey(p)
	if id, ok := g.pathIndex[key]; ok {
		return id
	}
	id := g.nextID
	g.Nodes = append(g.Nodes, &KmerNode{ID: id, Path: p})
	g.pathIndex[key] = id
	g.nextID++
	g.sortedIDs = nil
	return id
}

// AddEdge inserts a reciprocal in/out reference between two existing node
// ids. Idempotent.
func (g *KmerGraph) AddEdge(from, to uint32) error {
	if int(from) >= len(g.Nodes) || int(to) >= len(g.Nodes) {
		return &perrors.InvariantViolation{What: fmt.Sprintf("add_edge: endpoint out of range (from=%d to=%d, |nodes|=%d)", from, to, len(g.Nodes))}
	}
	fromNode, toNode := g.Nodes[from], g.Nodes[to]
	if !containsU32(fromNode.Out, to) {
		fromNode.Out = append(fromNode.Out, to)
	}
	if !containsU32(toNode.In, from) {
		toNode.In = append(toNode.In, from)
	}
	g.sortedIDs = nil
	return nil
}

// AddEdgeByPath is the path-indexed variant of AddEdge: it fails if either
// path is absent from the graph.
func (g *KmerGraph) AddEdgeByPath(from, to minimizer.Path) error {
	fromID, ok := g.pathIndex[pathKey(from)]
	if !ok {
		return &perrors.InvariantViolation{What: "add_edge: from path not present in graph"}
	}
	toID, ok := g.pathIndex[pathKey(to)]
	if !ok {
		return &perrors.InvariantViolation{What: "add_edge: to path not present in graph"}
	}
	return g.AddEdge(fromID, toID)
}

func containsU32(s []uint32, v uint32) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// Check verifies that node count matches num_minikmers+2 sentinels (when
// num_minikmers > 0), every non-source node has an in-edge, and every
// non-sink node has an out-edge.
func (g *KmerGraph) Check(numMinikmers int) error {
	if numMinikmers > 0 && len(g.Nodes) != numMinikmers+2 {
		return &perrors.InvariantViolation{
			What: fmt.Sprintf("check: |nodes|=%d, expected num_minikmers(%d)+2", len(g.Nodes), numMinikmers),
		}
	}
	last := uint32(len(g.Nodes) - 1)
	for _, n := range g.Nodes {
		if len(n.In) == 0 && n.ID != 0 {
			return &perrors.InvariantViolation{What: fmt.Sprintf("check: node %d has no in-edges and is not the source", n.ID)}
		}
		if len(n.Out) == 0 && n.ID != last {
			return &perrors.InvariantViolation{What: fmt.Sprintf("check: node %d has no out-edges and is not the sink", n.ID)}
		}
	}
	return nil
}

// TopoOrder returns the stored ordering obeying the bubble-level heuristic
// used at construction: nodes are partitioned into levels by
// (#bubble_starts_seen - #bubble_ends_seen) walked in insertion order, then
// emitted deepest-level-first. The result is cached until the next
// mutation to avoid recomputing it on every access.
func (g *KmerGraph) TopoOrder() []uint32 {
	if g.sortedIDs != nil {
		return g.sortedIDs
	}
	numBubbleStarts, numBubbleEnds := 0, 0
	levels := make(map[int][]uint32)
	maxLevel := 0
	for _, n := range g.Nodes {
		if len(n.In) > 1 {
			numBubbleEnds++
		}
		level := numBubbleStarts - numBubbleEnds
		levels[level] = append(levels[level], n.ID)
		if level > maxLevel {
			maxLevel = level
		}
		if len(n.Out) > 1 {
			numBubbleStarts++
		}
	}
	var order []uint32
	for level := maxLevel; level >= 0; level-- {
		order = append(order, levels[level]...)
	}
	g.sortedIDs = order
	return order
}

// roleKey identifies a node for cross-graph comparison: the source and
// sink sentinels are identified by role rather than by their (shared,
// empty) path, since two distinct sentinel nodes legitimately share the
// empty path within one graph.
func (g *KmerGraph) roleKey(id uint32) string {
	switch {
	case id == 0:
		return "\x00SRC"
	case int(id) == len(g.Nodes)-1:
		return "\x00SINK"
	default:
		return pathKey(g.Nodes[id].Path)
	}
}

// Equal reports whether two KmerGraphs have the same node set keyed by
// path (sentinels keyed by role) and the same edge set (unordered
// equality).
func (g *KmerGraph) Equal(o *KmerGraph) bool {
	if len(g.Nodes) != len(o.Nodes) {
		return false
	}
	if len(g.Nodes) == 0 {
		return true
	}
	if !g.sameAdjacency(0, o, 0) {
		return false
	}
	lastG, lastO := uint32(len(g.Nodes)-1), uint32(len(o.Nodes)-1)
	if !g.sameAdjacency(lastG, o, lastO) {
		return false
	}
	for key, id := range g.pathIndex {
		oid, ok := o.pathIndex[key]
		if !ok {
			return false
		}
		if !g.sameAdjacency(id, o, oid) {
			return false
		}
	}
	for key := range o.pathIndex {
		if _, ok := g.pathIndex[key]; !ok {
			return false
		}
	}
	return true
}

func (g *KmerGraph) sameAdjacency(gid uint32, o *KmerGraph, oid uint32) bool {
	gn, on := g.Nodes[gid], o.Nodes[oid]
	return sameRoleSet(g, gn.Out, o, on.Out) && sameRoleSet(g, gn.In, o, on.In)
}

func sameRoleSet(g *KmerGraph, aIDs []uint32, o *KmerGraph, bIDs []uint32) bool {
	if len(aIDs) != len(bIDs) {
		return false
	}
	aKeys := make(map[string]bool, len(aIDs))
	for _, id := range aIDs {
		aKeys[g.roleKey(id)] = true
	}
	for _, id := range bIDs {
		if !aKeys[o.roleKey(id)] {
			return false
		}
	}
	return true
}

// Clear removes all nodes and edges, resetting next id allocation.
func (g *KmerGraph) Clear() {
	g.Nodes = nil
	g.pathIndex = make(map[string]uint32)
	g.nextID = 0
	g.sortedIDs = nil
}

// WriteDot writes a graphviz dot rendering of the graph for debugging.
func (g *KmerGraph) WriteDot(filename string) error {
	gv := gographviz.NewGraph()
	gv.SetName("G")
	gv.SetDir(true)
	gv.SetStrict(false)
	for _, n := range g.Nodes {
		attr := map[string]string{"shape": "record", "label": fmt.Sprintf("\"%d covg=%d\"", n.ID, n.Covg)}
		if err := gv.AddNode("G", strconv.Itoa(int(n.ID)), attr); err != nil {
			return err
		}
	}
	for _, n := range g.Nodes {
		for _, out := range n.Out {
			if err := gv.AddEdge(strconv.Itoa(int(n.ID)), strconv.Itoa(int(out)), true, nil); err != nil {
				return err
			}
		}
	}
	fp, err := os.Create(filename)
	if err != nil {
		return &perrors.IOError{Path: filename, Cause: err}
	}
	defer fp.Close()
	_, err = fp.WriteString(gv.String())
	return err
}

// Save writes the graph in GFA form: header, one S-line per node, one
// L-line per edge. A node holds only a combined Covg, so each S-line
// carries it as FC:i:, writes RC:i:0, and ends with the node's NumAT.
func (g *KmerGraph) Save(filename string) error {
	fp, err := os.Create(filename)
	if err != nil {
		return &perrors.IOError{Path: filename, Cause: err}
	}
	defer fp.Close()
	w := bufio.NewWriter(fp)
	fmt.Fprintln(w, "H\tVN:Z:1.0\tbn:Z:--linear --singlearr")
	for _, n := range g.Nodes {
		fmt.Fprintf(w, "S\t%d\t%s\tFC:i:%d\tRC:i:%d\t%d\n", n.ID, formatPath(n.Path), n.Covg, 0, n.NumAT)
		for _, out := range n.Out {
			fmt.Fprintf(w, "L\t%d\t+\t%d\t+\t0M\n", n.ID, out)
		}
	}
	return w.Flush()
}

func formatPath(p minimizer.Path) string {
	if len(p) == 0 {
		return "0-0" // sentinel: empty path still begins with a digit
	}
	var sb strings.Builder
	for i, iv := range p {
		if i > 0 {
			sb.WriteByte(';')
		}
		sb.WriteString(strconv.Itoa(iv.Start))
		sb.WriteByte('-')
		sb.WriteString(strconv.Itoa(iv.End))
	}
	return sb.String()
}

func parsePath(s string) (minimizer.Path, error) {
	if s == "0-0" {
		return minimizer.Path{}, nil
	}
	if len(s) == 0 || s[0] < '0' || s[0] > '9' {
		return nil, &perrors.GFABadPath{Text: s}
	}
	var p minimizer.Path
	for _, seg := range strings.Split(s, ";") {
		parts := strings.SplitN(seg, "-", 2)
		if len(parts) != 2 {
			return nil, &perrors.GFABadPath{Text: s}
		}
		start, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, &perrors.GFABadPath{Text: s}
		}
		end, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, &perrors.GFABadPath{Text: s}
		}
		p = append(p, minimizer.Interval{Start: start, End: end})
	}
	return p, nil
}

// Load reads a graph in GFA form. Handles both the forward/reverse-split
// and the legacy combined-coverage S-line forms. Node
// ids may appear ascending or descending in the file; if the first parsed
// id is 0 but appears last, the node vector is reversed so ids end up
// ascending from 0.
func Load(filename string, k int) (*KmerGraph, error) {
	fp, err := os.Open(filename)
	if err != nil {
		return nil, &perrors.IOError{Path: filename, Cause: err}
	}
	defer fp.Close()

	g := New(k)
	type seg struct {
		id         uint32
		path       minimizer.Path
		fwd, rev   uint32
		numAT      int
	}
	var segs []seg
	type link struct{ from, to uint32 }
	var links []link

	sc := bufio.NewScanner(fp)
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		switch fields[0] {
		case "H":
			continue
		case "S":
			if len(fields) < 3 {
				return nil, &perrors.ParseError{Line: lineNo, Reason: "S-line has too few fields"}
			}
			id64, err := strconv.ParseUint(fields[1], 10, 32)
			if err != nil {
				return nil, &perrors.ParseError{Line: lineNo, Reason: "bad segment id"}
			}
			p, err := parsePath(fields[2])
			if err != nil {
				return nil, &perrors.ParseError{Line: lineNo, Reason: err.Error()}
			}
			s := seg{id: uint32(id64), path: p}
			for _, tag := range fields[3:] {
				switch {
				case strings.HasPrefix(tag, "FC:i:"):
					v, _ := strconv.ParseUint(tag[5:], 10, 32)
					s.fwd = uint32(v)
				case strings.HasPrefix(tag, "RC:i:"):
					v, _ := strconv.ParseUint(tag[5:], 10, 32)
					s.rev = uint32(v)
				default:
					if n, err := strconv.Atoi(tag); err == nil {
						s.numAT = n
					}
				}
			}
			segs = append(segs, s)
		case "L":
			if len(fields) < 5 {
				return nil, &perrors.ParseError{Line: lineNo, Reason: "L-line has too few fields"}
			}
			var from, to uint64
			if fields[2] == fields[4] {
				from, _ = strconv.ParseUint(fields[1], 10, 32)
				to, _ = strconv.ParseUint(fields[3], 10, 32)
			} else {
				from, _ = strconv.ParseUint(fields[3], 10, 32)
				to, _ = strconv.ParseUint(fields[1], 10, 32)
			}
			links = append(links, link{from: uint32(from), to: uint32(to)})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, &perrors.IOError{Path: filename, Cause: err}
	}

	if len(segs) > 0 && segs[len(segs)-1].id == 0 && segs[0].id != 0 {
		for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
			segs[i], segs[j] = segs[j], segs[i]
		}
	}

	for _, s := range segs {
		id := g.AddNode(s.path)
		n := g.Nodes[id]
		n.Covg = s.fwd + s.rev
		n.NumAT = s.numAT
	}
	for _, l := range links {
		if err := g.AddEdge(l.from, l.to); err != nil {
			return nil, err
		}
	}
	return g, nil
}
