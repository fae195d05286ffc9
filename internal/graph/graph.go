// Package graph aggregates flow CSV rows into a directed host-communication
// graph. Nodes are host addresses; edges carry cumulative byte and flow
// weights. Merging is commutative and associative so shards can be combined
// in any completion order.
package graph

import (
	"fmt"
	"sort"

	"pcapflow/internal/model"
)

// RowID identifies one contributing CSV row: the source file plus its row
// index. It is the dedup key; the same row fed twice must not double-count.
type RowID struct {
	Source string `json:"source"`
	Index  int    `json:"index"`
}

// Node is one distinct host with its accumulated traffic totals.
type Node struct {
	Addr      string `json:"addr"`
	BytesSent uint64 `json:"bytes_sent"`
	BytesRecv uint64 `json:"bytes_recv"`
}

// Edge is the directed (source, destination) pair with summed weights.
type Edge struct {
	Src   string `json:"src"`
	Dst   string `json:"dst"`
	Bytes uint64 `json:"bytes"`
	Flows uint64 `json:"flows"`
}

type edgeKey struct{ src, dst string }

// Graph is owned exclusively by its builder until finalized; it has no
// internal locking.
type Graph struct {
	nodes map[string]*Node
	edges map[edgeKey]*Edge
	seen  map[RowID]struct{}
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		edges: make(map[edgeKey]*Edge),
		seen:  make(map[RowID]struct{}),
	}
}

func (g *Graph) node(addr string) *Node {
	n, ok := g.nodes[addr]
	if !ok {
		n = &Node{Addr: addr}
		g.nodes[addr] = n
	}
	return n
}

// AddRow folds one CSV row into the graph. Returns false if the row identity
// was already accounted, in which case the graph is unchanged.
func (g *Graph) AddRow(id RowID, row *model.FlowRecord) bool {
	if _, dup := g.seen[id]; dup {
		return false
	}
	g.seen[id] = struct{}{}

	src, dst := row.SrcAddr(), row.DstAddr()
	g.node(src).BytesSent += row.ByteCount
	g.node(dst).BytesRecv += row.ByteCount

	key := edgeKey{src, dst}
	e, ok := g.edges[key]
	if !ok {
		e = &Edge{Src: src, Dst: dst}
		g.edges[key] = e
	}
	e.Bytes += row.ByteCount
	e.Flows++
	return true
}

// Merge folds other into g: node sets union by address with totals summed,
// edge sets union by key with weights summed. Fails without modifying g if
// the two graphs share a contributing row, since weights could not then be
// summed without double-counting.
func (g *Graph) Merge(other *Graph) error {
	for id := range other.seen {
		if _, dup := g.seen[id]; dup {
			return fmt.Errorf("duplicate contributing row %s[%d]", id.Source, id.Index)
		}
	}

	for id := range other.seen {
		g.seen[id] = struct{}{}
	}
	for addr, n := range other.nodes {
		dst := g.node(addr)
		dst.BytesSent += n.BytesSent
		dst.BytesRecv += n.BytesRecv
	}
	for key, e := range other.edges {
		dst, ok := g.edges[key]
		if !ok {
			dst = &Edge{Src: e.Src, Dst: e.Dst}
			g.edges[key] = dst
		}
		dst.Bytes += e.Bytes
		dst.Flows += e.Flows
	}
	return nil
}

// Nodes returns the node set sorted by address.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// Edges returns the edge set sorted by (src, dst).
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Src != out[j].Src {
			return out[i].Src < out[j].Src
		}
		return out[i].Dst < out[j].Dst
	})
	return out
}

// Edge returns the edge from src to dst, if present.
func (g *Graph) Edge(src, dst string) (Edge, bool) {
	e, ok := g.edges[edgeKey{src, dst}]
	if !ok {
		return Edge{}, false
	}
	return *e, true
}

// TotalBytes returns the sum of edge byte weights. By the conservation law it
// equals the byte_count sum over all contributing rows.
func (g *Graph) TotalBytes() uint64 {
	var total uint64
	for _, e := range g.edges {
		total += e.Bytes
	}
	return total
}

// RowCount returns the number of contributing rows accounted so far.
func (g *Graph) RowCount() int { return len(g.seen) }
