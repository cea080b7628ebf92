package resolve

import (
	"maps"
	"slices"
)

type EdgeKind string

const (
	EdgeKindMatch        EdgeKind = "match"
	EdgeKindCoOccurrence EdgeKind = "cooccurrence"
)

// Edge is an accepted, unweighted assertion that two vertices belong
// together. Source names the table the edge was read from.
type Edge struct {
	A      Vertex
	B      Vertex
	Kind   EdgeKind
	Source string
}

// Graph is an undirected multigraph over interned vertices. Vertices are
// addressed by dense indices in insertion order; edges keep their
// provenance.
type Graph struct {
	index    map[Vertex]int
	vertices []Vertex
	edges    []Edge
	pairs    [][2]int
}

func NewGraph() *Graph {
	return &Graph{index: make(map[Vertex]int)}
}

// AddVertex interns v and returns its index.
func (g *Graph) AddVertex(v Vertex) int {
	if i, ok := g.index[v]; ok {
		return i
	}
	i := len(g.vertices)
	g.index[v] = i
	g.vertices = append(g.vertices, v)
	return i
}

// AddEdge adds both endpoints and the edge.
func (g *Graph) AddEdge(e Edge) {
	a := g.AddVertex(e.A)
	b := g.AddVertex(e.B)
	g.edges = append(g.edges, e)
	g.pairs = append(g.pairs, [2]int{a, b})
}

func (g *Graph) HasVertex(v Vertex) bool {
	_, ok := g.index[v]
	return ok
}

func (g *Graph) VertexCount() int { return len(g.vertices) }

func (g *Graph) EdgeCount() int { return len(g.edges) }

// Edges returns the edges in insertion order.
func (g *Graph) Edges() []Edge {
	return slices.Clone(g.edges)
}

// Clone returns an independent copy; edges added to the copy never reach
// the original.
func (g *Graph) Clone() *Graph {
	return &Graph{
		index:    maps.Clone(g.index),
		vertices: slices.Clone(g.vertices),
		edges:    slices.Clone(g.edges),
		pairs:    slices.Clone(g.pairs),
	}
}

// Components partitions the vertices into connected components. Isolated
// vertices are singleton components. Components are returned in order of
// their earliest inserted vertex; members keep insertion order.
func (g *Graph) Components() [][]Vertex {
	uf := newUnionFind(len(g.vertices))
	for _, p := range g.pairs {
		uf.union(p[0], p[1])
	}

	slot := make(map[int]int)
	var components [][]Vertex
	for i, v := range g.vertices {
		root := uf.find(i)
		s, ok := slot[root]
		if !ok {
			s = len(components)
			slot[root] = s
			components = append(components, nil)
		}
		components[s] = append(components[s], v)
	}
	return components
}

// unionFind is a disjoint-set forest with path halving and union by size.
type unionFind struct {
	parent []int
	size   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), size: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
		uf.size[i] = 1
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if uf.size[ra] < uf.size[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	uf.size[ra] += uf.size[rb]
}
