package pano

import (
	"sort"
)

// ImageGraph has a node per image, and an edge per confident MatchSet.
type ImageGraph struct {
	NumImages int
	Edges     []*MatchSet // Src < Dst, ordered by (Src,Dst)
}

func BuildGraph(n int, sets []*MatchSet) ImageGraph {
	g := ImageGraph{NumImages: n}
	for _, ms := range sets {
		if ms != nil {
			g.Edges = append(g.Edges, ms)
		}
	}
	sort.Slice(g.Edges, func(a, b int) bool {
		if g.Edges[a].Src != g.Edges[b].Src {
			return g.Edges[a].Src < g.Edges[b].Src
		}
		return g.Edges[a].Dst < g.Edges[b].Dst
	})
	return g
}

type unionFind []int

func newUnionFind(n int) unionFind {
	uf := make(unionFind, n)
	for i := range uf {
		uf[i] = i
	}
	return uf
}

func (uf unionFind) find(i int) int {
	for uf[i] != i {
		uf[i] = uf[uf[i]]
		i = uf[i]
	}
	return i
}

// union returns false if they were already joined.
func (uf unionFind) union(a, b int) bool {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return false
	}
	if rb < ra {
		ra, rb = rb, ra
	}
	uf[rb] = ra
	return true
}

// Components returns the connected components; each is sorted, and they
// are ordered by their lowest image index.
func (g ImageGraph) Components() [][]int {
	uf := newUnionFind(g.NumImages)
	for _, e := range g.Edges {
		uf.union(e.Src, e.Dst)
	}
	byRoot := map[int][]int{}
	roots := []int{}
	for i := 0; i < g.NumImages; i++ {
		r := uf.find(i)
		if _, exists := byRoot[r]; !exists {
			roots = append(roots, r)
		}
		byRoot[r] = append(byRoot[r], i)
	}
	comps := [][]int{}
	for _, r := range roots {
		comps = append(comps, byRoot[r])
	}
	return comps
}

// A TreeStep says that Child's camera gets estimated from Parent's, via Edge.
type TreeStep struct {
	Parent, Child int
	Edge          *MatchSet
}

// A SpanningTree is the maximum spanning tree of one component, and the
// order in which to estimate its cameras.
type SpanningTree struct {
	Root  int
	Nodes []int       // the component, sorted
	Steps []TreeStep  // BFS order from the root
	Edges []*MatchSet // every edge within the component, for refinement
}

// SpanningTree builds the maximum spanning tree (by pair confidence) over
// the component, and roots it at the tree's centre.
func (g ImageGraph) SpanningTree(component []int) SpanningTree {
	t := SpanningTree{Nodes: append([]int{}, component...)}
	sort.Ints(t.Nodes)
	in := map[int]bool{}
	for _, n := range t.Nodes {
		in[n] = true
	}

	for _, e := range g.Edges {
		if in[e.Src] && in[e.Dst] {
			t.Edges = append(t.Edges, e)
		}
	}

	// Kruskal, confidence descending; ties broken by (Src,Dst), which is
	// the order of t.Edges
	byConf := append([]*MatchSet{}, t.Edges...)
	sort.SliceStable(byConf, func(a, b int) bool {
		return byConf[a].Confidence > byConf[b].Confidence
	})
	adj := map[int][]*MatchSet{}
	uf := newUnionFind(g.NumImages)
	for _, e := range byConf {
		if uf.union(e.Src, e.Dst) {
			adj[e.Src] = append(adj[e.Src], e)
			adj[e.Dst] = append(adj[e.Dst], e)
		}
	}

	// Centre: the node with the smallest eccentricity (nodes are sorted,
	// so ties go to the lower index)
	t.Root = t.Nodes[0]
	bestEcc := len(t.Nodes) + 1
	for _, n := range t.Nodes {
		_, depth := bfsTree(adj, n)
		ecc := 0
		for _, d := range depth {
			if d > ecc {
				ecc = d
			}
		}
		if ecc < bestEcc {
			bestEcc, t.Root = ecc, n
		}
	}

	t.Steps, _ = bfsTree(adj, t.Root)
	return t
}

// bfsTree walks the tree from root; children are visited in the order of
// the adjacency lists, sorted by neighbour index.
func bfsTree(adj map[int][]*MatchSet, root int) ([]TreeStep, map[int]int) {
	depth := map[int]int{root: 0}
	steps := []TreeStep{}
	queue := []int{root}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]

		edges := append([]*MatchSet{}, adj[n]...)
		sort.Slice(edges, func(a, b int) bool { return other(edges[a], n) < other(edges[b], n) })
		for _, e := range edges {
			c := other(e, n)
			if _, seen := depth[c]; seen {
				continue
			}
			depth[c] = depth[n] + 1
			steps = append(steps, TreeStep{Parent: n, Child: c, Edge: e})
			queue = append(queue, c)
		}
	}
	return steps, depth
}

func other(e *MatchSet, n int) int {
	if e.Src == n {
		return e.Dst
	}
	return e.Src
}
