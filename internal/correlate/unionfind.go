package correlate

// unionFind is a classic disjoint-set over the finding arena. Findings are
// addressed by their integer id, so the structure is two flat slices rather
// than a graph of pointers.
type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{
		parent: make([]int, n),
		rank:   make([]int, n),
	}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]] // path halving
		x = uf.parent[x]
	}
	return x
}

// union merges the sets containing a and b. The root with the smaller
// original index wins ties, which keeps cluster roots independent of merge
// order and makes correlation idempotent.
func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	// Union by rank, but break rank ties toward the lower index so the
	// representative is deterministic.
	switch {
	case uf.rank[ra] < uf.rank[rb]:
		uf.parent[ra] = rb
	case uf.rank[rb] < uf.rank[ra]:
		uf.parent[rb] = ra
	case ra < rb:
		uf.parent[rb] = ra
		uf.rank[ra]++
	default:
		uf.parent[ra] = rb
		uf.rank[rb]++
	}
}
