package merge

// unionFind is a classic disjoint-set forest with path compression and
// union by rank, keyed by node key strings.
type unionFind struct {
	parent map[string]string
	rank   map[string]int
}

func newUnionFind(keys []string) *unionFind {
	uf := &unionFind{
		parent: make(map[string]string, len(keys)),
		rank:   make(map[string]int, len(keys)),
	}
	for _, key := range keys {
		uf.parent[key] = key
	}
	return uf
}

func (uf *unionFind) find(key string) string {
	root := key
	for uf.parent[root] != root {
		root = uf.parent[root]
	}
	for uf.parent[key] != root {
		uf.parent[key], key = root, uf.parent[key]
	}
	return root
}

func (uf *unionFind) union(a, b string) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if uf.rank[ra] < uf.rank[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	if uf.rank[ra] == uf.rank[rb] {
		uf.rank[ra]++
	}
}
