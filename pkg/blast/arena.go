package blast

import (
	"sort"

	"github.com/crossgraph/rollup/pkg/models"
)

// arc is one reverse-adjacency entry: the node that depends on the arena
// slot it is attached to.
type arc struct {
	to        int32
	crossRepo bool
}

// arena is a flat, index-addressed view of a merged graph. Node handles are
// small integers so the BFS visited set can be a bitset.
type arena struct {
	ids   []string
	nodes []*models.MergedNode
	index map[string]int
	rev   [][]arc
}

func buildArena(g *models.MergedGraph) *arena {
	a := &arena{
		ids:   make([]string, 0, len(g.Nodes)),
		index: make(map[string]int, len(g.Nodes)),
	}
	for id := range g.Nodes {
		a.ids = append(a.ids, id)
	}
	sort.Strings(a.ids)

	a.nodes = make([]*models.MergedNode, len(a.ids))
	a.rev = make([][]arc, len(a.ids))
	for i, id := range a.ids {
		a.index[id] = i
		a.nodes[i] = g.Nodes[id]
	}

	for _, edge := range g.Edges {
		source, ok := a.index[edge.SourceID]
		if !ok {
			continue
		}
		target, ok := a.index[edge.TargetID]
		if !ok {
			continue
		}
		// source depends on target: a change to target impacts source.
		a.rev[target] = append(a.rev[target], arc{to: int32(source), crossRepo: edge.CrossRepo})
	}
	for i := range a.rev {
		arcs := a.rev[i]
		sort.Slice(arcs, func(x, y int) bool { return arcs[x].to < arcs[y].to })
	}
	return a
}

// bitset is the BFS visited set.
type bitset []uint64

func newBitset(n int) bitset { return make(bitset, (n+63)/64) }

func (b bitset) set(i int)      { b[i/64] |= 1 << (uint(i) % 64) }
func (b bitset) get(i int) bool { return b[i/64]&(1<<(uint(i)%64)) != 0 }
