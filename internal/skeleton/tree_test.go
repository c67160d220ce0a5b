package skeleton

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chain(n int) *Tree {
	t := &Tree{Vertices: make([][3]float64, n)}
	for i := 1; i < n; i++ {
		t.Vertices[i] = [3]float64{float64(i), 0, 0}
		t.Edges = append(t.Edges, Edge{Parent: i - 1, Child: i})
	}
	t.Normalize()
	return t
}

func TestTreeValidateAcceptsChain(t *testing.T) {
	require.NoError(t, chain(5).Validate())
}

func TestTreeValidateRejectsBrokenTrees(t *testing.T) {
	empty := &Tree{}
	empty.Normalize()

	twoParents := chain(3)
	twoParents.Edges[1] = Edge{Parent: 0, Child: 1}

	rootWithParent := chain(3)
	rootWithParent.Root = 2

	disconnected := chain(4)
	disconnected.Edges[2] = Edge{Parent: 3, Child: 2}
	disconnected.Edges[1] = Edge{Parent: 2, Child: 3}

	shortRadius := chain(3)
	shortRadius.Radius = shortRadius.Radius[:2]

	tooFewEdges := chain(3)
	tooFewEdges.Edges = tooFewEdges.Edges[:1]

	for name, tree := range map[string]*Tree{
		"empty":            empty,
		"two parents":      twoParents,
		"root with parent": rootWithParent,
		"cycle":            disconnected,
		"short radius":     shortRadius,
		"too few edges":    tooFewEdges,
	} {
		assert.Error(t, tree.Validate(), name)
	}
}

func TestTreeCloneIsDeep(t *testing.T) {
	orig := chain(3)
	orig.Meta["k"] = "v"
	c := orig.Clone()
	c.Vertices[1][0] = 99
	c.Meta["k"] = "changed"
	c.Edges[0].Parent = 2
	assert.Equal(t, 1.0, orig.Vertices[1][0])
	assert.Equal(t, "v", orig.Meta["k"])
	assert.Equal(t, 0, orig.Edges[0].Parent)
}
