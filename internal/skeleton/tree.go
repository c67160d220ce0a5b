package skeleton

import (
	"fmt"
	"maps"
)

// Compartment labels follow the SWC structure identifiers.
const (
	CompartmentUndefined = 0
	CompartmentSoma      = 1
	CompartmentAxon      = 2
	CompartmentDendrite  = 3
	CompartmentApical    = 4
)

// Edge links a child vertex to its parent by index.
type Edge struct {
	Parent int
	Child  int
}

// Tree is a skeleton: vertices with radius and compartment, and parent
// edges forming a tree rooted at Root.
type Tree struct {
	Vertices    [][3]float64
	Radius      []float64
	Compartment []int
	Edges       []Edge
	Root        int
	Meta        map[string]string
}

func (t *Tree) NumVertices() int {
	return len(t.Vertices)
}

// Normalize fills absent per-vertex attributes with defaults.
func (t *Tree) Normalize() {
	n := len(t.Vertices)
	if len(t.Radius) == 0 && n > 0 {
		t.Radius = make([]float64, n)
	}
	if len(t.Compartment) == 0 && n > 0 {
		t.Compartment = make([]int, n)
	}
	if t.Meta == nil {
		t.Meta = map[string]string{}
	}
}

// Parents returns the parent index of every vertex, -1 for the root.
// It fails when a vertex has more than one parent.
func (t *Tree) Parents() ([]int, error) {
	parents := make([]int, len(t.Vertices))
	for i := range parents {
		parents[i] = -1
	}
	for _, e := range t.Edges {
		if e.Parent < 0 || e.Parent >= len(t.Vertices) || e.Child < 0 || e.Child >= len(t.Vertices) {
			return nil, fmt.Errorf("edge %d->%d out of range", e.Parent, e.Child)
		}
		if parents[e.Child] != -1 {
			return nil, fmt.Errorf("vertex %d has more than one parent", e.Child)
		}
		parents[e.Child] = e.Parent
	}
	return parents, nil
}

// Validate checks the tree invariant: every non-root vertex has exactly one
// parent, the root has none, and every vertex reaches the root.
func (t *Tree) Validate() error {
	n := len(t.Vertices)
	if n == 0 {
		return fmt.Errorf("skeleton has no vertices")
	}
	if len(t.Radius) != n || len(t.Compartment) != n {
		return fmt.Errorf("attribute length mismatch: vertices=%d radius=%d compartment=%d", n, len(t.Radius), len(t.Compartment))
	}
	if t.Root < 0 || t.Root >= n {
		return fmt.Errorf("root %d out of range", t.Root)
	}
	if len(t.Edges) != n-1 {
		return fmt.Errorf("tree with %d vertices needs %d edges, got %d", n, n-1, len(t.Edges))
	}
	parents, err := t.Parents()
	if err != nil {
		return err
	}
	if parents[t.Root] != -1 {
		return fmt.Errorf("root %d has a parent", t.Root)
	}
	children := make([][]int, n)
	for _, e := range t.Edges {
		children[e.Parent] = append(children[e.Parent], e.Child)
	}
	seen := make([]bool, n)
	stack := []int{t.Root}
	seen[t.Root] = true
	visited := 1
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, c := range children[v] {
			if seen[c] {
				return fmt.Errorf("cycle through vertex %d", c)
			}
			seen[c] = true
			visited++
			stack = append(stack, c)
		}
	}
	if visited != n {
		return fmt.Errorf("%d of %d vertices are not connected to the root", n-visited, n)
	}
	return nil
}

func (t *Tree) Clone() *Tree {
	out := &Tree{
		Vertices:    append([][3]float64(nil), t.Vertices...),
		Radius:      append([]float64(nil), t.Radius...),
		Compartment: append([]int(nil), t.Compartment...),
		Edges:       append([]Edge(nil), t.Edges...),
		Root:        t.Root,
		Meta:        maps.Clone(t.Meta),
	}
	return out
}

// Metadata keys recorded with every computed skeleton.
const (
	MetaVersion        = "skeleton_version"
	MetaRootID         = "root_id"
	MetaDataset        = "dataset"
	MetaResolution     = "resolution"
	MetaCollapseSoma   = "collapse_soma"
	MetaCollapseRadius = "collapse_radius"
	MetaGeneratedAt    = "generated_at"
)
