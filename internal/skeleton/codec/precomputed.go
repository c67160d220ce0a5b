package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"

	"skeletoncache/internal/skeleton"
)

// Precomputed is the neuroglancer-style little-endian binary layout:
//
//	uint32 vertex count, uint32 edge count,
//	float32 positions [n][3], uint32 edges [m][2] (parent, child),
//	float32 radius [n], float32 compartment [n].
//
// Metadata is not carried and coordinates are narrowed to float32.
type Precomputed struct{}

func (Precomputed) Encode(t *skeleton.Tree) ([]byte, error) {
	n, m := len(t.Vertices), len(t.Edges)
	if n > math.MaxUint32 || m > math.MaxUint32 {
		return nil, errors.New("precomputed: skeleton too large")
	}
	b := make([]byte, 0, 8+n*12+m*8+n*8)
	b = binary.LittleEndian.AppendUint32(b, uint32(n))
	b = binary.LittleEndian.AppendUint32(b, uint32(m))
	for _, v := range t.Vertices {
		for _, c := range v {
			b = binary.LittleEndian.AppendUint32(b, math.Float32bits(float32(c)))
		}
	}
	for _, e := range t.Edges {
		b = binary.LittleEndian.AppendUint32(b, uint32(e.Parent))
		b = binary.LittleEndian.AppendUint32(b, uint32(e.Child))
	}
	for i := 0; i < n; i++ {
		var r float64
		if i < len(t.Radius) {
			r = t.Radius[i]
		}
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(float32(r)))
	}
	for i := 0; i < n; i++ {
		var c int
		if i < len(t.Compartment) {
			c = t.Compartment[i]
		}
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(float32(c)))
	}
	return b, nil
}

func (Precomputed) Decode(data []byte) (*skeleton.Tree, error) {
	if len(data) < 8 {
		return nil, errors.New("precomputed: short header")
	}
	n := int(binary.LittleEndian.Uint32(data[0:4]))
	m := int(binary.LittleEndian.Uint32(data[4:8]))
	want := 8 + n*12 + m*8 + n*8
	if len(data) != want {
		return nil, fmt.Errorf("precomputed: expected %d bytes for %d vertices and %d edges, got %d", want, n, m, len(data))
	}
	off := 8
	next := func() uint32 {
		v := binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
		return v
	}
	t := &skeleton.Tree{
		Vertices:    make([][3]float64, n),
		Radius:      make([]float64, n),
		Compartment: make([]int, n),
		Edges:       make([]skeleton.Edge, m),
		Meta:        map[string]string{},
	}
	for i := range t.Vertices {
		for j := 0; j < 3; j++ {
			t.Vertices[i][j] = float64(math.Float32frombits(next()))
		}
	}
	isChild := make([]bool, n)
	for i := range t.Edges {
		p, c := int(next()), int(next())
		if p >= n || c >= n {
			return nil, fmt.Errorf("precomputed: edge %d->%d out of range", p, c)
		}
		t.Edges[i] = skeleton.Edge{Parent: p, Child: c}
		isChild[c] = true
	}
	for i := range t.Radius {
		t.Radius[i] = float64(math.Float32frombits(next()))
	}
	for i := range t.Compartment {
		t.Compartment[i] = int(math.Float32frombits(next()))
	}
	if n > 0 {
		t.Root = slices.Index(isChild, false)
		if t.Root < 0 {
			return nil, errors.New("precomputed: every vertex has a parent")
		}
	}
	return t, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
