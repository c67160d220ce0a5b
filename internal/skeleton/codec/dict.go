package codec

import (
	"encoding/json"
	"fmt"

	"skeletoncache/internal/skeleton"
)

// Dict is the JSON tree-dict representation.
type Dict struct{}

type dictDoc struct {
	Vertices    [][3]float64      `json:"vertices"`
	Edges       [][2]int          `json:"edges"`
	Radius      []float64         `json:"radius"`
	Compartment []int             `json:"compartment"`
	Root        int               `json:"root"`
	Meta        map[string]string `json:"meta,omitempty"`
}

func (Dict) Encode(t *skeleton.Tree) ([]byte, error) {
	doc := dictDoc{
		Vertices:    t.Vertices,
		Edges:       make([][2]int, len(t.Edges)),
		Radius:      t.Radius,
		Compartment: t.Compartment,
		Root:        t.Root,
		Meta:        t.Meta,
	}
	for i, e := range t.Edges {
		doc.Edges[i] = [2]int{e.Parent, e.Child}
	}
	if doc.Vertices == nil {
		doc.Vertices = [][3]float64{}
	}
	return json.Marshal(doc)
}

func (Dict) Decode(data []byte) (*skeleton.Tree, error) {
	var doc dictDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode dict skeleton: %w", err)
	}
	t := &skeleton.Tree{
		Vertices:    doc.Vertices,
		Radius:      doc.Radius,
		Compartment: doc.Compartment,
		Edges:       make([]skeleton.Edge, len(doc.Edges)),
		Root:        doc.Root,
		Meta:        doc.Meta,
	}
	for i, e := range doc.Edges {
		t.Edges[i] = skeleton.Edge{Parent: e[0], Child: e[1]}
	}
	t.Normalize()
	return t, nil
}
