package codec

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"skeletoncache/internal/skeleton"
)

// SWC is the standard neuron morphology text format. Sample ids are
// 1-based vertex indices; the root's parent is -1. Metadata is carried in
// "# key: value" header comments.
type SWC struct{}

func (SWC) Encode(t *skeleton.Tree) ([]byte, error) {
	parents, err := t.Parents()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	for _, k := range sortedKeys(t.Meta) {
		fmt.Fprintf(&buf, "# %s: %s\n", k, t.Meta[k])
	}
	for i, v := range t.Vertices {
		parent := -1
		if parents[i] >= 0 {
			parent = parents[i] + 1
		}
		var radius float64
		if i < len(t.Radius) {
			radius = t.Radius[i]
		}
		var comp int
		if i < len(t.Compartment) {
			comp = t.Compartment[i]
		}
		fmt.Fprintf(&buf, "%d %d %s %s %s %s %d\n", i+1, comp,
			swcFloat(v[0]), swcFloat(v[1]), swcFloat(v[2]), swcFloat(radius), parent)
	}
	return buf.Bytes(), nil
}

func (SWC) Decode(data []byte) (*skeleton.Tree, error) {
	type sample struct {
		id, parent, comp int
		pos             [3]float64
		radius          float64
	}
	var samples []sample
	meta := map[string]string{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if strings.HasPrefix(text, "#") {
			if k, v, ok := strings.Cut(strings.TrimSpace(text[1:]), ":"); ok {
				meta[strings.TrimSpace(k)] = strings.TrimSpace(v)
			}
			continue
		}
		f := strings.Fields(text)
		if len(f) != 7 {
			return nil, fmt.Errorf("swc line %d: expected 7 fields, got %d", line, len(f))
		}
		var s sample
		var err error
		if s.id, err = strconv.Atoi(f[0]); err != nil {
			return nil, fmt.Errorf("swc line %d: id: %w", line, err)
		}
		if s.comp, err = strconv.Atoi(f[1]); err != nil {
			return nil, fmt.Errorf("swc line %d: type: %w", line, err)
		}
		for j := 0; j < 3; j++ {
			if s.pos[j], err = strconv.ParseFloat(f[2+j], 64); err != nil {
				return nil, fmt.Errorf("swc line %d: coordinate: %w", line, err)
			}
		}
		if s.radius, err = strconv.ParseFloat(f[5], 64); err != nil {
			return nil, fmt.Errorf("swc line %d: radius: %w", line, err)
		}
		if s.parent, err = strconv.Atoi(f[6]); err != nil {
			return nil, fmt.Errorf("swc line %d: parent: %w", line, err)
		}
		samples = append(samples, s)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read swc: %w", err)
	}

	index := make(map[int]int, len(samples))
	for i, s := range samples {
		if _, dup := index[s.id]; dup {
			return nil, fmt.Errorf("swc: duplicate sample id %d", s.id)
		}
		index[s.id] = i
	}
	t := &skeleton.Tree{
		Vertices:    make([][3]float64, len(samples)),
		Radius:      make([]float64, len(samples)),
		Compartment: make([]int, len(samples)),
		Root:        -1,
		Meta:        meta,
	}
	for i, s := range samples {
		t.Vertices[i] = s.pos
		t.Radius[i] = s.radius
		t.Compartment[i] = s.comp
		if s.parent == -1 {
			if t.Root != -1 {
				return nil, fmt.Errorf("swc: more than one root (%d and %d)", samples[t.Root].id, s.id)
			}
			t.Root = i
			continue
		}
		p, ok := index[s.parent]
		if !ok {
			return nil, fmt.Errorf("swc: sample %d references unknown parent %d", s.id, s.parent)
		}
		t.Edges = append(t.Edges, skeleton.Edge{Parent: p, Child: i})
	}
	if len(samples) > 0 && t.Root == -1 {
		return nil, fmt.Errorf("swc: no root sample")
	}
	if len(samples) == 0 {
		t.Root = 0
	}
	return t, nil
}

func swcFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
