package codec

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"skeletoncache/internal/skeleton"
)

// containerMagic prefixes every container so stray blobs are rejected early.
var containerMagic = []byte("SKC1")

// Field numbers of the container message.
const (
	fieldVertexCount protowire.Number = 1
	fieldVertices    protowire.Number = 2
	fieldRadius      protowire.Number = 3
	fieldCompartment protowire.Number = 4
	fieldEdges       protowire.Number = 5
	fieldRoot        protowire.Number = 6
	fieldMeta        protowire.Number = 7

	fieldMetaKey   protowire.Number = 1
	fieldMetaValue protowire.Number = 2
)

// Container is the full-fidelity binary representation behind the "h5"
// storage format: a length-delimited protobuf wire message holding every
// vertex attribute and the metadata map.
type Container struct{}

func (Container) Encode(t *skeleton.Tree) ([]byte, error) {
	n := len(t.Vertices)
	b := append([]byte(nil), containerMagic...)
	b = protowire.AppendTag(b, fieldVertexCount, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(n))

	var packed []byte
	for _, v := range t.Vertices {
		for _, c := range v {
			packed = protowire.AppendFixed64(packed, math.Float64bits(c))
		}
	}
	b = appendPacked(b, fieldVertices, packed)

	packed = packed[:0]
	for _, r := range t.Radius {
		packed = protowire.AppendFixed64(packed, math.Float64bits(r))
	}
	b = appendPacked(b, fieldRadius, packed)

	packed = packed[:0]
	for _, c := range t.Compartment {
		packed = protowire.AppendVarint(packed, protowire.EncodeZigZag(int64(c)))
	}
	b = appendPacked(b, fieldCompartment, packed)

	packed = packed[:0]
	for _, e := range t.Edges {
		packed = protowire.AppendVarint(packed, uint64(e.Parent))
		packed = protowire.AppendVarint(packed, uint64(e.Child))
	}
	b = appendPacked(b, fieldEdges, packed)

	b = protowire.AppendTag(b, fieldRoot, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t.Root))

	for _, k := range sortedKeys(t.Meta) {
		var entry []byte
		entry = protowire.AppendTag(entry, fieldMetaKey, protowire.BytesType)
		entry = protowire.AppendString(entry, k)
		entry = protowire.AppendTag(entry, fieldMetaValue, protowire.BytesType)
		entry = protowire.AppendString(entry, t.Meta[k])
		b = protowire.AppendTag(b, fieldMeta, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	return b, nil
}

func (Container) Decode(data []byte) (*skeleton.Tree, error) {
	if !bytes.HasPrefix(data, containerMagic) {
		return nil, errors.New("container: bad magic")
	}
	b := data[len(containerMagic):]
	t := &skeleton.Tree{Meta: map[string]string{}}
	count := -1
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("container tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldVertexCount && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("container vertex count: %w", protowire.ParseError(n))
			}
			count = int(v)
			b = b[n:]
		case num == fieldRoot && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("container root: %w", protowire.ParseError(n))
			}
			t.Root = int(v)
			b = b[n:]
		case typ == protowire.BytesType:
			payload, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("container field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			if err := decodeContainerField(t, num, payload); err != nil {
				return nil, err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("container field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if count >= 0 && count != len(t.Vertices) {
		return nil, fmt.Errorf("container: header says %d vertices, body has %d", count, len(t.Vertices))
	}
	t.Normalize()
	return t, nil
}

func decodeContainerField(t *skeleton.Tree, num protowire.Number, p []byte) error {
	switch num {
	case fieldVertices:
		floats, err := consumeDoubles(p)
		if err != nil {
			return fmt.Errorf("container vertices: %w", err)
		}
		if len(floats)%3 != 0 {
			return fmt.Errorf("container vertices: %d coordinates is not a multiple of 3", len(floats))
		}
		t.Vertices = make([][3]float64, len(floats)/3)
		for i := range t.Vertices {
			t.Vertices[i] = [3]float64{floats[3*i], floats[3*i+1], floats[3*i+2]}
		}
	case fieldRadius:
		floats, err := consumeDoubles(p)
		if err != nil {
			return fmt.Errorf("container radius: %w", err)
		}
		t.Radius = floats
	case fieldCompartment:
		vals, err := consumeVarints(p)
		if err != nil {
			return fmt.Errorf("container compartment: %w", err)
		}
		t.Compartment = make([]int, len(vals))
		for i, v := range vals {
			t.Compartment[i] = int(protowire.DecodeZigZag(v))
		}
	case fieldEdges:
		vals, err := consumeVarints(p)
		if err != nil {
			return fmt.Errorf("container edges: %w", err)
		}
		if len(vals)%2 != 0 {
			return errors.New("container edges: odd number of endpoints")
		}
		t.Edges = make([]skeleton.Edge, len(vals)/2)
		for i := range t.Edges {
			t.Edges[i] = skeleton.Edge{Parent: int(vals[2*i]), Child: int(vals[2*i+1])}
		}
	case fieldMeta:
		var key, value string
		for len(p) > 0 {
			n2, typ, n := protowire.ConsumeTag(p)
			if n < 0 {
				return fmt.Errorf("container meta: %w", protowire.ParseError(n))
			}
			p = p[n:]
			if typ != protowire.BytesType {
				n = protowire.ConsumeFieldValue(n2, typ, p)
				if n < 0 {
					return fmt.Errorf("container meta: %w", protowire.ParseError(n))
				}
				p = p[n:]
				continue
			}
			s, n := protowire.ConsumeString(p)
			if n < 0 {
				return fmt.Errorf("container meta: %w", protowire.ParseError(n))
			}
			p = p[n:]
			switch n2 {
			case fieldMetaKey:
				key = s
			case fieldMetaValue:
				value = s
			}
		}
		t.Meta[key] = value
	}
	return nil
}

func appendPacked(b []byte, num protowire.Number, packed []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func consumeDoubles(p []byte) ([]float64, error) {
	out := make([]float64, 0, len(p)/8)
	for len(p) > 0 {
		v, n := protowire.ConsumeFixed64(p)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, math.Float64frombits(v))
		p = p[n:]
	}
	return out, nil
}

func consumeVarints(p []byte) ([]uint64, error) {
	var out []uint64
	for len(p) > 0 {
		v, n := protowire.ConsumeVarint(p)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, v)
		p = p[n:]
	}
	return out, nil
}
