// Package codec serializes skeleton trees to their storage and output
// formats. Every stored artifact is gzip-compressed.
package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"skeletoncache/internal/skeleton"
)

// Codec converts between a tree and one byte representation.
type Codec interface {
	Encode(t *skeleton.Tree) ([]byte, error)
	Decode(data []byte) (*skeleton.Tree, error)
}

// ForStorage returns the uncompressed codec behind a storage format.
func ForStorage(f skeleton.StorageFormat) (Codec, error) {
	switch f {
	case skeleton.StorageH5:
		return Container{}, nil
	case skeleton.StorageSWC:
		return SWC{}, nil
	case skeleton.StoragePrecomputed:
		return Precomputed{}, nil
	default:
		return nil, fmt.Errorf("no codec for storage format %q", f)
	}
}

// ForOutput returns the codec producing the client-facing bytes of f.
func ForOutput(f skeleton.OutputFormat) (Codec, error) {
	switch f {
	case skeleton.FormatDict:
		return Dict{}, nil
	case skeleton.FormatSWC:
		return SWC{}, nil
	case skeleton.FormatPrecomputed:
		return Precomputed{}, nil
	case skeleton.FormatCompressed:
		return Gzip{Inner: Container{}}, nil
	default:
		return nil, fmt.Errorf("%w: %q", skeleton.ErrUnsupportedFormat, f)
	}
}

func ContentType(f skeleton.OutputFormat) string {
	switch f {
	case skeleton.FormatDict:
		return "application/json"
	case skeleton.FormatSWC:
		return "text/plain; charset=utf-8"
	case skeleton.FormatCompressed:
		return "application/gzip"
	default:
		return "application/octet-stream"
	}
}

// EncodeStored produces the compressed artifact body for a storage format.
func EncodeStored(t *skeleton.Tree, f skeleton.StorageFormat) ([]byte, error) {
	c, err := ForStorage(f)
	if err != nil {
		return nil, err
	}
	return Gzip{Inner: c}.Encode(t)
}

// DecodeStored reverses EncodeStored.
func DecodeStored(data []byte, f skeleton.StorageFormat) (*skeleton.Tree, error) {
	c, err := ForStorage(f)
	if err != nil {
		return nil, err
	}
	return Gzip{Inner: c}.Decode(data)
}

// Transcode renders a stored artifact in an output format, reusing the
// stored bytes when the encodings already match.
func Transcode(stored []byte, from skeleton.StorageFormat, to skeleton.OutputFormat) ([]byte, error) {
	switch {
	case from == skeleton.StorageH5 && to == skeleton.FormatCompressed:
		return stored, nil
	case from == skeleton.StorageSWC && to == skeleton.FormatSWC,
		from == skeleton.StoragePrecomputed && to == skeleton.FormatPrecomputed:
		return Decompress(stored)
	}
	tree, err := DecodeStored(stored, from)
	if err != nil {
		return nil, err
	}
	out, err := ForOutput(to)
	if err != nil {
		return nil, err
	}
	return out.Encode(tree)
}

// Gzip wraps another codec with gzip compression.
type Gzip struct {
	Inner Codec
}

func (g Gzip) Encode(t *skeleton.Tree) ([]byte, error) {
	raw, err := g.Inner.Encode(t)
	if err != nil {
		return nil, err
	}
	return Compress(raw)
}

func (g Gzip) Decode(data []byte) (*skeleton.Tree, error) {
	raw, err := Decompress(data)
	if err != nil {
		return nil, err
	}
	return g.Inner.Decode(raw)
}

func Compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func Decompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip open: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("gzip read: %w", err)
	}
	return raw, nil
}
