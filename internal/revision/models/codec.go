package models

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
)

// EncodeChanges serializes a change set to its stored JSON form.
func EncodeChanges(cs ChangeSet) ([]byte, error) {
	return json.Marshal(cs)
}

// DecodeChanges restores a change set from its stored form, inflating first
// when the row is flagged compressed.
func DecodeChanges(data []byte, compressed bool) (ChangeSet, error) {
	if compressed {
		inflated, err := Decompress(data)
		if err != nil {
			return nil, err
		}
		data = inflated
	}
	var cs ChangeSet
	if err := json.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("decode changes: %w", err)
	}
	return cs, nil
}

// Compress gzips a serialized change payload. The transform is reversible
// and content-preserving; rows carry an explicit compressed flag rather than
// inferring from content shape.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("compress changes: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress changes: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decompress changes: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress changes: %w", err)
	}
	return out, nil
}
