package snapshot

import (
	"context"
)

// Source yields an artifact that is already being fetched
type Source interface {
	Bytes(ctx context.Context) ([]byte, error)
}

// BytesSource is an artifact already in memory
type BytesSource []byte

// Bytes returns the slice
func (b BytesSource) Bytes(context.Context) ([]byte, error) {
	return b, nil
}

// SourceFunc adapts a function to Source
type SourceFunc func(ctx context.Context) ([]byte, error)

// Bytes calls f
func (f SourceFunc) Bytes(ctx context.Context) ([]byte, error) {
	return f(ctx)
}
