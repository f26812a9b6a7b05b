// Package vectorstore defines the gateway to the vector index.
//
// This package is the sole component permitted to read or write stored
// vectors. Every search takes an authorization predicate that the
// backing store evaluates during candidate selection; records outside
// the predicate never influence ranking and never appear in results.
package vectorstore

import (
	"context"
	"errors"

	"github.com/c5473c4c/rag-rbac/internal/authz"
)

// Sentinel errors for vector store operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidRecord indicates a chunk record missing required
	// ownership fields. Ownerless content is never stored.
	ErrInvalidRecord = errors.New("invalid chunk record")

	// ErrDimensionMismatch indicates a vector whose length differs from
	// the index dimensionality. Fatal - a model/config mismatch, never
	// retried.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrStoreUnavailable indicates connectivity loss to the store.
	// Retryable at the call site.
	ErrStoreUnavailable = errors.New("vector store unavailable")

	// ErrConnectionFailed indicates the store client could not connect.
	ErrConnectionFailed = errors.New("failed to connect to vector store")
)

// CollectionInfo contains metadata about the vector collection.
type CollectionInfo struct {
	// Name is the collection name.
	Name string `json:"name"`

	// PointCount is the number of stored chunk records.
	PointCount int `json:"point_count"`

	// VectorSize is the index dimensionality.
	VectorSize int `json:"vector_size"`
}

// Store is the gateway interface for chunk record storage.
//
// Implementations evaluate the search predicate inside the store, as
// part of candidate selection. There is no unfiltered search path: a
// predicate that cannot be applied fails the search closed.
//
// Implementations:
//   - QdrantStore: external Qdrant over gRPC
//   - ChromemStore: embedded chromem-go (dev and tests)
type Store interface {
	// Upsert inserts a chunk record. Fails with ErrInvalidRecord when
	// ownership fields are missing, ErrDimensionMismatch when the
	// vector length is wrong, and ErrStoreUnavailable on connectivity
	// loss.
	Upsert(ctx context.Context, rec ChunkRecord) error

	// Search returns up to topK records ranked by similarity to the
	// query vector, restricted to records satisfying the predicate.
	// A zero-value predicate fails with authz.ErrInvalidPredicate.
	Search(ctx context.Context, vector []float32, predicate authz.Predicate, topK int) ([]ScoredChunk, error)

	// DeleteByDocument removes all records of a document. Idempotent;
	// atomic from the caller's perspective.
	DeleteByDocument(ctx context.Context, documentID string) error

	// DeleteByOwner removes all records of an owner. Idempotent;
	// atomic from the caller's perspective.
	DeleteByOwner(ctx context.Context, ownerID string) error

	// Info returns collection statistics.
	Info(ctx context.Context) (*CollectionInfo, error)

	// Close releases the store connection and resources.
	Close() error
}
