package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/c5473c4c/rag-rbac/internal/authz"
)

// ChromemConfig holds configuration for the embedded chromem store.
type ChromemConfig struct {
	// Path is the persistence directory. Empty means in-memory only.
	Path string

	// Collection is the collection holding chunk records.
	Collection string

	// VectorSize is the index dimensionality.
	VectorSize int

	// Compress enables gzip compression of persisted files.
	Compress bool
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "documents"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 768
	}
}

// Validate validates the configuration.
func (c ChromemConfig) Validate() error {
	if !collectionNamePattern.MatchString(c.Collection) {
		return fmt.Errorf("%w: collection name must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidConfig, c.Collection)
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

// ChromemStore is a Store backed by embedded chromem-go. It serves
// single-node deployments and tests; predicates become chromem where
// clauses, applied before similarity scoring.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	config     ChromemConfig
	logger     *zap.Logger
}

// NewChromemStore opens (or creates) an embedded chromem database.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(config.Path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
	}

	// Embeddings are always precomputed by the pipelines; the embedding
	// func must never run.
	collection, err := db.GetOrCreateCollection(config.Collection, nil, rejectEmbeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("creating collection %s: %w", config.Collection, err)
	}

	return &ChromemStore{
		db:         db,
		collection: collection,
		config:     config,
		logger:     logger.Named("chromem"),
	}, nil
}

func rejectEmbeddingFunc(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("embeddings must be precomputed")
}

// Close is a no-op for the embedded store.
func (s *ChromemStore) Close() error {
	return nil
}

// Upsert inserts a chunk record.
func (s *ChromemStore) Upsert(ctx context.Context, rec ChunkRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if len(rec.Vector) != s.config.VectorSize {
		return fmt.Errorf("%w: got %d, index expects %d", ErrDimensionMismatch, len(rec.Vector), s.config.VectorSize)
	}

	pointID := rec.ID
	if pointID == "" {
		pointID = uuid.New().String()
	}

	doc := chromem.Document{
		ID:        pointID,
		Content:   rec.Text,
		Embedding: rec.Vector,
		Metadata: map[string]string{
			FieldOwnerID:    rec.OwnerID,
			FieldDocumentID: rec.DocumentID,
			FieldFilename:   rec.Filename,
			FieldChunkIndex: strconv.Itoa(rec.ChunkIndex),
		},
	}

	if err := s.collection.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		return fmt.Errorf("adding document: %w", err)
	}
	return nil
}

// Search returns up to topK records similar to the query vector,
// restricted by the predicate. chromem applies the where clause before
// scoring, so out-of-scope records never enter candidate selection.
func (s *ChromemStore) Search(ctx context.Context, vector []float32, predicate authz.Predicate, topK int) ([]ScoredChunk, error) {
	if len(vector) != s.config.VectorSize {
		return nil, fmt.Errorf("%w: got %d, index expects %d", ErrDimensionMismatch, len(vector), s.config.VectorSize)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", ErrInvalidConfig, topK)
	}

	conds, err := predicate.Conditions()
	if err != nil {
		return nil, fmt.Errorf("applying predicate: %w", err)
	}
	var where map[string]string
	if len(conds) > 0 {
		where = conds
	}

	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}

	results, err := s.collection.QueryEmbedding(ctx, vector, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	chunks := make([]ScoredChunk, 0, len(results))
	for _, res := range results {
		idx, _ := strconv.Atoi(res.Metadata[FieldChunkIndex])
		chunks = append(chunks, ScoredChunk{
			ID:         res.ID,
			OwnerID:    res.Metadata[FieldOwnerID],
			DocumentID: res.Metadata[FieldDocumentID],
			Filename:   res.Metadata[FieldFilename],
			ChunkIndex: idx,
			Text:       res.Content,
			Score:      res.Similarity,
		})
	}
	return chunks, nil
}

// DeleteByDocument removes all records of a document. Deleting an
// absent document is a no-op success.
func (s *ChromemStore) DeleteByDocument(ctx context.Context, documentID string) error {
	if documentID == "" {
		return fmt.Errorf("%w: document id required", ErrInvalidRecord)
	}
	if s.collection.Count() == 0 {
		return nil
	}
	if err := s.collection.Delete(ctx, map[string]string{FieldDocumentID: documentID}, nil); err != nil {
		return fmt.Errorf("deleting document %s: %w", documentID, err)
	}
	return nil
}

// DeleteByOwner removes all records of an owner. Deleting an absent
// owner is a no-op success.
func (s *ChromemStore) DeleteByOwner(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return fmt.Errorf("%w: owner id required", ErrInvalidRecord)
	}
	if s.collection.Count() == 0 {
		return nil
	}
	if err := s.collection.Delete(ctx, map[string]string{FieldOwnerID: ownerID}, nil); err != nil {
		return fmt.Errorf("deleting owner data %s: %w", ownerID, err)
	}
	return nil
}

// Info returns collection statistics.
func (s *ChromemStore) Info(ctx context.Context) (*CollectionInfo, error) {
	return &CollectionInfo{
		Name:       s.config.Collection,
		PointCount: s.collection.Count(),
		VectorSize: s.config.VectorSize,
	}, nil
}

// Ensure ChromemStore implements Store.
var _ Store = (*ChromemStore)(nil)
