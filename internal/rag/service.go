// Package rag orchestrates the ingestion and retrieval pipelines.
//
// Ingestion runs Chunker -> Embedder -> Store, stamping every chunk
// record with the authenticated uploader's identity. Retrieval resolves
// the caller's access predicate before any vector operation, then runs
// Embedder -> filtered Search -> context assembly -> generation.
package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/c5473c4c/rag-rbac/internal/authz"
	"github.com/c5473c4c/rag-rbac/internal/chunker"
	"github.com/c5473c4c/rag-rbac/internal/vectorstore"
)

var (
	// ErrEmptyDocument indicates text that produced no chunks. Input
	// error, reported to the caller immediately, never retried.
	ErrEmptyDocument = errors.New("document contains no text")

	// ErrEmptyQuery indicates an empty question.
	ErrEmptyQuery = errors.New("query contains no text")

	// ErrPartialIngestion indicates ingestion failed partway through a
	// document's chunks. Already-written chunks are rolled back before
	// this error is surfaced; no partial document stays searchable.
	ErrPartialIngestion = errors.New("partial ingestion failure")
)

const systemPrompt = "You are a helpful assistant that answers questions based on the provided context. " +
	"Only use information from the context below. If the context doesn't contain " +
	"enough information to answer, say so clearly. Cite which source documents " +
	"you drew from."

// contextSeparator joins chunk texts in the generation prompt.
const contextSeparator = "\n\n---\n\n"

// Embedder converts text into fixed-dimension vectors.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// EmbedDocuments embeds a batch, attributing any failure to the
	// specific text that failed.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator produces an answer from a system instruction and a prompt.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Config holds pipeline parameters.
type Config struct {
	// ChunkSize is the chunk length in runes.
	ChunkSize int

	// ChunkOverlap is the overlap between consecutive chunks in runes.
	ChunkOverlap int

	// TopK is the number of chunks retrieved per query.
	TopK int

	// MaxContextChars bounds the assembled generation context.
	MaxContextChars int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = 500
	}
	if c.ChunkOverlap == 0 {
		c.ChunkOverlap = 50
	}
	if c.TopK == 0 {
		c.TopK = 5
	}
	if c.MaxContextChars == 0 {
		c.MaxContextChars = 8000
	}
}

// Service is the RBAC-enforced retrieval engine.
type Service struct {
	chunker   *chunker.Chunker
	embedder  Embedder
	store     vectorstore.Store
	generator Generator
	config    Config
	logger    *zap.Logger

	// docLocks serializes ingestion and deletion of the same document
	// so a delete cannot race an in-flight upsert and orphan vectors.
	docLocks *keyedMutex
}

// NewService creates the pipeline service.
func NewService(config Config, embedder Embedder, store vectorstore.Store, generator Generator, logger *zap.Logger) (*Service, error) {
	config.ApplyDefaults()
	ck, err := chunker.New(config.ChunkSize, config.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("creating chunker: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		chunker:   ck,
		embedder:  embedder,
		store:     store,
		generator: generator,
		config:    config,
		logger:    logger.Named("rag"),
		docLocks:  newKeyedMutex(),
	}, nil
}

// IngestResult reports a completed ingestion.
type IngestResult struct {
	DocumentID string `json:"document_id"`
	ChunkCount int    `json:"chunk_count"`
}

// Ingest chunks, embeds and stores a document for the given principal.
//
// The owner of every chunk record is the authenticated principal - an
// owner field in the uploaded payload is never consulted. If any chunk
// fails to embed or store, records already written for this document
// are rolled back and ErrPartialIngestion is returned: a partially
// searchable document is a worse outcome than a failed upload.
func (s *Service) Ingest(ctx context.Context, text, filename string, principal authz.Principal) (*IngestResult, error) {
	ingestTotal.Inc()

	if principal.SubjectID == "" {
		ingestFailures.Inc()
		return nil, authz.ErrInvalidSubject
	}

	chunks := s.chunker.Split(text)
	if len(chunks) == 0 {
		ingestFailures.Inc()
		return nil, ErrEmptyDocument
	}

	// Embed the whole document before taking the document lock: the
	// embedding backend is blocking I/O and nothing is written yet, so
	// an embedding failure needs no rollback.
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		ingestFailures.Inc()
		return nil, fmt.Errorf("embedding document: %w", err)
	}

	documentID := uuid.New().String()

	unlock := s.docLocks.Lock(documentID)
	defer unlock()

	for i, ch := range chunks {
		rec := vectorstore.ChunkRecord{
			ID:         uuid.New().String(),
			Vector:     vectors[i],
			OwnerID:    principal.SubjectID,
			DocumentID: documentID,
			Filename:   filename,
			ChunkIndex: ch.Index,
			Text:       ch.Text,
		}
		if err := s.store.Upsert(ctx, rec); err != nil {
			return nil, s.rollback(ctx, documentID, fmt.Errorf("storing chunk %d of %d: %w", ch.Index+1, len(chunks), err))
		}
		chunksIngested.Inc()
	}

	s.logger.Info("document ingested",
		zap.String("document_id", documentID),
		zap.String("owner_id", principal.SubjectID),
		zap.String("filename", filename),
		zap.Int("chunks", len(chunks)),
	)

	return &IngestResult{DocumentID: documentID, ChunkCount: len(chunks)}, nil
}

// rollback deletes any chunks already written for the document and
// wraps the cause as a partial ingestion failure. The rollback runs
// detached from request cancellation: a timed-out request must still
// not leave partially written records behind.
func (s *Service) rollback(ctx context.Context, documentID string, cause error) error {
	ingestFailures.Inc()
	ingestRollbacks.Inc()

	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := s.store.DeleteByDocument(rbCtx, documentID); err != nil {
		s.logger.Error("rollback failed, orphaned chunks may remain",
			zap.String("document_id", documentID),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v (rollback also failed: %v)", ErrPartialIngestion, cause, err)
	}

	s.logger.Warn("ingestion rolled back",
		zap.String("document_id", documentID),
		zap.Error(cause),
	)
	return fmt.Errorf("%w: %v (no partial data retained)", ErrPartialIngestion, cause)
}

// Source identifies a chunk that backed an answer.
type Source struct {
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	ChunkIndex int     `json:"chunk_index"`
	OwnerID    string  `json:"owner_id"`
	Score      float32 `json:"score"`
}

// QueryResult is the outcome of a retrieval query.
type QueryResult struct {
	Answer         string   `json:"answer"`
	Sources        []Source `json:"sources"`
	ChunksSearched int      `json:"chunks_searched"`
}

// Query answers a question using only chunks the access context may
// see. The predicate is resolved before any vector operation and is
// evaluated by the store itself; zero matching chunks is a valid
// outcome and generation then runs with empty context.
func (s *Service) Query(ctx context.Context, question string, access authz.AccessContext) (*QueryResult, error) {
	queryTotal.Inc()
	start := time.Now()
	defer func() { queryDuration.Observe(time.Since(start).Seconds()) }()

	if strings.TrimSpace(question) == "" {
		queryFailures.Inc()
		return nil, ErrEmptyQuery
	}

	vec, err := s.embedder.EmbedQuery(ctx, question)
	if err != nil {
		queryFailures.Inc()
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	results, err := s.store.Search(ctx, vec, access.Predicate(), s.config.TopK)
	if err != nil {
		queryFailures.Inc()
		return nil, fmt.Errorf("searching: %w", err)
	}

	// Stores return results ordered by similarity; re-sorting stably
	// with an explicit tie-break keeps context assembly deterministic.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].DocumentID != results[j].DocumentID {
			return results[i].DocumentID < results[j].DocumentID
		}
		return results[i].ChunkIndex < results[j].ChunkIndex
	})

	used, contextText := s.assembleContext(results)

	prompt := fmt.Sprintf("Context (retrieved documents):\n%s\n\nQuestion: %s\n\nAnswer based on the context above:", contextText, question)

	answer, err := s.generator.Generate(ctx, systemPrompt, prompt)
	if err != nil {
		queryFailures.Inc()
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	sources := make([]Source, 0, len(used))
	for _, chunk := range used {
		sources = append(sources, Source{
			DocumentID: chunk.DocumentID,
			Filename:   chunk.Filename,
			ChunkIndex: chunk.ChunkIndex,
			OwnerID:    chunk.OwnerID,
			Score:      chunk.Score,
		})
	}

	s.logger.Debug("query answered",
		zap.String("subject_id", access.SubjectID),
		zap.Stringer("role", access.Role),
		zap.Int("chunks_searched", len(results)),
		zap.Int("sources_used", len(sources)),
	)

	return &QueryResult{
		Answer:         answer,
		Sources:        sources,
		ChunksSearched: len(results),
	}, nil
}

// assembleContext joins chunk texts up to the configured bound and
// returns the chunks actually included.
func (s *Service) assembleContext(results []vectorstore.ScoredChunk) ([]vectorstore.ScoredChunk, string) {
	var sb strings.Builder
	var used []vectorstore.ScoredChunk
	for _, chunk := range results {
		add := len(chunk.Text)
		if len(used) > 0 {
			add += len(contextSeparator)
		}
		if sb.Len()+add > s.config.MaxContextChars {
			break
		}
		if len(used) > 0 {
			sb.WriteString(contextSeparator)
		}
		sb.WriteString(chunk.Text)
		used = append(used, chunk)
	}
	return used, sb.String()
}

// DeleteDocument removes every chunk of a document from the vector
// index. Deleting an already-deleted document is a no-op success.
func (s *Service) DeleteDocument(ctx context.Context, documentID string) error {
	if documentID == "" {
		return fmt.Errorf("%w: document id required", vectorstore.ErrInvalidRecord)
	}

	unlock := s.docLocks.Lock(documentID)
	defer unlock()

	if err := s.store.DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("deleting document %s: %w", documentID, err)
	}
	s.logger.Info("document deleted", zap.String("document_id", documentID))
	return nil
}

// DeleteUserData removes every chunk owned by a user. Deleting for an
// unknown owner is a no-op success.
func (s *Service) DeleteUserData(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return fmt.Errorf("%w: owner id required", vectorstore.ErrInvalidRecord)
	}
	if err := s.store.DeleteByOwner(ctx, ownerID); err != nil {
		return fmt.Errorf("deleting user data %s: %w", ownerID, err)
	}
	s.logger.Info("user data deleted", zap.String("owner_id", ownerID))
	return nil
}

// Stats returns vector collection statistics.
func (s *Service) Stats(ctx context.Context) (*vectorstore.CollectionInfo, error) {
	return s.store.Info(ctx)
}
