package vectorstore

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/c5473c4c/rag-rbac/internal/authz"
)

// collectionNamePattern validates collection names.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the Qdrant gRPC port (6334, not the 6333 REST port).
	Port int

	// Collection is the collection holding chunk records.
	Collection string

	// VectorSize is the index dimensionality. Must match the embedding
	// model's output dimension.
	VectorSize int

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxRetries is the maximum retry count for transient failures.
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled per retry.
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "documents"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 768
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if !collectionNamePattern.MatchString(c.Collection) {
		return fmt.Errorf("%w: collection name must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidConfig, c.Collection)
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

// IsTransientError reports whether a gRPC error should be retried.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantStore is a Store backed by Qdrant's native gRPC client.
//
// Authorization predicates become Qdrant payload filters, so record
// eligibility is decided by the store during candidate selection. The
// owner_id payload field carries a keyword index for this purpose.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger
}

// NewQdrantStore connects to Qdrant and verifies the connection with a
// health check.
func NewQdrantStore(config QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	s := &QdrantStore{
		client: client,
		config: config,
		logger: logger.Named("qdrant"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}

	return s, nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// EnsureSchema creates the collection and the payload indexes used for
// access filtering if they do not exist yet.
func (s *QdrantStore) EnsureSchema(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.config.Collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", s.config.Collection, err)
	}
	if exists {
		s.logger.Debug("collection already exists", zap.String("collection", s.config.Collection))
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.config.VectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.config.Collection, err)
	}

	// Keyword indexes on the filter keys keep predicate evaluation fast.
	for _, field := range []string{FieldOwnerID, FieldDocumentID} {
		_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.config.Collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return fmt.Errorf("indexing payload field %s: %w", field, err)
		}
	}

	s.logger.Info("created collection",
		zap.String("collection", s.config.Collection),
		zap.Int("vector_size", s.config.VectorSize),
	)
	return nil
}

// retryOperation retries an operation with exponential backoff on
// transient errors. Exhausted retries surface as ErrStoreUnavailable.
func (s *QdrantStore) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := s.config.RetryBackoff

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", operationName, err)
		}
		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w: %v", operationName, s.config.MaxRetries, ErrStoreUnavailable, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

// Upsert inserts a chunk record.
func (s *QdrantStore) Upsert(ctx context.Context, rec ChunkRecord) error {
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

	payload := map[string]*qdrant.Value{
		FieldOwnerID:    {Kind: &qdrant.Value_StringValue{StringValue: rec.OwnerID}},
		FieldDocumentID: {Kind: &qdrant.Value_StringValue{StringValue: rec.DocumentID}},
		FieldFilename:   {Kind: &qdrant.Value_StringValue{StringValue: rec.Filename}},
		FieldChunkIndex: {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(rec.ChunkIndex)}},
		FieldText:       {Kind: &qdrant.Value_StringValue{StringValue: rec.Text}},
	}

	point := &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(pointID),
		Vectors: qdrant.NewVectors(rec.Vector...),
		Payload: payload,
	}

	return s.retryOperation(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.Collection,
			Points:         []*qdrant.PointStruct{point},
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
}

// predicateFilter converts an authorization predicate into a Qdrant
// filter. A zero-value predicate fails closed; an unrestricted
// predicate yields a nil filter (match all).
func predicateFilter(predicate authz.Predicate) (*qdrant.Filter, error) {
	conds, err := predicate.Conditions()
	if err != nil {
		return nil, err
	}
	if len(conds) == 0 {
		return nil, nil
	}

	conditions := make([]*qdrant.Condition, 0, len(conds))
	for key, value := range conds {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: key,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: value},
					},
				},
			},
		})
	}
	return &qdrant.Filter{Must: conditions}, nil
}

// Search returns up to topK records similar to the query vector,
// restricted by the predicate. The filter is part of the Qdrant query,
// so out-of-scope records never enter candidate selection.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, predicate authz.Predicate, topK int) ([]ScoredChunk, error) {
	if len(vector) != s.config.VectorSize {
		return nil, fmt.Errorf("%w: got %d, index expects %d", ErrDimensionMismatch, len(vector), s.config.VectorSize)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", ErrInvalidConfig, topK)
	}

	filter, err := predicateFilter(predicate)
	if err != nil {
		return nil, fmt.Errorf("applying predicate: %w", err)
	}

	var points []*qdrant.ScoredPoint
	err = s.retryOperation(ctx, "search", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.Collection,
			Query:          qdrant.NewQuery(vector...),
			Filter:         filter,
			Limit:          qdrant.PtrOf(uint64(topK)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	results := make([]ScoredChunk, 0, len(points))
	for _, point := range points {
		chunk := ScoredChunk{Score: point.Score}
		if id := point.Id.GetUuid(); id != "" {
			chunk.ID = id
		}
		for key, value := range point.Payload {
			switch key {
			case FieldOwnerID:
				chunk.OwnerID = value.GetStringValue()
			case FieldDocumentID:
				chunk.DocumentID = value.GetStringValue()
			case FieldFilename:
				chunk.Filename = value.GetStringValue()
			case FieldChunkIndex:
				chunk.ChunkIndex = int(value.GetIntegerValue())
			case FieldText:
				chunk.Text = value.GetStringValue()
			}
		}
		results = append(results, chunk)
	}
	return results, nil
}

// deleteByField removes all points whose payload field matches value.
func (s *QdrantStore) deleteByField(ctx context.Context, field, value string) error {
	return s.retryOperation(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.config.Collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: &qdrant.Filter{
						Must: []*qdrant.Condition{
							{
								ConditionOneOf: &qdrant.Condition_Field{
									Field: &qdrant.FieldCondition{
										Key: field,
										Match: &qdrant.Match{
											MatchValue: &qdrant.Match_Keyword{Keyword: value},
										},
									},
								},
							},
						},
					},
				},
			},
			Wait: qdrant.PtrOf(true),
		})
		return err
	})
}

// DeleteByDocument removes all records of a document. Deleting an
// absent document is a no-op success.
func (s *QdrantStore) DeleteByDocument(ctx context.Context, documentID string) error {
	if documentID == "" {
		return fmt.Errorf("%w: document id required", ErrInvalidRecord)
	}
	return s.deleteByField(ctx, FieldDocumentID, documentID)
}

// DeleteByOwner removes all records of an owner. Deleting an absent
// owner is a no-op success.
func (s *QdrantStore) DeleteByOwner(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return fmt.Errorf("%w: owner id required", ErrInvalidRecord)
	}
	return s.deleteByField(ctx, FieldOwnerID, ownerID)
}

// Info returns collection statistics.
func (s *QdrantStore) Info(ctx context.Context) (*CollectionInfo, error) {
	var count uint64
	err := s.retryOperation(ctx, "count", func() error {
		res, err := s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: s.config.Collection,
			Exact:          qdrant.PtrOf(true),
		})
		if err != nil {
			return err
		}
		count = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &CollectionInfo{
		Name:       s.config.Collection,
		PointCount: int(count),
		VectorSize: s.config.VectorSize,
	}, nil
}

// Ensure QdrantStore implements Store.
var _ Store = (*QdrantStore)(nil)
