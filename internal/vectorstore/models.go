package vectorstore

import "fmt"

// Payload field names shared by all store implementations. owner_id is
// the access-control key and is indexed for filtering.
const (
	FieldOwnerID    = "owner_id"
	FieldDocumentID = "document_id"
	FieldFilename   = "filename"
	FieldChunkIndex = "chunk_index"
	FieldText       = "text"
)

// ChunkRecord is the unit stored in the vector index.
type ChunkRecord struct {
	// ID is the unique point identifier.
	ID string

	// Vector is the embedding, fixed dimensionality across the index.
	Vector []float32

	// OwnerID identifies the user who ingested this chunk. Set once at
	// write time from the authenticated identity; immutable.
	OwnerID string

	// DocumentID groups chunks belonging to one uploaded document.
	DocumentID string

	// Filename is display metadata, not security-relevant.
	Filename string

	// ChunkIndex is the chunk's position within its document.
	ChunkIndex int

	// Text is the original chunk text, retained for context assembly.
	Text string
}

// Validate checks the record invariants: ownership fields present and a
// non-empty vector.
func (r ChunkRecord) Validate() error {
	if r.OwnerID == "" {
		return fmt.Errorf("%w: owner_id required", ErrInvalidRecord)
	}
	if r.DocumentID == "" {
		return fmt.Errorf("%w: document_id required", ErrInvalidRecord)
	}
	if len(r.Vector) == 0 {
		return fmt.Errorf("%w: vector required", ErrInvalidRecord)
	}
	return nil
}

// ScoredChunk is a search result: a stored chunk plus its similarity
// score.
type ScoredChunk struct {
	ID         string  `json:"id"`
	OwnerID    string  `json:"owner_id"`
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Score      float32 `json:"score"`
}
