package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/c5473c4c/rag-rbac/internal/authz"
	"github.com/c5473c4c/rag-rbac/internal/docstore"
	"github.com/c5473c4c/rag-rbac/internal/embeddings"
	"github.com/c5473c4c/rag-rbac/internal/generation"
	"github.com/c5473c4c/rag-rbac/internal/rag"
	"github.com/c5473c4c/rag-rbac/internal/vectorstore"
)

// IngestRequest is the request body for POST /api/documents.
type IngestRequest struct {
	Text     string `json:"text"`
	Filename string `json:"filename"`
}

// QueryRequest is the request body for POST /api/query.
type QueryRequest struct {
	Question string `json:"question"`
}

func (s *Server) handleIngest(c echo.Context) error {
	ctx := c.Request().Context()
	access, err := authz.AccessFromContext(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "identity required")
	}

	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	// Ownership comes from the authenticated identity, never from the
	// request payload.
	principal := authz.Principal{SubjectID: access.SubjectID, Role: access.Role}
	res, err := s.rag.Ingest(ctx, req.Text, req.Filename, principal)
	if err != nil {
		return mapServiceError(err)
	}

	entry := docstore.Document{
		ID:         res.DocumentID,
		OwnerID:    access.SubjectID,
		Filename:   req.Filename,
		ChunkCount: res.ChunkCount,
	}
	if err := s.docs.Record(ctx, entry); err != nil {
		// Keep catalog and index consistent: a document that cannot be
		// cataloged must not stay searchable. The cleanup runs detached
		// from request cancellation, like the ingestion rollback; a
		// client disconnect at this point must not strand the vectors.
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if delErr := s.rag.DeleteDocument(cleanupCtx, res.DocumentID); delErr != nil {
			s.logger.Error("failed to remove uncataloged document",
				zap.String("document_id", res.DocumentID),
				zap.Error(delErr),
			)
		}
		s.logger.Error("failed to catalog document", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to record document")
	}

	return c.JSON(http.StatusCreated, res)
}

func (s *Server) handleQuery(c echo.Context) error {
	ctx := c.Request().Context()
	access, err := authz.AccessFromContext(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "identity required")
	}

	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	res, err := s.rag.Query(ctx, req.Question, access)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleListDocuments(c echo.Context) error {
	ctx := c.Request().Context()
	access, err := authz.AccessFromContext(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "identity required")
	}

	var docs []docstore.Document
	if access.Role == authz.RolePrivileged {
		docs, err = s.docs.ListAll(ctx)
	} else {
		docs, err = s.docs.ListByOwner(ctx, access.SubjectID)
	}
	if err != nil {
		s.logger.Error("failed to list documents", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list documents")
	}
	if docs == nil {
		docs = []docstore.Document{}
	}
	return c.JSON(http.StatusOK, docs)
}

func (s *Server) handleDeleteDocument(c echo.Context) error {
	ctx := c.Request().Context()
	access, err := authz.AccessFromContext(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "identity required")
	}

	documentID := c.Param("id")
	doc, err := s.docs.Get(ctx, documentID)
	if errors.Is(err, docstore.ErrNotFound) {
		// Deleting an already-deleted document is a success.
		return c.NoContent(http.StatusNoContent)
	}
	if err != nil {
		s.logger.Error("failed to load document", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load document")
	}

	if access.Role != authz.RolePrivileged && doc.OwnerID != access.SubjectID {
		return echo.NewHTTPError(http.StatusForbidden, "not the document owner")
	}

	if err := s.rag.DeleteDocument(ctx, documentID); err != nil {
		return mapServiceError(err)
	}
	if err := s.docs.Delete(ctx, documentID); err != nil {
		s.logger.Error("failed to remove catalog entry", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete document")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleDeleteUserData(c echo.Context) error {
	ctx := c.Request().Context()
	ownerID := c.Param("id")

	if err := s.rag.DeleteUserData(ctx, ownerID); err != nil {
		return mapServiceError(err)
	}
	removed, err := s.docs.DeleteByOwner(ctx, ownerID)
	if err != nil {
		s.logger.Error("failed to remove catalog entries", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete user data")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"owner_id":          ownerID,
		"documents_removed": removed,
	})
}

func (s *Server) handleStats(c echo.Context) error {
	info, err := s.rag.Stats(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, info)
}

// mapServiceError translates pipeline errors to HTTP status codes.
// Unrecognized errors become opaque 500s so internals do not leak.
func mapServiceError(err error) error {
	switch {
	case errors.Is(err, rag.ErrEmptyDocument),
		errors.Is(err, rag.ErrEmptyQuery),
		errors.Is(err, vectorstore.ErrInvalidRecord),
		errors.Is(err, vectorstore.ErrDimensionMismatch):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())

	case errors.Is(err, authz.ErrUnknownRole),
		errors.Is(err, authz.ErrInvalidSubject),
		errors.Is(err, authz.ErrInvalidPredicate):
		return echo.NewHTTPError(http.StatusForbidden, "access denied")

	case errors.Is(err, embeddings.ErrUnavailable),
		errors.Is(err, embeddings.ErrTimeout),
		errors.Is(err, generation.ErrUnavailable),
		errors.Is(err, vectorstore.ErrStoreUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "upstream dependency unavailable")

	case errors.Is(err, rag.ErrPartialIngestion):
		return echo.NewHTTPError(http.StatusInternalServerError, "ingestion failed, no partial data retained")

	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
