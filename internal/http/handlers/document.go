package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/studyforge/studyforge-backend/internal/data/repos"
	"github.com/studyforge/studyforge-backend/internal/http/response"
	"github.com/studyforge/studyforge-backend/internal/services"
)

type DocumentHandler struct {
	chunks repos.ChunkRepo
	index  services.ChunkIndex
}

func NewDocumentHandler(chunks repos.ChunkRepo, index services.ChunkIndex) *DocumentHandler {
	return &DocumentHandler{chunks: chunks, index: index}
}

type ingestRequest struct {
	Text         string `json:"text" binding:"required"`
	ChunkSize    int    `json:"chunk_size"`
	Overlap      int    `json:"overlap"`
	CharsPerPage int    `json:"chars_per_page"`
}

// POST /api/documents/:id/ingest
// Splits the document text into chunks, stores them, and backfills embeddings.
func (h *DocumentHandler) Ingest(c *gin.Context) {
	documentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_document_id", err)
		return
	}
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	chunks := services.ChunkText(documentID, req.Text, req.ChunkSize, req.Overlap, req.CharsPerPage)
	if len(chunks) == 0 {
		response.RespondError(c, http.StatusBadRequest, "empty_document", fmt.Errorf("document text produced no chunks"))
		return
	}
	if _, err := h.chunks.Create(c.Request.Context(), nil, chunks); err != nil {
		response.RespondError(c, http.StatusInternalServerError, "store_chunks_failed", err)
		return
	}
	embedded, err := h.index.EnsureEmbeddings(c.Request.Context(), documentID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "embed_chunks_failed", err)
		return
	}
	response.RespondOK(c, gin.H{
		"document_id": documentID,
		"chunks":      len(chunks),
		"embedded":    embedded,
	})
}

// GET /api/documents/:id/chunks
func (h *DocumentHandler) ListChunks(c *gin.Context) {
	documentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_document_id", err)
		return
	}
	chunks, err := h.index.ListChunks(c.Request.Context(), documentID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "list_chunks_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"chunks": chunks})
}
