package handler

import (
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"studyrag/internal/ai"
	"studyrag/internal/app"
	"studyrag/internal/cache"
	"studyrag/internal/model"
	"studyrag/internal/pkg/pdfextract"
	"studyrag/internal/platform/rabbitmq"
	"studyrag/internal/transport/http/middleware"
	"studyrag/internal/transport/http/response"
)

const maxPDFSize = 10 << 20 // 10 MB

type StudyHandler struct {
	ragService      *app.RAGService
	ingestPublisher *rabbitmq.IngestPublisher
	convCache       *cache.ConversationCache
	historyTurns    int
}

func NewStudyHandler(
	ragService *app.RAGService,
	ingestPublisher *rabbitmq.IngestPublisher,
	convCache *cache.ConversationCache,
	historyTurns int,
) *StudyHandler {
	return &StudyHandler{
		ragService:      ragService,
		ingestPublisher: ingestPublisher,
		convCache:       convCache,
		historyTurns:    historyTurns,
	}
}

type IngestDocumentRequest struct {
	Name         string   `json:"name" binding:"max=256"`
	Content      string   `json:"content" binding:"required"`
	SyllabusTags []string `json:"syllabus_tags"`
}

type QueryRequest struct {
	Question       string   `json:"question" binding:"required"`
	DocumentIDs    []uint   `json:"document_ids"`
	SyllabusTags   []string `json:"syllabus_tags"`
	TopK           int      `json:"top_k"`
	Temperature    float64  `json:"temperature"`
	Mode           string   `json:"mode"`
	ConversationID string   `json:"conversation_id"`
}

func getUserIDFromContext(c *gin.Context) (uint, bool) {
	userIDAny, exists := c.Get(middleware.ContextUserIDKey)
	if !exists {
		return 0, false
	}
	userID, ok := userIDAny.(uint)
	return userID, ok
}

// IngestDocument chunks, embeds and indexes pasted text synchronously.
func (h *StudyHandler) IngestDocument(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req IngestDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.ragService.Ingest(c.Request.Context(), app.IngestInput{
		UserID:       userID,
		Name:         req.Name,
		Source:       req.Name,
		Content:      req.Content,
		SyllabusTags: req.SyllabusTags,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput), errors.Is(err, app.ErrRAGNoChunks):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "ingest failed: "+err.Error())
		}
		return
	}
	response.OK(c, result)
}

// UploadPDF extracts text from an uploaded PDF and enqueues an ingest job;
// indexing happens in the background worker.
func (h *StudyHandler) UploadPDF(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file")
		return
	}
	if file.Size > maxPDFSize {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "file too large (max 10MB)")
		return
	}
	if strings.ToLower(filepath.Ext(file.Filename)) != ".pdf" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "only PDF files are allowed")
		return
	}

	f, err := file.Open()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
		return
	}
	defer f.Close()

	text, err := pdfextract.ExtractText(f)
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "failed to extract text from PDF: "+err.Error())
		return
	}
	if strings.TrimSpace(text) == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "PDF contains no extractable text")
		return
	}

	name := strings.TrimSpace(c.PostForm("name"))
	if name == "" {
		name = strings.TrimSuffix(file.Filename, filepath.Ext(file.Filename))
	}
	var tags []string
	if raw := strings.TrimSpace(c.PostForm("syllabus_tags")); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}

	job := rabbitmq.IngestJob{
		UserID:       userID,
		Name:         name,
		Source:       file.Filename,
		Content:      text,
		SyllabusTags: tags,
	}
	if err := h.ingestPublisher.Publish(c.Request.Context(), job); err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "enqueue ingest failed")
		return
	}
	response.Accepted(c, gin.H{"name": name, "queued": true})
}

func (h *StudyHandler) ListDocuments(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	docs, err := h.ragService.ListDocuments(userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list documents failed")
		return
	}
	response.OK(c, docs)
}

func (h *StudyHandler) DeleteDocument(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	docID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || docID == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document id")
		return
	}

	removed, err := h.ragService.DeleteDocument(userID, uint(docID))
	if err != nil {
		switch {
		case errors.Is(err, app.ErrDocumentNotFound):
			response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, err.Error())
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "delete document failed")
		}
		return
	}
	response.OK(c, gin.H{"deleted_document_id": docID, "chunks_removed": removed})
}

// Query answers a question grounded in the user's indexed material.
func (h *StudyHandler) Query(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	var history []model.ConversationTurn
	if req.Mode == app.ModeConversational && req.ConversationID != "" {
		turns, err := h.convCache.GetHistory(c.Request.Context(), userID, req.ConversationID)
		if err == nil {
			history = turns
		}
	}

	result, err := h.ragService.Query(c.Request.Context(), app.QueryInput{
		UserID:       userID,
		Question:     req.Question,
		DocumentIDs:  req.DocumentIDs,
		SyllabusTags: req.SyllabusTags,
		TopK:         req.TopK,
		Temperature:  req.Temperature,
		Mode:         req.Mode,
		History:      history,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, ai.ErrUnavailable):
			response.Error(c, http.StatusServiceUnavailable, response.CodeLLMUnavailable, "generation backend unavailable, retry later")
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "query failed")
		}
		return
	}

	if req.Mode == app.ModeConversational && req.ConversationID != "" && result.ContextChunks > 0 {
		_ = h.convCache.AppendExchange(c.Request.Context(), userID, req.ConversationID,
			req.Question, result.Answer, h.historyTurns*2)
	}

	response.OK(c, result)
}

// RebuildIndex repacks the vector arena, purging soft-deleted slots. Meant
// to be called by an external maintenance job.
func (h *StudyHandler) RebuildIndex(c *gin.Context) {
	if _, ok := getUserIDFromContext(c); !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	purged, err := h.ragService.RebuildIndex()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "rebuild failed")
		return
	}
	response.OK(c, gin.H{"purged_slots": purged})
}
