package handler

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailpipe/internal/model"
	"mailpipe/internal/store"
	"mailpipe/pkg/logger"
)

// DraftHandler serves review of generated drafts.
type DraftHandler struct {
	store  store.RecordStore
	logger *zap.Logger
}

func NewDraftHandler(st store.RecordStore, logger *zap.Logger) *DraftHandler {
	return &DraftHandler{store: st, logger: logger}
}

type DraftSummary struct {
	EmailID      string `json:"emailId"`
	Subject      string `json:"subject"`
	From         string `json:"from"`
	DraftSubject string `json:"draftSubject"`
	Snippet      string `json:"snippet"`
	Status       string `json:"status"`
	GeneratedAt  string `json:"generatedAt"`
	Category     string `json:"category"`
}

type DraftDetail struct {
	Email DraftDetailEmail `json:"email"`
	Draft DraftDetailDraft `json:"draft"`
}

type DraftDetailEmail struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Date    string `json:"date"`
}

type DraftDetailDraft struct {
	DraftText    string `json:"draftText"`
	DraftSubject string `json:"draftSubject"`
	Status       string `json:"status"`
	GeneratedAt  string `json:"generatedAt"`
	Category     string `json:"category"`
}

// UpdateDraftRequest edits a draft. A nil field is left untouched.
type UpdateDraftRequest struct {
	DraftText    *string `json:"draftText"`
	DraftSubject *string `json:"draftSubject"`
}

// List handles GET /api/drafts, most recently generated first.
func (h *DraftHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	ids, err := h.store.IDs(ctx, store.KindDraft)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list drafts"})
		return
	}

	type row struct {
		summary DraftSummary
		draft   *model.DraftRecord
	}
	rows := make([]row, 0, len(ids))
	for _, id := range ids {
		draft, err := store.LoadDraft(ctx, h.store, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read draft"})
			return
		}
		raw, err := h.store.GetFields(ctx, store.KindDraft, id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read draft"})
			return
		}
		email, err := h.store.GetFields(ctx, store.KindEmail, id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read email"})
			return
		}
		rows = append(rows, row{
			draft: draft,
			summary: DraftSummary{
				EmailID:      id,
				Subject:      email[model.EmailFieldSubject],
				From:         email[model.EmailFieldFrom],
				DraftSubject: draft.DraftSubject,
				Snippet:      email[model.EmailFieldSnippet],
				Status:       raw[model.DraftFieldStatus],
				GeneratedAt:  raw[model.DraftFieldGeneratedAt],
				Category:     draft.Category,
			},
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].draft.GeneratedAt.After(rows[j].draft.GeneratedAt)
	})

	list := make([]DraftSummary, 0, len(rows))
	for _, r := range rows {
		list = append(list, r.summary)
	}
	c.JSON(http.StatusOK, list)
}

// Get handles GET /api/drafts/:id.
func (h *DraftHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if !h.exists(c, id) {
		return
	}
	draft, err := h.store.GetFields(ctx, store.KindDraft, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read draft"})
		return
	}
	email, err := h.store.GetFields(ctx, store.KindEmail, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read email"})
		return
	}
	c.JSON(http.StatusOK, DraftDetail{
		Email: DraftDetailEmail{
			ID:      id,
			From:    email[model.EmailFieldFrom],
			Subject: email[model.EmailFieldSubject],
			Body:    email[model.EmailFieldBody],
			Date:    email[model.EmailFieldDate],
		},
		Draft: DraftDetailDraft{
			DraftText:    draft[model.DraftFieldText],
			DraftSubject: draft[model.DraftFieldSubject],
			Status:       draft[model.DraftFieldStatus],
			GeneratedAt:  draft[model.DraftFieldGeneratedAt],
			Category:     draft[model.DraftFieldCategory],
		},
	})
}

// Update handles PATCH /api/drafts/:id. Only draftText and draftSubject change,
// and draftText can never be blanked.
func (h *DraftHandler) Update(c *gin.Context) {
	var req UpdateDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil || (req.DraftText == nil && req.DraftSubject == nil) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "draftText or draftSubject required"})
		return
	}
	// draftText 为空等于删除草稿
	if req.DraftText != nil && strings.TrimSpace(*req.DraftText) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "draftText must not be blank"})
		return
	}
	id := c.Param("id")
	if !h.exists(c, id) {
		return
	}

	fields := make(map[string]string, 2)
	if req.DraftText != nil {
		fields[model.DraftFieldText] = *req.DraftText
	}
	if req.DraftSubject != nil {
		fields[model.DraftFieldSubject] = *req.DraftSubject
	}
	if err := h.store.SetFields(c.Request.Context(), store.KindDraft, id, fields); err != nil {
		logger.WithTrace(c.Request.Context(), h.logger).Error("Failed to update draft", zap.String("email_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update draft"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Reject handles PATCH /api/drafts/:id/reject.
func (h *DraftHandler) Reject(c *gin.Context) {
	h.setStatus(c, model.DraftStatusRejected)
}

// Skip handles PATCH /api/drafts/:id/skip.
func (h *DraftHandler) Skip(c *gin.Context) {
	h.setStatus(c, model.DraftStatusSkipped)
}

func (h *DraftHandler) setStatus(c *gin.Context, status model.DraftStatus) {
	id := c.Param("id")
	if !h.exists(c, id) {
		return
	}
	if err := h.store.SetField(c.Request.Context(), store.KindDraft, id, model.DraftFieldStatus, string(status)); err != nil {
		logger.WithTrace(c.Request.Context(), h.logger).Error("Failed to set draft status",
			zap.String("email_id", id),
			zap.String("status", string(status)),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update draft"})
		return
	}
	c.Status(http.StatusNoContent)
}

// exists writes a 404 or 500 and returns false unless the draft has text.
func (h *DraftHandler) exists(c *gin.Context, id string) bool {
	ok, err := store.AlreadyProcessed(c.Request.Context(), h.store, store.KindDraft, id, model.DraftFieldText)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read draft"})
		return false
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "draft not found"})
		return false
	}
	return true
}
