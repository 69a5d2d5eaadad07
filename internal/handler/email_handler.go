package handler

import (
	"net/http"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailpipe/internal/model"
	"mailpipe/internal/pipeline"
	"mailpipe/internal/store"
	"mailpipe/pkg/logger"
)

const snippetLength = 150

type EmailHandler struct {
	store     store.RecordStore
	publisher pipeline.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewEmailHandler(st store.RecordStore, publisher pipeline.Publisher, logger *zap.Logger) *EmailHandler {
	return &EmailHandler{
		store:     st,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

type SeedEmailRequest struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Snippet string `json:"snippet"`
	Date    string `json:"date"`
}

type EmailSummary struct {
	EmailID string `json:"emailId"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	Date    string `json:"date"`
	Snippet string `json:"snippet"`
}

// Seed handles POST /api/emails/seed. Each email is written to the store and
// its id published to the incoming channel.
func (h *EmailHandler) Seed(c *gin.Context) {
	var req []SeedEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be a non-empty array of emails"})
		return
	}

	ctx := c.Request.Context()
	log := logger.WithTrace(ctx, h.logger)
	seeded := 0
	for _, e := range req {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			continue
		}
		rec := h.newRecord(id, e)
		if err := h.store.SetFields(ctx, store.KindEmail, id, rec.IngestFields()); err != nil {
			log.Error("Failed to seed email", zap.String("email_id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store email", "seeded": seeded})
			return
		}
		if err := h.publisher.Publish(ctx, pipeline.ChannelIncoming, id); err != nil {
			log.Error("Failed to publish seeded email", zap.String("email_id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to publish email", "seeded": seeded})
			return
		}
		seeded++
	}

	log.Info("Seeded emails", zap.Int("seeded", seeded))
	c.JSON(http.StatusOK, gin.H{
		"message": "pipeline triggered",
		"seeded":  seeded,
	})
}

func (h *EmailHandler) newRecord(id string, e SeedEmailRequest) *model.EmailRecord {
	snippet := e.Snippet
	if strings.TrimSpace(snippet) == "" {
		snippet = makeSnippet(e.Body)
	}
	date := e.Date
	if date == "" {
		date = h.now().UTC().Format(time.RFC3339)
	}
	return &model.EmailRecord{
		ID:           id,
		From:         e.From,
		ReplyToEmail: replyAddress(e.From),
		Subject:      e.Subject,
		Date:         date,
		Snippet:      snippet,
		Body:         e.Body,
	}
}

// ListIgnored handles GET /api/emails/ignored, newest first.
func (h *EmailHandler) ListIgnored(c *gin.Context) {
	ctx := c.Request.Context()
	ids, err := h.store.IDs(ctx, store.KindEmail)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list emails"})
		return
	}

	list := []EmailSummary{}
	for _, id := range ids {
		fields, err := h.store.GetFields(ctx, store.KindEmail, id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read email"})
			return
		}
		if !strings.EqualFold(fields[model.EmailFieldStatus], string(model.StatusIgnored)) {
			continue
		}
		list = append(list, EmailSummary{
			EmailID: id,
			From:    fields[model.EmailFieldFrom],
			Subject: fields[model.EmailFieldSubject],
			Date:    fields[model.EmailFieldDate],
			Snippet: fields[model.EmailFieldSnippet],
		})
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Date > list[j].Date })
	c.JSON(http.StatusOK, list)
}

func makeSnippet(body string) string {
	r := []rune(body)
	if len(r) <= snippetLength {
		return body
	}
	return string(r[:snippetLength]) + "..."
}

// replyAddress extracts the bare address from a From header value.
func replyAddress(from string) string {
	from = strings.TrimSpace(from)
	if from == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(from); err == nil {
		return addr.Address
	}
	open := strings.IndexByte(from, '<')
	if open >= 0 {
		if end := strings.IndexByte(from[open:], '>'); end > 0 {
			return strings.TrimSpace(from[open+1 : open+end])
		}
	}
	return from
}
