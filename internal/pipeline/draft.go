package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailpipe/internal/model"
	"mailpipe/internal/store"
	"mailpipe/pkg/logger"
	"mailpipe/pkg/metrics"
)

// DraftStage generates the reply draft for a classified email. A draft with
// draftText is the witness; it is written in one SetFields call.
type DraftStage struct {
	store   store.RecordStore
	drafter Drafter
	prefs   PreferenceProvider
	logger  *zap.Logger
	now     func() time.Time
}

func NewDraftStage(st store.RecordStore, drafter Drafter, prefs PreferenceProvider, logger *zap.Logger) *DraftStage {
	return &DraftStage{
		store:   st,
		drafter: drafter,
		prefs:   prefs,
		logger:  logger.With(zap.String("stage", StageDraft)),
		now:     time.Now,
	}
}

// Handle adapts the stage to mq.MessageHandler.
func (s *DraftStage) Handle(ctx context.Context, body []byte) error {
	return s.HandleID(ctx, messageID(body))
}

func (s *DraftStage) HandleID(ctx context.Context, id string) error {
	log := logger.WithTrace(ctx, s.logger)

	if id == "" {
		log.Warn("Received empty email id, dropping")
		metrics.IncrementStageMessage(StageDraft, outcomeDropped)
		return nil
	}
	log = log.With(zap.String("email_id", id))

	done, err := store.AlreadyProcessed(ctx, s.store, store.KindDraft, id, model.DraftFieldText)
	if err != nil {
		metrics.IncrementStageMessage(StageDraft, outcomeError)
		return err
	}
	if done {
		log.Info("Draft already generated, skipping")
		metrics.IncrementStageMessage(StageDraft, outcomeDuplicate)
		return nil
	}

	email, err := store.LoadEmail(ctx, s.store, id)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("Email not found in record store, dropping")
		metrics.IncrementStageMessage(StageDraft, outcomeDropped)
		return nil
	}
	if err != nil {
		metrics.IncrementStageMessage(StageDraft, outcomeError)
		return err
	}

	if reason := undraftable(email); reason != "" {
		log.Warn("Email is not eligible for a draft, dropping",
			zap.String("reason", reason),
			zap.String("category", email.Category),
			zap.String("status", email.Status),
		)
		metrics.IncrementStageMessage(StageDraft, outcomeDropped)
		return nil
	}

	signoff, err := s.prefs.Signoff(ctx)
	if err != nil {
		log.Warn("Failed to load signoff, continuing without it", zap.Error(err))
		signoff = ""
	}

	log.Info("Generating draft", zap.String("category", email.Category))
	generated, err := s.drafter.Generate(ctx, DraftInput{
		EmailID:  id,
		Subject:  email.Subject,
		Body:     email.Body,
		From:     email.From,
		Category: email.Category,
		Signoff:  signoff,
	})
	if cerr := ctx.Err(); cerr != nil {
		// 被取消的调用不算失败，交给重投递
		log.Warn("Draft generation interrupted, leaving email untouched", zap.Error(cerr))
		metrics.IncrementStageMessage(StageDraft, outcomeError)
		return fmt.Errorf("generate draft for %s: %w", id, cerr)
	}
	if err != nil || generated == nil || strings.TrimSpace(generated.DraftText) == "" {
		log.Warn("Failed to generate draft", zap.Error(err))
		if werr := s.store.SetField(ctx, store.KindEmail, id, model.EmailFieldStatus, string(model.StatusDraftGenerationFailed)); werr != nil {
			metrics.IncrementStageMessage(StageDraft, outcomeError)
			return fmt.Errorf("mark draft failure for %s: %w", id, werr)
		}
		metrics.IncrementStageMessage(StageDraft, outcomeFailed)
		return nil
	}

	draft := model.NewDraft(id, generated.DraftText, generated.DraftSubject, email.Category, s.now())
	if err := s.store.SetFields(ctx, store.KindDraft, id, draft.Fields()); err != nil {
		metrics.IncrementStageMessage(StageDraft, outcomeError)
		return fmt.Errorf("persist draft for %s: %w", id, err)
	}

	log.Info("Generated draft", zap.String("draft_subject", draft.DraftSubject))
	metrics.IncrementStageMessage(StageDraft, outcomeCreated)
	return nil
}

// undraftable explains why an email must not get a draft, or returns "".
// Only emails classified into a non-terminal category qualify.
func undraftable(email *model.EmailRecord) string {
	if st, ok := email.StatusValue(); ok && st.Terminal() {
		return "terminal status"
	}
	if strings.TrimSpace(email.Category) == "" {
		return "not categorized"
	}
	if !model.ParseEmailCategory(email.Category).Draftable() {
		return "category not draftable"
	}
	return ""
}
