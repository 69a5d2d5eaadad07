package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"mailpipe/internal/model"
	"mailpipe/internal/store"
	"mailpipe/pkg/logger"
	"mailpipe/pkg/metrics"
)

// ClassifierStage categorizes an email and either ends the pipeline with a
// terminal status or forwards the id to draft generation.
//
// The category field is the stage's witness. Category and status are written
// in one SetFields call, so a present category always comes with its status.
type ClassifierStage struct {
	store       store.RecordStore
	publisher   Publisher
	categorizer Categorizer
	prefs       PreferenceProvider
	logger      *zap.Logger
}

func NewClassifierStage(
	st store.RecordStore,
	publisher Publisher,
	categorizer Categorizer,
	prefs PreferenceProvider,
	logger *zap.Logger,
) *ClassifierStage {
	return &ClassifierStage{
		store:       st,
		publisher:   publisher,
		categorizer: categorizer,
		prefs:       prefs,
		logger:      logger.With(zap.String("stage", StageClassifier)),
	}
}

// Handle adapts the stage to mq.MessageHandler.
func (s *ClassifierStage) Handle(ctx context.Context, body []byte) error {
	return s.HandleID(ctx, messageID(body))
}

func (s *ClassifierStage) HandleID(ctx context.Context, id string) error {
	log := logger.WithTrace(ctx, s.logger)

	if id == "" {
		log.Warn("Received empty email id, dropping")
		metrics.IncrementStageMessage(StageClassifier, outcomeDropped)
		return nil
	}
	log = log.With(zap.String("email_id", id))

	done, err := store.AlreadyProcessed(ctx, s.store, store.KindEmail, id, model.EmailFieldCategory)
	if err != nil {
		metrics.IncrementStageMessage(StageClassifier, outcomeError)
		return err
	}
	if done {
		return s.redelivered(ctx, log, id)
	}

	email, err := store.LoadEmail(ctx, s.store, id)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("Email not found in record store, dropping")
		metrics.IncrementStageMessage(StageClassifier, outcomeDropped)
		return nil
	}
	if err != nil {
		metrics.IncrementStageMessage(StageClassifier, outcomeError)
		return err
	}

	if st, ok := email.StatusValue(); ok && st.Terminal() {
		log.Warn("Email already has a terminal status, dropping", zap.String("status", string(st)))
		metrics.IncrementStageMessage(StageClassifier, outcomeDropped)
		return nil
	}

	category, err := s.classify(ctx, log, email)
	if err != nil {
		log.Warn("Classification interrupted, leaving email untouched", zap.Error(err))
		metrics.IncrementStageMessage(StageClassifier, outcomeError)
		return err
	}
	status, forward := transition(category)

	if err := s.store.SetFields(ctx, store.KindEmail, id, map[string]string{
		model.EmailFieldCategory: string(category),
		model.EmailFieldStatus:   string(status),
	}); err != nil {
		metrics.IncrementStageMessage(StageClassifier, outcomeError)
		return fmt.Errorf("persist category for %s: %w", id, err)
	}
	metrics.IncrementEmailCategorized(string(category))

	log = log.With(zap.String("category", string(category)), zap.String("status", string(status)))
	if !forward {
		log.Info("Email categorized, pipeline ends here")
		metrics.IncrementStageMessage(StageClassifier, outcomeTerminal)
		return nil
	}

	if err := s.publisher.Publish(ctx, ChannelDraftGeneration, id); err != nil {
		// 重投递时会走 redelivered 补发
		log.Error("Failed to forward email to draft generation", zap.Error(err))
		metrics.IncrementStageMessage(StageClassifier, outcomeError)
		return err
	}

	log.Info("Sent email to draft generation")
	metrics.IncrementStageMessage(StageClassifier, outcomeForwarded)
	return nil
}

// classify turns any categorizer error or malformed label into
// CategoryFailed. It only returns an error when ctx was cancelled, since the
// categorizer never got a fair attempt.
func (s *ClassifierStage) classify(ctx context.Context, log *zap.Logger, email *model.EmailRecord) (model.EmailCategory, error) {
	phrases, err := s.prefs.IgnorePhrases(ctx)
	if err != nil {
		log.Warn("Failed to load ignore phrases, continuing without them", zap.Error(err))
		phrases = nil
	}

	category, err := s.categorizer.Classify(ctx, ClassifyInput{
		Subject:       email.Subject,
		Body:          email.Body,
		From:          email.From,
		IgnorePhrases: phrases,
	})
	if cerr := ctx.Err(); cerr != nil {
		return "", fmt.Errorf("classify %s: %w", email.ID, cerr)
	}
	if err != nil {
		log.Warn("Categorizer failed", zap.Error(err))
		return model.CategoryFailed, nil
	}
	if category == "" {
		// an empty answer is malformed output, not "no category yet"
		return model.CategoryFailed, nil
	}
	return model.ParseEmailCategory(string(category)), nil
}

// redelivered handles an id whose category is already set. Nothing is
// written and the categorizer is not called. If the first run stored
// sent_to_draft_generation but may have died before publishing, and no draft
// exists yet, the id is forwarded again; the draft stage drops duplicates.
func (s *ClassifierStage) redelivered(ctx context.Context, log *zap.Logger, id string) error {
	raw, _, err := s.store.GetField(ctx, store.KindEmail, id, model.EmailFieldStatus)
	if err != nil {
		metrics.IncrementStageMessage(StageClassifier, outcomeError)
		return err
	}
	status, ok := model.ParseEmailStatus(raw)
	if !ok || status != model.StatusSentToDraftGeneration {
		log.Info("Email already categorized, skipping", zap.String("status", raw))
		metrics.IncrementStageMessage(StageClassifier, outcomeDuplicate)
		return nil
	}

	drafted, err := store.AlreadyProcessed(ctx, s.store, store.KindDraft, id, model.DraftFieldText)
	if err != nil {
		metrics.IncrementStageMessage(StageClassifier, outcomeError)
		return err
	}
	if drafted {
		log.Info("Email already categorized and drafted, skipping")
		metrics.IncrementStageMessage(StageClassifier, outcomeDuplicate)
		return nil
	}

	if err := s.publisher.Publish(ctx, ChannelDraftGeneration, id); err != nil {
		log.Error("Failed to re-forward email to draft generation", zap.Error(err))
		metrics.IncrementStageMessage(StageClassifier, outcomeError)
		return err
	}
	log.Info("Email already categorized, re-forwarded to draft generation")
	metrics.IncrementStageMessage(StageClassifier, outcomeReforwarded)
	return nil
}

// transition maps a category to the next status. The order matters: only
// categories that fall through every terminal rule reach draft generation.
func transition(c model.EmailCategory) (status model.EmailStatus, forward bool) {
	switch {
	case c == model.CategoryFailed:
		return model.StatusCategorizationFailed, false
	case c == model.CategoryNewsletter || c == model.CategoryPromotional:
		return model.StatusSubscriptionMail, false
	case c == model.CategoryScam:
		return model.StatusScamDetected, false
	case c == model.CategorySpam:
		return model.StatusLikelySpam, false
	case c == model.CategoryIgnored:
		return model.StatusIgnored, false
	default:
		return model.StatusSentToDraftGeneration, true
	}
}
