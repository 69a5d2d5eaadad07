package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mailpipe/internal/model"
	"mailpipe/internal/store"
	"mailpipe/pkg/logger"
	"mailpipe/pkg/metrics"
)

// IngressStage validates ids arriving on the incoming channel and forwards
// them to categorization. It never writes to the store.
type IngressStage struct {
	store     store.RecordStore
	publisher Publisher
	logger    *zap.Logger
}

func NewIngressStage(st store.RecordStore, publisher Publisher, logger *zap.Logger) *IngressStage {
	return &IngressStage{
		store:     st,
		publisher: publisher,
		logger:    logger.With(zap.String("stage", StageIngress)),
	}
}

// Handle adapts the stage to mq.MessageHandler.
func (s *IngressStage) Handle(ctx context.Context, body []byte) error {
	return s.HandleID(ctx, messageID(body))
}

func (s *IngressStage) HandleID(ctx context.Context, id string) error {
	log := logger.WithTrace(ctx, s.logger)

	if id == "" {
		log.Warn("Received empty email id, dropping")
		metrics.IncrementStageMessage(StageIngress, outcomeDropped)
		return nil
	}
	log = log.With(zap.String("email_id", id))

	exists, err := s.store.HasField(ctx, store.KindEmail, id, model.EmailFieldID)
	if err != nil {
		metrics.IncrementStageMessage(StageIngress, outcomeError)
		return fmt.Errorf("ingress %s: %w", id, err)
	}
	if !exists {
		// 生产方负责先写记录再发布，这里不等待也不重试
		log.Warn("Email not found in record store, dropping")
		metrics.IncrementStageMessage(StageIngress, outcomeDropped)
		return nil
	}

	if err := s.publisher.Publish(ctx, ChannelCategorization, id); err != nil {
		log.Error("Failed to forward email to categorization", zap.Error(err))
		metrics.IncrementStageMessage(StageIngress, outcomeError)
		return err
	}

	log.Info("Sent email to categorization")
	metrics.IncrementStageMessage(StageIngress, outcomeForwarded)
	return nil
}
