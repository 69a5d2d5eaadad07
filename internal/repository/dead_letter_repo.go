package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"mailpipe/pkg/mq"
)

// Execer is the part of pgxpool.Pool the repository needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const createDeadLettersTable = `
	CREATE TABLE IF NOT EXISTS dead_letters (
		id            BIGSERIAL PRIMARY KEY,
		message_id    TEXT        NOT NULL,
		routing_key   TEXT        NOT NULL,
		queue         TEXT        NOT NULL,
		body          TEXT        NOT NULL,
		error_type    TEXT        NOT NULL,
		error_message TEXT        NOT NULL,
		attempts      BIGINT      NOT NULL,
		failed_at     TIMESTAMPTZ NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (message_id, routing_key, failed_at)
	)
`

const insertDeadLetter = `
	INSERT INTO dead_letters (message_id, routing_key, queue, body, error_type, error_message, attempts, failed_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT DO NOTHING
`

// DeadLetterRepository keeps an audit log of messages moved to the DLQ.
type DeadLetterRepository struct {
	db     Execer
	logger *zap.Logger
}

var _ mq.DeadLetterRecorder = (*DeadLetterRepository)(nil)

func NewDeadLetterRepository(db Execer, logger *zap.Logger) *DeadLetterRepository {
	return &DeadLetterRepository{db: db, logger: logger}
}

// EnsureSchema creates the dead_letters table if it does not exist.
func (r *DeadLetterRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, createDeadLettersTable); err != nil {
		return fmt.Errorf("create dead_letters table: %w", err)
	}
	return nil
}

// RecordDeadLetter 插入死信记录
func (r *DeadLetterRepository) RecordDeadLetter(ctx context.Context, dl mq.DeadLetter) error {
	_, err := r.db.Exec(ctx, insertDeadLetter,
		dl.MessageID,
		dl.RoutingKey,
		dl.Queue,
		string(dl.Body),
		dl.ErrorType,
		dl.Error,
		dl.Attempts,
		dl.FailedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert dead letter %s: %w", dl.MessageID, err)
	}
	r.logger.Debug("Dead letter recorded",
		zap.String("message_id", dl.MessageID),
		zap.String("routing_key", dl.RoutingKey),
	)
	return nil
}
