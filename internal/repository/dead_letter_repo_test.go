package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailpipe/pkg/mq"
)

type execCall struct {
	sql  string
	args []any
}

type fakeExecer struct {
	calls []execCall
	err   error
}

func (f *fakeExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	if f.err != nil {
		return pgconn.CommandTag{}, f.err
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestRecordDeadLetter(t *testing.T) {
	db := &fakeExecer{}
	repo := NewDeadLetterRepository(db, zap.NewNop())
	failedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))

	err := repo.RecordDeadLetter(context.Background(), mq.DeadLetter{
		RoutingKey: "categorization",
		Queue:      "categorization.q",
		MessageID:  "e1",
		Body:       []byte("e1"),
		Error:      "connection refused",
		ErrorType:  "connection_error",
		Attempts:   4,
		FailedAt:   failedAt,
	})
	require.NoError(t, err)
	require.Len(t, db.calls, 1)
	assert.Equal(t, insertDeadLetter, db.calls[0].sql)
	assert.Equal(t, []any{
		"e1", "categorization", "categorization.q", "e1",
		"connection_error", "connection refused", int64(4), failedAt.UTC(),
	}, db.calls[0].args)
}

func TestRecordDeadLetter_WrapsError(t *testing.T) {
	boom := errors.New("db down")
	repo := NewDeadLetterRepository(&fakeExecer{err: boom}, zap.NewNop())

	err := repo.RecordDeadLetter(context.Background(), mq.DeadLetter{MessageID: "e1"})
	assert.ErrorIs(t, err, boom)
}

func TestEnsureSchema(t *testing.T) {
	db := &fakeExecer{}
	require.NoError(t, NewDeadLetterRepository(db, zap.NewNop()).EnsureSchema(context.Background()))
	require.Len(t, db.calls, 1)
	assert.Contains(t, db.calls[0].sql, "CREATE TABLE IF NOT EXISTS dead_letters")
}
