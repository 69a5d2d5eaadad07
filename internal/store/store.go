// Package store keeps email and draft records as field maps in a key-value
// store. It is the only state shared between pipeline stages.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mailpipe/internal/model"
)

// ErrNotFound is returned when a record has no fields at all.
var ErrNotFound = errors.New("record not found")

// Kind is a record family. Its value is the key prefix.
type Kind string

const (
	KindEmail Kind = "email:"
	KindDraft Kind = "draft:"
)

// Key builds the full key, e.g. KindEmail.Key("abc") -> "email:abc".
func (k Kind) Key(id string) string {
	return string(k) + strings.TrimSpace(id)
}

// ID strips the kind prefix from a full key.
func (k Kind) ID(key string) string {
	return strings.TrimPrefix(key, string(k))
}

func (k Kind) String() string {
	return strings.TrimSuffix(string(k), ":")
}

// RecordStore is a field-level view over hash records. Single field writes are
// atomic; SetFields writes all given fields in one operation.
type RecordStore interface {
	HasField(ctx context.Context, kind Kind, id, field string) (bool, error)
	GetField(ctx context.Context, kind Kind, id, field string) (string, bool, error)
	GetFields(ctx context.Context, kind Kind, id string) (map[string]string, error)
	SetField(ctx context.Context, kind Kind, id, field, value string) error
	SetFields(ctx context.Context, kind Kind, id string, fields map[string]string) error
	IDs(ctx context.Context, kind Kind) ([]string, error)
	Ping(ctx context.Context) error
}

// LoadEmail reads the whole email record. The record counts as present only
// when its id field is set.
func LoadEmail(ctx context.Context, s RecordStore, id string) (*model.EmailRecord, error) {
	fields, err := s.GetFields(ctx, KindEmail, id)
	if err != nil {
		return nil, fmt.Errorf("load email %s: %w", id, err)
	}
	if fields[model.EmailFieldID] == "" {
		return nil, ErrNotFound
	}
	return model.EmailFromFields(fields), nil
}

// LoadDraft reads a draft. A draft without draftText is treated as absent.
func LoadDraft(ctx context.Context, s RecordStore, id string) (*model.DraftRecord, error) {
	fields, err := s.GetFields(ctx, KindDraft, id)
	if err != nil {
		return nil, fmt.Errorf("load draft %s: %w", id, err)
	}
	if fields[model.DraftFieldText] == "" {
		return nil, ErrNotFound
	}
	return model.DraftFromFields(id, fields), nil
}
