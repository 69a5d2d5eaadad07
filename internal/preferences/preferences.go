// Package preferences stores the user's pipeline preferences in Redis.
package preferences

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	IgnoresKey = "preferences:ignores"
	SignoffKey = "preferences:signoff"
)

// Store reads and writes preferences. Values are JSON encoded; a value that
// does not decode is treated as unset.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// IgnorePhrases returns the descriptions of mail the user never wants drafted.
func (s *Store) IgnorePhrases(ctx context.Context) ([]string, error) {
	raw, err := s.get(ctx, IgnoresKey)
	if err != nil || raw == "" {
		return []string{}, err
	}
	var phrases []string
	if err := json.Unmarshal([]byte(raw), &phrases); err != nil {
		return []string{}, nil
	}
	if phrases == nil {
		phrases = []string{}
	}
	return phrases, nil
}

// SetIgnorePhrases replaces the list. nil clears it.
func (s *Store) SetIgnorePhrases(ctx context.Context, phrases []string) error {
	if phrases == nil {
		return s.del(ctx, IgnoresKey)
	}
	b, err := json.Marshal(phrases)
	if err != nil {
		return fmt.Errorf("encode ignore phrases: %w", err)
	}
	if err := s.rdb.Set(ctx, IgnoresKey, b, 0).Err(); err != nil {
		return fmt.Errorf("save ignore phrases: %w", err)
	}
	return nil
}

// Signoff returns the closing line appended to generated drafts.
func (s *Store) Signoff(ctx context.Context) (string, error) {
	raw, err := s.get(ctx, SignoffKey)
	if err != nil || raw == "" {
		return "", err
	}
	var signoff string
	if err := json.Unmarshal([]byte(raw), &signoff); err != nil {
		return "", nil
	}
	return signoff, nil
}

// SetSignoff saves the signoff. A blank value clears it.
func (s *Store) SetSignoff(ctx context.Context, signoff string) error {
	if strings.TrimSpace(signoff) == "" {
		return s.del(ctx, SignoffKey)
	}
	b, err := json.Marshal(signoff)
	if err != nil {
		return fmt.Errorf("encode signoff: %w", err)
	}
	if err := s.rdb.Set(ctx, SignoffKey, b, 0).Err(); err != nil {
		return fmt.Errorf("save signoff: %w", err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string) (string, error) {
	raw, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return strings.TrimSpace(raw), nil
}

func (s *Store) del(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("clear %s: %w", key, err)
	}
	return nil
}
