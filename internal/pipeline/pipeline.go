// Package pipeline holds the three stage handlers. Each handler receives only
// a message id, reads and writes the record store, and forwards at most one id
// to the next channel. Handlers never call each other directly.
package pipeline

import (
	"context"
	"strings"

	"mailpipe/internal/model"
)

// Channel names double as broker routing keys.
const (
	ChannelIncoming        = "incoming"
	ChannelCategorization  = "categorization"
	ChannelDraftGeneration = "draft-generation"
)

// Stage labels used in logs and metrics.
const (
	StageIngress    = "ingress"
	StageClassifier = "classifier"
	StageDraft      = "draft"
)

// Outcome labels for pipeline_messages_total.
const (
	outcomeForwarded   = "forwarded"
	outcomeReforwarded = "reforwarded"
	outcomeTerminal    = "terminal"
	outcomeDuplicate   = "duplicate"
	outcomeDropped     = "dropped"
	outcomeCreated     = "created"
	outcomeFailed      = "failed"
	outcomeError       = "error"
)

// Publisher puts an id on a channel.
type Publisher interface {
	Publish(ctx context.Context, channel, id string) error
}

// ClassifyInput is what the categorizer sees of an email.
type ClassifyInput struct {
	Subject       string
	Body          string
	From          string
	IgnorePhrases []string
}

// Categorizer labels an email. Any error is treated as category failed.
type Categorizer interface {
	Classify(ctx context.Context, in ClassifyInput) (model.EmailCategory, error)
}

// DraftInput is what the drafter sees of an email.
type DraftInput struct {
	EmailID  string
	Subject  string
	Body     string
	From     string
	Category string
	Signoff  string
}

// GeneratedDraft is a structured reply. An empty DraftText counts as failure.
type GeneratedDraft struct {
	DraftText    string
	DraftSubject string
}

// Drafter writes a reply. A nil draft or an error means generation failed.
type Drafter interface {
	Generate(ctx context.Context, in DraftInput) (*GeneratedDraft, error)
}

// PreferenceProvider serves the user's pipeline preferences.
type PreferenceProvider interface {
	IgnorePhrases(ctx context.Context) ([]string, error)
	Signoff(ctx context.Context) (string, error)
}

// messageID turns a raw message body into an id. Key and value carry the
// same string, so only the body is read.
func messageID(body []byte) string {
	return strings.TrimSpace(string(body))
}
