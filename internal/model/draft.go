package model

import "time"

// Draft hash fields, stored under draft:<id>.
const (
	DraftFieldText           = "draftText"
	DraftFieldReplyToEmailID = "replyToEmailId"
	DraftFieldSubject        = "draftSubject"
	DraftFieldCategory       = "category"
	DraftFieldStatus         = "status"
	DraftFieldGeneratedAt    = "generatedAt"
)

// DraftRecord is a generated reply. It shares its id with the EmailRecord it answers.
type DraftRecord struct {
	ReplyToEmailID string
	DraftText      string
	DraftSubject   string
	Category       string
	Status         DraftStatus
	GeneratedAt    time.Time
}

// NewDraft returns a pending draft generated now.
func NewDraft(emailID, text, subject, category string, now time.Time) *DraftRecord {
	return &DraftRecord{
		ReplyToEmailID: emailID,
		DraftText:      text,
		DraftSubject:   subject,
		Category:       category,
		Status:         DraftStatusPending,
		GeneratedAt:    now.UTC(),
	}
}

// Fields flattens the draft into its hash representation.
func (d *DraftRecord) Fields() map[string]string {
	return map[string]string{
		DraftFieldText:           d.DraftText,
		DraftFieldReplyToEmailID: d.ReplyToEmailID,
		DraftFieldSubject:        d.DraftSubject,
		DraftFieldCategory:       d.Category,
		DraftFieldStatus:         string(d.Status),
		DraftFieldGeneratedAt:    d.GeneratedAt.Format(time.RFC3339Nano),
	}
}

// DraftFromFields builds a draft from a raw hash. An unparsable generatedAt
// leaves the zero time.
func DraftFromFields(id string, fields map[string]string) *DraftRecord {
	d := &DraftRecord{
		ReplyToEmailID: fields[DraftFieldReplyToEmailID],
		DraftText:      fields[DraftFieldText],
		DraftSubject:   fields[DraftFieldSubject],
		Category:       fields[DraftFieldCategory],
		Status:         ParseDraftStatus(fields[DraftFieldStatus]),
	}
	if d.ReplyToEmailID == "" {
		d.ReplyToEmailID = id
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields[DraftFieldGeneratedAt]); err == nil {
		d.GeneratedAt = ts
	}
	return d
}
