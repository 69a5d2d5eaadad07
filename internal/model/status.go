package model

import "strings"

// EmailStatus tracks where an email is in the pipeline.
type EmailStatus string

const (
	StatusCategorizationFailed      EmailStatus = "categorization_failed"
	StatusScamDetected              EmailStatus = "scam_detected"
	StatusLikelySpam                EmailStatus = "likely_spam"
	StatusSubscriptionMail          EmailStatus = "subscription_mail"
	StatusSentToDraftGeneration     EmailStatus = "sent_to_draft_generation"
	StatusSentToEmailCategorization EmailStatus = "sent_to_email_categorization"
	StatusDraftCreated              EmailStatus = "draft_created"
	StatusIgnored                   EmailStatus = "ignored"
	StatusDraftGenerationFailed     EmailStatus = "draft_generation_failed"
)

var emailStatuses = []EmailStatus{
	StatusCategorizationFailed,
	StatusScamDetected,
	StatusLikelySpam,
	StatusSubscriptionMail,
	StatusSentToDraftGeneration,
	StatusSentToEmailCategorization,
	StatusDraftCreated,
	StatusIgnored,
	StatusDraftGenerationFailed,
}

// ParseEmailStatus has no default: ok is false for blank or unknown input,
// which callers read as "not set yet".
func ParseEmailStatus(s string) (EmailStatus, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	for _, st := range emailStatuses {
		if strings.EqualFold(string(st), s) {
			return st, true
		}
	}
	return "", false
}

// Terminal reports whether the pipeline takes no further automated action.
func (s EmailStatus) Terminal() bool {
	switch s {
	case StatusCategorizationFailed,
		StatusScamDetected,
		StatusLikelySpam,
		StatusSubscriptionMail,
		StatusIgnored,
		StatusDraftCreated,
		StatusDraftGenerationFailed:
		return true
	}
	return false
}

// DraftStatus is the review state of a generated draft.
type DraftStatus string

const (
	DraftStatusRejected DraftStatus = "rejected"
	DraftStatusPending  DraftStatus = "pending"
	DraftStatusSkipped  DraftStatus = "skipped"
	DraftStatusAccepted DraftStatus = "accepted"
)

var draftStatuses = []DraftStatus{
	DraftStatusRejected,
	DraftStatusPending,
	DraftStatusSkipped,
	DraftStatusAccepted,
}

// ParseDraftStatus defaults blank and unknown input to pending.
func ParseDraftStatus(s string) DraftStatus {
	s = strings.TrimSpace(s)
	for _, st := range draftStatuses {
		if strings.EqualFold(string(st), s) {
			return st
		}
	}
	return DraftStatusPending
}
