package model

// Email hash fields. Every field is stored as a string under email:<id>.
const (
	EmailFieldID           = "id"
	EmailFieldThreadID     = "threadId"
	EmailFieldFrom         = "from"
	EmailFieldReplyToEmail = "replyToEmail"
	EmailFieldSubject      = "subject"
	EmailFieldDate         = "date"
	EmailFieldSnippet      = "snippet"
	EmailFieldBody         = "body"
	EmailFieldCategory     = "category"
	EmailFieldStatus       = "status"
)

// EmailRecord is the ingested message as kept in the record store.
// Category and Status stay empty until the classifier has written them.
type EmailRecord struct {
	ID           string
	ThreadID     string
	From         string
	ReplyToEmail string
	Subject      string
	Date         string
	Snippet      string
	Body         string
	Category     string
	Status       string
}

// EmailFromFields builds a record from a raw hash. Missing fields stay empty.
func EmailFromFields(fields map[string]string) *EmailRecord {
	return &EmailRecord{
		ID:           fields[EmailFieldID],
		ThreadID:     fields[EmailFieldThreadID],
		From:         fields[EmailFieldFrom],
		ReplyToEmail: fields[EmailFieldReplyToEmail],
		Subject:      fields[EmailFieldSubject],
		Date:         fields[EmailFieldDate],
		Snippet:      fields[EmailFieldSnippet],
		Body:         fields[EmailFieldBody],
		Category:     fields[EmailFieldCategory],
		Status:       fields[EmailFieldStatus],
	}
}

// IngestFields returns the fields written by the ingestion side. Category and
// status are left out so a re-seed never rewinds pipeline state.
func (e *EmailRecord) IngestFields() map[string]string {
	return map[string]string{
		EmailFieldID:           e.ID,
		EmailFieldThreadID:     e.ThreadID,
		EmailFieldFrom:         e.From,
		EmailFieldReplyToEmail: e.ReplyToEmail,
		EmailFieldSubject:      e.Subject,
		EmailFieldDate:         e.Date,
		EmailFieldSnippet:      e.Snippet,
		EmailFieldBody:         e.Body,
	}
}

// StatusValue parses the stored status. ok is false while no status is set.
func (e *EmailRecord) StatusValue() (EmailStatus, bool) {
	return ParseEmailStatus(e.Status)
}
