package agent

import (
	"strings"

	"mailpipe/internal/pipeline"
)

const jsonOnly = "URGENT INSTRUCTIONS: Respond with valid JSON only, and extremely important that it's without the ```json ``` tags. Do not include any other markdown text. Use exactly these keys:\n"

const categoryKeys = jsonOnly +
	"  \"category\": string, the category of the email from one of the following: 'newsletter', 'promotional', 'social', 'spam', 'scam', 'general', 'other', 'ignored'\n"

const replyKeys = jsonOnly +
	"  \"draftText\": string, the reply body (plain text, 2-3 short sentences)\n" +
	"  \"draftSubject\": string, subject line for the reply (e.g. Re: <original subject>), or Re: No Subject if the original subject is empty\n"

func originalEmail(from, subject, body string) string {
	return "Original email from: " + from + "\nSubject: " + subject + "\n\nBody:\n" + body + "\n\n"
}

func categoryPrompt(in pipeline.ClassifyInput) string {
	var b strings.Builder
	b.WriteString("Determine the category of the email based on the subject and body to the best of your ability.\n\n")
	b.WriteString(originalEmail(in.From, in.Subject, in.Body))
	if len(in.IgnorePhrases) > 0 {
		b.WriteString("The user wants to IGNORE these types of emails (do not generate drafts for them): ")
		b.WriteString(strings.Join(in.IgnorePhrases, ", "))
		b.WriteString(".\nIf this email matches any of these descriptions, respond with category 'ignored'.\n\n")
	}
	b.WriteString(categoryKeys)
	return b.String()
}

func replyPrompt(in pipeline.DraftInput) string {
	return "Generate a small and brief professional reply to this email.\n\n" +
		originalEmail(in.From, in.Subject, in.Body) +
		replyKeys +
		"Category: " + in.Category + "\n\n" +
		"Signoff: " + in.Signoff + "\n\n"
}

// stripJSONCodeFence drops a surrounding ``` fence and keeps what is inside.
// A closing fence only counts on its own line or at the very end.
func stripJSONCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	nl := strings.IndexByte(s, '\n')
	if nl == -1 {
		return s
	}
	s = s[nl+1:]
	if end := strings.LastIndex(s, "\n```"); end != -1 {
		return strings.TrimSpace(s[:end])
	}
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}
