package prompts

import (
	"fmt"
	"strings"
)

// EmailSummarySystem is the system message for inbox summarization.
const EmailSummarySystem = "You are an efficient email assistant creating ultra-brief summaries."

// EmailPreviewChars is how much of each body is shown to the model.
const EmailPreviewChars = 300

// EmailDigest is one message as presented to the summarizer.
type EmailDigest struct {
	Sender  string
	Subject string
	Body    string
}

const emailSummaryInstructions = `
Create a VERY brief summary (max 150 characters) for display on a small screen.

Format:
"%d emails: [brief description of most important]"

Also determine urgency:
- HIGH: Urgent keywords (urgent, asap, deadline, important, critical)
- MEDIUM: Work-related, meetings, tasks
- LOW: Newsletters, notifications, casual

Return format:
SUMMARY: [your summary]
URGENCY: [HIGH/MEDIUM/LOW]`

// EmailSummaryPrompt returns the user message listing each email's
// sender, subject, and the first EmailPreviewChars characters of its
// body, followed by the answer format the reply parser expects.
func EmailSummaryPrompt(emails []EmailDigest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "I have %d unread email(s):\n\n", len(emails))
	for i, e := range emails {
		fmt.Fprintf(&sb, "Email %d:\n", i+1)
		fmt.Fprintf(&sb, "From: %s\n", e.Sender)
		fmt.Fprintf(&sb, "Subject: %s\n", e.Subject)
		fmt.Fprintf(&sb, "Preview: %s\n\n", preview(e.Body, EmailPreviewChars))
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, emailSummaryInstructions, len(emails))
	return sb.String()
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
