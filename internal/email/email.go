// Package email reads recent unread messages from an IMAP mailbox and
// reduces each one to the sender, subject, date, and a short plain-text
// preview suitable for summarization on a small display.
//
// Every poll opens a fresh connection, fetches, and logs out again.
// Failures never propagate out of [Reader.FetchRecentUnread]: they are
// logged and the poll reports whatever it managed to read.
package email

import (
	"io"

	"github.com/emersion/go-imap/v2"
)

// MaxBodyChars is the number of characters of body text kept per item.
const MaxBodyChars = 1000

// Item is one unread message reduced to what the summarizer needs.
// Items are created per poll and never persisted.
type Item struct {
	// UID is the IMAP unique identifier within the polled folder.
	UID uint32

	// Sender is the display name from the From header, the bare address
	// when there is no name, or the raw header as a last resort.
	Sender string

	// Subject is the decoded Subject header.
	Subject string

	// Date is the raw Date header.
	Date string

	// Body is the whitespace-collapsed plain-text body, at most
	// MaxBodyChars characters.
	Body string
}

// drainLiteral reads and discards the contents of an IMAP literal reader.
// This prevents blocking the IMAP stream when a body section is fetched
// but not consumed. Nil readers are handled gracefully.
func drainLiteral(r imap.LiteralReader) {
	if r == nil {
		return
	}
	_, _ = io.Copy(io.Discard, r)
}
