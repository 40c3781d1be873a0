package email

import (
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset" // registers message.CharsetReader
	"github.com/emersion/go-message/mail"
)

// maxPartSize is the most body text read from any single MIME part.
// Only MaxBodyChars survive, but whitespace collapsing happens first so
// the raw read must be generous.
const maxPartSize = 256 * 1024

// maxRawMessageSize is the maximum raw RFC822 message size to buffer
// when reading from the IMAP literal. Messages larger than this (e.g.
// with huge attachments) are truncated; the remainder of the literal
// is drained to keep the IMAP stream in sync.
const maxRawMessageSize = 5 * 1024 * 1024

// parseMessage turns a raw RFC 822 message into an Item.
//
// The go-message library's mail.CreateReader and NextPart may return
// both a valid reader/part AND an error when the message uses an
// unknown charset. Those are treated as non-fatal: the part's bytes are
// used undecoded and invalid UTF-8 is dropped.
func (r *Reader) parseMessage(raw io.Reader) (Item, error) {
	var item Item

	mr, err := mail.CreateReader(raw)
	if err != nil && !message.IsUnknownCharset(err) {
		return item, fmt.Errorf("create mail reader: %w", err)
	}
	if mr == nil {
		return item, fmt.Errorf("create mail reader returned nil")
	}
	if err != nil {
		r.logger.Debug("mail reader created with charset warning", "error", err)
	}

	item.Subject = DecodeHeader(mr.Header.Get("Subject"))
	if item.Subject == "" {
		item.Subject = "No Subject"
	}
	item.Sender = SenderName(mr.Header.Get("From"))
	item.Date = strings.TrimSpace(mr.Header.Get("Date"))

	body, err := r.extractBody(mr)
	if err != nil {
		return item, err
	}
	item.Body = truncateChars(collapseWhitespace(body), MaxBodyChars)
	return item, nil
}

// extractBody walks the MIME tree depth-first and returns the first
// inline text/plain part. When the message has none, the first
// text/html part is rendered to text instead. Attachments are skipped.
func (r *Reader) extractBody(mr *mail.Reader) (string, error) {
	var htmlBody string
	haveHTML := false

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return "", fmt.Errorf("next part: %w", err)
		}
		if part == nil {
			continue
		}
		if err != nil {
			r.logger.Debug("part has charset warning", "error", err)
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()

		switch {
		case contentType == "text/plain" || contentType == "":
			text, err := readPart(part.Body)
			if err != nil {
				r.logger.Debug("error reading text/plain part", "error", err)
				continue
			}
			return text, nil

		case contentType == "text/html" && !haveHTML:
			text, err := readPart(part.Body)
			if err != nil {
				r.logger.Debug("error reading text/html part", "error", err)
				continue
			}
			htmlBody = text
			haveHTML = true
		}
	}

	if haveHTML {
		return htmlToText(htmlBody), nil
	}
	return "", nil
}

// readPart reads up to maxPartSize bytes of an already charset-decoded
// part body and drops any invalid UTF-8.
func readPart(body io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(body, maxPartSize))
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(data), ""), nil
}
