package email

import (
	"io"
	"mime"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message/charset"
)

// headerDecoder decodes RFC 2047 encoded-words using every charset that
// go-message/charset knows about. Unknown charsets pass the raw bytes
// through instead of failing the whole header; invalid UTF-8 is dropped
// afterwards by DecodeHeader.
var headerDecoder = &mime.WordDecoder{
	CharsetReader: func(cs string, input io.Reader) (io.Reader, error) {
		r, err := charset.Reader(cs, input)
		if err != nil {
			return input, nil
		}
		return r, nil
	},
}

// DecodeHeader decodes every encoded-word segment of a header value
// (B or Q transfer encoding, any known charset) and merges the result
// into one string. Segments in an unknown charset, and bytes that are
// not valid UTF-8, degrade to a lossy UTF-8 rendering rather than an
// error.
func DecodeHeader(raw string) string {
	decoded, err := headerDecoder.DecodeHeader(raw)
	if err != nil {
		decoded = raw
	}
	return strings.TrimSpace(strings.ToValidUTF8(decoded, ""))
}

var (
	// namedAddrRe matches `"Name" <addr>` and `Name <addr>`.
	namedAddrRe = regexp.MustCompile(`^"?([^"<]+)"?\s*<.*>$`)
	// bracketAddrRe matches a bare `<addr>` anywhere in the header.
	bracketAddrRe = regexp.MustCompile(`<(.+?)>`)
)

// SenderName extracts a display name from a From header value. It is a
// best-effort pattern match, not an RFC 5322 parser: a leading display
// name wins, then the address inside angle brackets, then the header as
// given. Encoded-words are decoded first.
func SenderName(from string) string {
	from = DecodeHeader(from)
	if from == "" {
		return "Unknown"
	}

	if m := namedAddrRe.FindStringSubmatch(from); m != nil {
		if name := strings.TrimSpace(m[1]); name != "" {
			return name
		}
	}
	if m := bracketAddrRe.FindStringSubmatch(from); m != nil {
		return m[1]
	}
	return from
}

// collapseWhitespace replaces every run of whitespace with one space
// and trims the ends.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncateChars returns the first n characters (runes) of s.
func truncateChars(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
