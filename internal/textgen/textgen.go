// Package textgen turns sensor readings and unread mail into the short
// strings shown on the AuraLink display: a poetic quote and an inbox
// summary with an urgency level. Every method returns usable text; model
// failures are logged and replaced with fixed fallbacks.
package textgen

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/auralink/auralink-bridge/internal/email"
	"github.com/auralink/auralink-bridge/internal/llm"
	"github.com/auralink/auralink-bridge/internal/prompts"
	"github.com/auralink/auralink-bridge/internal/usage"
)

// Display limits, in characters.
const (
	MaxQuoteChars   = 80
	MaxSummaryChars = 150
)

// Fallback texts.
const (
	FallbackQuote  = "Every moment holds new possibilities"
	NoEmailSummary = "No new emails"
)

// Sampling parameters for the two completion calls.
var (
	quoteOptions   = llm.Options{Temperature: 0.8, MaxTokens: 30}
	summaryOptions = llm.Options{Temperature: 0.3, MaxTokens: 80}
)

// Urgency classifies an inbox summary. The numeric values are part of
// the device protocol.
type Urgency int

const (
	UrgencyLow    Urgency = 0
	UrgencyMedium Urgency = 1
	UrgencyHigh   Urgency = 2
)

func (u Urgency) String() string {
	switch u {
	case UrgencyLow:
		return "LOW"
	case UrgencyMedium:
		return "MEDIUM"
	case UrgencyHigh:
		return "HIGH"
	}
	return fmt.Sprintf("Urgency(%d)", int(u))
}

// ParseUrgency maps a case-insensitive HIGH/MEDIUM/LOW label to an
// Urgency. Anything else is Low.
func ParseUrgency(s string) Urgency {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HIGH":
		return UrgencyHigh
	case "MEDIUM":
		return UrgencyMedium
	}
	return UrgencyLow
}

// Generator produces display text through an LLM client.
type Generator struct {
	client llm.Client
	model  string
	logger *slog.Logger
	tokens *usage.DailyTokens
}

// New creates a Generator. tokens may be nil.
func New(client llm.Client, model string, tokens *usage.DailyTokens, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		client: client,
		model:  model,
		logger: logger.With("component", "textgen", "model", model),
		tokens: tokens,
	}
}

// TemperatureLabel describes an indoor temperature in °C.
func TemperatureLabel(c float64) string {
	switch {
	case c > 25:
		return "warm"
	case c < 20:
		return "cool"
	}
	return "comfortable"
}

// HumidityLabel describes relative humidity in percent.
func HumidityLabel(pct float64) string {
	switch {
	case pct > 60:
		return "humid"
	case pct < 40:
		return "dry"
	}
	return "balanced"
}

// GenerateQuote asks the model for a quote inspired by the room
// conditions. The result is never empty and never longer than
// MaxQuoteChars characters.
func (g *Generator) GenerateQuote(ctx context.Context, temperature, humidity float64) string {
	prompt := prompts.QuotePrompt(temperature, TemperatureLabel(temperature), humidity, HumidityLabel(humidity))

	text, err := g.complete(ctx, prompts.QuoteSystem, prompt, quoteOptions)
	if err != nil {
		g.logger.Warn("quote generation failed, using fallback", "error", err)
		return FallbackQuote
	}

	quote := truncate(stripQuotes(text), MaxQuoteChars)
	if quote == "" {
		g.logger.Warn("model returned an empty quote, using fallback")
		return FallbackQuote
	}
	g.logger.Debug("quote generated", "quote", quote)
	return quote
}

var (
	summaryRe = regexp.MustCompile(`(?i)SUMMARY:\s*([^\r\n]+)`)
	urgencyRe = regexp.MustCompile(`(?i)URGENCY:\s*(HIGH|MEDIUM|LOW)`)
)

// SummarizeEmails condenses items into one line for the display and
// classifies how urgent they are. The summary is never longer than
// MaxSummaryChars characters.
func (g *Generator) SummarizeEmails(ctx context.Context, items []email.Item) (string, Urgency) {
	if len(items) == 0 {
		return NoEmailSummary, UrgencyLow
	}

	digests := make([]prompts.EmailDigest, len(items))
	for i, it := range items {
		digests[i] = prompts.EmailDigest{Sender: it.Sender, Subject: it.Subject, Body: it.Body}
	}

	text, err := g.complete(ctx, prompts.EmailSummarySystem, prompts.EmailSummaryPrompt(digests), summaryOptions)
	if err != nil {
		g.logger.Warn("email summary failed, using fallback", "emails", len(items), "error", err)
		return countSummary(len(items)), UrgencyMedium
	}

	summary, urgency := parseSummary(text, len(items))
	g.logger.Debug("emails summarized", "summary", summary, "urgency", urgency)
	return summary, urgency
}

// parseSummary extracts the SUMMARY and URGENCY lines from a model reply.
func parseSummary(text string, count int) (string, Urgency) {
	summary := ""
	// The summary may sit on the line after its label; an empty label
	// followed directly by URGENCY has none.
	if m := summaryRe.FindStringSubmatch(text); m != nil && !strings.HasPrefix(strings.ToUpper(m[1]), "URGENCY:") {
		summary = strings.Trim(strings.TrimSpace(m[1]), `"`)
	}
	if summary == "" {
		summary = countSummary(count)
	}

	urgency := UrgencyLow
	if m := urgencyRe.FindStringSubmatch(text); m != nil {
		urgency = ParseUrgency(m[1])
	}

	return truncate(summary, MaxSummaryChars), urgency
}

func countSummary(n int) string {
	return fmt.Sprintf("%d new emails", n)
}

// complete runs one system+user exchange and records token usage.
func (g *Generator) complete(ctx context.Context, system, user string, opts llm.Options) (string, error) {
	if g.client == nil {
		return "", fmt.Errorf("no LLM client configured")
	}
	resp, err := g.client.Chat(ctx, g.model, []llm.Message{llm.System(system), llm.User(user)}, opts)
	if err != nil {
		return "", err
	}
	if g.tokens != nil {
		g.tokens.OnTokens(resp.InputTokens, resp.OutputTokens)
	}
	return strings.TrimSpace(resp.Message.Content), nil
}

// stripQuotes removes surrounding straight and curly quotation marks.
func stripQuotes(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "\"'“”‘’"))
}

// truncate shortens s to at most n characters, ending in "..." when cut.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}
