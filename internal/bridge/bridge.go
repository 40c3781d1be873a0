// Package bridge ties the pieces together: each sensor reading that
// arrives over MQTT is logged, turned into a quote, optionally paired
// with a fresh inbox summary, and answered on the backend topic.
package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/auralink/auralink-bridge/internal/auditlog"
	"github.com/auralink/auralink-bridge/internal/email"
	"github.com/auralink/auralink-bridge/internal/textgen"
	"github.com/auralink/auralink-bridge/internal/usage"
)

// CheckedRecentlySummary is shown while the mailbox poll interval has
// not yet elapsed.
const CheckedRecentlySummary = "Checked recently"

// MailboxReader fetches unread mail. Implementations never fail; an
// unreachable mailbox yields no items.
type MailboxReader interface {
	FetchRecentUnread(ctx context.Context, maxCount int) []email.Item
}

// TextGenerator writes the display text.
type TextGenerator interface {
	GenerateQuote(ctx context.Context, temperature, humidity float64) string
	SummarizeEmails(ctx context.Context, items []email.Item) (string, textgen.Urgency)
}

// Publisher delivers a payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// SensorSink stores readings for later analysis.
type SensorSink interface {
	WriteReading(ctx context.Context, device string, temperature, humidity float64, at time.Time) error
}

// Config controls per-reading behavior.
type Config struct {
	// BackendTopic receives every response.
	BackendTopic string
	// EmailCheckInterval is the minimum time between mailbox polls.
	EmailCheckInterval time.Duration
	// MaxEmails caps how many unread messages one poll fetches.
	MaxEmails int
	// SensorLog is the append-only reading log; empty disables it.
	SensorLog string
	// HandlerTimeout bounds one HandleMessage call; zero means no bound
	// beyond the caller's context.
	HandlerTimeout time.Duration
}

// Bridge handles sensor readings one at a time.
type Bridge struct {
	cfg       Config
	mailbox   MailboxReader
	gen       TextGenerator
	pub       Publisher
	sink      SensorSink
	tokens    *usage.DailyTokens
	sensorLog *auditlog.File
	logger    *slog.Logger
	now       func() time.Time

	mu             sync.Mutex
	lastEmailCheck time.Time // zero until the first completed poll
}

// New creates a Bridge.
func New(cfg Config, mailbox MailboxReader, gen TextGenerator, pub Publisher, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		cfg:       cfg,
		mailbox:   mailbox,
		gen:       gen,
		pub:       pub,
		sensorLog: auditlog.New(cfg.SensorLog),
		logger:    logger.With("component", "bridge"),
		now:       time.Now,
	}
}

// SetSensorSink enables writing each reading to s.
func (b *Bridge) SetSensorSink(s SensorSink) {
	b.sink = s
}

// SetTokenCounter reports daily token totals in the response log line.
func (b *Bridge) SetTokenCounter(t *usage.DailyTokens) {
	b.tokens = t
}

// LastEmailCheck returns when the mailbox was last polled, or the zero
// time if it never was.
func (b *Bridge) LastEmailCheck() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastEmailCheck
}

// HandleMessage processes one sensor payload. It never returns an
// error: a malformed payload is logged and dropped, and every
// downstream failure degrades to fallback text or a logged warning.
// Concurrent calls are serialized; callers that need arrival order must
// call it from one goroutine, as the mqtt worker does.
func (b *Bridge) HandleMessage(ctx context.Context, topic string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cfg.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.HandlerTimeout)
		defer cancel()
	}

	log := b.logger.With("reading_id", newReadingID(), "topic", topic)

	reading, err := DecodeReading(payload)
	if err != nil {
		log.Warn("dropping malformed sensor payload", "error", err, "payload_size", len(payload))
		return
	}
	log = log.With("device", reading.Device)
	log.Info("sensor reading received", "temperature", reading.Temperature, "humidity", reading.Humidity)

	b.record(ctx, log, reading)

	quote := b.gen.GenerateQuote(ctx, reading.Temperature, reading.Humidity)
	summary, urgency := b.emailSummary(ctx, log)

	resp := Response{
		Quote:        quote,
		EmailSummary: summary,
		Urgency:      urgency,
		Timestamp:    b.now().Format(TimestampLayout),
	}
	b.publish(ctx, log, resp)
}

// record writes the reading to the sensor log and the optional sink.
func (b *Bridge) record(ctx context.Context, log *slog.Logger, r SensorReading) {
	at := b.now()
	if err := b.sensorLog.Append(at, r.logLine()); err != nil {
		log.Warn("sensor log write failed", "path", b.sensorLog.Path(), "error", err)
	}
	if b.sink != nil {
		if err := b.sink.WriteReading(ctx, r.Device, r.Temperature, r.Humidity, at); err != nil {
			log.Warn("sensor sink write failed", "error", err)
		}
	}
}

// emailSummary polls the mailbox when the interval has elapsed since
// the last completed poll, and otherwise returns a placeholder.
func (b *Bridge) emailSummary(ctx context.Context, log *slog.Logger) (string, textgen.Urgency) {
	now := b.now()
	if !b.lastEmailCheck.IsZero() {
		since := now.Sub(b.lastEmailCheck)
		if since < b.cfg.EmailCheckInterval {
			log.Debug("email check skipped", "next_check_in", (b.cfg.EmailCheckInterval - since).Round(time.Second))
			return CheckedRecentlySummary, textgen.UrgencyLow
		}
		log.Info("checking email", "last_check_ago", since.Round(time.Second))
	} else {
		log.Info("checking email", "last_check_ago", "never")
	}

	items := b.mailbox.FetchRecentUnread(ctx, b.cfg.MaxEmails)
	summary, urgency := b.gen.SummarizeEmails(ctx, items)
	b.lastEmailCheck = now
	return summary, urgency
}

func (b *Bridge) publish(ctx context.Context, log *slog.Logger, resp Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		log.Error("response marshal failed", "error", err)
		return
	}

	if err := b.pub.Publish(ctx, b.cfg.BackendTopic, payload); err != nil {
		log.Error("response publish failed", "backend_topic", b.cfg.BackendTopic, "error", err)
		return
	}

	attrs := []any{
		"backend_topic", b.cfg.BackendTopic,
		"quote", resp.Quote,
		"email_summary", resp.EmailSummary,
		"urgency", resp.Urgency.String(),
	}
	if b.tokens != nil {
		in, out, requests := b.tokens.Snapshot()
		attrs = append(attrs, "tokens_today", in+out, "llm_requests_today", requests)
	}
	log.Info("response sent to device", attrs...)
}

// newReadingID returns a time-ordered identifier for log correlation.
func newReadingID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
