package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/auralink/auralink-bridge/internal/email"
	"github.com/auralink/auralink-bridge/internal/llm"
	"github.com/auralink/auralink-bridge/internal/prompts"
	"github.com/auralink/auralink-bridge/internal/textgen"
	"github.com/auralink/auralink-bridge/internal/usage"
)

const backendTopic = "auralink/backend/message"

type fakeMailbox struct {
	mu      sync.Mutex
	items   []email.Item
	fetches int
	active  atomic.Int32
	maxSeen atomic.Int32
	delay   time.Duration
}

func (f *fakeMailbox) FetchRecentUnread(_ context.Context, maxCount int) []email.Item {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(f.delay)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if len(f.items) > maxCount {
		return f.items[:maxCount]
	}
	return f.items
}

func (f *fakeMailbox) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

type fakeGenerator struct {
	mu           sync.Mutex
	quoteCalls   int
	lastTemp     float64
	lastHumidity float64
	summarized   [][]email.Item
}

func (f *fakeGenerator) GenerateQuote(_ context.Context, temperature, humidity float64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteCalls++
	f.lastTemp, f.lastHumidity = temperature, humidity
	return "In stillness, serenity blooms"
}

func (f *fakeGenerator) SummarizeEmails(_ context.Context, items []email.Item) (string, textgen.Urgency) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summarized = append(f.summarized, items)
	if len(items) == 0 {
		return textgen.NoEmailSummary, textgen.UrgencyLow
	}
	return "1 email: invoice due", textgen.UrgencyHigh
}

type published struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{topic, payload})
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakePublisher) last(t *testing.T) Response {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("nothing was published")
	}
	p := f.sent[len(f.sent)-1]
	if p.topic != backendTopic {
		t.Errorf("published to %q, want %q", p.topic, backendTopic)
	}
	var r Response
	if err := json.Unmarshal(p.payload, &r); err != nil {
		t.Fatalf("published payload is not a Response: %v (%s)", err, p.payload)
	}
	return r
}

type fakeSink struct {
	device string
	temp   float64
	err    error
	writes int
}

func (f *fakeSink) WriteReading(_ context.Context, device string, temperature, _ float64, _ time.Time) error {
	f.writes++
	f.device, f.temp = device, temperature
	return f.err
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	bridge  *Bridge
	mailbox *fakeMailbox
	gen     *fakeGenerator
	pub     *fakePublisher
	clock   *fakeClock
	logs    *bytes.Buffer
	logPath string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		mailbox: &fakeMailbox{},
		gen:     &fakeGenerator{},
		pub:     &fakePublisher{},
		clock:   &fakeClock{t: time.Date(2024, 10, 19, 9, 30, 0, 0, time.Local)},
		logs:    &bytes.Buffer{},
		logPath: filepath.Join(t.TempDir(), "sensor_log.txt"),
	}
	logger := slog.New(slog.NewTextHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h.bridge = New(Config{
		BackendTopic:       backendTopic,
		EmailCheckInterval: 300 * time.Second,
		MaxEmails:          5,
		SensorLog:          h.logPath,
		HandlerTimeout:     time.Minute,
	}, h.mailbox, h.gen, h.pub, logger)
	h.bridge.now = h.clock.Now
	return h
}

func (h *harness) send(payload string) {
	h.bridge.HandleMessage(context.Background(), "auralink/sensor/data", []byte(payload))
}

func TestHandleMessage_EndToEnd(t *testing.T) {
	h := newHarness(t)
	h.mailbox.items = []email.Item{{UID: 9, Sender: "Billing", Subject: "Invoice due", Body: "Pay by Friday"}}

	h.send(`{"temperature": 22, "humidity": 45, "device": "esp32-1"}`)

	if h.pub.count() != 1 {
		t.Fatalf("published %d messages, want 1", h.pub.count())
	}
	resp := h.pub.last(t)

	if resp.Quote == "" || utf8.RuneCountInString(resp.Quote) > 80 {
		t.Errorf("quote %q violates length bounds", resp.Quote)
	}
	if resp.EmailSummary != "1 email: invoice due" || resp.Urgency != textgen.UrgencyHigh {
		t.Errorf("summary = (%q, %v), want mailbox-derived summary", resp.EmailSummary, resp.Urgency)
	}
	if _, err := time.ParseInLocation(TimestampLayout, resp.Timestamp, time.Local); err != nil {
		t.Errorf("timestamp %q does not match %s: %v", resp.Timestamp, TimestampLayout, err)
	}
	if resp.Timestamp != "2024-10-19 09:30:00" {
		t.Errorf("timestamp = %q, want clock time", resp.Timestamp)
	}

	if h.gen.lastTemp != 22 || h.gen.lastHumidity != 45 {
		t.Errorf("quote generated for (%v, %v), want (22, 45)", h.gen.lastTemp, h.gen.lastHumidity)
	}
	if h.mailbox.fetchCount() != 1 {
		t.Errorf("mailbox fetched %d times, want 1", h.mailbox.fetchCount())
	}

	data, err := os.ReadFile(h.logPath)
	if err != nil {
		t.Fatalf("sensor log: %v", err)
	}
	if got, want := string(data), "2024-10-19 09:30:00 | Temp: 22°C | Humidity: 45%\n"; got != want {
		t.Errorf("sensor log = %q, want %q", got, want)
	}

	if !strings.Contains(h.logs.String(), "reading_id=") {
		t.Error("log lines should carry a reading_id")
	}
}

func TestHandleMessage_EmptyMailbox(t *testing.T) {
	h := newHarness(t)
	h.send(`{"temperature": 22, "humidity": 45, "device": "esp32-1"}`)

	resp := h.pub.last(t)
	if resp.EmailSummary != "No new emails" || resp.Urgency != textgen.UrgencyLow {
		t.Errorf("summary = (%q, %v), want (No new emails, LOW)", resp.EmailSummary, resp.Urgency)
	}
}

func TestHandleMessage_PollGating(t *testing.T) {
	h := newHarness(t)
	payload := `{"temperature": 21, "humidity": 55, "device": "esp32-1"}`

	h.send(payload)
	firstPoll := h.bridge.LastEmailCheck()
	if firstPoll.IsZero() || h.mailbox.fetchCount() != 1 {
		t.Fatalf("first reading should poll (fetches=%d)", h.mailbox.fetchCount())
	}

	h.clock.Advance(299 * time.Second)
	h.send(payload)
	if h.mailbox.fetchCount() != 1 {
		t.Errorf("reading before the interval polled the mailbox")
	}
	resp := h.pub.last(t)
	if resp.EmailSummary != CheckedRecentlySummary || resp.Urgency != textgen.UrgencyLow {
		t.Errorf("gated summary = (%q, %v), want (%q, LOW)", resp.EmailSummary, resp.Urgency, CheckedRecentlySummary)
	}
	if !h.bridge.LastEmailCheck().Equal(firstPoll) {
		t.Error("a skipped poll must not move lastEmailCheck")
	}

	h.clock.Advance(time.Second) // exactly the interval
	h.send(payload)
	if h.mailbox.fetchCount() != 2 {
		t.Errorf("reading at the interval should poll (fetches=%d)", h.mailbox.fetchCount())
	}
	if got := h.bridge.LastEmailCheck(); !got.Equal(firstPoll.Add(300 * time.Second)) {
		t.Errorf("lastEmailCheck = %v, want %v", got, firstPoll.Add(300*time.Second))
	}

	if h.gen.quoteCalls != 3 {
		t.Errorf("quote generated %d times, want once per reading (3)", h.gen.quoteCalls)
	}
	if h.pub.count() != 3 {
		t.Errorf("published %d responses, want 3", h.pub.count())
	}
}

func TestHandleMessage_MalformedPayload(t *testing.T) {
	payloads := []string{
		"not json",
		"",
		"[22, 45]",
		"null",
		`{"temperature": "hot"}`,
		`{"temperature": 22,`,
	}

	for _, p := range payloads {
		t.Run(p, func(t *testing.T) {
			h := newHarness(t)
			h.send(p)

			if h.pub.count() != 0 {
				t.Errorf("malformed payload %q produced a publish", p)
			}
			if h.gen.quoteCalls != 0 || h.mailbox.fetchCount() != 0 {
				t.Errorf("malformed payload %q reached downstream components", p)
			}
			if _, err := os.Stat(h.logPath); !os.IsNotExist(err) {
				t.Errorf("malformed payload %q was written to the sensor log", p)
			}
			if !strings.Contains(h.logs.String(), "dropping malformed sensor payload") {
				t.Errorf("expected a warning for %q, got: %s", p, h.logs.String())
			}
		})
	}
}

func TestHandleMessage_Defaults(t *testing.T) {
	h := newHarness(t)
	sink := &fakeSink{}
	h.bridge.SetSensorSink(sink)

	h.send(`{}`)

	if h.gen.lastTemp != 25 || h.gen.lastHumidity != 50 {
		t.Errorf("defaults = (%v, %v), want (25, 50)", h.gen.lastTemp, h.gen.lastHumidity)
	}
	if sink.writes != 1 || sink.device != "Unknown" || sink.temp != 25 {
		t.Errorf("sink got %d writes, device %q, temp %v", sink.writes, sink.device, sink.temp)
	}
	if h.pub.count() != 1 {
		t.Errorf("published %d, want 1", h.pub.count())
	}
}

func TestHandleMessage_SinkFailureIsLogged(t *testing.T) {
	h := newHarness(t)
	h.bridge.SetSensorSink(&fakeSink{err: errors.New("bucket not found")})

	h.send(`{"temperature": 22, "humidity": 45, "device": "esp32-1"}`)

	if h.pub.count() != 1 {
		t.Errorf("sink failure should not block the response")
	}
	if !strings.Contains(h.logs.String(), "sensor sink write failed") {
		t.Error("expected sink failure to be logged")
	}
}

func TestHandleMessage_PublishFailureIsSwallowed(t *testing.T) {
	h := newHarness(t)
	h.pub.err = errors.New("not connected")

	h.send(`{"temperature": 22, "humidity": 45, "device": "esp32-1"}`)
	h.clock.Advance(time.Second)
	h.send(`{"temperature": 23, "humidity": 45, "device": "esp32-1"}`)

	if !strings.Contains(h.logs.String(), "response publish failed") {
		t.Errorf("expected publish failure to be logged, got: %s", h.logs.String())
	}
	if h.gen.quoteCalls != 2 {
		t.Errorf("handler should keep working after a publish failure")
	}
}

func TestHandleMessage_SensorLogFailureIsLogged(t *testing.T) {
	h := newHarness(t)
	h.bridge = New(Config{
		BackendTopic: backendTopic,
		SensorLog:    filepath.Join(t.TempDir(), "missing", "sensor_log.txt"),
		MaxEmails:    5,
	}, h.mailbox, h.gen, h.pub, slog.New(slog.NewTextHandler(h.logs, nil)))

	h.send(`{"temperature": 22, "humidity": 45, "device": "esp32-1"}`)

	if !strings.Contains(h.logs.String(), "sensor log write failed") {
		t.Error("expected sensor log failure to be logged")
	}
	if h.pub.count() != 1 {
		t.Error("sensor log failure should not block the response")
	}
}

func TestHandleMessage_Serialized(t *testing.T) {
	h := newHarness(t)
	h.bridge.cfg.EmailCheckInterval = 0 // poll on every reading
	h.mailbox.delay = 5 * time.Millisecond

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.send(`{"temperature": 22, "humidity": 45, "device": "esp32-1"}`)
		}()
	}
	wg.Wait()

	if got := h.mailbox.maxSeen.Load(); got != 1 {
		t.Errorf("max concurrent mailbox polls = %d, want 1", got)
	}
	if h.pub.count() != 8 {
		t.Errorf("published %d, want 8", h.pub.count())
	}
}

// scriptedLLM answers quote and summary prompts differently.
type scriptedLLM struct{}

func (scriptedLLM) Chat(_ context.Context, _ string, messages []llm.Message, _ llm.Options) (*llm.ChatResponse, error) {
	content := "SUMMARY: 1 email: Deadline from Alice\nURGENCY: HIGH"
	if messages[0].Content == prompts.QuoteSystem {
		content = `"Cool air whispers peace"`
	}
	return &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: content}, InputTokens: 10, OutputTokens: 4}, nil
}

func (scriptedLLM) Ping(context.Context) error { return nil }

func TestHandleMessage_WithTextGenerator(t *testing.T) {
	h := newHarness(t)
	h.mailbox.items = []email.Item{{UID: 1, Sender: "Alice", Subject: "Deadline", Body: "Due today"}}
	tokens := usage.NewDailyTokens(nil)
	gen := textgen.New(scriptedLLM{}, "test-model", tokens, slog.New(slog.NewTextHandler(h.logs, nil)))
	h.bridge.gen = gen
	h.bridge.SetTokenCounter(tokens)

	h.send(`{"temperature": 22, "humidity": 45, "device": "esp32-1"}`)

	resp := h.pub.last(t)
	if resp.Quote != "Cool air whispers peace" {
		t.Errorf("quote = %q", resp.Quote)
	}
	if resp.EmailSummary != "1 email: Deadline from Alice" || resp.Urgency != textgen.UrgencyHigh {
		t.Errorf("summary = (%q, %v)", resp.EmailSummary, resp.Urgency)
	}
	if !strings.Contains(h.logs.String(), "tokens_today=28") {
		t.Errorf("response log should report token usage, got: %s", h.logs.String())
	}

	var raw map[string]any
	h.pub.mu.Lock()
	json.Unmarshal(h.pub.sent[0].payload, &raw)
	h.pub.mu.Unlock()
	if raw["urgency"] != float64(2) {
		t.Errorf("urgency on the wire = %v, want number 2", raw["urgency"])
	}
	for _, key := range []string{"quote", "email_summary", "urgency", "timestamp"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("response missing %q", key)
		}
	}
}
