package email

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFetchRecentUnread_Unconfigured(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "email_log.txt")
	cfg := Config{ActivityLog: logPath}
	cfg.ApplyDefaults()
	r := NewReader(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if items := r.FetchRecentUnread(context.Background(), 5); len(items) != 0 {
		t.Errorf("got %d items from unconfigured mailbox, want 0", len(items))
	}
	if _, err := os.Stat(logPath); !os.IsNotExist(err) {
		t.Error("unconfigured mailbox should not write the activity log")
	}
}

func TestFetchRecentUnread_ConnectFailureIsSwallowed(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "email_log.txt")
	cfg := Config{
		Host:        "127.0.0.1",
		Port:        1, // nothing listens here
		Username:    "user@example.com",
		Password:    "secret",
		TLS:         false,
		ActivityLog: logPath,
	}
	cfg.ApplyDefaults()
	r := NewReader(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	items := r.FetchRecentUnread(context.Background(), 5)
	if len(items) != 0 {
		t.Errorf("got %d items after connect failure, want 0", len(items))
	}
	if _, err := os.Stat(logPath); !os.IsNotExist(err) {
		t.Error("failed poll should not write the activity log")
	}
}

func TestFetchRecentUnread_CancelledContext(t *testing.T) {
	cfg := Config{Host: "imap.example.com", Username: "user"}
	cfg.ApplyDefaults()
	cfg.ActivityLog = filepath.Join(t.TempDir(), "email_log.txt")
	r := NewReader(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if items := r.FetchRecentUnread(ctx, 5); len(items) != 0 {
		t.Errorf("got %d items with cancelled context, want 0", len(items))
	}
}

func TestFetchRecentUnread_StalledServerHonorsDeadline(t *testing.T) {
	// Accepts connections but never sends the IMAP greeting.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	logPath := filepath.Join(t.TempDir(), "email_log.txt")
	cfg := Config{
		Host:        "127.0.0.1",
		Port:        addr.Port,
		Username:    "user@example.com",
		Password:    "secret",
		ActivityLog: logPath,
	}
	cfg.ApplyDefaults()
	cfg.TLS = false
	r := NewReader(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	items := r.FetchRecentUnread(ctx, 5)
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("poll took %v against a stalled server, want it bounded by the context", elapsed)
	}
	if len(items) != 0 {
		t.Errorf("got %d items from a stalled server, want 0", len(items))
	}
	if _, err := os.Stat(logPath); !os.IsNotExist(err) {
		t.Error("timed-out poll should not write the activity log")
	}
}
