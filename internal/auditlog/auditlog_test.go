package auditlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAppend_CreatesAndAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensor_log.txt")
	f := New(path)
	at := time.Date(2024, 10, 19, 14, 3, 9, 0, time.Local)

	if err := f.Append(at, "Temp: 22°C | Humidity: 45%"); err != nil {
		t.Fatalf("first Append: %v", err)
	}
	if err := f.Append(at.Add(time.Second), "Temp: 23°C | Humidity: 44%"); err != nil {
		t.Fatalf("second Append: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := "2024-10-19 14:03:09 | Temp: 22°C | Humidity: 45%\n" +
		"2024-10-19 14:03:10 | Temp: 23°C | Humidity: 44%\n"
	if string(data) != want {
		t.Errorf("file content = %q, want %q", string(data), want)
	}
}

func TestAppend_FlattensNewlines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	f := New(path)

	if err := f.Append(time.Now(), "line one\nline two"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	data, _ := os.ReadFile(path)
	if n := strings.Count(string(data), "\n"); n != 1 {
		t.Errorf("got %d newlines, want 1: %q", n, string(data))
	}
}

func TestAppend_EmptyPathDiscards(t *testing.T) {
	if err := New("").Append(time.Now(), "ignored"); err != nil {
		t.Errorf("Append with empty path: %v", err)
	}
	var f *File
	if err := f.Append(time.Now(), "ignored"); err != nil {
		t.Errorf("Append on nil File: %v", err)
	}
}

func TestAppend_UnwritableDirectory(t *testing.T) {
	f := New(filepath.Join(t.TempDir(), "missing", "log.txt"))
	if err := f.Append(time.Now(), "x"); err == nil {
		t.Error("expected error for missing parent directory")
	}
}
