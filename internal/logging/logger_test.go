package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func capture(level string) (*Logger, *bytes.Buffer) {
	l := New(&Config{Level: level, Component: "test", JSONFormat: true})
	buf := &bytes.Buffer{}
	l.output = buf
	return l, buf
}

func TestLogKeyValuePairs(t *testing.T) {
	l, buf := capture("INFO")
	l.Info("cycle done", "instrument", "EUR_USD", "score", 78)

	var entry Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry.Message != "cycle done" {
		t.Errorf("message = %q, want untouched message", entry.Message)
	}
	if entry.Fields["instrument"] != "EUR_USD" {
		t.Errorf("fields = %v", entry.Fields)
	}
}

func TestLogMessageIsNotAFormatString(t *testing.T) {
	l, buf := capture("INFO")
	l.Info("progress 50% for %s", "EUR_USD")

	var entry Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := "progress 50% for %s EUR_USD"
	if entry.Message != want {
		t.Errorf("message = %q, want %q (verbs must not be interpreted)", entry.Message, want)
	}
}

func TestLogLevelFilter(t *testing.T) {
	l, buf := capture("WARN")
	l.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info below WARN level was written: %s", buf.String())
	}
	l.Warn("kept")
	if buf.Len() == 0 {
		t.Error("warn at WARN level was not written")
	}
}
