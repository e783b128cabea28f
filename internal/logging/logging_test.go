package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
)

// TestNewJSON writes structured entries at the configured level.
func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := New("warn", "json", &buf)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	l.Info("hidden")
	l.WithField("job_id", "a").Warn("shown")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if entry["msg"] != "shown" || entry["job_id"] != "a" {
		t.Fatalf("entry = %v", entry)
	}
	if l.GetLevel() != logrus.WarnLevel {
		t.Fatalf("level = %v", l.GetLevel())
	}
}

// TestNewRejectsBadConfig covers level and format errors.
func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New("loud", "text", nil); err == nil {
		t.Fatal("bad level accepted")
	}
	if _, err := New("info", "xml", nil); err == nil {
		t.Fatal("bad format accepted")
	}
}
