package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "confchatd.log")

	logger, err := New(path, "work")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("socket connected")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	line := bytes.SplitN(bytes.TrimSpace(data), []byte("\n"), 2)[0]

	var entry map[string]any
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, line)
	}
	if entry["msg"] != "socket connected" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["profile"] != "work" {
		t.Errorf("profile = %v, want work", entry["profile"])
	}
	if _, ok := entry["pid"]; !ok {
		t.Error("pid field missing")
	}
	if _, ok := entry["ts"]; !ok {
		t.Error("ts field missing")
	}
}
