package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestLoggerEmitsJSONWithService(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf, "warn")
	l.Info("dropped")
	l.Warn("ride_accept_conflict", "ride_id", "r1")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected exactly one JSON record, got %q: %v", buf.String(), err)
	}
	if rec["service"] != serviceName || rec["ride_id"] != "r1" || rec["msg"] != "ride_accept_conflict" {
		t.Fatalf("unexpected record: %v", rec)
	}
}
