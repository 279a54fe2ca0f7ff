package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"paylane.org/internal/auth"
	"paylane.org/internal/authz"
	"paylane.org/internal/obs"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(original) })
	return &buf
}

func TestLogEvent(t *testing.T) {
	buf := captureLog(t)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = auth.ContextWithSubject(ctx, "user-42")

	if err := LogEvent(ctx, "audit.test", map[string]any{"foo": "bar"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != "audit.test" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["subject_id"] != "user-42" {
		t.Fatalf("unexpected subject id: %v", entry["subject_id"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["foo"] != "bar" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("blank event name must fail")
	}
}

type sinkFunc func(ctx context.Context, entry authz.AuditEntry) error

func (f sinkFunc) Record(ctx context.Context, entry authz.AuditEntry) error { return f(ctx, entry) }

func TestRecorderPersistsBeforeLogging(t *testing.T) {
	buf := captureLog(t)

	var stored []authz.AuditEntry
	rec := NewRecorder(sinkFunc(func(_ context.Context, entry authz.AuditEntry) error {
		stored = append(stored, entry)
		return nil
	}))

	entry := authz.AuditEntry{
		Actor:        "root",
		Action:       "authz.grant.create",
		TargetEntity: "grant:g1",
		After:        map[string]string{"effect": "DENY"},
	}
	if err := rec.Record(context.Background(), entry); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(stored) != 1 || stored[0].TargetEntity != "grant:g1" {
		t.Fatalf("stored = %v", stored)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if line["event"] != "authz.grant.create" {
		t.Fatalf("event = %v", line["event"])
	}
}

func TestRecorderStoreFailureWins(t *testing.T) {
	buf := captureLog(t)

	sinkErr := errors.New("disk full")
	rec := NewRecorder(sinkFunc(func(context.Context, authz.AuditEntry) error { return sinkErr }))

	err := rec.Record(context.Background(), authz.AuditEntry{Action: "authz.assignment.create"})
	if !errors.Is(err, sinkErr) {
		t.Fatalf("err = %v, want the sink error", err)
	}
	// No mirror line when the durable write failed.
	if buf.Len() != 0 {
		t.Fatalf("log = %q, want empty", buf.String())
	}
}

func TestRecorderWithoutStoreLogsOnly(t *testing.T) {
	buf := captureLog(t)
	rec := NewRecorder(nil)
	if err := rec.Record(context.Background(), authz.AuditEntry{Action: "authz.assignment.revoke"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("expected a log line")
	}
}
