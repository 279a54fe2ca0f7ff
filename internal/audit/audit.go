// Package audit mirrors engine audit entries to the shared JSON log and an
// optional persistent sink.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"paylane.org/internal/auth"
	"paylane.org/internal/authz"
	"paylane.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and subject context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if subjectID, ok := auth.SubjectFromContext(ctx); ok {
		entry["subject_id"] = subjectID
	}
	if len(fields) > 0 {
		copyFields := make(map[string]any, len(fields))
		for k, v := range fields {
			copyFields[k] = v
		}
		entry["fields"] = copyFields
	} else {
		entry["fields"] = map[string]any{}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}

// Recorder implements authz.AuditSink by persisting each entry to the store
// sink and mirroring it onto the JSON log. The store write happens first and
// blocks: a mutation only reports success once its audit entry is durable.
type Recorder struct {
	store authz.AuditSink
}

// NewRecorder wraps a persistent sink; a nil store records to the log only.
func NewRecorder(store authz.AuditSink) *Recorder {
	return &Recorder{store: store}
}

var _ authz.AuditSink = (*Recorder)(nil)

func (r *Recorder) Record(ctx context.Context, entry authz.AuditEntry) error {
	if r.store != nil {
		if err := r.store.Record(ctx, entry); err != nil {
			return err
		}
	}
	fields := map[string]any{
		"actor":  entry.Actor,
		"action": entry.Action,
		"target": entry.TargetEntity,
	}
	if len(entry.Before) > 0 {
		fields["before"] = entry.Before
	}
	if len(entry.After) > 0 {
		fields["after"] = entry.After
	}
	return LogEvent(ctx, entry.Action, fields)
}
