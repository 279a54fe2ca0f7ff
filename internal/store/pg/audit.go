package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"paylane.org/internal/authz"
	"paylane.org/internal/ids"
)

var _ authz.AuditSink = (*Store)(nil)

// Record appends an audit entry. Entries are write-only from the engine's
// point of view; reads happen through external log tooling.
func (s *Store) Record(ctx context.Context, entry authz.AuditEntry) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	id := entry.ID
	if id == "" {
		id = ids.New()
	}
	var before, after []byte
	var err error
	if len(entry.Before) > 0 {
		if before, err = json.Marshal(entry.Before); err != nil {
			return fmt.Errorf("marshal before snapshot: %w", err)
		}
	}
	if len(entry.After) > 0 {
		if after, err = json.Marshal(entry.After); err != nil {
			return fmt.Errorf("marshal after snapshot: %w", err)
		}
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_entries (id, actor, action, target_entity, before, after)
		values ($1, $2, $3, $4, $5, $6)
	`, id, entry.Actor, entry.Action, entry.TargetEntity, nullableBytes(before), nullableBytes(after))
	return err
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
