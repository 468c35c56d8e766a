package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// AuditLog represents a record stored in ledger_audit_logs.
type AuditLog struct {
	OrgID    int64
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// Validate checks the fields every audit row needs.
func (l AuditLog) Validate() error {
	switch {
	case l.OrgID <= 0:
		return Invalid("org_id", "must be positive")
	case l.Action == "":
		return Invalid("action", "required")
	case l.Entity == "" || l.EntityID == "":
		return Invalid("entity", "entity and entity_id required")
	}
	return nil
}

// AuditRecorder is satisfied by AuditLogger and by test doubles.
type AuditRecorder interface {
	Record(ctx context.Context, log AuditLog) error
}

// AuditLogger writes records into ledger_audit_logs.
type AuditLogger struct {
	db Execer
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(db Execer) *AuditLogger {
	return &AuditLogger{db: db}
}

// Record persists the log entry. A nil Meta is stored as an empty object.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("audit logger not initialised")
	}
	if err := log.Validate(); err != nil {
		return err
	}
	if log.At.IsZero() {
		log.At = time.Now()
	}
	meta := log.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("audit: encode meta: %w", err)
	}
	_, err = l.db.Exec(ctx, `INSERT INTO ledger_audit_logs (org_id, actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, log.OrgID, log.ActorID, log.Action, log.Entity, log.EntityID, metaJSON, log.At.UTC())
	if err != nil {
		return fmt.Errorf("audit: insert %s %s: %w", log.Entity, log.Action, err)
	}
	return nil
}
