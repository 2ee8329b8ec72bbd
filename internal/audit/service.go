// Package audit persists gateway transaction logs. Every terminal
// reconciliation outcome and every rejected input leaves one entry here when
// gateway logging is enabled, so disputed payments can be traced after the
// fact.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Well-known entry categories. Free-form categories such as "Failed: <msg>"
// are also allowed.
const (
	CategoryCallbackError    = "Callback Error"
	CategoryPaymentCancelled = "Payment Cancelled"
	CategoryPaymentInitError = "Payment Init Error"
	CategoryTransportError   = "Transport Error"
	CategorySuccess          = "Success"
)

// hiddenValue replaces redacted payload fields.
const hiddenValue = "[hidden]"

// Entry is one gateway log record.
type Entry struct {
	Module    string
	Category  string
	Message   string
	Reference string
	InvoiceID int64
	Payload   json.RawMessage
}

// Store defines the persistence operation required for gateway logging.
type Store interface {
	InsertGatewayLog(ctx context.Context, id uuid.UUID, entry Entry) error
}

// Service writes gateway log entries when enabled. RedactKeys lists payload
// field names whose values must never reach storage.
type Service struct {
	Store      Store
	Enabled    bool
	RedactKeys []string
}

// Record persists one entry. Disabled logging is not an error; a missing
// store with logging enabled is.
func (s Service) Record(ctx context.Context, entry Entry) error {
	if !s.Enabled {
		return nil
	}
	if s.Store == nil {
		return errors.New("audit: store not configured")
	}
	if strings.TrimSpace(entry.Category) == "" {
		return errors.New("audit: category is required")
	}
	if strings.TrimSpace(entry.Module) == "" {
		entry.Module = "flutterwave"
	}
	entry.Payload = redactPayload(entry.Payload, s.RedactKeys)
	return s.Store.InsertGatewayLog(ctx, uuid.New(), entry)
}

// FailureCategory builds the category for a rejected settlement.
func FailureCategory(message string) string {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		trimmed = "Unknown error"
	}
	return "Failed: " + trimmed
}

// redactPayload masks the values of sensitive top-level keys. Payloads that
// are not JSON objects pass through untouched.
func redactPayload(payload json.RawMessage, keys []string) json.RawMessage {
	if len(payload) == 0 || len(keys) == 0 {
		return payload
	}
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return payload
	}
	changed := false
	for _, key := range keys {
		for existing := range fields {
			if strings.EqualFold(existing, key) {
				fields[existing] = hiddenValue
				changed = true
			}
		}
	}
	if !changed {
		return payload
	}
	masked, err := json.Marshal(fields)
	if err != nil {
		return payload
	}
	return masked
}

// PGStore persists gateway log entries to Postgres.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wraps a pgx pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// InsertGatewayLog writes one row into gateway_audit_log.
func (s *PGStore) InsertGatewayLog(ctx context.Context, id uuid.UUID, entry Entry) error {
	const query = `
		INSERT INTO gateway_audit_log (id, module, category, message, reference, invoice_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, 0), $7, $8)`
	_, err := s.pool.Exec(ctx, query,
		id, entry.Module, entry.Category, entry.Message, entry.Reference, entry.InvoiceID, entry.Payload, time.Now().UTC())
	return err
}
