// Package outbox makes audit streaming durable: the audit store writes each
// verification result and its outbox row in one transaction, and a worker
// publishes pending rows to Kafka until they are acknowledged.
package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entry is one pending stream message.
type Entry struct {
	ID       uuid.UUID
	ResultID uuid.UUID
	Outcome  string
	Method   string
	// Payload is the JSON-encoded audit entry.
	Payload     []byte
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

func (e *Entry) IsPending() bool {
	return e.ProcessedAt == nil
}

func NewEntry(resultID uuid.UUID, outcome, method string, payload []byte, now time.Time) *Entry {
	return &Entry{
		ID:        uuid.New(),
		ResultID:  resultID,
		Outcome:   outcome,
		Method:    method,
		Payload:   payload,
		CreatedAt: now,
	}
}

// Store is the worker's view of the outbox table.
// Implementations must be safe for concurrent use.
type Store interface {
	// FetchUnprocessed returns up to limit pending entries, oldest first.
	FetchUnprocessed(ctx context.Context, limit int) ([]*Entry, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error
	// Pending returns the pending count and the creation time of the oldest pending entry.
	Pending(ctx context.Context) (int64, time.Time, error)
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}

// Insert writes e inside tx, so the outbox row commits with the audit row.
func Insert(ctx context.Context, tx *sql.Tx, e *Entry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_outbox (id, result_id, outcome, method, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.ResultID, e.Outcome, e.Method, e.Payload, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}
