package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"degreeproof/internal/platform/kafka/consumer"
	"degreeproof/pkg/domain"
)

// Mirror copies entries from the audit topic into a queryable Store.
// It implements consumer.Handler.
type Mirror struct {
	store  Store
	logger *slog.Logger
}

func NewMirror(store Store, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{store: store, logger: logger}
}

// Handle appends one streamed entry. Redelivered entries are ignored, and
// undecodable messages are logged and skipped so they never block the partition.
func (m *Mirror) Handle(ctx context.Context, msg *consumer.Message) error {
	var e Entry
	if err := json.Unmarshal(msg.Value, &e); err != nil {
		m.logger.ErrorContext(ctx, "failed to decode streamed audit entry",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}
	if e.Result.ID.IsNil() {
		var id domain.ResultID
		if err := id.UnmarshalText(msg.Key); err != nil {
			m.logger.ErrorContext(ctx, "streamed audit entry has no result id",
				"topic", msg.Topic,
				"offset", msg.Offset,
			)
			return nil
		}
		e.Result.ID = id
	}

	err := m.store.Append(ctx, e)
	if errors.Is(err, ErrDuplicate) {
		m.logger.DebugContext(ctx, "audit entry already mirrored", "result_id", e.Result.ID)
		return nil
	}
	if err != nil {
		return err
	}
	m.logger.DebugContext(ctx, "audit entry mirrored",
		"result_id", e.Result.ID,
		"outcome", e.Result.Outcome,
	)
	return nil
}

var _ consumer.Handler = (*Mirror)(nil)
