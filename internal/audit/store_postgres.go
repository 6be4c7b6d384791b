package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"degreeproof/internal/audit/outbox"
	"degreeproof/internal/sentinel"
	"degreeproof/internal/verification/models"
	"degreeproof/pkg/domain"
)

// PostgresStore persists verification results and overrides.
type PostgresStore struct {
	db     *sql.DB
	outbox bool
	now    func() time.Time
}

type PostgresOption func(*PostgresStore)

// WithOutbox queues every appended result in audit_outbox within the same
// transaction, for an outbox.Worker to stream.
func WithOutbox() PostgresOption {
	return func(s *PostgresStore) {
		s.outbox = true
	}
}

func NewPostgres(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const resultColumns = `id, outcome, method, credential_id, confidence, similarity, reason, verified_at,
	actor_id, actor_role, institute_id, request_id, client_ip, user_agent, input_digest`

func (s *PostgresStore) Append(ctx context.Context, e Entry) error {
	if !s.outbox {
		return s.insertResult(ctx, s.db, e)
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit transaction: %w: %w", sentinel.ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.insertResult(ctx, tx, e); err != nil {
		return err
	}
	row := outbox.NewEntry(uuid.UUID(e.Result.ID), string(e.Result.Outcome), string(e.Result.Method), payload, s.now().UTC())
	if err := outbox.Insert(ctx, tx, row); err != nil {
		return fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit transaction: %w: %w", sentinel.ErrUnavailable, err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) insertResult(ctx context.Context, db execer, e Entry) error {
	r, c := e.Result, e.Context
	var similarity sql.NullFloat64
	if r.Similarity != nil {
		similarity = sql.NullFloat64{Float64: *r.Similarity, Valid: true}
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO verification_results (`+resultColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		uuid.UUID(r.ID),
		string(r.Outcome),
		string(r.Method),
		sql.NullString{String: r.MatchedCredentialID.String(), Valid: r.MatchedCredentialID != ""},
		r.Confidence,
		similarity,
		r.Reason,
		r.Timestamp,
		c.ActorID,
		string(c.ActorRole),
		c.InstituteID.String(),
		c.RequestID,
		c.ClientIP,
		c.UserAgent,
		c.InputDigest,
	)
	if err != nil {
		if pgCode(err) == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("append verification result: %w: %w", sentinel.ErrUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id domain.ResultID) (Record, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx,
		`SELECT `+resultColumns+` FROM verification_results WHERE id = $1`, uuid.UUID(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get verification result: %w", err)
	}
	overrides, err := s.overrides(ctx, id)
	if err != nil {
		return Record{}, err
	}
	return Record{Entry: e, Overrides: overrides}, nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.Outcome != "" {
		add("outcome = $%d", string(filter.Outcome))
	}
	if filter.Method != "" {
		add("method = $%d", string(filter.Method))
	}
	if filter.ActorID != "" {
		add("actor_id = $%d", filter.ActorID)
	}
	if filter.CredentialID != "" {
		add("credential_id = $%d", filter.CredentialID.String())
	}
	if !filter.Since.IsZero() {
		add("verified_at >= $%d", filter.Since)
	}
	query := `SELECT ` + resultColumns + ` FROM verification_results`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, filter.EffectiveLimit())
	query += fmt.Sprintf(` ORDER BY verified_at DESC LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list verification results: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verification result: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verification results: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) AppendOverride(ctx context.Context, o Override) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verification_overrides (id, result_id, outcome, note, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, o.ID, uuid.UUID(o.ResultID), string(o.Outcome), o.Note, o.ActorID, o.At)
	if err != nil {
		if pgCode(err) == "23503" {
			return ErrNotFound
		}
		return fmt.Errorf("append override: %w", err)
	}
	return nil
}

func (s *PostgresStore) Overrides(ctx context.Context, id domain.ResultID) ([]Override, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM verification_results WHERE id = $1)`, uuid.UUID(id),
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check verification result: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}
	return s.overrides(ctx, id)
}

func (s *PostgresStore) overrides(ctx context.Context, id domain.ResultID) ([]Override, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, result_id, outcome, note, actor_id, created_at
		FROM verification_overrides
		WHERE result_id = $1
		ORDER BY created_at ASC, id ASC
	`, uuid.UUID(id))
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	defer rows.Close()

	out := make([]Override, 0)
	for rows.Next() {
		var (
			o        Override
			resultID uuid.UUID
			outcome  string
		)
		if err := rows.Scan(&o.ID, &resultID, &outcome, &o.Note, &o.ActorID, &o.At); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		o.ResultID = domain.ResultID(resultID)
		o.Outcome = models.Outcome(outcome)
		o.At = o.At.UTC()
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate overrides: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Stats(ctx context.Context, since time.Time) (Stats, error) {
	stats := newStats(since)
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.outcome, r.method, COUNT(*),
			COUNT(*) FILTER (WHERE EXISTS (SELECT 1 FROM verification_overrides o WHERE o.result_id = r.id))
		FROM verification_results r
		WHERE r.verified_at >= $1
		GROUP BY r.outcome, r.method
	`, since)
	if err != nil {
		return Stats{}, fmt.Errorf("aggregate verification results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			outcome, method   string
			count, overridden int
		)
		if err := rows.Scan(&outcome, &method, &count, &overridden); err != nil {
			return Stats{}, fmt.Errorf("scan aggregate: %w", err)
		}
		stats.Total += count
		stats.ByOutcome[models.Outcome(outcome)] += count
		stats.ByMethod[models.Method(method)] += count
		stats.Overridden += overridden
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("iterate aggregate: %w", err)
	}
	return stats, nil
}

type entryRow interface {
	Scan(dest ...any) error
}

func scanEntry(row entryRow) (Entry, error) {
	var (
		e               Entry
		id              uuid.UUID
		outcome, method string
		credentialID    sql.NullString
		similarity      sql.NullFloat64
		role, institute string
	)
	if err := row.Scan(&id, &outcome, &method, &credentialID, &e.Result.Confidence, &similarity, &e.Result.Reason,
		&e.Result.Timestamp, &e.Context.ActorID, &role, &institute, &e.Context.RequestID, &e.Context.ClientIP,
		&e.Context.UserAgent, &e.Context.InputDigest); err != nil {
		return Entry{}, err
	}
	e.Result.ID = domain.ResultID(id)
	e.Result.Outcome = models.Outcome(outcome)
	e.Result.Method = models.Method(method)
	e.Result.Timestamp = e.Result.Timestamp.UTC()
	if credentialID.Valid {
		e.Result.MatchedCredentialID = domain.CredentialID(credentialID.String)
	}
	if similarity.Valid {
		v := similarity.Float64
		e.Result.Similarity = &v
	}
	e.Context.ActorRole = domain.Role(role)
	e.Context.InstituteID = domain.InstituteID(institute)
	return e, nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

var _ Store = (*PostgresStore)(nil)
