package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"degreeproof/internal/credential/models"
	"degreeproof/pkg/domain"
)

// PostgresStore persists credentials and their status history in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const credentialColumns = `id, record_hash, signature, issued_at, expires_at, status, status_reason,
	institute_id, student_id, issued_by, replaced_by, record`

func (s *PostgresStore) Put(ctx context.Context, c models.Credential) error {
	record, err := json.Marshal(c.Record)
	if err != nil {
		return fmt.Errorf("marshal degree record: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (`+credentialColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		c.ID.String(),
		c.RecordHash,
		c.Signature,
		c.IssuedAt,
		nullTime(c.ExpiresAt),
		string(c.Status),
		c.StatusReason,
		c.InstituteID.String(),
		c.StudentID.String(),
		c.IssuedBy,
		nullString(c.ReplacedBy.String()),
		record,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return Unavailable("insert credential", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id domain.CredentialID) (models.Credential, error) {
	c, err := scanCredential(s.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE id = $1`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Credential{}, ErrNotFound
		}
		return models.Credential{}, Unavailable("get credential", err)
	}
	return c, nil
}

func (s *PostgresStore) FindByNaturalKey(ctx context.Context, key models.NaturalKey) ([]models.Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+credentialColumns+`
		FROM credentials
		WHERE student_id = $1 AND institute_id = $2
		ORDER BY issued_at DESC, id DESC
	`, key.StudentID.String(), key.InstituteID.String())
	if err != nil {
		return nil, Unavailable("find credentials by natural key", err)
	}
	return collect(rows, "find credentials by natural key")
}

func (s *PostgresStore) SetStatus(ctx context.Context, id domain.CredentialID, t models.Transition) (models.Credential, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Credential{}, Unavailable("begin status transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	c, err := scanCredential(tx.QueryRowContext(ctx, `
		UPDATE credentials
		SET status = $3, status_reason = $4, replaced_by = COALESCE($5, replaced_by)
		WHERE id = $1 AND status = $2
		RETURNING `+credentialColumns,
		id.String(), string(t.From), string(t.To), t.Reason, nullString(t.ReplacedBy.String()),
	))
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return models.Credential{}, Unavailable("update credential status", err)
		}
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM credentials WHERE id = $1)`, id.String(),
		).Scan(&exists); err != nil {
			return models.Credential{}, Unavailable("check credential existence", err)
		}
		if !exists {
			return models.Credential{}, ErrNotFound
		}
		return models.Credential{}, ErrStatusConflict
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credential_status_history (credential_id, from_status, to_status, reason, actor_id, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id.String(), string(t.From), string(t.To), t.Reason, t.ActorID, t.At); err != nil {
		return models.Credential{}, Unavailable("append status history", err)
	}

	if err := tx.Commit(); err != nil {
		return models.Credential{}, Unavailable("commit status transaction", err)
	}
	return c, nil
}

func (s *PostgresStore) History(ctx context.Context, id domain.CredentialID) ([]models.StatusChange, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT credential_id, from_status, to_status, reason, actor_id, changed_at
		FROM credential_status_history
		WHERE credential_id = $1
		ORDER BY seq ASC
	`, id.String())
	if err != nil {
		return nil, Unavailable("list status history", err)
	}
	defer rows.Close()

	var out []models.StatusChange
	for rows.Next() {
		var ch models.StatusChange
		var credID, from, to string
		if err := rows.Scan(&credID, &from, &to, &ch.Reason, &ch.ActorID, &ch.At); err != nil {
			return nil, Unavailable("scan status history", err)
		}
		ch.CredentialID = domain.CredentialID(credID)
		ch.From = models.Status(from)
		ch.To = models.Status(to)
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, Unavailable("iterate status history", err)
	}
	return out, nil
}

func (s *PostgresStore) List(ctx context.Context, filter models.ListFilter) ([]models.Credential, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.InstituteID != "" {
		add("institute_id = $%d", filter.InstituteID.String())
	}
	if filter.IssuedBy != "" {
		add("issued_by = $%d", filter.IssuedBy)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	query := `SELECT ` + credentialColumns + ` FROM credentials`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, filter.EffectiveLimit())
	query += fmt.Sprintf(` ORDER BY issued_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Unavailable("list credentials", err)
	}
	return collect(rows, "list credentials")
}

type credentialRow interface {
	Scan(dest ...any) error
}

func scanCredential(row credentialRow) (models.Credential, error) {
	var (
		c                              models.Credential
		id, status, institute, student string
		expiresAt                      sql.NullTime
		replacedBy                     sql.NullString
		record                         []byte
	)
	if err := row.Scan(&id, &c.RecordHash, &c.Signature, &c.IssuedAt, &expiresAt, &status, &c.StatusReason,
		&institute, &student, &c.IssuedBy, &replacedBy, &record); err != nil {
		return models.Credential{}, err
	}
	c.ID = domain.CredentialID(id)
	c.Status = models.Status(status)
	c.InstituteID = domain.InstituteID(institute)
	c.StudentID = domain.StudentID(student)
	c.IssuedAt = c.IssuedAt.UTC()
	if expiresAt.Valid {
		exp := expiresAt.Time.UTC()
		c.ExpiresAt = &exp
	}
	if replacedBy.Valid {
		c.ReplacedBy = domain.CredentialID(replacedBy.String)
	}
	if err := json.Unmarshal(record, &c.Record); err != nil {
		return models.Credential{}, fmt.Errorf("unmarshal degree record: %w", err)
	}
	return c, nil
}

func collect(rows *sql.Rows, op string) ([]models.Credential, error) {
	defer rows.Close()
	out := make([]models.Credential, 0)
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, Unavailable(op, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, Unavailable(op, err)
	}
	return out, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
