package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tutela/pkg/platform/sentinel"
)

// PostgresStore persists chains in the audit_entries table. Appends lock the
// chain head with SELECT ... FOR UPDATE; the (chain_id, sequence) primary
// key catches the empty-chain race where there is no head row to lock.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const pgUniqueViolation = "23505"

const entryColumns = `chain_id, sequence, id, entry_time, event_type, category, actor,
	subject_id, resource_id, resource_kind, data_type, sensitivity,
	culturally_sensitive, frameworks, request_id, detail, content_hash, prev_hash`

func (s *PostgresStore) Append(ctx context.Context, entry Entry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin audit append: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var (
		headHash string
		headSeq  int64
	)
	err = tx.QueryRow(ctx,
		`SELECT content_hash, sequence FROM audit_entries WHERE chain_id = $1 ORDER BY sequence DESC LIMIT 1 FOR UPDATE`,
		entry.ChainID,
	).Scan(&headHash, &headSeq)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		headHash, headSeq = GenesisHash, -1
	case err != nil:
		return fmt.Errorf("lock chain head: %w", err)
	}

	if entry.Sequence != headSeq+1 || entry.PrevHash != headHash {
		return fmt.Errorf("chain %q advanced past sequence %d: %w", entry.ChainID, entry.Sequence, sentinel.ErrConflict)
	}

	var detail []byte
	if entry.Detail != nil {
		if detail, err = json.Marshal(entry.Detail); err != nil {
			return fmt.Errorf("marshal entry detail: %w", err)
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO audit_entries (`+entryColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		entry.ChainID, entry.Sequence, entry.ID.String(), entry.Timestamp,
		string(entry.EventType), string(entry.Category), entry.Actor,
		entry.SubjectID, entry.ResourceID, entry.ResourceKind,
		entry.DataType, entry.Sensitivity,
		entry.CulturallySensitive, entry.Frameworks, entry.RequestID,
		detail, entry.ContentHash, entry.PrevHash,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("concurrent append to chain %q: %w", entry.ChainID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert audit entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit audit append: %w", err)
	}
	return nil
}

func (s *PostgresStore) Head(ctx context.Context, chainID string) (Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM audit_entries WHERE chain_id = $1 ORDER BY sequence DESC LIMIT 1`,
		chainID,
	)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, fmt.Errorf("chain %q: %w", chainID, sentinel.ErrNotFound)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("query chain head: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) Range(ctx context.Context, chainID string, from, to int64) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM audit_entries WHERE chain_id = $1 AND sequence >= $2`
	args := []any{chainID, from}
	if to >= 0 {
		query += ` AND sequence <= $3`
		args = append(args, to)
	}
	query += ` ORDER BY sequence`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chain range: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (s *PostgresStore) Query(ctx context.Context, criteria QueryCriteria) ([]Entry, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if criteria.ChainID != "" {
		add("chain_id = $%d", criteria.ChainID)
	}
	if criteria.SubjectID != "" {
		add("subject_id = $%d", criteria.SubjectID)
	}
	if criteria.Actor != "" {
		add("actor = $%d", criteria.Actor)
	}
	if criteria.Category != "" {
		add("category = $%d", string(criteria.Category))
	}
	if len(criteria.EventTypes) > 0 {
		types := make([]string, len(criteria.EventTypes))
		for i, t := range criteria.EventTypes {
			types[i] = string(t)
		}
		add("event_type = ANY($%d)", types)
	}
	if !criteria.From.IsZero() {
		add("entry_time >= $%d", criteria.From)
	}
	if !criteria.To.IsZero() {
		add("entry_time <= $%d", criteria.To)
	}
	if criteria.CulturallySensitive != nil {
		add("culturally_sensitive = $%d", *criteria.CulturallySensitive)
	}
	if criteria.Framework != "" {
		add("$%d = ANY(frameworks)", criteria.Framework)
	}

	query := `SELECT ` + entryColumns + ` FROM audit_entries`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY chain_id, sequence`
	if criteria.Limit > 0 {
		args = append(args, criteria.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return out, nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e         Entry
		idStr     string
		eventType string
		category  string
		detail    []byte
	)
	err := row.Scan(
		&e.ChainID, &e.Sequence, &idStr, &e.Timestamp, &eventType, &category, &e.Actor,
		&e.SubjectID, &e.ResourceID, &e.ResourceKind, &e.DataType, &e.Sensitivity,
		&e.CulturallySensitive, &e.Frameworks, &e.RequestID,
		&detail, &e.ContentHash, &e.PrevHash,
	)
	if err != nil {
		return Entry{}, err
	}
	if e.ID, err = uuid.Parse(idStr); err != nil {
		return Entry{}, fmt.Errorf("parse entry id: %w", err)
	}
	e.EventType = EventType(eventType)
	e.Category = Category(category)
	if len(e.Frameworks) == 0 {
		e.Frameworks = nil
	}
	if len(detail) > 0 {
		if err := json.Unmarshal(detail, &e.Detail); err != nil {
			return Entry{}, fmt.Errorf("decode entry detail: %w", err)
		}
	}
	return e, nil
}
