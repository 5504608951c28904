package attest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"tutela/pkg/platform/sentinel"
)

// PostgresStore persists attestation versions in the attestations table.
// Rows are written whole at signing and only status and revocation ever
// change afterwards.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const uniqueViolation = "23505"

const attestationColumns = `id, version, type, subject_id, subject_kind, attester_id,
	status, issued_at, valid_from, valid_until, claims, frameworks, protocols,
	signature, content_hash, proof, revocation, links, previous_version`

func (s *PostgresStore) Insert(ctx context.Context, a Attestation) error {
	claims, err := json.Marshal(a.Claims)
	if err != nil {
		return fmt.Errorf("marshal attestation claims: %w", err)
	}
	protocols, err := json.Marshal(a.Protocols)
	if err != nil {
		return fmt.Errorf("marshal attestation protocols: %w", err)
	}
	signature, err := json.Marshal(a.Signature)
	if err != nil {
		return fmt.Errorf("marshal attestation signature: %w", err)
	}
	proof, err := json.Marshal(a.Proof)
	if err != nil {
		return fmt.Errorf("marshal attestation proof: %w", err)
	}
	var revocation any
	if a.Revocation != nil {
		revocation, err = json.Marshal(a.Revocation)
		if err != nil {
			return fmt.Errorf("marshal attestation revocation: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO attestations (`+attestationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		a.ID, a.Version, string(a.Type), a.SubjectID, string(a.SubjectKind), a.AttesterID,
		string(a.Status), a.IssuedAt, a.ValidFrom, a.ValidUntil, claims,
		pq.Array(a.Frameworks), protocols, signature, a.Proof.ContentHash, proof,
		revocation, pq.Array(uuidStrings(a.Links)), nullableUUID(a.PreviousVersion),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("attestation %s version %d: %w", a.ID, a.Version, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert attestation: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (Attestation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+attestationColumns+` FROM attestations WHERE id = $1 ORDER BY version DESC LIMIT 1`, id)
	a, err := scanAttestation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Attestation{}, fmt.Errorf("attestation %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return Attestation{}, fmt.Errorf("query attestation: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, id uuid.UUID, version int) (Attestation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+attestationColumns+` FROM attestations WHERE id = $1 AND version = $2`, id, version)
	a, err := scanAttestation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Attestation{}, fmt.Errorf("attestation %s version %d: %w", id, version, sentinel.ErrNotFound)
	}
	if err != nil {
		return Attestation{}, fmt.Errorf("query attestation version: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) Versions(ctx context.Context, id uuid.UUID) ([]Attestation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+attestationColumns+` FROM attestations WHERE id = $1 ORDER BY version DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("query attestation versions: %w", err)
	}
	defer rows.Close()

	out, err := collectAttestations(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("attestation %s: %w", id, sentinel.ErrNotFound)
	}
	return out, nil
}

func (s *PostgresStore) ListBySubject(ctx context.Context, subjectID string) ([]Attestation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+attestationColumns+` FROM (
			SELECT DISTINCT ON (id) `+attestationColumns+`
			FROM attestations WHERE subject_id = $1
			ORDER BY id, version DESC
		) latest ORDER BY issued_at`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("query attestations by subject: %w", err)
	}
	defer rows.Close()
	return collectAttestations(rows)
}

func (s *PostgresStore) ListLinking(ctx context.Context, id uuid.UUID) ([]Attestation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+attestationColumns+` FROM (
			SELECT DISTINCT ON (id) `+attestationColumns+`
			FROM attestations
			ORDER BY id, version DESC
		) latest WHERE $1 = ANY(links) ORDER BY issued_at`, id)
	if err != nil {
		return nil, fmt.Errorf("query linking attestations: %w", err)
	}
	defer rows.Close()
	return collectAttestations(rows)
}

func (s *PostgresStore) SetStatus(ctx context.Context, id uuid.UUID, version int, status Status, rev *RevocationInfo) error {
	var revocation any
	if rev != nil {
		b, err := json.Marshal(rev)
		if err != nil {
			return fmt.Errorf("marshal attestation revocation: %w", err)
		}
		revocation = b
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE attestations SET status = $3, revocation = $4 WHERE id = $1 AND version = $2`,
		id, version, string(status), revocation)
	if err != nil {
		return fmt.Errorf("update attestation status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update attestation status: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("attestation %s version %d: %w", id, version, sentinel.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttestation(row rowScanner) (Attestation, error) {
	var (
		a           Attestation
		typ         string
		subjectKind string
		status      string
		validUntil  sql.NullTime
		claims      []byte
		frameworks  pq.StringArray
		protocols   []byte
		signature   []byte
		contentHash string
		proof       []byte
		revocation  []byte
		links       pq.StringArray
		previous    sql.NullString
	)
	err := row.Scan(
		&a.ID, &a.Version, &typ, &a.SubjectID, &subjectKind, &a.AttesterID,
		&status, &a.IssuedAt, &a.ValidFrom, &validUntil, &claims, &frameworks,
		&protocols, &signature, &contentHash, &proof, &revocation, &links, &previous,
	)
	if err != nil {
		return Attestation{}, err
	}

	a.Type = AttestationType(typ)
	a.SubjectKind = SubjectKind(subjectKind)
	a.Status = Status(status)
	if validUntil.Valid {
		t := validUntil.Time
		a.ValidUntil = &t
	}
	if err := json.Unmarshal(claims, &a.Claims); err != nil {
		return Attestation{}, fmt.Errorf("decode attestation claims: %w", err)
	}
	if len(frameworks) > 0 {
		a.Frameworks = []string(frameworks)
	}
	if len(protocols) > 0 {
		if err := json.Unmarshal(protocols, &a.Protocols); err != nil {
			return Attestation{}, fmt.Errorf("decode attestation protocols: %w", err)
		}
	}
	if err := json.Unmarshal(signature, &a.Signature); err != nil {
		return Attestation{}, fmt.Errorf("decode attestation signature: %w", err)
	}
	if err := json.Unmarshal(proof, &a.Proof); err != nil {
		return Attestation{}, fmt.Errorf("decode attestation proof: %w", err)
	}
	a.Proof.ContentHash = contentHash
	if len(revocation) > 0 {
		var rev RevocationInfo
		if err := json.Unmarshal(revocation, &rev); err != nil {
			return Attestation{}, fmt.Errorf("decode attestation revocation: %w", err)
		}
		a.Revocation = &rev
	}
	if a.Links, err = parseUUIDs(links); err != nil {
		return Attestation{}, fmt.Errorf("parse attestation links: %w", err)
	}
	if previous.Valid {
		prev, err := uuid.Parse(previous.String)
		if err != nil {
			return Attestation{}, fmt.Errorf("parse previous version: %w", err)
		}
		a.PreviousVersion = &prev
	}
	return a, nil
}

func collectAttestations(rows *sql.Rows) ([]Attestation, error) {
	var out []Attestation
	for rows.Next() {
		a, err := scanAttestation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attestation: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attestations: %w", err)
	}
	return out, nil
}

// PostgresKeyStore persists signing keys in the attestation_keys table.
// Private halves arrive sealed; the store never sees plaintext key material.
type PostgresKeyStore struct {
	db *sql.DB
}

func NewPostgresKeyStore(db *sql.DB) *PostgresKeyStore {
	return &PostgresKeyStore{db: db}
}

const keyColumns = `id, algorithm, owner, status, cultural_authority,
	public_key, private_key, created_at, rotated_at, replaced_by`

func (s *PostgresKeyStore) Insert(ctx context.Context, k Key) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attestation_keys (`+keyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		k.ID, string(k.Algorithm), k.Owner, string(k.Status),
		nullableString(k.CulturalAuthority), k.Public, k.Private,
		k.CreatedAt, k.RotatedAt, nullableString(k.ReplacedBy),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("attestation key %s: %w", k.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert attestation key: %w", err)
	}
	return nil
}

func (s *PostgresKeyStore) Get(ctx context.Context, id string) (Key, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM attestation_keys WHERE id = $1`, id)
	k, err := scanKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Key{}, fmt.Errorf("attestation key %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return Key{}, fmt.Errorf("query attestation key: %w", err)
	}
	return k, nil
}

func (s *PostgresKeyStore) Update(ctx context.Context, k Key) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE attestation_keys SET
			algorithm = $2, owner = $3, status = $4, cultural_authority = $5,
			public_key = $6, private_key = $7, rotated_at = $8, replaced_by = $9
		WHERE id = $1`,
		k.ID, string(k.Algorithm), k.Owner, string(k.Status),
		nullableString(k.CulturalAuthority), k.Public, k.Private,
		k.RotatedAt, nullableString(k.ReplacedBy),
	)
	if err != nil {
		return fmt.Errorf("update attestation key: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update attestation key: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("attestation key %s: %w", k.ID, sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresKeyStore) List(ctx context.Context, owner string) ([]Key, error) {
	query := `SELECT ` + keyColumns + ` FROM attestation_keys`
	var args []any
	if owner != "" {
		query += ` WHERE owner = $1`
		args = append(args, owner)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attestation keys: %w", err)
	}
	defer rows.Close()

	var out []Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attestation key: %w", err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attestation keys: %w", err)
	}
	return out, nil
}

func scanKey(row rowScanner) (Key, error) {
	var (
		k          Key
		algorithm  string
		status     string
		authority  sql.NullString
		rotatedAt  sql.NullTime
		replacedBy sql.NullString
	)
	err := row.Scan(&k.ID, &algorithm, &k.Owner, &status, &authority,
		&k.Public, &k.Private, &k.CreatedAt, &rotatedAt, &replacedBy)
	if err != nil {
		return Key{}, err
	}
	k.Algorithm = Algorithm(algorithm)
	k.Status = KeyStatus(status)
	k.CulturalAuthority = authority.String
	if rotatedAt.Valid {
		t := rotatedAt.Time
		k.RotatedAt = &t
	}
	k.ReplacedBy = replacedBy.String
	return k, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return *id
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func parseUUIDs(values []string) ([]uuid.UUID, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make([]uuid.UUID, len(values))
	for i, v := range values {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}
