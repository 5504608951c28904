package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"tutela/pkg/platform/sentinel"
)

// PostgresStore persists policies in the policies, policy_versions and
// policy_deployments tables. Heads and version rows change together inside a
// transaction so a crash never leaves a head without its history.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const uniqueViolation = "23505"

const policyColumns = `id, name, version, syntax, body, enforcement, scopes,
	depends_on, test_cases, compliance, status, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, p Policy, initial VersionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin policy create: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := insertHead(ctx, tx, p); err != nil {
		return err
	}
	if err := insertVersion(ctx, tx, initial); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit policy create: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateHead(ctx context.Context, p Policy) error {
	return updateHead(ctx, s.db, p)
}

func (s *PostgresStore) AddVersion(ctx context.Context, p Policy, v VersionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin policy version: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := updateHead(ctx, tx, p); err != nil {
		return err
	}
	if err := insertVersion(ctx, tx, v); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit policy version: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin policy delete: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM policy_deployments WHERE policy_id = $1`, id); err != nil {
		return fmt.Errorf("delete policy deployments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM policy_versions WHERE policy_id = $1`, id); err != nil {
		return fmt.Errorf("delete policy versions: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM policies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("policy %s: %w", id, sentinel.ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit policy delete: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (Policy, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM policies WHERE id = $1`, id)
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Policy{}, fmt.Errorf("policy %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return Policy{}, fmt.Errorf("query policy: %w", err)
	}
	return s.fillDeployments(ctx, p)
}

func (s *PostgresStore) GetByName(ctx context.Context, name string) (Policy, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM policies WHERE name = $1`, name)
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Policy{}, fmt.Errorf("policy %q: %w", name, sentinel.ErrNotFound)
	}
	if err != nil {
		return Policy{}, fmt.Errorf("query policy: %w", err)
	}
	return s.fillDeployments(ctx, p)
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]Policy, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.Enforcement != "" {
		add("enforcement = $%d", string(filter.Enforcement))
	}
	if filter.Scope != "" {
		add("$%d = ANY(scopes)", filter.Scope)
	}
	if filter.Framework != "" {
		add("compliance->'frameworks' ? $%d", filter.Framework)
	}

	query := `SELECT ` + policyColumns + ` FROM policies`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	var out []Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		p, err = s.fillDeployments(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate policies: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Versions(ctx context.Context, id uuid.UUID) ([]VersionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT policy_id, version, body, syntax, impact, rollback_of, created_by, created_at
		FROM policy_versions WHERE policy_id = $1
		ORDER BY created_at DESC, version DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("list policy versions: %w", err)
	}
	defer rows.Close()

	var out []VersionRecord
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan policy version: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate policy versions: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("policy %s: %w", id, sentinel.ErrNotFound)
	}
	return out, nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, id uuid.UUID, version string) (VersionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT policy_id, version, body, syntax, impact, rollback_of, created_by, created_at
		FROM policy_versions WHERE policy_id = $1 AND version = $2`, id, version)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return VersionRecord{}, fmt.Errorf("policy %s version %s: %w", id, version, sentinel.ErrNotFound)
	}
	if err != nil {
		return VersionRecord{}, fmt.Errorf("query policy version: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) SetDeployment(ctx context.Context, d Deployment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO policy_deployments (policy_id, environment, version, deployed_by, deployed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (policy_id, environment) DO UPDATE SET
			version = EXCLUDED.version,
			deployed_by = EXCLUDED.deployed_by,
			deployed_at = EXCLUDED.deployed_at`,
		d.PolicyID, d.Environment, d.Version, d.DeployedBy, d.DeployedAt,
	)
	if err != nil {
		return fmt.Errorf("set policy deployment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDeployment(ctx context.Context, id uuid.UUID, environment string) (Deployment, error) {
	var d Deployment
	err := s.db.QueryRowContext(ctx, `
		SELECT policy_id, environment, version, deployed_by, deployed_at
		FROM policy_deployments WHERE policy_id = $1 AND environment = $2`,
		id, environment,
	).Scan(&d.PolicyID, &d.Environment, &d.Version, &d.DeployedBy, &d.DeployedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Deployment{}, fmt.Errorf("policy %s in %s: %w", id, environment, sentinel.ErrNotFound)
	}
	if err != nil {
		return Deployment{}, fmt.Errorf("query policy deployment: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) ListDeployments(ctx context.Context, id uuid.UUID) ([]Deployment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT policy_id, environment, version, deployed_by, deployed_at
		FROM policy_deployments WHERE policy_id = $1
		ORDER BY environment`, id)
	if err != nil {
		return nil, fmt.Errorf("list policy deployments: %w", err)
	}
	defer rows.Close()

	var out []Deployment
	for rows.Next() {
		var d Deployment
		if err := rows.Scan(&d.PolicyID, &d.Environment, &d.Version, &d.DeployedBy, &d.DeployedAt); err != nil {
			return nil, fmt.Errorf("scan policy deployment: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate policy deployments: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) fillDeployments(ctx context.Context, p Policy) (Policy, error) {
	deployments, err := s.ListDeployments(ctx, p.ID)
	if err != nil {
		return Policy{}, err
	}
	if len(deployments) > 0 {
		p.Deployments = make(map[string]string, len(deployments))
		for _, d := range deployments {
			p.Deployments[d.Environment] = d.Version
		}
	}
	return p, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertHead(ctx context.Context, tx execer, p Policy) error {
	args, err := headArgs(p)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO policies (id, name, version, syntax, body, enforcement, scopes,
			depends_on, test_cases, compliance, status, updated_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		append(args, p.CreatedAt)...,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("policy %q: %w", p.Name, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert policy: %w", err)
	}
	return nil
}

func updateHead(ctx context.Context, tx execer, p Policy) error {
	args, err := headArgs(p)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE policies SET
			name = $2, version = $3, syntax = $4, body = $5, enforcement = $6,
			scopes = $7, depends_on = $8, test_cases = $9, compliance = $10,
			status = $11, updated_at = $12
		WHERE id = $1`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("update policy head: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update policy head: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("policy %s: %w", p.ID, sentinel.ErrNotFound)
	}
	return nil
}

func insertVersion(ctx context.Context, tx execer, v VersionRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO policy_versions (policy_id, version, body, syntax, impact, rollback_of, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		v.PolicyID, v.Version, v.Body, string(v.Syntax), string(v.Impact),
		nullableString(v.Predecessor), v.CreatedBy, v.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("policy %s version %s: %w", v.PolicyID, v.Version, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert policy version: %w", err)
	}
	return nil
}

// headArgs orders the shared head fields $1..$12; insertHead appends
// created_at as $13.
func headArgs(p Policy) ([]any, error) {
	testCases, err := json.Marshal(p.TestCases)
	if err != nil {
		return nil, fmt.Errorf("marshal policy test cases: %w", err)
	}
	compliance, err := json.Marshal(p.Compliance)
	if err != nil {
		return nil, fmt.Errorf("marshal policy compliance: %w", err)
	}
	return []any{
		p.ID, p.Name, p.Version, string(p.Syntax), p.Body, string(p.Enforcement),
		pq.Array(p.Scopes), pq.Array(uuidStrings(p.DependsOn)),
		testCases, compliance, string(p.Status), p.UpdatedAt,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row rowScanner) (Policy, error) {
	var (
		p           Policy
		syntax      string
		enforcement string
		status      string
		scopes      pq.StringArray
		dependsOn   pq.StringArray
		testCases   []byte
		compliance  []byte
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Version, &syntax, &p.Body, &enforcement,
		&scopes, &dependsOn, &testCases, &compliance, &status,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return Policy{}, err
	}
	p.Syntax = Syntax(syntax)
	p.Enforcement = Enforcement(enforcement)
	p.Status = Status(status)
	if len(scopes) > 0 {
		p.Scopes = []string(scopes)
	}
	if p.DependsOn, err = parseUUIDs(dependsOn); err != nil {
		return Policy{}, fmt.Errorf("parse policy dependencies: %w", err)
	}
	if len(testCases) > 0 {
		if err := json.Unmarshal(testCases, &p.TestCases); err != nil {
			return Policy{}, fmt.Errorf("decode policy test cases: %w", err)
		}
	}
	if len(compliance) > 0 {
		if err := json.Unmarshal(compliance, &p.Compliance); err != nil {
			return Policy{}, fmt.Errorf("decode policy compliance: %w", err)
		}
	}
	return p, nil
}

func scanVersion(row rowScanner) (VersionRecord, error) {
	var (
		v           VersionRecord
		syntax      string
		impact      string
		predecessor sql.NullString
	)
	err := row.Scan(&v.PolicyID, &v.Version, &v.Body, &syntax, &impact,
		&predecessor, &v.CreatedBy, &v.CreatedAt)
	if err != nil {
		return VersionRecord{}, err
	}
	v.Syntax = Syntax(syntax)
	v.Impact = Impact(impact)
	v.Predecessor = predecessor.String
	return v, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
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
