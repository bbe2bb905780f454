package store

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"keyward/internal/keyring"
	"keyward/internal/keyring/models"
	"keyward/pkg/platform/sentinel"
)

// PostgresProvider serves keyrings stored in a shared PostgreSQL database.
// Each keyring is a row in the keyrings table plus its records; the database
// itself is the "disk" so several processes can share one set of stores.
type PostgresProvider struct {
	db *sql.DB
}

// NewPostgresProvider wraps an open database handle.
func NewPostgresProvider(db *sql.DB) *PostgresProvider {
	return &PostgresProvider{db: db}
}

func (p *PostgresProvider) Tag() string { return "postgres" }

func (p *PostgresProvider) Open(_ context.Context, id models.Identifier) (keyring.Backend, error) {
	if id.Provider != p.Tag() {
		return nil, sentinel.ErrUnavailable
	}
	return &PostgresStore{db: p.db, id: id}, nil
}

// EnsureSchema creates the backing tables when they are missing. Deployments
// with managed migrations can skip this.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS keyrings (
			path        TEXT PRIMARY KEY,
			secret_hash BYTEA NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS keyring_records (
			id              UUID PRIMARY KEY,
			keyring_path    TEXT NOT NULL REFERENCES keyrings(path) ON DELETE CASCADE ON UPDATE CASCADE,
			class           TEXT NOT NULL,
			service         TEXT NOT NULL DEFAULT '',
			type_tag        TEXT NOT NULL DEFAULT '',
			usage           INTEGER NOT NULL DEFAULT 0,
			account         TEXT NOT NULL DEFAULT '',
			label           TEXT NOT NULL DEFAULT '',
			issuer          BYTEA,
			public_key_hash BYTEA,
			generic         BYTEA,
			data            BYTEA,
			created_at      TIMESTAMPTZ NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS keyring_records_lookup
			ON keyring_records (keyring_path, class, service, type_tag)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure keyring schema: %w", err)
		}
	}
	return nil
}

// PostgresStore implements keyring.Backend for one keyring row. Unlock state
// is per backend instance; the secret itself is only ever stored hashed.
type PostgresStore struct {
	db *sql.DB
	id models.Identifier

	mu       sync.Mutex
	unlocked bool
}

var _ keyring.Backend = (*PostgresStore)(nil)

func (s *PostgresStore) Identifier() models.Identifier { return s.id }

func (s *PostgresStore) Name() string { return path.Base(s.id.Path) }

func (s *PostgresStore) Exists(ctx context.Context) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM keyrings WHERE path = $1`, s.id.Path).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: check keyring: %v", sentinel.ErrUnavailable, err)
	}
	return true, nil
}

func (s *PostgresStore) Create(ctx context.Context, secret []byte) error {
	hash := sha256.Sum256(secret)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO keyrings (path, secret_hash) VALUES ($1, $2)`,
		s.id.Path, hash[:])
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrAlreadyExists
		}
		return fmt.Errorf("create keyring: %w", err)
	}
	s.mu.Lock()
	s.unlocked = true
	s.mu.Unlock()
	return nil
}

func (s *PostgresStore) Unlock(ctx context.Context, secret []byte) error {
	var stored []byte
	err := s.db.QueryRowContext(ctx, `SELECT secret_hash FROM keyrings WHERE path = $1`, s.id.Path).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: unlock keyring: %v", sentinel.ErrUnavailable, err)
	}
	hash := sha256.Sum256(secret)
	if subtle.ConstantTimeCompare(stored, hash[:]) != 1 {
		return sentinel.ErrAuthFailure
	}
	s.mu.Lock()
	s.unlocked = true
	s.mu.Unlock()
	return nil
}

func (s *PostgresStore) Rename(ctx context.Context, newPath string) error {
	// Renaming on top of an existing keyring replaces it, like a file rename.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rename keyring: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM keyrings WHERE path = $1`, newPath); err != nil {
		return fmt.Errorf("rename keyring: clear target: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE keyrings SET path = $2 WHERE path = $1`, s.id.Path, newPath)
	if err != nil {
		return fmt.Errorf("rename keyring: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("rename keyring: %w", err)
	}
	s.id.Path = newPath
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM keyrings WHERE path = $1`, s.id.Path)
	if err != nil {
		return fmt.Errorf("delete keyring: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Search(ctx context.Context, q models.Query) ([]models.Record, error) {
	if err := s.readable(ctx); err != nil {
		return nil, err
	}

	query := `SELECT id, class, service, type_tag, usage, account, label,
			issuer, public_key_hash, generic, data, created_at, updated_at
		FROM keyring_records WHERE keyring_path = $1`
	args := []any{s.id.Path}
	if q.Class != "" {
		args = append(args, string(q.Class))
		query += fmt.Sprintf(" AND class = $%d", len(args))
	}
	if q.Service != "" {
		args = append(args, q.Service)
		query += fmt.Sprintf(" AND service = $%d", len(args))
	}
	if q.TypeTag != "" {
		args = append(args, q.TypeTag)
		query += fmt.Sprintf(" AND type_tag = $%d", len(args))
	}
	if q.Usage != 0 {
		args = append(args, q.Usage)
		query += fmt.Sprintf(" AND usage = $%d", len(args))
	}
	if len(q.PublicKeyHash) != 0 {
		args = append(args, q.PublicKeyHash)
		query += fmt.Sprintf(" AND public_key_hash = $%d", len(args))
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search keyring records: %w", err)
	}
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search keyring records: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (models.Record, error) {
	if err := s.readable(ctx); err != nil {
		return models.Record{}, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, class, service, type_tag, usage, account, label,
			issuer, public_key_hash, generic, data, created_at, updated_at
		FROM keyring_records WHERE keyring_path = $1 AND id = $2`,
		s.id.Path, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Record{}, sentinel.ErrNotFound
	}
	return rec, err
}

func (s *PostgresStore) Put(ctx context.Context, rec models.Record) error {
	if err := s.readable(ctx); err != nil {
		return err
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO keyring_records
			(id, keyring_path, class, service, type_tag, usage, account, label,
			 issuer, public_key_hash, generic, data, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		rec.ID, s.id.Path, string(rec.Class), rec.Service, rec.TypeTag, rec.Usage,
		rec.Account, rec.Label, rec.Issuer, rec.PublicKeyHash, rec.Generic, rec.Data,
		rec.CreatedAt, now)
	if err != nil {
		return fmt.Errorf("put keyring record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, rec models.Record) error {
	if err := s.readable(ctx); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE keyring_records SET
			class = $3, service = $4, type_tag = $5, usage = $6, account = $7,
			label = $8, issuer = $9, public_key_hash = $10, generic = $11,
			data = $12, updated_at = $13
		WHERE keyring_path = $1 AND id = $2`,
		s.id.Path, rec.ID, string(rec.Class), rec.Service, rec.TypeTag, rec.Usage,
		rec.Account, rec.Label, rec.Issuer, rec.PublicKeyHash, rec.Generic, rec.Data,
		time.Now())
	if err != nil {
		return fmt.Errorf("update keyring record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) readable(ctx context.Context) error {
	exists, err := s.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.unlocked {
		return sentinel.ErrLocked
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (models.Record, error) {
	var rec models.Record
	var class string
	err := row.Scan(&rec.ID, &class, &rec.Service, &rec.TypeTag, &rec.Usage,
		&rec.Account, &rec.Label, &rec.Issuer, &rec.PublicKeyHash, &rec.Generic,
		&rec.Data, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return models.Record{}, err
	}
	rec.Class = models.Class(class)
	return rec, nil
}
