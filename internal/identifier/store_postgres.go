package identifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"vouch/pkg/platform/sentinel"
)

// uniqueViolation is the PostgreSQL error code raised by the unique index on
// public_key; it is what makes Insert behave as insert-or-conflict.
const uniqueViolation = "23505"

// PostgresStore persists identifiers in PostgreSQL.
//
// Expected schema:
//
//	CREATE TABLE identifiers (
//	    id         UUID PRIMARY KEY,
//	    did        TEXT NOT NULL,
//	    public_key BYTEA NOT NULL UNIQUE,
//	    created_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX identifiers_did_idx ON identifiers (did, created_at);
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Insert(ctx context.Context, ident Identifier) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO identifiers (id, did, public_key, created_at) VALUES ($1, $2, $3, $4)`,
		ident.ID, ident.DID, ident.PublicKey, ident.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert identifier: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByDID(ctx context.Context, did string) ([]Identifier, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, did, public_key, created_at FROM identifiers WHERE did = $1 ORDER BY created_at`,
		did)
	if err != nil {
		return nil, fmt.Errorf("find identifiers by did: %w", err)
	}
	defer rows.Close()

	idents, err := scanIdentifiers(rows)
	if err != nil {
		return nil, err
	}
	if len(idents) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return idents, nil
}

func (s *PostgresStore) FindByPublicKey(ctx context.Context, publicKey []byte) ([]Identifier, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, did, public_key, created_at FROM identifiers WHERE public_key = $1 ORDER BY created_at`,
		publicKey)
	if err != nil {
		return nil, fmt.Errorf("find identifiers by public key: %w", err)
	}
	defer rows.Close()

	idents, err := scanIdentifiers(rows)
	if err != nil {
		return nil, err
	}
	if len(idents) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return idents, nil
}

func scanIdentifiers(rows pgx.Rows) ([]Identifier, error) {
	var idents []Identifier
	for rows.Next() {
		var ident Identifier
		if err := rows.Scan(&ident.ID, &ident.DID, &ident.PublicKey, &ident.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan identifier: %w", err)
		}
		idents = append(idents, ident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identifiers: %w", err)
	}
	return idents, nil
}
