package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"vouch/pkg/platform/sentinel"
	"vouch/pkg/platform/tx"
)

const uniqueViolation = "23505"

// PostgresStore persists credential records in PostgreSQL.
//
// Expected schema:
//
//	CREATE TABLE credentials (
//	    id            UUID PRIMARY KEY,
//	    subject       TEXT NOT NULL,
//	    issuer        TEXT NOT NULL,
//	    issued_at     TIMESTAMPTZ NOT NULL,
//	    valid_until   TIMESTAMPTZ,
//	    prior_id      UUID UNIQUE REFERENCES credentials (id),
//	    amending_keys TEXT[] NOT NULL DEFAULT '{}',
//	    claims        JSONB NOT NULL
//	);
//	CREATE INDEX credentials_subject_idx ON credentials (subject, issued_at);
//
//	CREATE TABLE credential_tags (
//	    credential_id UUID NOT NULL REFERENCES credentials (id),
//	    kind          TEXT NOT NULL,
//	    tag           TEXT NOT NULL,
//	    PRIMARY KEY (credential_id, kind, tag)
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Insert writes the credential row and its context/type tag links in one
// transaction; a failing tag insert aborts the whole record. When the
// context carries an ambient transaction it joins it instead of opening its
// own.
func (s *PostgresStore) Insert(ctx context.Context, rec Record) error {
	if ambient, ok := tx.From(ctx); ok {
		return s.insertIn(ctx, ambient, rec)
	}

	pgtx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert credential: %w", err)
	}
	defer pgtx.Rollback(ctx)

	if err := s.insertIn(ctx, pgtx, rec); err != nil {
		return err
	}
	if err := pgtx.Commit(ctx); err != nil {
		return fmt.Errorf("commit insert credential: %w", err)
	}
	return nil
}

func (s *PostgresStore) insertIn(ctx context.Context, pgtx pgx.Tx, rec Record) error {
	claims, err := json.Marshal(rec.Claims)
	if err != nil {
		return fmt.Errorf("marshal credential claims: %w", err)
	}
	_, err = pgtx.Exec(ctx,
		`INSERT INTO credentials (id, subject, issuer, issued_at, valid_until, prior_id, amending_keys, claims)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.Subject, rec.Issuer, rec.IssuedAt, rec.ValidUntil, rec.PriorID, rec.AmendingKeys, claims)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert credential: %w", err)
	}
	for kind, tags := range map[string][]string{"context": rec.Contexts, "type": rec.Types} {
		for _, t := range tags {
			if _, err := pgtx.Exec(ctx,
				`INSERT INTO credential_tags (credential_id, kind, tag) VALUES ($1, $2, $3)`,
				rec.ID, kind, t); err != nil {
				return fmt.Errorf("insert credential %s tag: %w", kind, err)
			}
		}
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (Record, error) {
	return s.findOne(ctx, `WHERE c.id = $1`, id)
}

func (s *PostgresStore) FindByPrior(ctx context.Context, priorID uuid.UUID) (Record, error) {
	return s.findOne(ctx, `WHERE c.prior_id = $1`, priorID)
}

func (s *PostgresStore) FindBySubject(ctx context.Context, subject string) ([]Record, error) {
	rows, err := s.pool.Query(ctx, selectRecord+` WHERE c.subject = $1`+groupRecord+` ORDER BY c.issued_at, c.id`, subject)
	if err != nil {
		return nil, fmt.Errorf("find credentials by subject: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	if len(recs) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return recs, nil
}

const selectRecord = `
	SELECT c.id, c.subject, c.issuer, c.issued_at, c.valid_until, c.prior_id, c.amending_keys, c.claims,
	       COALESCE(array_agg(t.tag ORDER BY t.tag) FILTER (WHERE t.kind = 'context'), '{}') AS contexts,
	       COALESCE(array_agg(t.tag ORDER BY t.tag) FILTER (WHERE t.kind = 'type'), '{}') AS types
	FROM credentials c
	LEFT JOIN credential_tags t ON t.credential_id = c.id`

const groupRecord = ` GROUP BY c.id`

func (s *PostgresStore) findOne(ctx context.Context, where string, arg any) (Record, error) {
	rows, err := s.pool.Query(ctx, selectRecord+" "+where+groupRecord, arg)
	if err != nil {
		return Record{}, fmt.Errorf("find credential: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Record{}, fmt.Errorf("find credential: %w", err)
		}
		return Record{}, sentinel.ErrNotFound
	}
	return scanRecord(rows)
}

func scanRecord(rows pgx.Rows) (Record, error) {
	var (
		rec        Record
		validUntil *time.Time
		priorID    *uuid.UUID
		claims     []byte
	)
	if err := rows.Scan(&rec.ID, &rec.Subject, &rec.Issuer, &rec.IssuedAt, &validUntil,
		&priorID, &rec.AmendingKeys, &claims, &rec.Contexts, &rec.Types); err != nil {
		return Record{}, fmt.Errorf("scan credential: %w", err)
	}
	rec.ValidUntil = validUntil
	rec.PriorID = priorID
	if err := json.Unmarshal(claims, &rec.Claims); err != nil {
		return Record{}, fmt.Errorf("unmarshal credential claims: %w", err)
	}
	return rec, nil
}
