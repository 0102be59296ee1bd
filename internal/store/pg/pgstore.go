// Package pg provides the durable PostgreSQL store. Business mutations
// and their audit entries commit in one transaction; the audit sequence
// comes from a transactional bigserial, never a process-local counter.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"evidora.org/internal/evidence"
	"evidora.org/internal/identity"
	"evidora.org/internal/ledger"
	"evidora.org/internal/request"
)

// Store implements the workflow persistence interfaces on one database.
type Store struct {
	db *sql.DB
}

var (
	_ identity.SessionStore = sessionStore{}
	_ evidence.Service      = (*Store)(nil)
	_ request.Service       = (*Store)(nil)
	_ ledger.Ledger         = (*Store)(nil)
)

// Open connects to PostgreSQL with pool defaults tuned for the API.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing connection. Test use.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Sessions returns the session sub-store. Sessions live on their own
// store value because the request engine already claims Create on Store.
func (s *Store) Sessions() identity.SessionStore {
	return sessionStore{db: s.db}
}

type sessionStore struct {
	db *sql.DB
}

func (s sessionStore) Create(ctx context.Context, sess identity.Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sessions(id, user_id, role, organization_id, created_at, expires_at)
		values ($1,$2,$3,$4,$5,$6)
	`, sess.ID, sess.UserID, string(sess.Role), sess.OrganizationID, sess.CreatedAt, sess.ExpiresAt)
	return err
}

func (s sessionStore) Find(ctx context.Context, id string) (identity.Session, error) {
	var (
		sess identity.Session
		role string
	)
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, role, organization_id, created_at, expires_at
		from sessions where id=$1
	`, id).Scan(&sess.ID, &sess.UserID, &role, &sess.OrganizationID, &sess.CreatedAt, &sess.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Session{}, identity.ErrNotFound
	}
	if err != nil {
		return identity.Session{}, err
	}
	sess.Role = identity.Role(role)
	return sess, nil
}

func (s sessionStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `delete from sessions where id=$1`, id)
	return err
}
