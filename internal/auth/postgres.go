package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Identities(ctx context.Context) IdentityStore { return &identityStore{db: s.db} }
func (s *PGStore) Tokens(ctx context.Context) TokenStore        { return &tokenStore{db: s.db} }

// Identity store -----------------------------------------------------------
type identityStore struct{ db *sql.DB }

func (s *identityStore) Create(ctx context.Context, ident *Identity) error {
	if ident.DateJoined.IsZero() {
		ident.DateJoined = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into identities(username, password_hash, first_name, last_name, email, status, role, date_joined)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		ident.Username, ident.PasswordHash, ident.FirstName, ident.LastName,
		ident.Email, string(ident.Status), ident.Role.String(), ident.DateJoined,
	)
	return err
}

func (s *identityStore) FindByUsername(ctx context.Context, username string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`select username, password_hash, first_name, last_name, email, status, role, date_joined, last_login
		 from identities where username=$1`, username)
	return scanIdentity(row)
}

func scanIdentity(row *sql.Row) (*Identity, error) {
	var (
		ident     Identity
		status    string
		roleName  string
		lastLogin sql.NullTime
	)
	err := row.Scan(&ident.Username, &ident.PasswordHash, &ident.FirstName, &ident.LastName,
		&ident.Email, &status, &roleName, &ident.DateJoined, &lastLogin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	ident.Status = Status(status)
	role, err := ParseRole(roleName)
	if err != nil {
		return nil, fmt.Errorf("scan identity %s: %w", ident.Username, err)
	}
	ident.Role = role
	if lastLogin.Valid {
		t := lastLogin.Time
		ident.LastLogin = &t
	}
	return &ident, nil
}

func (s *identityStore) UpdatePassword(ctx context.Context, username, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update identities set password_hash=$2 where username=$1`, username, passwordHash)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *identityStore) RecordLogin(ctx context.Context, username string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update identities set last_login=$2 where username=$1`, username, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Delete removes the identity and its token records in one transaction.
// The schema carries an on-delete cascade as well; the explicit delete
// keeps the invariant visible and independent of the DDL.
func (s *identityStore) Delete(ctx context.Context, username string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `delete from token_records where username=$1`, username); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `delete from identities where username=$1`, username)
	if err != nil {
		return err
	}
	if err := requireRow(res); err != nil {
		return err
	}
	return tx.Commit()
}

// Token store --------------------------------------------------------------
type tokenStore struct{ db *sql.DB }

func (s *tokenStore) Insert(ctx context.Context, rec *TokenRecord) error {
	_, err := s.db.ExecContext(ctx,
		`insert into token_records(id, username, expires_at) values($1,$2,$3)`,
		rec.ID, rec.Username, rec.ExpiresAt,
	)
	return err
}

func (s *tokenStore) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from token_records where id=$1)`, id).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (s *tokenStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `delete from token_records where id=$1`, id)
	return err
}

func (s *tokenStore) DeleteByUsername(ctx context.Context, username string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from token_records where username=$1`, username)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *tokenStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from token_records where expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *tokenStore) CountByUsername(ctx context.Context, username string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`select count(*) from token_records where username=$1`, username).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
