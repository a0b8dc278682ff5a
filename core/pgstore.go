package core

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres-backed stores over the users / user_profiles tables.

type pgIdentityStore struct{ pool *pgxpool.Pool }

// NewPGIdentityStore returns an IdentityStore over the users table.
func NewPGIdentityStore(pool *pgxpool.Pool) IdentityStore { return &pgIdentityStore{pool: pool} }

const identityCols = `id, email, phone, email_verified, auth_provider, created_at, updated_at`

func (s *pgIdentityStore) scanOne(row pgx.Row) (*Identity, error) {
	var id Identity
	err := row.Scan(&id.ID, &id.Email, &id.Phone, &id.EmailVerified, &id.AuthProvider, &id.CreatedAt, &id.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (s *pgIdentityStore) ByID(ctx context.Context, id string) (*Identity, error) {
	return s.scanOne(s.pool.QueryRow(ctx, `SELECT `+identityCols+` FROM users WHERE id=$1`, id))
}

func (s *pgIdentityStore) ByEmail(ctx context.Context, email string) (*Identity, error) {
	return s.scanOne(s.pool.QueryRow(ctx, `SELECT `+identityCols+` FROM users WHERE lower(email)=lower($1)`, email))
}

func (s *pgIdentityStore) ByPhone(ctx context.Context, phone string) (*Identity, error) {
	return s.scanOne(s.pool.QueryRow(ctx, `SELECT `+identityCols+` FROM users WHERE phone=$1`, phone))
}

func (s *pgIdentityStore) Insert(ctx context.Context, id *Identity) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, email, phone, email_verified, auth_provider)
		VALUES ($1, NULLIF(lower($2), ''), NULLIF($3, ''), $4, NULLIF($5, ''))
		ON CONFLICT (id) DO NOTHING
	`, id.ID, strval(id.Email), strval(id.Phone), id.EmailVerified, strval(id.AuthProvider))
	return err
}

func (s *pgIdentityStore) SetEmailVerified(ctx context.Context, email string, verified bool) error {
	_, err := s.pool.Exec(ctx, `UPDATE users SET email_verified=$2, updated_at=NOW() WHERE lower(email)=lower($1)`, email, verified)
	return err
}

type pgProfileStore struct{ pool *pgxpool.Pool }

// NewPGProfileStore returns a ProfileStore over the user_profiles table.
func NewPGProfileStore(pool *pgxpool.Pool) ProfileStore { return &pgProfileStore{pool: pool} }

const profileCols = `id, user_type, first_name, last_name, company_name, username, country_code, city, avatar_url, is_active, created_at, updated_at`

func (s *pgProfileStore) ByIdentity(ctx context.Context, identityID string) (*Profile, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+profileCols+` FROM user_profiles WHERE id=$1`, identityID)
	var p Profile
	err := row.Scan(&p.IdentityID, &p.UserType, &p.FirstName, &p.LastName, &p.CompanyName,
		&p.Username, &p.CountryCode, &p.City, &p.AvatarURL, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *pgProfileStore) UsernameExists(ctx context.Context, username string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM user_profiles WHERE username=$1`, username).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *pgProfileStore) Insert(ctx context.Context, p *Profile) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_profiles (id, user_type, first_name, last_name, company_name, username, country_code, city, avatar_url, is_active)
		VALUES ($1, $2, $3, $4, NULLIF($5,''), $6, NULLIF($7,''), NULLIF($8,''), NULLIF($9,''), $10)
	`, p.IdentityID, p.UserType, p.FirstName, p.LastName, strval(p.CompanyName),
		p.Username, strval(p.CountryCode), strval(p.City), strval(p.AvatarURL), p.IsActive)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrUsernameTaken
	}
	return err
}

func strval(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
