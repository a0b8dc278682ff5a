// Package otp implements the custom one-time-code store backing
// custom-branded email verification and password reset. Codes live in the
// otp_codes side table: 6 decimal digits, 10-minute expiry, single-use.
// Issuing never invalidates prior outstanding codes for the same contact;
// any unexpired, unused, matching code verifies.
package otp

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gurbetci/authcore/core"
)

// Postgres is the production code store over the otp_codes table.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres { return &Postgres{pool: pool} }

func (s *Postgres) Issue(ctx context.Context, purpose core.CodePurpose, contact core.Contact, identityID string) (string, error) {
	code := core.GenerateCode()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO otp_codes (code, purpose, email, phone, user_id, expires_at, used)
		VALUES ($1, $2, NULLIF($3,''), NULLIF($4,''), NULLIF($5,'')::uuid, $6, false)
	`, code, purpose, contact.Email, contact.Phone, identityID, time.Now().Add(core.CodeTTL))
	if err != nil {
		return "", err
	}
	return code, nil
}

// Verify consumes the most recently issued matching row with one conditional
// update, so of two concurrent callers holding the same valid code exactly
// one succeeds.
func (s *Postgres) Verify(ctx context.Context, purpose core.CodePurpose, contact core.Contact, code string) (*core.OneTimeCode, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE otp_codes SET used = true
		WHERE id = (
			SELECT id FROM otp_codes
			WHERE code = $1 AND purpose = $2
			  AND (email = NULLIF($3,'') OR phone = NULLIF($4,''))
			  AND used = false AND expires_at > NOW()
			ORDER BY created_at DESC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, code, purpose, email, phone, user_id, expires_at, used, created_at
	`, code, purpose, contact.Email, contact.Phone)

	var rec core.OneTimeCode
	err := row.Scan(&rec.ID, &rec.Code, &rec.Purpose, &rec.Email, &rec.Phone, &rec.IdentityID,
		&rec.ExpiresAt, &rec.Used, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrCodeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Postgres) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM otp_codes WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
