// Package country decides whether phone auth is open for a number's dialing
// code. The allow-list ships as a static default and can be swapped for the
// supported_countries table so launches don't need a redeploy.
package country

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultDialCodes are the launch regions: Poland, Turkey, Germany.
var DefaultDialCodes = []string{"+48", "+90", "+49"}

// Checker implements core.CountryChecker.
type Checker struct {
	codes []string
	pg    *pgxpool.Pool
}

func NewChecker() *Checker {
	return &Checker{codes: append([]string(nil), DefaultDialCodes...)}
}

// WithDialCodes replaces the static allow-list.
func (c *Checker) WithDialCodes(codes []string) *Checker {
	c.codes = append([]string(nil), codes...)
	return c
}

// WithPostgres reads the allow-list from supported_countries instead of the
// static default.
func (c *Checker) WithPostgres(pool *pgxpool.Pool) *Checker { c.pg = pool; return c }

// Supported reports whether the E.164 number's dialing code is allowed.
func (c *Checker) Supported(ctx context.Context, phone string) (bool, error) {
	codes := c.codes
	if c.pg != nil {
		dbCodes, err := c.dbDialCodes(ctx)
		if err != nil {
			return false, err
		}
		if len(dbCodes) > 0 {
			codes = dbCodes
		}
	}
	return matchDialCode(phone, codes) != "", nil
}

// DialCode returns the allow-listed dialing code prefixing phone, or "".
func (c *Checker) DialCode(phone string) string {
	return matchDialCode(phone, c.codes)
}

func (c *Checker) dbDialCodes(ctx context.Context) ([]string, error) {
	rows, err := c.pg.Query(ctx, `SELECT dial_code FROM supported_countries WHERE is_active = true`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// matchDialCode picks the longest matching prefix so +1 never shadows +1868.
func matchDialCode(phone string, codes []string) string {
	best := ""
	for _, code := range codes {
		if strings.HasPrefix(phone, code) && len(code) > len(best) {
			best = code
		}
	}
	return best
}
