// Package news is the storage surface the external news pipeline writes
// through. Only the insert-with-duplicate-check contract lives here; fetching
// and scheduling belong to the pipeline (see jobs).
package news

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

// Item is one news article. SourceURL is the identity: the table carries a
// unique constraint on it.
type Item struct {
	bun.BaseModel `bun:"table:news"`

	ID        int64     `bun:"id,pk,autoincrement"`
	Title     string    `bun:"news_title,notnull"`
	Content   string    `bun:"news_content,notnull"`
	Category  string    `bun:"category,notnull"`
	SourceURL string    `bun:"source_url,notnull,unique"`
	ImageURL  string    `bun:"image_url"`
	ReadTime  int       `bun:"read_time"`
	CreatedAt time.Time `bun:"created_at,nullzero,default:now()"`
}

// Store persists news items.
type Store struct {
	db *bun.DB
}

func NewStore(sqldb *sql.DB) *Store {
	return &Store{db: bun.NewDB(sqldb, pgdialect.New())}
}

// AddNews inserts the item unless an article with the same source URL already
// exists. Returns whether a row was written. The advisory pre-check keeps the
// common duplicate case cheap; the conflict clause decides under concurrency.
func (s *Store) AddNews(ctx context.Context, item *Item) (bool, error) {
	exists, err := s.db.NewSelect().
		Model((*Item)(nil)).
		Where("source_url = ?", item.SourceURL).
		Exists(ctx)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if item.ReadTime == 0 {
		item.ReadTime = ReadTime(item.Content)
	}
	res, err := s.db.NewInsert().
		Model(item).
		On("CONFLICT (source_url) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ByCategory returns the newest items in a category.
func (s *Store) ByCategory(ctx context.Context, category string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 20
	}
	var items []Item
	err := s.db.NewSelect().
		Model(&items).
		Where("category = ?", category).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)
	return items, err
}

// ReadTime estimates reading minutes at 200 words per minute, minimum 1.
func ReadTime(content string) int {
	words := len(strings.Fields(content))
	minutes := words / 200
	if words%200 != 0 {
		minutes++
	}
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}
