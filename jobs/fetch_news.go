package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"github.com/gurbetci/authcore/news"
)

// Fetcher produces candidate articles for a category. Implementations live
// outside this module; the worker only owns the deduplicated write path.
type Fetcher interface {
	Fetch(ctx context.Context, category string) ([]news.Item, error)
}

type FetchNewsArgs struct {
	Category string `json:"category"`
}

func (FetchNewsArgs) Kind() string { return "authcore_fetch_news" }

func (args FetchNewsArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue: river.QueueDefault,
		UniqueOpts: river.UniqueOpts{
			ByArgs:   true,
			ByPeriod: time.Hour,
			ByQueue:  true,
		},
	}
}

// FetchNewsWorker pulls articles from the fetcher and writes each through
// AddNews, so re-runs and overlapping feeds never produce duplicates.
type FetchNewsWorker struct {
	river.WorkerDefaults[FetchNewsArgs]
	fetcher Fetcher
	store   *news.Store
	log     *zap.Logger
}

func NewFetchNewsWorker(fetcher Fetcher, store *news.Store, log *zap.Logger) *FetchNewsWorker {
	if log == nil {
		log = zap.NewNop()
	}
	return &FetchNewsWorker{fetcher: fetcher, store: store, log: log}
}

func (w *FetchNewsWorker) Timeout(*river.Job[FetchNewsArgs]) time.Duration {
	return 10 * time.Minute
}

func (w *FetchNewsWorker) Work(ctx context.Context, job *river.Job[FetchNewsArgs]) error {
	if w == nil || w.fetcher == nil || w.store == nil {
		return errors.New("fetch news: not configured")
	}
	items, err := w.fetcher.Fetch(ctx, job.Args.Category)
	if err != nil {
		return err
	}
	inserted := 0
	for i := range items {
		ok, err := w.store.AddNews(ctx, &items[i])
		if err != nil {
			return err
		}
		if ok {
			inserted++
		}
	}
	w.log.Info("news fetched",
		zap.String("category", job.Args.Category),
		zap.Int("candidates", len(items)),
		zap.Int("inserted", inserted))
	return nil
}
