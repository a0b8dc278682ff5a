// Package jobs holds the River background workers: expired-code purging and
// the news fetch pipeline's write side.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"github.com/gurbetci/authcore/core"
)

type PurgeExpiredCodesArgs struct {
	RetentionDays int `json:"retention_days,omitempty"`
}

func (PurgeExpiredCodesArgs) Kind() string { return "authcore_purge_expired_codes" }

func (args PurgeExpiredCodesArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue: river.QueueDefault,
		UniqueOpts: river.UniqueOpts{
			ByArgs:   true,
			ByPeriod: 24 * time.Hour,
			ByQueue:  true,
		},
	}
}

// PurgeExpiredCodesWorker deletes one-time codes whose expiry passed more
// than RetentionDays ago. Used and recent codes are kept for support
// lookups inside the retention window.
type PurgeExpiredCodesWorker struct {
	river.WorkerDefaults[PurgeExpiredCodesArgs]
	codes core.CodeStore
	log   *zap.Logger
}

func NewPurgeExpiredCodesWorker(codes core.CodeStore, log *zap.Logger) *PurgeExpiredCodesWorker {
	if log == nil {
		log = zap.NewNop()
	}
	return &PurgeExpiredCodesWorker{codes: codes, log: log}
}

func (w *PurgeExpiredCodesWorker) Timeout(*river.Job[PurgeExpiredCodesArgs]) time.Duration {
	return 5 * time.Minute
}

func (w *PurgeExpiredCodesWorker) Work(ctx context.Context, job *river.Job[PurgeExpiredCodesArgs]) error {
	if w == nil || w.codes == nil {
		return errors.New("purge codes: store not configured")
	}
	retention := job.Args.RetentionDays
	if retention <= 0 {
		retention = 7
	}
	cutoff := time.Now().AddDate(0, 0, -retention)
	purged, err := w.codes.PurgeExpired(ctx, cutoff)
	if err != nil {
		return err
	}
	w.log.Info("expired codes purged", zap.Int64("purged", purged), zap.Time("cutoff", cutoff))
	return nil
}
