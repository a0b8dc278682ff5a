package jobs

import (
	"fmt"

	"github.com/riverqueue/river"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/gurbetci/authcore/core"
	"github.com/gurbetci/authcore/news"
)

// RegisterPurgeExpiredCodesWorker registers the code purge worker.
func RegisterPurgeExpiredCodesWorker(ws *river.Workers, codes core.CodeStore, log *zap.Logger) {
	river.AddWorker(ws, NewPurgeExpiredCodesWorker(codes, log))
}

// RegisterFetchNewsWorker registers the news fetch worker.
func RegisterFetchNewsWorker(ws *river.Workers, fetcher Fetcher, store *news.Store, log *zap.Logger) {
	river.AddWorker(ws, NewFetchNewsWorker(fetcher, store, log))
}

// AddPurgeExpiredCodesPeriodicJob enqueues the purge on a cron schedule,
// e.g. "0 4 * * *" for daily at 4 AM.
func AddPurgeExpiredCodesPeriodicJob[T any](client *river.Client[T], cronSpec string, args PurgeExpiredCodesArgs, runOnStart bool) error {
	return addPeriodic(client, cronSpec, args, runOnStart)
}

// AddFetchNewsPeriodicJob enqueues a category fetch on a cron schedule.
func AddFetchNewsPeriodicJob[T any](client *river.Client[T], cronSpec string, args FetchNewsArgs, runOnStart bool) error {
	return addPeriodic(client, cronSpec, args, runOnStart)
}

type periodicArgs interface {
	river.JobArgs
	InsertOpts() river.InsertOpts
}

func addPeriodic[T any](client *river.Client[T], cronSpec string, args periodicArgs, runOnStart bool) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cronSpec)
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", cronSpec, err)
	}
	opts := args.InsertOpts()
	_ = client.PeriodicJobs().Add(
		river.NewPeriodicJob(
			schedule,
			func() (river.JobArgs, *river.InsertOpts) { return args, &opts },
			&river.PeriodicJobOpts{RunOnStart: runOnStart},
		),
	)
	return nil
}
