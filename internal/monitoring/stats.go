package monitoring

import (
	"context"

	"github.com/rcourtman/fabricpulse/internal/aggregator"
	"github.com/rcourtman/fabricpulse/internal/barrier"
	"github.com/rcourtman/fabricpulse/internal/jobqueue"
	"github.com/rcourtman/fabricpulse/internal/logging"
	"github.com/rcourtman/fabricpulse/internal/metrics"
	"github.com/rcourtman/fabricpulse/internal/models"
	"github.com/rcourtman/fabricpulse/pkg/fabric"
)

// startStats schedules the statistics jobs of every controller and starts one
// pool of K workers per controller on b. It returns the number of jobs.
func (p *Poller) startStats(ctx context.Context, b *barrier.Barrier, runs []*controllerRun, agg *aggregator.Aggregator, t *tally) (int, error) {
	logger := logging.FromContext(ctx)
	total := 0

	for _, r := range runs {
		jobs := models.BuildStatJobs(r.model)
		total += len(jobs)
		if len(jobs) == 0 {
			continue
		}

		logger.Debug().
			Str("controller", r.model.Name).
			Int("jobs", len(jobs)).
			Int("workers", p.opts.Concurrency).
			Msg("Scheduling interface statistics")

		pool := &jobqueue.Pool[models.StatJob]{
			Name:    r.model.Name,
			Workers: p.opts.Concurrency,
			Queue:   jobqueue.NewQueue(jobs),
			Process: statJobProcessor(r.api, r.model.Session(), agg, t),
		}
		if err := pool.Start(ctx, b); err != nil {
			return total, err
		}
	}
	return total, nil
}

func statsClass(dir models.Direction) string {
	if dir == models.DirectionEgress {
		return fabric.ClassEgressStats
	}
	return fabric.ClassIngressStats
}

// statJobProcessor fetches one direction of one interface and reports the
// result to the aggregator. Failures are logged and contribute nothing.
func statJobProcessor(api ControllerAPI, session fabric.Session, agg *aggregator.Aggregator, t *tally) jobqueue.ProcessFunc[models.StatJob] {
	return func(ctx context.Context, job models.StatJob) {
		name := job.Key().Controller

		release := metrics.TrackInFlight(name)
		attrs, err := api.InterfaceStats(ctx, session, job.NodeDN, job.InterfaceID, statsClass(job.Direction))
		release()
		metrics.RecordStatJob(name, err)

		if err != nil {
			t.jobsFailed.Add(1)
			logging.FromContext(ctx).Warn().Err(err).
				Str("controller", name).
				Str("node", job.NodeID).
				Str("interface", job.InterfaceID).
				Str("direction", string(job.Direction)).
				Msg("Interface statistics fetch failed")
			return
		}

		if err := agg.Record(job.Key(), job.Direction, attrs); err != nil {
			logging.FromContext(ctx).Error().Err(err).Str("key", job.Key().String()).Msg("Failed to record interface statistics")
		}
	}
}
