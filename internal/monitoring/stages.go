package monitoring

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rcourtman/fabricpulse/internal/aggregator"
	"github.com/rcourtman/fabricpulse/internal/barrier"
	"github.com/rcourtman/fabricpulse/internal/httptask"
	"github.com/rcourtman/fabricpulse/internal/logging"
	"github.com/rcourtman/fabricpulse/internal/metrics"
	"github.com/rcourtman/fabricpulse/internal/models"
	"github.com/rcourtman/fabricpulse/pkg/fabric"
	"golang.org/x/sync/errgroup"
)

// tally collects counters written from concurrent callbacks.
type tally struct {
	loggedIn     atomic.Int32
	jobsFailed   atomic.Int32
	eventsSent   atomic.Int32
	eventsFailed atomic.Int32
}

// Run executes one polling cycle. Per-item failures are logged and leave
// gaps in the result; an error is returned only when the run could not
// complete (cancelled context or a coordination bug).
func (p *Poller) Run(ctx context.Context) (*RunSummary, error) {
	started := time.Now()
	ctx, runID := logging.WithRunID(ctx, "")
	logger := logging.FromContext(ctx)

	runs := p.newRuns(ctx)
	var t tally

	logger.Info().Int("controllers", len(runs)).Msg("Starting poll cycle")

	// Stage 1: node IDs and sessions.
	stage1 := barrier.New("stage1")
	if err := p.startStage1(ctx, stage1, runs, &t); err != nil {
		return nil, err
	}
	if err := stage1.Wait(ctx); err != nil {
		return nil, err
	}
	logger.Debug().Int("operations", stage1.Total()).Msg("Stage 1 complete")

	// Stage 2: capacity, faults and topology.
	stage2 := barrier.New("stage2")
	if err := p.startStage2(ctx, stage2, runs); err != nil {
		return nil, err
	}
	if err := stage2.Wait(ctx); err != nil {
		return nil, err
	}
	logger.Debug().Int("operations", stage2.Total()).Msg("Stage 2 complete")

	controllers := make([]*models.Controller, 0, len(runs))
	for _, r := range runs {
		controllers = append(controllers, r.model)
	}

	// Statistics run as an independent pipeline next to Stage 3.
	agg := aggregator.New(controllers)
	stats := barrier.New("interface-stats")
	scheduled, err := p.startStats(ctx, stats, runs, agg, &t)
	if err != nil {
		agg.Freeze()
		return nil, err
	}

	stage3 := barrier.New("stage3")
	if err := p.startStage3(ctx, stage3, runs, &t); err != nil {
		agg.Freeze()
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return stage3.Wait(gctx) })
	g.Go(func() error { return stats.Wait(gctx) })
	if err := g.Wait(); err != nil {
		agg.Freeze()
		return nil, err
	}

	aggStats := agg.Freeze()

	summary := &RunSummary{
		RunID:         runID,
		Started:       started,
		Controllers:   len(runs),
		LoggedIn:      int(t.loggedIn.Load()),
		JobsScheduled: scheduled,
		JobsFailed:    int(t.jobsFailed.Load()),
		EventsSent:    int(t.eventsSent.Load()),
		EventsFailed:  int(t.eventsFailed.Load()),
		Overwritten:   aggStats.Overwritten,
		Result:        controllers,
	}
	for _, c := range controllers {
		summary.Faults += len(c.Faults())
		for _, n := range c.Nodes() {
			summary.Nodes++
			summary.Interfaces += len(n.Interfaces)
		}
	}

	if p.opts.Output != nil {
		res := p.opts.Output.WriteAll(ctx, controllers)
		summary.FilesWritten = res.Written
		summary.FilesFailed = res.Failed
	}

	summary.Duration = time.Since(started)
	metrics.ObserveRun(summary.Duration)

	logger.Info().
		Int("controllers", summary.Controllers).
		Int("logged_in", summary.LoggedIn).
		Int("faults", summary.Faults).
		Int("jobs", summary.JobsScheduled).
		Int("jobs_failed", summary.JobsFailed).
		Int("events_sent", summary.EventsSent).
		Int("events_failed", summary.EventsFailed).
		Int("files", len(summary.FilesWritten)).
		Dur("duration", summary.Duration).
		Msg("Poll cycle complete")

	return summary, nil
}

func (p *Poller) startStage1(ctx context.Context, b *barrier.Barrier, runs []*controllerRun, t *tally) error {
	logger := logging.FromContext(ctx)

	for _, r := range runs {
		c, api := r.model, r.api

		if p.opts.Locator != nil {
			err := httptask.Spawn(ctx, b,
				func(ctx context.Context) (string, error) { return p.opts.Locator.NodeID(ctx, c.Name) },
				func(id string, err error) {
					if err != nil {
						logger.Warn().Err(err).Str("controller", c.Name).Msg("Failed to resolve monitoring node ID")
						return
					}
					c.SetNodeID(id)
				})
			if err != nil {
				return err
			}
		}

		err := httptask.Spawn(ctx, b, api.Login, func(s fabric.Session, err error) {
			if err != nil {
				logger.Error().Err(err).Str("controller", c.Name).Msg("Login failed, continuing without session")
				return
			}
			c.SetSession(s)
			t.loggedIn.Add(1)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Poller) startStage2(ctx context.Context, b *barrier.Barrier, runs []*controllerRun) error {
	logger := logging.FromContext(ctx)

	for _, r := range runs {
		c, api := r.model, r.api
		session := c.Session()

		err := httptask.Spawn(ctx, b,
			func(ctx context.Context) ([]fabric.Object, error) { return api.Capacity(ctx, session) },
			func(objs []fabric.Object, err error) {
				if err != nil {
					logger.Warn().Err(err).Str("controller", c.Name).Msg("Failed to fetch capacity")
					return
				}
				c.SetCapacity(toCapacity(objs))
			})
		if err != nil {
			return err
		}

		err = httptask.Spawn(ctx, b,
			func(ctx context.Context) ([]fabric.Object, error) { return api.Faults(ctx, session) },
			func(objs []fabric.Object, err error) {
				if err != nil {
					logger.Warn().Err(err).Str("controller", c.Name).Msg("Failed to fetch faults")
					return
				}
				c.SetFaults(toFaults(objs))
			})
		if err != nil {
			return err
		}

		err = httptask.Spawn(ctx, b,
			func(ctx context.Context) ([]fabric.Object, error) { return api.Nodes(ctx, session) },
			func(objs []fabric.Object, err error) {
				if err != nil {
					logger.Warn().Err(err).Str("controller", c.Name).Msg("Failed to fetch fabric nodes")
					return
				}
				for _, obj := range objs {
					node := toNode(obj)
					c.AddNode(node)
					if !node.IsActive() {
						continue
					}
					// Registered before this unit completes, so the stage waits for it.
					if err := p.spawnInterfaces(ctx, b, c, api, session, node); err != nil {
						logger.Error().Err(err).Str("controller", c.Name).Str("node", node.ID).Msg("Failed to schedule interface discovery")
					}
				}
			})
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Poller) spawnInterfaces(ctx context.Context, b *barrier.Barrier, c *models.Controller, api ControllerAPI, session fabric.Session, node *models.FabricNode) error {
	logger := logging.FromContext(ctx)
	return httptask.Spawn(ctx, b,
		func(ctx context.Context) ([]fabric.Object, error) { return api.Interfaces(ctx, session, node.DN) },
		func(objs []fabric.Object, err error) {
			if err != nil {
				logger.Warn().Err(err).Str("controller", c.Name).Str("node", node.ID).Msg("Failed to fetch interfaces")
				return
			}
			node.Interfaces = toInterfaces(objs)
		})
}

func (p *Poller) startStage3(ctx context.Context, b *barrier.Barrier, runs []*controllerRun, t *tally) error {
	if p.opts.Events == nil {
		return nil
	}

	for _, r := range runs {
		c := r.model
		for _, fault := range c.Faults() {
			fault := fault
			err := httptask.Spawn(ctx, b,
				func(ctx context.Context) (struct{}, error) { return struct{}{}, p.opts.Events.Send(ctx, c, fault) },
				func(_ struct{}, err error) {
					if err != nil {
						t.eventsFailed.Add(1)
						return
					}
					t.eventsSent.Add(1)
				})
			if err != nil {
				return err
			}
		}
	}
	return nil
}
