package worker

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/edulab/proctor-bridge/internal/config"
	"github.com/edulab/proctor-bridge/internal/service"
)

const SyncPollTimeout = 1 * time.Second

// SyncWorker drives reconciliation: a periodic sweep enqueues one unit per
// eligible module on a Redis list, and the consume loop pops units and
// runs them one at a time so a slow module cannot block the sweep. The
// inflight set dedupes: a module already queued is not enqueued again.
type SyncWorker struct {
	scheduler     *service.SyncScheduler
	rdb           *redis.Client
	sweepInterval time.Duration
	log           zerolog.Logger
}

func NewSyncWorker(scheduler *service.SyncScheduler, rdb *redis.Client, sweepInterval time.Duration, log zerolog.Logger) *SyncWorker {
	return &SyncWorker{
		scheduler:     scheduler,
		rdb:           rdb,
		sweepInterval: sweepInterval,
		log:           log.With().Str("component", "sync_worker").Logger(),
	}
}

// Enqueue schedules one module for reconciliation. Used by the sweep and
// by the ad-hoc admin endpoint. A module already waiting is skipped.
func (w *SyncWorker) Enqueue(ctx context.Context, moduleID int64) error {
	key := strconv.FormatInt(moduleID, 10)

	added, err := w.rdb.SAdd(ctx, config.WorkerKey.SyncInflight, key).Result()
	if err != nil {
		return err
	}
	if added == 0 {
		return nil
	}
	return w.rdb.RPush(ctx, config.WorkerKey.SyncQueue, key).Err()
}

// Start runs the sweep ticker and the consume loop until ctx is canceled.
func (w *SyncWorker) Start(ctx context.Context) {
	w.log.Info().Dur("sweep_interval", w.sweepInterval).Msg("SyncWorker started")

	go w.sweepLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. SyncWorker stopping...")
			return

		default:
			item, err := w.rdb.BLPop(ctx, SyncPollTimeout, config.WorkerKey.SyncQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}
			w.consume(ctx, item[1])
		}
	}
}

func (w *SyncWorker) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	// First sweep right away so a restart does not wait a full interval.
	w.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *SyncWorker) sweep(ctx context.Context) {
	targets, err := w.scheduler.ListSweepTargets(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("Sweep target listing failed")
		return
	}

	for _, mod := range targets {
		if err := w.Enqueue(ctx, mod.ID); err != nil {
			w.log.Error().Err(err).Int64("module_id", mod.ID).Msg("Enqueue failed")
		}
	}
	w.log.Debug().Int("targets", len(targets)).Msg("Sweep completed")
}

func (w *SyncWorker) consume(ctx context.Context, raw string) {
	moduleID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		w.log.Error().Str("item", raw).Msg("Invalid queue item")
		return
	}

	defer w.rdb.SRem(context.Background(), config.WorkerKey.SyncInflight, raw)

	outcome, err := w.scheduler.ReconcileModuleID(ctx, moduleID)
	if err != nil {
		w.log.Error().Err(err).Int64("module_id", moduleID).Msg("Reconciliation failed")
		return
	}
	if outcome.Changed {
		w.log.Info().
			Int64("module_id", moduleID).
			Int("pushed", outcome.UsersPushed).
			Int("skipped", outcome.UsersSkipped).
			Msg("Reconciliation unit done")
	}
}
