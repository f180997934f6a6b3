package jobs

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/uretimplus/mes-backend/internal/data/repos/scheduling"
	"github.com/uretimplus/mes-backend/internal/pkg/dbctx"
	"github.com/uretimplus/mes-backend/internal/platform/logger"
	"github.com/uretimplus/mes-backend/internal/services"
)

const sweepConcurrency = 4

// ReservationSweeper periodically re-runs deferred substation reservation so
// assignments promoted by out-of-band changes (manual stock corrections,
// cancelled work) do not wait for the next task completion.
type ReservationSweeper struct {
	log            *logger.Logger
	substationRepo scheduling.SubstationRepo
	scheduler      services.SchedulerService
	interval       time.Duration
}

func NewReservationSweeper(baseLog *logger.Logger, substationRepo scheduling.SubstationRepo, scheduler services.SchedulerService, interval time.Duration) *ReservationSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ReservationSweeper{
		log:            baseLog.With("job", "ReservationSweeper"),
		substationRepo: substationRepo,
		scheduler:      scheduler,
		interval:       interval,
	}
}

// Run blocks until ctx is cancelled.
func (s *ReservationSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("reservation sweep failed", "error", err)
			}
		}
	}
}

func (s *ReservationSweeper) sweep(ctx context.Context) error {
	ids, err := s.substationRepo.ListIDs(dbctx.New(ctx))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			applied, err := s.scheduler.ApplyDeferredReservation(gctx, id)
			if err != nil {
				s.log.Warn("deferred reservation failed", "substation_id", id, "error", err)
				return nil
			}
			if applied {
				s.log.Info("deferred reservation applied", "substation_id", id)
			}
			return nil
		})
	}
	return g.Wait()
}
