package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/uretimplus/mes-backend/internal/data/repos/scheduling"
	"github.com/uretimplus/mes-backend/internal/domain"
	"github.com/uretimplus/mes-backend/internal/pkg/dbctx"
	"github.com/uretimplus/mes-backend/internal/platform/logger"
)

type RecordOptions struct {
	Reason   string
	Metadata map[string]interface{}
}

type PauseStats struct {
	PauseCount      int           `json:"pause_count"`
	ResumeCount     int           `json:"resume_count"`
	TotalPaused     time.Duration `json:"-"`
	TotalPausedMins float64       `json:"total_paused_minutes"`
	CurrentlyPaused bool          `json:"currently_paused"`
}

// StatusHistoryService appends immutable transition records and derives
// pause accounting from them.
type StatusHistoryService interface {
	RecordStatusChange(dbc dbctx.Context, assignmentID uuid.UUID, fromStatus, toStatus, changedBy string, opts RecordOptions) error
	TotalPauseTime(ctx context.Context, assignmentID uuid.UUID) (time.Duration, error)
	PauseStatistics(ctx context.Context, assignmentID uuid.UUID) (*PauseStats, error)
}

type statusHistoryService struct {
	historyRepo scheduling.StatusHistoryRepo
	log         *logger.Logger
	now         func() time.Time
}

func NewStatusHistoryService(historyRepo scheduling.StatusHistoryRepo, baseLog *logger.Logger) StatusHistoryService {
	return &statusHistoryService{
		historyRepo: historyRepo,
		log:         baseLog.With("service", "StatusHistoryService"),
		now:         time.Now,
	}
}

func (s *statusHistoryService) RecordStatusChange(dbc dbctx.Context, assignmentID uuid.UUID, fromStatus, toStatus, changedBy string, opts RecordOptions) error {
	row := &domain.StatusHistory{
		AssignmentID: assignmentID,
		FromStatus:   fromStatus,
		ToStatus:     toStatus,
		ChangedBy:    changedBy,
		Reason:       opts.Reason,
		ChangedAt:    s.now(),
	}
	if len(opts.Metadata) > 0 {
		raw, err := json.Marshal(opts.Metadata)
		if err != nil {
			return fmt.Errorf("marshal status metadata: %w", err)
		}
		row.Metadata = datatypes.JSON(raw)
	}
	if err := s.historyRepo.Append(dbc, row); err != nil {
		return fmt.Errorf("append status history: %w", err)
	}
	return nil
}

func (s *statusHistoryService) TotalPauseTime(ctx context.Context, assignmentID uuid.UUID) (time.Duration, error) {
	events, err := s.historyRepo.ListByAssignment(dbctx.New(ctx), assignmentID)
	if err != nil {
		return 0, err
	}
	stats := computePauseStats(events, s.now())
	return stats.TotalPaused, nil
}

func (s *statusHistoryService) PauseStatistics(ctx context.Context, assignmentID uuid.UUID) (*PauseStats, error) {
	events, err := s.historyRepo.ListByAssignment(dbctx.New(ctx), assignmentID)
	if err != nil {
		return nil, err
	}
	stats := computePauseStats(events, s.now())
	return &stats, nil
}

// computePauseStats replays the history in chronological order, pairing each
// transition into "paused" with the next transition out of it. An unmatched
// trailing pause counts up to now.
func computePauseStats(events []*domain.StatusHistory, now time.Time) PauseStats {
	var stats PauseStats
	var pausedSince *time.Time

	for _, ev := range events {
		if ev.FromStatus == domain.AssignmentStatusPaused {
			stats.ResumeCount++
			if pausedSince != nil {
				stats.TotalPaused += ev.ChangedAt.Sub(*pausedSince)
				pausedSince = nil
			}
		}
		if ev.ToStatus == domain.AssignmentStatusPaused {
			stats.PauseCount++
			t := ev.ChangedAt
			pausedSince = &t
		}
	}

	if pausedSince != nil {
		stats.TotalPaused += now.Sub(*pausedSince)
	}
	stats.CurrentlyPaused = stats.PauseCount > stats.ResumeCount
	stats.TotalPausedMins = stats.TotalPaused.Minutes()
	return stats
}
