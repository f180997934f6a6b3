package services

import "context"

// SettingsService exposes the global toggles the scheduler consults. It is
// injected so tests can flip lot tracking per case.
type SettingsService interface {
	IsLotTrackingEnabled(ctx context.Context) (bool, error)
}

type staticSettingsService struct {
	lotTracking bool
}

func NewStaticSettingsService(lotTracking bool) SettingsService {
	return &staticSettingsService{lotTracking: lotTracking}
}

func (s *staticSettingsService) IsLotTrackingEnabled(ctx context.Context) (bool, error) {
	return s.lotTracking, nil
}
