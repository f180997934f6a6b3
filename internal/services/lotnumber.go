package services

import (
	"fmt"
	"time"

	"github.com/uretimplus/mes-backend/internal/data/repos/inventory"
	"github.com/uretimplus/mes-backend/internal/pkg/dbctx"
	"github.com/uretimplus/mes-backend/internal/platform/logger"
)

// LotNumberService produces deterministic lot numbers of the form
// LOT-<CODE>-<YYYYMMDD>-<seq>, with the sequence scoped per material per day.
type LotNumberService interface {
	Generate(dbc dbctx.Context, materialCode string, date time.Time) (string, error)
}

type lotNumberService struct {
	lotRepo inventory.LotRepo
	log     *logger.Logger
}

func NewLotNumberService(lotRepo inventory.LotRepo, baseLog *logger.Logger) LotNumberService {
	return &lotNumberService{
		lotRepo: lotRepo,
		log:     baseLog.With("service", "LotNumberService"),
	}
}

func (s *lotNumberService) Generate(dbc dbctx.Context, materialCode string, date time.Time) (string, error) {
	day := date.Format("20060102")
	seq, err := s.lotRepo.NextSequence(dbc, materialCode, day)
	if err != nil {
		return "", fmt.Errorf("next lot sequence for %s: %w", materialCode, err)
	}
	return fmt.Sprintf("LOT-%s-%s-%03d", materialCode, day, seq), nil
}
