package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/uretimplus/mes-backend/internal/data/repos/inventory"
	"github.com/uretimplus/mes-backend/internal/data/repos/testutil"
	"github.com/uretimplus/mes-backend/internal/pkg/dbctx"
	"github.com/uretimplus/mes-backend/internal/services"
)

func TestLotNumberGenerate_SequencesPerDay(t *testing.T) {
	gdb := testutil.DB(t)
	log := testutil.Logger(t)
	testutil.Truncate(t, gdb, testutil.AllTables...)

	lotRepo := inventory.NewLotRepo(gdb, log)
	svc := services.NewLotNumberService(lotRepo, log)
	dbc := dbctx.New(context.Background())

	day := time.Date(2026, 5, 12, 14, 30, 0, 0, time.UTC)

	first, err := svc.Generate(dbc, "HAM-01", day)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if first != "LOT-HAM-01-20260512-001" {
		t.Fatalf("unexpected lot number %q", first)
	}

	second, err := svc.Generate(dbc, "HAM-01", day)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if second != "LOT-HAM-01-20260512-002" {
		t.Fatalf("unexpected lot number %q", second)
	}

	// Other materials and other days restart the sequence.
	other, err := svc.Generate(dbc, "HAM-02", day)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if other != "LOT-HAM-02-20260512-001" {
		t.Fatalf("unexpected lot number %q", other)
	}
	nextDay, err := svc.Generate(dbc, "HAM-01", day.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if nextDay != "LOT-HAM-01-20260513-001" {
		t.Fatalf("unexpected lot number %q", nextDay)
	}
}
