package scheduling_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/uretimplus/mes-backend/internal/data/repos/scheduling"
	"github.com/uretimplus/mes-backend/internal/data/repos/testutil"
	"github.com/uretimplus/mes-backend/internal/domain"
	"github.com/uretimplus/mes-backend/internal/pkg/dbctx"
)

func timePtr(t time.Time) *time.Time { return &t }

func newAssignment(workerID, planID uuid.UUID, status string, start time.Time, urgent bool) *domain.Assignment {
	return &domain.Assignment{
		WorkerID:           workerID,
		PlanID:             planID,
		NodeID:             uuid.New(),
		Status:             status,
		SchedulingMode:     domain.SchedulingModeFIFO,
		IsUrgent:           urgent,
		EstimatedStartTime: timePtr(start),
		EstimatedEndTime:   timePtr(start.Add(time.Hour)),
	}
}

func TestListWorkerEligible_FIFOOrdering(t *testing.T) {
	gdb := testutil.DB(t)
	log := testutil.Logger(t)
	testutil.Truncate(t, gdb, testutil.AllTables...)

	repo := scheduling.NewAssignmentRepo(gdb, log)
	dbc := dbctx.New(context.Background())

	workerID := uuid.New()
	planID := uuid.New()
	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

	// Insert out of order on purpose; the queue must come back sorted by
	// urgency then expected start.
	third := newAssignment(workerID, planID, domain.AssignmentStatusPending, base.Add(3*time.Hour), false)
	first := newAssignment(workerID, planID, domain.AssignmentStatusPending, base.Add(2*time.Hour), true)
	second := newAssignment(workerID, planID, domain.AssignmentStatusReady, base.Add(time.Hour), false)
	queued := newAssignment(workerID, planID, domain.AssignmentStatusQueued, base, false)
	otherWorker := newAssignment(uuid.New(), planID, domain.AssignmentStatusPending, base, false)

	for _, a := range []*domain.Assignment{third, first, second, queued, otherWorker} {
		if _, err := repo.Create(dbc, []*domain.Assignment{a}); err != nil {
			t.Fatalf("create assignment: %v", err)
		}
	}

	rows, err := repo.ListWorkerEligible(dbc, workerID, 10)
	if err != nil {
		t.Fatalf("ListWorkerEligible: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 eligible rows, got %d", len(rows))
	}
	if rows[0].ID != first.ID {
		t.Fatalf("expected urgent task first, got %s", rows[0].ID)
	}
	if rows[1].ID != second.ID || rows[2].ID != third.ID {
		t.Fatalf("expected FIFO order by estimated start, got %s, %s", rows[1].ID, rows[2].ID)
	}
}

func TestListWorkerEligible_LimitApplied(t *testing.T) {
	gdb := testutil.DB(t)
	log := testutil.Logger(t)
	testutil.Truncate(t, gdb, testutil.AllTables...)

	repo := scheduling.NewAssignmentRepo(gdb, log)
	dbc := dbctx.New(context.Background())

	workerID := uuid.New()
	planID := uuid.New()
	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		a := newAssignment(workerID, planID, domain.AssignmentStatusPending, base.Add(time.Duration(i)*time.Hour), false)
		if _, err := repo.Create(dbc, []*domain.Assignment{a}); err != nil {
			t.Fatalf("create assignment: %v", err)
		}
	}

	rows, err := repo.ListWorkerEligible(dbc, workerID, 2)
	if err != nil {
		t.Fatalf("ListWorkerEligible: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(rows))
	}
}

func TestWorkerQueueStats(t *testing.T) {
	gdb := testutil.DB(t)
	log := testutil.Logger(t)
	testutil.Truncate(t, gdb, testutil.AllTables...)

	repo := scheduling.NewAssignmentRepo(gdb, log)
	dbc := dbctx.New(context.Background())

	workerID := uuid.New()
	planID := uuid.New()
	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

	pending := newAssignment(workerID, planID, domain.AssignmentStatusPending, base, false)
	ready := newAssignment(workerID, planID, domain.AssignmentStatusReady, base.Add(time.Hour), true)
	completed := newAssignment(workerID, planID, domain.AssignmentStatusCompleted, base, false)
	for _, a := range []*domain.Assignment{pending, ready, completed} {
		if _, err := repo.Create(dbc, []*domain.Assignment{a}); err != nil {
			t.Fatalf("create assignment: %v", err)
		}
	}

	stats, err := repo.WorkerQueueStats(dbc, workerID)
	if err != nil {
		t.Fatalf("WorkerQueueStats: %v", err)
	}
	if stats.PendingCount != 1 || stats.ReadyCount != 1 {
		t.Fatalf("expected 1 pending and 1 ready, got %d/%d", stats.PendingCount, stats.ReadyCount)
	}
	if stats.UrgentCount != 1 {
		t.Fatalf("expected 1 urgent, got %d", stats.UrgentCount)
	}
	// Two eligible rows at one hour each.
	if stats.WorkloadMinutes != 120 {
		t.Fatalf("expected 120 workload minutes, got %v", stats.WorkloadMinutes)
	}
}

func TestOldestQueuedForSubstation_PrefersPlan(t *testing.T) {
	gdb := testutil.DB(t)
	log := testutil.Logger(t)
	testutil.Truncate(t, gdb, testutil.AllTables...)

	repo := scheduling.NewAssignmentRepo(gdb, log)
	dbc := dbctx.New(context.Background())

	substationID := uuid.New()
	preferredPlan := uuid.New()
	otherPlan := uuid.New()
	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

	older := newAssignment(uuid.New(), otherPlan, domain.AssignmentStatusQueued, base, false)
	older.SubstationID = &substationID
	preferred := newAssignment(uuid.New(), preferredPlan, domain.AssignmentStatusQueued, base.Add(time.Hour), false)
	preferred.SubstationID = &substationID
	for _, a := range []*domain.Assignment{older, preferred} {
		if _, err := repo.Create(dbc, []*domain.Assignment{a}); err != nil {
			t.Fatalf("create assignment: %v", err)
		}
	}

	got, err := repo.OldestQueuedForSubstation(dbc, substationID, &preferredPlan)
	if err != nil {
		t.Fatalf("OldestQueuedForSubstation: %v", err)
	}
	if got == nil || got.ID != preferred.ID {
		t.Fatalf("expected preferred-plan assignment, got %+v", got)
	}

	// Without a preference the older row wins.
	got, err = repo.OldestQueuedForSubstation(dbc, substationID, nil)
	if err != nil {
		t.Fatalf("OldestQueuedForSubstation: %v", err)
	}
	if got == nil || got.ID != older.ID {
		t.Fatalf("expected oldest assignment, got %+v", got)
	}
}

func TestUpdateFieldsWhereStatus_GuardsTransition(t *testing.T) {
	gdb := testutil.DB(t)
	log := testutil.Logger(t)
	testutil.Truncate(t, gdb, testutil.AllTables...)

	repo := scheduling.NewAssignmentRepo(gdb, log)
	dbc := dbctx.New(context.Background())

	a := newAssignment(uuid.New(), uuid.New(), domain.AssignmentStatusPending, time.Now(), false)
	if _, err := repo.Create(dbc, []*domain.Assignment{a}); err != nil {
		t.Fatalf("create assignment: %v", err)
	}

	ok, err := repo.UpdateFieldsWhereStatus(dbc, a.ID,
		[]string{domain.AssignmentStatusPending},
		map[string]interface{}{"status": domain.AssignmentStatusInProgress})
	if err != nil {
		t.Fatalf("UpdateFieldsWhereStatus: %v", err)
	}
	if !ok {
		t.Fatalf("expected guard to match")
	}

	// Second transition from the stale status must not apply.
	ok, err = repo.UpdateFieldsWhereStatus(dbc, a.ID,
		[]string{domain.AssignmentStatusPending},
		map[string]interface{}{"status": domain.AssignmentStatusCompleted})
	if err != nil {
		t.Fatalf("UpdateFieldsWhereStatus: %v", err)
	}
	if ok {
		t.Fatalf("expected guard to reject stale status")
	}
}
