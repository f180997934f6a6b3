package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/uretimplus/mes-backend/internal/data/repos/scheduling"
	"github.com/uretimplus/mes-backend/internal/domain"
	"github.com/uretimplus/mes-backend/internal/handlers"
	"github.com/uretimplus/mes-backend/internal/pkg/dbctx"
	"github.com/uretimplus/mes-backend/internal/platform/logger"
	"github.com/uretimplus/mes-backend/internal/services"
)

type stubScheduler struct {
	nextTask    *domain.Assignment
	queue       []*domain.Assignment
	startResult *services.StartTaskResult
}

func (s *stubScheduler) GetWorkerNextTask(ctx context.Context, workerID uuid.UUID) (*domain.Assignment, error) {
	return s.nextTask, nil
}

func (s *stubScheduler) GetWorkerTaskQueue(ctx context.Context, workerID uuid.UUID, limit int) ([]*domain.Assignment, error) {
	if limit > 0 && limit < len(s.queue) {
		return s.queue[:limit], nil
	}
	return s.queue, nil
}

func (s *stubScheduler) GetWorkerTaskStats(ctx context.Context, workerID uuid.UUID) (*scheduling.WorkerQueueStats, error) {
	return &scheduling.WorkerQueueStats{PendingCount: int64(len(s.queue))}, nil
}

func (s *stubScheduler) HasTasksInQueue(ctx context.Context, workerID uuid.UUID) (bool, error) {
	return len(s.queue) > 0, nil
}

func (s *stubScheduler) CheckPredecessorsCompleted(ctx context.Context, assignmentID uuid.UUID) *services.PredecessorCheck {
	return &services.PredecessorCheck{AllCompleted: true}
}

func (s *stubScheduler) ApplyDeferredReservation(ctx context.Context, substationID uuid.UUID) (bool, error) {
	return false, nil
}

func (s *stubScheduler) StartTask(ctx context.Context, assignmentID, workerID uuid.UUID) *services.StartTaskResult {
	return s.startResult
}

func (s *stubScheduler) CompleteTask(ctx context.Context, assignmentID, workerID uuid.UUID, input services.CompletionInput) *services.CompleteTaskResult {
	return &services.CompleteTaskResult{Success: true}
}

func (s *stubScheduler) PauseTask(ctx context.Context, assignmentID, workerID uuid.UUID, reason string) *services.TaskActionResult {
	return &services.TaskActionResult{Success: true}
}

func (s *stubScheduler) ResumeTask(ctx context.Context, assignmentID, workerID uuid.UUID) *services.TaskActionResult {
	return &services.TaskActionResult{Success: true}
}

type stubHistory struct{}

func (stubHistory) RecordStatusChange(dbc dbctx.Context, assignmentID uuid.UUID, fromStatus, toStatus, changedBy string, opts services.RecordOptions) error {
	return nil
}

func (stubHistory) TotalPauseTime(ctx context.Context, assignmentID uuid.UUID) (time.Duration, error) {
	return 0, nil
}

func (stubHistory) PauseStatistics(ctx context.Context, assignmentID uuid.UUID) (*services.PauseStats, error) {
	return &services.PauseStats{PauseCount: 2, ResumeCount: 2}, nil
}

func newTestRouter(t *testing.T, stub *stubScheduler) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, err := logger.New("development")
	require.NoError(t, err)

	handler := handlers.NewSchedulerHandler(log, stub, stubHistory{})

	router := gin.New()
	router.GET("/api/workers/:worker_id/next-task", handler.GetNextTask)
	router.GET("/api/tasks/:assignment_id/pause-stats", handler.GetPauseStats)
	router.POST("/api/tasks/:assignment_id/start", handler.StartTask)
	return router
}

func TestGetNextTask_ReturnsTask(t *testing.T) {
	task := &domain.Assignment{ID: uuid.New(), Status: domain.AssignmentStatusPending}
	router := newTestRouter(t, &stubScheduler{nextTask: task})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/workers/"+uuid.NewString()+"/next-task", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Task *domain.Assignment `json:"task"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Task)
	require.Equal(t, task.ID, body.Task.ID)
}

func TestGetNextTask_RejectsBadWorkerID(t *testing.T) {
	router := newTestRouter(t, &stubScheduler{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/workers/not-a-uuid/next-task", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartTask_MapsSchedulerErrorToStatus(t *testing.T) {
	stub := &stubScheduler{startResult: &services.StartTaskResult{
		Error: &services.SchedulerError{
			Code:    services.ErrPredecessorBlocked,
			Message: "Önceki görevler tamamlanmadı: Kesim (in_progress)",
		},
	}}
	router := newTestRouter(t, stub)

	payload, _ := json.Marshal(map[string]any{"worker_id": uuid.NewString()})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/tasks/"+uuid.NewString()+"/start", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	var body services.StartTaskResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.False(t, body.Success)
	require.Equal(t, services.ErrPredecessorBlocked, body.Error.Code)
}

func TestStartTask_RequiresWorkerID(t *testing.T) {
	router := newTestRouter(t, &stubScheduler{startResult: &services.StartTaskResult{Success: true}})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/tasks/"+uuid.NewString()+"/start", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPauseStats(t *testing.T) {
	router := newTestRouter(t, &stubScheduler{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/tasks/"+uuid.NewString()+"/pause-stats", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var stats services.PauseStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Equal(t, 2, stats.PauseCount)
}
