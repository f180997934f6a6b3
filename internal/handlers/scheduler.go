package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/uretimplus/mes-backend/internal/domain"
	"github.com/uretimplus/mes-backend/internal/platform/logger"
	"github.com/uretimplus/mes-backend/internal/services"
)

type SchedulerHandler struct {
	log       *logger.Logger
	scheduler services.SchedulerService
	history   services.StatusHistoryService
}

func NewSchedulerHandler(log *logger.Logger, scheduler services.SchedulerService, history services.StatusHistoryService) *SchedulerHandler {
	return &SchedulerHandler{
		log:       log.With("handler", "SchedulerHandler"),
		scheduler: scheduler,
		history:   history,
	}
}

type workerActionRequest struct {
	WorkerID uuid.UUID `json:"worker_id" binding:"required"`
	Reason   string    `json:"reason"`
}

type completeTaskRequest struct {
	WorkerID              uuid.UUID          `json:"worker_id" binding:"required"`
	QuantityProduced      decimal.Decimal    `json:"quantity_produced"`
	DefectQuantity        decimal.Decimal    `json:"defect_quantity"`
	InputScrapCounts      domain.QuantityMap `json:"input_scrap_counts"`
	ProductionScrapCounts domain.QuantityMap `json:"production_scrap_counts"`
}

func (h *SchedulerHandler) GetNextTask(c *gin.Context) {
	workerID, ok := pathUUID(c, "worker_id")
	if !ok {
		return
	}
	task, err := h.scheduler.GetWorkerNextTask(c.Request.Context(), workerID)
	if err != nil {
		h.log.Error("GetNextTask failed", "error", err, "worker_id", workerID)
		RespondError(c, http.StatusInternalServerError, "load_next_task_failed", err)
		return
	}
	RespondOK(c, gin.H{"task": task})
}

func (h *SchedulerHandler) GetTaskQueue(c *gin.Context) {
	workerID, ok := pathUUID(c, "worker_id")
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_limit", err)
			return
		}
		limit = parsed
	}
	tasks, err := h.scheduler.GetWorkerTaskQueue(c.Request.Context(), workerID, limit)
	if err != nil {
		h.log.Error("GetTaskQueue failed", "error", err, "worker_id", workerID)
		RespondError(c, http.StatusInternalServerError, "load_queue_failed", err)
		return
	}
	RespondOK(c, gin.H{"tasks": tasks})
}

func (h *SchedulerHandler) GetTaskStats(c *gin.Context) {
	workerID, ok := pathUUID(c, "worker_id")
	if !ok {
		return
	}
	stats, err := h.scheduler.GetWorkerTaskStats(c.Request.Context(), workerID)
	if err != nil {
		h.log.Error("GetTaskStats failed", "error", err, "worker_id", workerID)
		RespondError(c, http.StatusInternalServerError, "load_stats_failed", err)
		return
	}
	RespondOK(c, stats)
}

func (h *SchedulerHandler) HasTasks(c *gin.Context) {
	workerID, ok := pathUUID(c, "worker_id")
	if !ok {
		return
	}
	has, err := h.scheduler.HasTasksInQueue(c.Request.Context(), workerID)
	if err != nil {
		h.log.Error("HasTasks failed", "error", err, "worker_id", workerID)
		RespondError(c, http.StatusInternalServerError, "queue_check_failed", err)
		return
	}
	RespondOK(c, gin.H{"has_tasks": has})
}

func (h *SchedulerHandler) CheckPredecessors(c *gin.Context) {
	assignmentID, ok := pathUUID(c, "assignment_id")
	if !ok {
		return
	}
	check := h.scheduler.CheckPredecessorsCompleted(c.Request.Context(), assignmentID)
	if check.Err != nil {
		h.log.Error("CheckPredecessors failed", "error", check.Err, "assignment_id", assignmentID)
		RespondError(c, http.StatusInternalServerError, "predecessor_check_failed", check.Err)
		return
	}
	RespondOK(c, check)
}

func (h *SchedulerHandler) StartTask(c *gin.Context) {
	assignmentID, ok := pathUUID(c, "assignment_id")
	if !ok {
		return
	}
	var req workerActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	res := h.scheduler.StartTask(c.Request.Context(), assignmentID, req.WorkerID)
	if !res.Success {
		c.JSON(schedulerErrorStatus(res.Error), res)
		return
	}
	RespondOK(c, res)
}

func (h *SchedulerHandler) CompleteTask(c *gin.Context) {
	assignmentID, ok := pathUUID(c, "assignment_id")
	if !ok {
		return
	}
	var req completeTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	res := h.scheduler.CompleteTask(c.Request.Context(), assignmentID, req.WorkerID, services.CompletionInput{
		QuantityProduced:      req.QuantityProduced,
		DefectQuantity:        req.DefectQuantity,
		InputScrapCounts:      req.InputScrapCounts,
		ProductionScrapCounts: req.ProductionScrapCounts,
	})
	if !res.Success {
		c.JSON(schedulerErrorStatus(res.Error), res)
		return
	}
	RespondOK(c, res)
}

func (h *SchedulerHandler) PauseTask(c *gin.Context) {
	assignmentID, ok := pathUUID(c, "assignment_id")
	if !ok {
		return
	}
	var req workerActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	res := h.scheduler.PauseTask(c.Request.Context(), assignmentID, req.WorkerID, req.Reason)
	if !res.Success {
		c.JSON(schedulerErrorStatus(res.Error), res)
		return
	}
	RespondOK(c, res)
}

func (h *SchedulerHandler) ResumeTask(c *gin.Context) {
	assignmentID, ok := pathUUID(c, "assignment_id")
	if !ok {
		return
	}
	var req workerActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	res := h.scheduler.ResumeTask(c.Request.Context(), assignmentID, req.WorkerID)
	if !res.Success {
		c.JSON(schedulerErrorStatus(res.Error), res)
		return
	}
	RespondOK(c, res)
}

func (h *SchedulerHandler) GetPauseStats(c *gin.Context) {
	assignmentID, ok := pathUUID(c, "assignment_id")
	if !ok {
		return
	}
	stats, err := h.history.PauseStatistics(c.Request.Context(), assignmentID)
	if err != nil {
		h.log.Error("GetPauseStats failed", "error", err, "assignment_id", assignmentID)
		RespondError(c, http.StatusInternalServerError, "load_pause_stats_failed", err)
		return
	}
	RespondOK(c, stats)
}

func (h *SchedulerHandler) ApplyDeferredReservation(c *gin.Context) {
	substationID, ok := pathUUID(c, "substation_id")
	if !ok {
		return
	}
	applied, err := h.scheduler.ApplyDeferredReservation(c.Request.Context(), substationID)
	if err != nil {
		h.log.Error("ApplyDeferredReservation failed", "error", err, "substation_id", substationID)
		RespondError(c, http.StatusInternalServerError, "deferred_reservation_failed", err)
		return
	}
	RespondOK(c, gin.H{"applied": applied})
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_"+name, err)
		return uuid.Nil, false
	}
	return id, true
}

func schedulerErrorStatus(err *services.SchedulerError) int {
	if err == nil {
		return http.StatusInternalServerError
	}
	switch err.Code {
	case services.ErrOwnershipMismatch:
		return http.StatusForbidden
	case services.ErrInvalidState, services.ErrPredecessorBlocked, services.ErrSubstationUnavailable:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
