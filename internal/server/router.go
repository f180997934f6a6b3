package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/uretimplus/mes-backend/internal/handlers"
)

type RouterConfig struct {
	SchedulerHandler *handlers.SchedulerHandler
	AllowOrigins     []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		workers := api.Group("/workers/:worker_id")
		workers.GET("/next-task", cfg.SchedulerHandler.GetNextTask)
		workers.GET("/queue", cfg.SchedulerHandler.GetTaskQueue)
		workers.GET("/stats", cfg.SchedulerHandler.GetTaskStats)
		workers.GET("/has-tasks", cfg.SchedulerHandler.HasTasks)

		tasks := api.Group("/tasks/:assignment_id")
		tasks.GET("/predecessors", cfg.SchedulerHandler.CheckPredecessors)
		tasks.GET("/pause-stats", cfg.SchedulerHandler.GetPauseStats)
		tasks.POST("/start", cfg.SchedulerHandler.StartTask)
		tasks.POST("/complete", cfg.SchedulerHandler.CompleteTask)
		tasks.POST("/pause", cfg.SchedulerHandler.PauseTask)
		tasks.POST("/resume", cfg.SchedulerHandler.ResumeTask)

		substations := api.Group("/substations/:substation_id")
		substations.POST("/apply-reservation", cfg.SchedulerHandler.ApplyDeferredReservation)
	}

	return router
}
