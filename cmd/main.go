package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/uretimplus/mes-backend/internal/data/db"
	"github.com/uretimplus/mes-backend/internal/data/repos/inventory"
	"github.com/uretimplus/mes-backend/internal/data/repos/scheduling"
	"github.com/uretimplus/mes-backend/internal/handlers"
	"github.com/uretimplus/mes-backend/internal/jobs"
	"github.com/uretimplus/mes-backend/internal/observability"
	"github.com/uretimplus/mes-backend/internal/platform/logger"
	"github.com/uretimplus/mes-backend/internal/server"
	"github.com/uretimplus/mes-backend/internal/services"
	"github.com/uretimplus/mes-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Env
	log.Info("Loading environment variables from main...")
	port := utils.GetEnv("PORT", "8080", log)
	lotTracking := utils.GetEnvAsBool("LOT_TRACKING_ENABLED", true, log)
	scrapSuffix := utils.GetEnv("SCRAP_SUFFIX", services.DefaultScrapSuffix, log)
	sweepSeconds := utils.GetEnvAsInt("RESERVATION_SWEEP_SECONDS", 60, log)
	corsOrigins := utils.GetEnv("CORS_ALLOW_ORIGINS", "", log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	assignmentRepo := scheduling.NewAssignmentRepo(thePG, log)
	substationRepo := scheduling.NewSubstationRepo(thePG, log)
	planNodeRepo := scheduling.NewPlanNodeRepo(thePG, log)
	statusHistoryRepo := scheduling.NewStatusHistoryRepo(thePG, log)
	materialRepo := inventory.NewMaterialRepo(thePG, log)
	lotRepo := inventory.NewLotRepo(thePG, log)

	// Services
	log.Info("Setting up Services from main...")
	metrics := observability.NewMetrics()
	settingsService := services.NewStaticSettingsService(lotTracking)
	lotNumberService := services.NewLotNumberService(lotRepo, log)
	lotService := services.NewLotService(materialRepo, lotRepo, settingsService, log)
	historyService := services.NewStatusHistoryService(statusHistoryRepo, log)
	schedulerService := services.NewSchedulerService(
		thePG,
		log,
		assignmentRepo,
		substationRepo,
		planNodeRepo,
		materialRepo,
		lotRepo,
		lotService,
		historyService,
		lotNumberService,
		settingsService,
		metrics,
		scrapSuffix,
	)

	// Handlers
	log.Info("Setting up handlers from main...")
	schedulerHandler := handlers.NewSchedulerHandler(log, schedulerService, historyService)

	// Router
	log.Info("Setting up router from main...")
	var origins []string
	if corsOrigins != "" {
		origins = strings.Split(corsOrigins, ",")
	}
	router := server.NewRouter(server.RouterConfig{
		SchedulerHandler: schedulerHandler,
		AllowOrigins:     origins,
	})

	sweeper := jobs.NewReservationSweeper(log, substationRepo, schedulerService,
		time.Duration(sweepSeconds)*time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{Addr: ":" + port, Handler: router}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Server listening", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := sweeper.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("Server stopped")
}
