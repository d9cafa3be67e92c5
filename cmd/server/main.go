package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/ZerkerEOD/autopwn/internal/config"
	"github.com/ZerkerEOD/autopwn/internal/db"
	"github.com/ZerkerEOD/autopwn/internal/jobs"
	"github.com/ZerkerEOD/autopwn/internal/repository"
	"github.com/ZerkerEOD/autopwn/internal/routes"
	"github.com/ZerkerEOD/autopwn/internal/services"
	"github.com/ZerkerEOD/autopwn/pkg/debug"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		debug.Error("Server exited: %v", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// .env may have set DEBUG/LOG_LEVEL
	debug.Reinitialize()
	debug.SetDataDir(cfg.DataDir)

	for _, dir := range []string{cfg.JobsDir(), cfg.CapturesDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.RunMigrations(); err != nil {
		return err
	}

	jobRepo := repository.NewJobRepository(database)
	itemRepo := repository.NewJobItemRepository(database)
	dictRepo := repository.NewJobDictionaryRepository(database)
	resultRepo := repository.NewResultRepository(database)

	hub := services.NewJobNotificationHub(jobRepo)
	hub.Start()
	defer hub.Stop()

	var runner jobs.ProcessRunner = jobs.NewExecRunner()
	if cfg.TestMode {
		debug.Warning("TEST_MODE is on: external tools are simulated")
		runner = jobs.NewMockRunner(cfg.Mock)
	}

	engine := jobs.NewEngine(jobs.OptionsFromConfig(cfg), jobs.Stores{
		Jobs:         jobRepo,
		Items:        itemRepo,
		Dictionaries: dictRepo,
		Results:      resultRepo,
	}, runner, hub)
	controller := jobs.NewController(jobRepo, hub)

	sweeper := services.NewScratchSweeper(jobRepo, cfg.JobsDir(), cfg.ScratchRetention, cfg.SweepSchedule)
	if err := sweeper.Start(); err != nil {
		return err
	}
	defer sweeper.Stop()

	router := routes.NewRouter(routes.Dependencies{
		Controller: controller,
		Items:      itemRepo,
		Results:    resultRepo,
		Hub:        hub,
		EngineStatus: func() routes.EngineStatus {
			state, jobID, pid, since := engine.State().GetStateInfo()
			status := routes.EngineStatus{State: state.String(), PID: pid, Since: since}
			if jobID != uuid.Nil {
				status.JobID = jobID.String()
			}
			return status
		},
	})
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			debug.Error("Job scheduler stopped: %v", err)
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		debug.Info("HTTP server listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		debug.Info("Shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			stop()
			wg.Wait()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		debug.Warning("HTTP server shutdown: %v", err)
	}

	// the scheduler terminates its running tool before returning
	wg.Wait()
	debug.Info("Server stopped")
	return nil
}
