package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"offer-allocation/internal/api"
	"offer-allocation/internal/api/handlers"
	"offer-allocation/internal/config"
	"offer-allocation/internal/data"
	"offer-allocation/internal/engine"
	"offer-allocation/internal/logging"
	"offer-allocation/internal/recorder"
	"offer-allocation/internal/scheduler"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("CONFIG_FILE"), "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	if cfg.API.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rec recorder.Recorder = recorder.NewNoopRecorder()
	if cfg.Recorder.SQLitePath != "" {
		sqlRec, err := recorder.NewSQLiteRecorder(cfg.Recorder.SQLitePath, log)
		if err != nil {
			log.WithError(err).Fatal("failed to open run history")
		}
		rec = sqlRec
	}
	defer rec.Close()

	client := cfg.FeedClient(log)
	if client != nil {
		defer client.Cache.Close()
	}

	if cfg.Schedule.Cron != "" {
		sched := scheduler.NewScheduler(ctx, func(ctx context.Context) (*engine.Outcome, error) {
			feed, err := data.Open(ctx, cfg.FeedSource(), client, log)
			if err != nil {
				return nil, err
			}
			return engine.New(feed, cfg.ToEngineConfig(), cfg.NewSolver(log), log).Run(ctx)
		}, rec, log)
		if err := sched.Register(cfg.Schedule.Cron); err != nil {
			log.WithError(err).Fatal("invalid schedule")
		}
		sched.Start()
		defer sched.Stop()
	}

	var origins []string
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		origins = strings.Split(v, ",")
	}
	router := api.NewRouter(api.Deps{
		Config:   cfg,
		Client:   client,
		Recorder: rec,
		Store:    handlers.NewRunStore(handlers.DefaultRunStoreSize),
		Log:      log,
		Origins:  origins,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.API.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithFields(logrus.Fields{"addr": srv.Addr, "mode": cfg.Engine.Mode}).Info("starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown")
	}
}
