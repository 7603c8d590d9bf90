package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rangemark.org/internal/compliance"
	"rangemark.org/internal/config"
	"rangemark.org/internal/crm"
	"rangemark.org/internal/ffl"
	"rangemark.org/internal/gateway"
	"rangemark.org/internal/httpapi"
	"rangemark.org/internal/obs"
	"rangemark.org/internal/order"
	"rangemark.org/internal/store/pg"
	"rangemark.org/internal/worker"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config (defaults to RANGEMARK_CONFIG)")
	flag.Parse()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	settings, err := compliance.NewConfigStore(compliance.Settings{
		WindowDays:              cfg.Compliance.WindowDays,
		FirearmLimit:            cfg.Compliance.FirearmLimit,
		MultiFirearmHoldEnabled: cfg.Compliance.MultiFirearmHoldEnabled,
		FFLHoldEnabled:          cfg.Compliance.FFLHoldEnabled,
	})
	if err != nil {
		log.Fatalf("compliance settings: %v", err)
	}

	// Postgres when a DSN is configured, in-memory otherwise (local runs).
	var (
		store   order.Store
		probe   httpapi.ReadyProbe
		closeDB func()
	)
	if cfg.DB.DSN != "" {
		pgStore, err := pg.Open(cfg.DB.DSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
		closeDB = func() { _ = pgStore.Close() }
	} else {
		log.Println("no DB DSN configured, using in-memory store")
		store = order.NewInMemory()
		closeDB = func() {}
	}

	gw := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.GatewayTimeout(), cfg.Gateway.MaxAttempts)

	var emitter order.SyncEmitter
	var closeEmitter func()
	if cfg.CRM.WebhookURL != "" {
		webhook := crm.NewWebhook(cfg.CRM.WebhookURL)
		emitter = webhook
		closeEmitter = webhook.Close
	} else {
		closeEmitter = func() {}
	}

	machine := order.NewMachine(store, gw, emitter)

	var directory order.Directory
	if cfg.FFLDirectory.BaseURL != "" {
		directory = ffl.NewClient(cfg.FFLDirectory.BaseURL)
	}

	checkout := &order.Service{
		Evaluator: &compliance.Evaluator{Config: settings, History: store},
		Machine:   machine,
		Store:     store,
		Directory: directory,
	}
	staff := &order.StaffActionService{Machine: machine, Store: store, Directory: directory}

	api := httpapi.New(probe, version, checkout, staff, settings)
	api.SetRateLimit(cfg.RateLimit.Burst, cfg.RateLimit.PerSecond)

	// Retry sweeper re-drives capture_failed/void_failed orders.
	workerCtx, stopWorker := context.WithCancel(context.Background())
	retry := &worker.Worker{Store: store, Machine: machine, Interval: cfg.WorkerInterval()}
	go retry.Run(workerCtx)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting rangemark-api %s on %s", version, srv.Addr)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	stopWorker()
	closeEmitter()
	closeDB()
	log.Println("Stopped")
}
