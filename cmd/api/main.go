package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"appsync/internal/api"
	"appsync/internal/config"
	"appsync/internal/metrics"
	"appsync/internal/metrics/datadog"
	"appsync/internal/storage"

	// register all backends with the storage factory.
	_ "appsync/internal/storage/all"
)

// main is the entry point for the API binary. It opens the configured
// storage backend and serves the applications CRUD and stats endpoints
// until interrupted.
func main() {
	var (
		cfgPath           string
		addr              string
		metricsBackendFlg string
	)

	flag.StringVar(&cfgPath, "config", "configs/sample.json", "sync config JSON path")
	flag.StringVar(&addr, "addr", ":8080", "listen address")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "none", "metrics backend to use (datadog, none)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf("load config: %v", err)
	}

	hasError := false
	for _, iss := range config.Validate(cfg) {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		if iss.Severity == config.SeverityError {
			hasError = true
		}
	}
	if hasError {
		log.Printf("Configuration is invalid: %v", cfgPath)
		os.Exit(1)
	}

	backendName := metricsBackendFlg
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	if backendName == "datadog" {
		jobName := cfg.Job
		if jobName == "" {
			jobName = "appsync-api"
		}
		b, err := datadog.NewBackend(context.Background(), datadog.Options{
			JobName: jobName,
			Env:     os.Getenv("DD_ENV"),
			Tags:    datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS")),
		})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
		} else {
			metrics.SetBackend(b)
			defer func() {
				if err := b.Close(); err != nil {
					log.Printf("metrics: datadog close/flush error: %v", err)
				}
			}()
		}
	}

	ctx := context.Background()
	repo, err := storage.New(ctx, storage.Config{
		Kind: cfg.Storage.Kind,
		DSN:  cfg.Storage.ExpandedDSN(),
	})
	if err != nil {
		fatalf("storage: %v", err)
	}
	defer repo.Close()

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewServer(repo),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("api: listening on %s (storage=%s)", addr, cfg.Storage.Kind)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatalf("api: %v", err)
		}
	case sig := <-stop:
		log.Printf("api: received %s, shutting down", sig)
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("api: shutdown: %v", err)
		}
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
