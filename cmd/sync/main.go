package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"appsync/internal/config"
	"appsync/internal/metrics"
	"appsync/internal/metrics/datadog"
	"appsync/internal/pipeline"

	// register all backends with the storage factory.
	// config specifies which to use but we build in support for all of them.
	_ "appsync/internal/storage/all"
)

// main is the entry point for the sync binary. It loads the sync config,
// optionally initializes a metrics backend, and executes one full sync run.
func main() {
	var (
		cfgPath           string
		metricsBackendFlg string
		validate          bool
	)

	flag.StringVar(&cfgPath, "config", "configs/sample.json", "sync config JSON path")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "none", "metrics backend to use (datadog, none)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf("load config: %v", err)
	}

	issues := config.Validate(cfg)
	hasError := false
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		if iss.Severity == config.SeverityError {
			hasError = true
		}
	}
	if hasError {
		log.Printf("Configuration is invalid: %v", cfgPath)
		os.Exit(1)
	}
	if validate {
		log.Printf("Configuration is valid: %v", cfgPath)
		os.Exit(0)
	}

	// Decide metrics backend: flag, then env, then disabled.
	backendName := metricsBackendFlg
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	switch backendName {
	case "datadog":
		// The Datadog backend buffers metrics and submits periodically,
		// plus one final time at shutdown via Close(). A short sync run
		// therefore still ships its metrics through the final flush.
		jobName := cfg.Job
		if jobName == "" {
			jobName = "appsync"
		}
		extraTags := datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS"))

		b, err := datadog.NewBackend(context.Background(), datadog.Options{
			JobName:    jobName,
			Env:        os.Getenv("DD_ENV"),
			Tags:       extraTags,
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
		} else {
			log.Printf("metrics: backend=%v job_name=%v tags=%v", backendName, jobName, extraTags)
			metrics.SetBackend(b)
			// Close() stops the periodic flush loop and performs the
			// final Flush(). This is the clean shutdown path.
			defer func() {
				if err := b.Close(); err != nil {
					log.Printf("metrics: datadog close/flush error: %v", err)
				}
			}()
		}

	case "", "none":
		if *verbose {
			log.Printf("metrics: disabled (backend=%q)", backendName)
		}

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}

	ctx := context.Background()
	start := time.Now()

	if *verbose {
		log.Printf("sync: base=%s tables=%v storage=%s enrich_websites=%v",
			cfg.Airtable.BaseID, cfg.Airtable.Tables, cfg.Storage.Kind, cfg.Enrich.Websites)
	}

	runner := pipeline.NewDefaultRunner(cfg)
	if err := runner.Run(ctx, cfg); err != nil {
		log.Fatalf("%v", err)
	}

	if *verbose {
		log.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
