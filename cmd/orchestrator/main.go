// Command orchestrator runs the workflow execution service standalone: a
// priority queue, auto-scaling worker pool, and cron scheduler fronted by
// the Orchestration Facade, with the httpengine, scriptengine, and webhook
// adapters registered against whichever engine types configuration names.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"

	"github.com/R3E-Network/service_layer/internal/app/metrics"
	"github.com/R3E-Network/service_layer/internal/app/workflow"
	"github.com/R3E-Network/service_layer/internal/app/workflow/adapters/httpengine"
	"github.com/R3E-Network/service_layer/internal/app/workflow/adapters/persistence"
	"github.com/R3E-Network/service_layer/internal/app/workflow/adapters/scriptengine"
	"github.com/R3E-Network/service_layer/internal/app/workflow/adapters/webhook"
	"github.com/R3E-Network/service_layer/pkg/logger"
)

func main() {
	os.Exit(run())
}

// run builds and drives the orchestrator, returning the process exit code
// rather than calling os.Exit directly so main stays a one-line shim.
func run() int {
	cmd := "start"
	if len(os.Args) > 1 && !strings.HasPrefix(os.Args[1], "-") {
		cmd = os.Args[1]
		os.Args = append(os.Args[:1], os.Args[2:]...)
	}

	metricsAddr := flag.String("metrics-addr", ":9090", "address to expose /metrics on")
	flag.Parse()

	switch cmd {
	case "stop":
		// No persisted PID or socket is kept; a process manager that already
		// sent SIGTERM has nothing further to do here.
		log.Println("stop is a no-op: send SIGTERM to the running process")
		return 0
	case "start":
		return start(*metricsAddr)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (expected start|stop)\n", cmd)
		return 1
	}
}

func start(metricsAddr string) int {
	log := logger.NewDefault("orchestrator")

	cfg, err := workflow.LoadConfig()
	if err != nil {
		log.Errorf("load config: %v", err)
		return 1
	}

	bus := workflow.NewEventBus(256)
	svc := workflow.NewExecutionService(cfg, bus, log)
	sched := workflow.NewCronScheduler(svc, bus, log)
	facade := workflow.NewFacade(svc, sched, bus, cfg, log)

	if err := registerAdapters(svc, log); err != nil {
		log.Errorf("register adapters: %v", err)
		return 1
	}

	if shutdownTracer, err := configureTracing(facade, log); err != nil {
		log.Errorf("configure tracing: %v", err)
		return 1
	} else if shutdownTracer != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracer(ctx)
		}()
	}

	prom := workflow.NewPromMetrics(metrics.Registry)
	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	defer stopMetrics()
	go prom.Run(metricsCtx, bus)
	go pollGauges(metricsCtx, facade, prom, cfg)

	store, err := snapshotStore()
	if err != nil {
		log.Errorf("snapshot store: %v", err)
		return 1
	}
	if store != nil {
		defer store.Close()
		go runSnapshotLoop(metricsCtx, facade, store, cfg)
		log.Infof("snapshot store enabled: %s", os.Getenv("SNAPSHOT_STORE"))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics server: %v", err)
		}
	}()

	startCtx := context.Background()
	if err := facade.Start(startCtx); err != nil {
		log.Errorf("start facade: %v", err)
		return 1
	}
	log.Infof("orchestrator started; metrics on %s", metricsAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Infof("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout+10*time.Second)
	defer cancel()

	_ = metricsSrv.Shutdown(shutdownCtx)
	if err := facade.Stop(shutdownCtx); err != nil {
		log.Errorf("stop facade: %v", err)
		return 2
	}
	return 0
}

// registerAdapters wires the reference adapters: httpengine when
// HTTPENGINE_BASE_URL is set, scriptengine always, and webhook (backed by the
// Redis at REDIS_ADDR) when WEBHOOK_START_URL is set. Each adapter's engine
// type comes from its *_TYPE variable. The snapshot store is configured
// separately, by snapshotStore.
func registerAdapters(svc *workflow.ExecutionService, log *logger.Logger) error {
	if base := strings.TrimSpace(os.Getenv("HTTPENGINE_BASE_URL")); base != "" {
		adapter, err := httpengine.New(workflow.EngineType(getEnv("HTTPENGINE_TYPE", "http")), httpengine.Config{
			BaseURL:     base,
			BearerToken: os.Getenv("HTTPENGINE_BEARER_TOKEN"),
		})
		if err != nil {
			return fmt.Errorf("httpengine adapter: %w", err)
		}
		svc.RegisterAdapter(adapter)
		log.Infof("registered httpengine adapter against %s", base)
	}

	svc.RegisterAdapter(scriptengine.New(workflow.EngineType(getEnv("SCRIPTENGINE_TYPE", "script")), scriptengine.Config{}))
	log.Infof("registered scriptengine adapter")

	if start := strings.TrimSpace(os.Getenv("WEBHOOK_START_URL")); start != "" {
		rdb, err := newRedisClient()
		if err != nil {
			return fmt.Errorf("webhook adapter redis: %w", err)
		}
		adapter := webhook.New(workflow.EngineType(getEnv("WEBHOOK_TYPE", "webhook")), rdb, webhook.Config{
			StartURL:  start,
			StatusURL: os.Getenv("WEBHOOK_STATUS_URL"),
		})
		svc.RegisterAdapter(adapter)
		log.Infof("registered webhook adapter against %s", start)
	}

	return nil
}

// configureTracing wires an OTLP tracer into facade when
// OTEL_EXPORTER_OTLP_ENDPOINT is set, leaving the facade's default no-op
// tracer in place otherwise. The returned shutdown func is nil when tracing
// was not configured.
func configureTracing(facade *workflow.Facade, log *logger.Logger) (func(context.Context) error, error) {
	endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if endpoint == "" {
		return nil, nil
	}
	provider, shutdown, err := workflow.NewOTLPTracerProvider(context.Background(), workflow.OTLPConfig{
		Endpoint:    endpoint,
		Insecure:    strings.EqualFold(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE"), "true"),
		ServiceName: getEnv("OTEL_SERVICE_NAME", "workflow-orchestrator"),
	})
	if err != nil {
		return nil, err
	}
	facade.SetTracer(workflow.NewOTelTracer(provider, "workflow-orchestrator"))
	log.Infof("tracing enabled: exporting spans to %s", endpoint)
	return shutdown, nil
}

func newRedisClient() (*redis.Client, error) {
	addr := getEnv("REDIS_ADDR", "localhost:6379")
	return redis.NewClient(&redis.Options{Addr: addr}), nil
}

// snapshotStore builds the optional persistence backend named by
// SNAPSHOT_STORE ("redis", "postgres", or unset for none).
func snapshotStore() (persistence.Store, error) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("SNAPSHOT_STORE"))) {
	case "redis":
		rdb, err := newRedisClient()
		if err != nil {
			return nil, err
		}
		return persistence.NewRedisStore(rdb, "", 0), nil
	case "postgres":
		dsn := os.Getenv("DATABASE_URL")
		if dsn == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when SNAPSHOT_STORE=postgres")
		}
		db, err := sqlx.Open("postgres", dsn)
		if err != nil {
			return nil, err
		}
		store := persistence.NewPostgresStore(db)
		if err := store.EnsureSchema(context.Background()); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, nil
	}
}

// pollGauges periodically publishes queue and worker gauges, since those are
// point-in-time snapshots rather than events the bus already fans out.
func pollGauges(ctx context.Context, facade *workflow.Facade, prom *workflow.PromMetrics, cfg workflow.Config) {
	interval := cfg.MetricsCfg.CollectionInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prom.ObserveQueue(facade.GetQueueStats())
			byStatus := make(map[workflow.WorkerStatus]int)
			for _, w := range facade.GetWorkersStatus() {
				byStatus[w.Status]++
			}
			prom.ObserveWorkers(byStatus)
		}
	}
}

// runSnapshotLoop periodically writes an opaque snapshot of queue, worker,
// and aggregate-metrics state to store. Nothing in this process ever reads
// the snapshot back; it exists purely for operator inspection.
func runSnapshotLoop(ctx context.Context, facade *workflow.Facade, store persistence.Store, cfg workflow.Config) {
	interval := cfg.MetricsCfg.CollectionInterval * 6
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			queue, _ := json.Marshal(facade.GetQueueStats())
			workers, _ := json.Marshal(facade.GetWorkersStatus())
			results, _ := json.Marshal(facade.GetExecutionMetrics())
			_ = store.Save(ctx, "orchestrator", persistence.Snapshot{
				Queue:   queue,
				Workers: workers,
				Results: results,
			})
		}
	}
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
