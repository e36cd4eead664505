package workflow

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every recognized option from spec §6, grouped the way the
// option table groups them. Zero-value fields are filled by Defaults before
// use.
type Config struct {
	Scaling       ScalingConfig
	FaultTol      FaultToleranceConfig
	Storage       StorageConfig
	MetricsCfg    MetricsConfig
	Queue         QueueConfig
	DefaultTimeout time.Duration

	// HeartbeatStaleAfter bounds how long a worker's heartbeat may go
	// unrefreshed before the health checker declares it DEAD (spec §4.E/§4.F.3).
	HeartbeatStaleAfter time.Duration
	// DrainTimeout bounds how long stop() waits for in-flight executions to
	// reach a terminal state before forcing shutdown (spec §4.F.7).
	DrainTimeout time.Duration
}

type ScalingConfig struct {
	MinWorkers        int
	MaxWorkers        int
	TargetUtilization float64
	ScaleUpThreshold  float64
	ScaleDownThreshold float64
	ScaleUpCooldown   time.Duration
	ScaleDownCooldown time.Duration
	WorkerStartupTime time.Duration
}

type FaultToleranceConfig struct {
	MaxRetries    int
	RetryDelay    time.Duration
	BackoffFactor float64
	CircuitBreaker BreakerConfig
}

type StorageConfig struct {
	ResultRetentionDays int
	CompressionEnabled  bool
	EncryptionEnabled   bool
}

type MetricsConfig struct {
	CollectionInterval time.Duration
	AggregationWindow  time.Duration
}

type QueueConfig struct {
	MaxSize            int
	ProcessingInterval time.Duration
}

// Defaults returns a Config with every spec-documented default applied.
func Defaults() Config {
	return Config{
		Scaling: ScalingConfig{
			MinWorkers:         2,
			MaxWorkers:         10,
			TargetUtilization:  0.7,
			ScaleUpThreshold:   0.8,
			ScaleDownThreshold: 0.3,
			ScaleUpCooldown:    60 * time.Second,
			ScaleDownCooldown:  120 * time.Second,
			WorkerStartupTime:  2 * time.Second,
		},
		FaultTol: FaultToleranceConfig{
			MaxRetries:     3,
			RetryDelay:     100 * time.Millisecond,
			BackoffFactor:  2.0,
			CircuitBreaker: DefaultBreakerConfig(),
		},
		Storage: StorageConfig{
			ResultRetentionDays: 7,
		},
		MetricsCfg: MetricsConfig{
			CollectionInterval: 10 * time.Second,
			AggregationWindow:  time.Minute,
		},
		Queue: QueueConfig{
			MaxSize:            1000,
			ProcessingInterval: 50 * time.Millisecond,
		},
		DefaultTimeout:      5 * time.Minute,
		HeartbeatStaleAfter: 15 * time.Second,
		DrainTimeout:        30 * time.Second,
	}
}

// LoadConfig builds a Config the way internal/config.Load does: an optional
// environment-specific .env file (selected by ORCHESTRATOR_ENV, defaulting to
// "development") loaded via godotenv, then overridden by whatever is already
// in the process environment, layered on top of Defaults().
func LoadConfig() (Config, error) {
	env := getEnv("ORCHESTRATOR_ENV", "development")
	envFile := fmt.Sprintf("config/%s.env", env)
	if err := godotenv.Load(envFile); err != nil {
		if !os.IsNotExist(err) {
			fmt.Printf("warning: could not load %s: %v\n", envFile, err)
		}
	}

	cfg := Defaults()
	cfg.Scaling.MinWorkers = getIntEnv("SCALING_MIN_WORKERS", cfg.Scaling.MinWorkers)
	cfg.Scaling.MaxWorkers = getIntEnv("SCALING_MAX_WORKERS", cfg.Scaling.MaxWorkers)
	cfg.Scaling.TargetUtilization = getFloatEnv("SCALING_TARGET_UTILIZATION", cfg.Scaling.TargetUtilization)
	cfg.Scaling.ScaleUpThreshold = getFloatEnv("SCALING_SCALE_UP_THRESHOLD", cfg.Scaling.ScaleUpThreshold)
	cfg.Scaling.ScaleDownThreshold = getFloatEnv("SCALING_SCALE_DOWN_THRESHOLD", cfg.Scaling.ScaleDownThreshold)
	cfg.Scaling.ScaleUpCooldown = getDurationEnv("SCALING_SCALE_UP_COOLDOWN", cfg.Scaling.ScaleUpCooldown)
	cfg.Scaling.ScaleDownCooldown = getDurationEnv("SCALING_SCALE_DOWN_COOLDOWN", cfg.Scaling.ScaleDownCooldown)
	cfg.Scaling.WorkerStartupTime = getDurationEnv("SCALING_WORKER_STARTUP_TIME", cfg.Scaling.WorkerStartupTime)

	cfg.FaultTol.MaxRetries = getIntEnv("FAULT_TOLERANCE_MAX_RETRIES", cfg.FaultTol.MaxRetries)
	cfg.FaultTol.RetryDelay = getDurationEnv("FAULT_TOLERANCE_RETRY_DELAY", cfg.FaultTol.RetryDelay)
	cfg.FaultTol.BackoffFactor = getFloatEnv("FAULT_TOLERANCE_BACKOFF_FACTOR", cfg.FaultTol.BackoffFactor)
	cfg.FaultTol.CircuitBreaker.FailureThreshold = getIntEnv("CIRCUIT_BREAKER_FAILURE_THRESHOLD", cfg.FaultTol.CircuitBreaker.FailureThreshold)
	cfg.FaultTol.CircuitBreaker.RecoveryTimeout = getDurationEnv("CIRCUIT_BREAKER_RESET_TIMEOUT", cfg.FaultTol.CircuitBreaker.RecoveryTimeout)
	cfg.FaultTol.CircuitBreaker.MonitoringPeriod = getDurationEnv("CIRCUIT_BREAKER_MONITORING_PERIOD", cfg.FaultTol.CircuitBreaker.MonitoringPeriod)

	cfg.Storage.ResultRetentionDays = getIntEnv("STORAGE_RESULT_RETENTION_DAYS", cfg.Storage.ResultRetentionDays)
	cfg.Storage.CompressionEnabled = getBoolEnv("STORAGE_COMPRESSION_ENABLED", cfg.Storage.CompressionEnabled)
	cfg.Storage.EncryptionEnabled = getBoolEnv("STORAGE_ENCRYPTION_ENABLED", cfg.Storage.EncryptionEnabled)

	cfg.MetricsCfg.CollectionInterval = getDurationEnv("METRICS_COLLECTION_INTERVAL", cfg.MetricsCfg.CollectionInterval)
	cfg.MetricsCfg.AggregationWindow = getDurationEnv("METRICS_AGGREGATION_WINDOW", cfg.MetricsCfg.AggregationWindow)

	cfg.Queue.MaxSize = getIntEnv("QUEUE_MAX_SIZE", cfg.Queue.MaxSize)
	cfg.Queue.ProcessingInterval = getDurationEnv("QUEUE_PROCESSING_INTERVAL", cfg.Queue.ProcessingInterval)

	cfg.DefaultTimeout = getDurationEnv("DEFAULT_TIMEOUT", cfg.DefaultTimeout)
	cfg.HeartbeatStaleAfter = getDurationEnv("WORKER_HEARTBEAT_STALE_AFTER", cfg.HeartbeatStaleAfter)
	cfg.DrainTimeout = getDurationEnv("WORKER_DRAIN_TIMEOUT", cfg.DrainTimeout)

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
