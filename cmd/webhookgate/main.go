package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/BTreeMap/WebhookGate/internal/api"
	"github.com/BTreeMap/WebhookGate/internal/delivery"
	"github.com/BTreeMap/WebhookGate/internal/models"
	"github.com/BTreeMap/WebhookGate/internal/scheduler"
	"github.com/BTreeMap/WebhookGate/internal/store"
	"github.com/BTreeMap/WebhookGate/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for WebhookGate state data
	DefaultStateDir = "/var/lib/webhookgate"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "webhookgate.db"
	// DefaultAddr is the default API listen address
	DefaultAddr = ":3000"
	// DefaultRetryInterval is the default drain loop interval
	DefaultRetryInterval = 15 * time.Second
	// DefaultDeliverTimeout is the default per-attempt delivery timeout
	DefaultDeliverTimeout = 5 * time.Second
	// DefaultMaxAttempts is the default delivery failure ceiling
	DefaultMaxAttempts = 5
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	st, err := store.Connect(*flags.dbDSN)
	if err != nil {
		slog.Error("Failed to open durable store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	executor := delivery.NewExecutor(st, *flags.deliverTimeout, *flags.maxAttempts)
	drainer := delivery.NewDrainer(st, executor)

	sched := scheduler.NewScheduler()
	defer sched.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sched.AddEvery(*flags.retryInterval, func() { drainer.DrainOnce(ctx) }); err != nil {
		slog.Error("Failed to schedule drain pass", "error", err)
		os.Exit(1)
	}

	server := api.NewServer(api.Config{
		TargetURL:      *flags.targetURL,
		IngestToken:    *flags.ingestToken,
		Mode:           models.Mode(*flags.mode),
		APIKeyHeader:   *flags.apiKeyHeader,
		LicenseKey:     *flags.licenseKey,
		RequireLicense: *flags.requireLicense,
	}, st, st, st, executor)

	slog.Info("Bootstrapping WebhookGate",
		"addr", *flags.addr,
		"mode", *flags.mode,
		"target_set", *flags.targetURL != "",
		"retry_interval", *flags.retryInterval,
		"deliver_timeout", *flags.deliverTimeout,
		"max_attempts", *flags.maxAttempts)
	if err := server.Run(ctx, *flags.addr); err != nil {
		slog.Error("WebhookGate failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("WebhookGate exited successfully")
}

// Config holds environment configuration
type Config struct {
	Addr           string
	TargetURL      string
	RetryInterval  time.Duration
	DeliverTimeout time.Duration
	IngestToken    string
	Mode           string
	APIKeyHeader   string
	LicenseKey     string
	RequireLicense bool
	MaxAttempts    int
	DatabaseURL    string
	StateDir       string
}

// Flags holds command line flag values
type Flags struct {
	addr           *string
	targetURL      *string
	retryInterval  *time.Duration
	deliverTimeout *time.Duration
	ingestToken    *string
	mode           *string
	apiKeyHeader   *string
	licenseKey     *string
	requireLicense *bool
	maxAttempts    *int
	dbDSN          *string
}

// initializeLogger sets up structured logging
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("WEBHOOKGATE_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		Addr:           os.Getenv("WEBHOOKGATE_ADDR"),
		TargetURL:      os.Getenv("TARGET_URL"),
		RetryInterval:  util.ParseDurationEnv("RETRY_INTERVAL", DefaultRetryInterval),
		DeliverTimeout: util.ParseDurationEnv("DELIVER_TIMEOUT", DefaultDeliverTimeout),
		IngestToken:    os.Getenv("INGEST_TOKEN"),
		Mode:           os.Getenv("WEBHOOKGATE_MODE"),
		APIKeyHeader:   os.Getenv("API_KEY_HEADER"),
		LicenseKey:     os.Getenv("LICENSE_KEY"),
		RequireLicense: util.ParseBoolEnv("WEBHOOKGATE_REQUIRE_LICENSE", false),
		MaxAttempts:    util.ParseIntEnv("MAX_ATTEMPTS", DefaultMaxAttempts),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		StateDir:       os.Getenv("WEBHOOKGATE_STATE_DIR"),
	}

	if config.Addr == "" {
		config.Addr = DefaultAddr
	}
	if config.Mode == "" {
		config.Mode = string(models.ModeObserve)
	}
	if config.APIKeyHeader == "" {
		config.APIKeyHeader = api.DefaultAPIKeyHeader
	}
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No WEBHOOKGATE_STATE_DIR set, using default", "state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"WEBHOOKGATE_ADDR", config.Addr,
		"TARGET_URL_SET", config.TargetURL != "",
		"RETRY_INTERVAL", config.RetryInterval,
		"DELIVER_TIMEOUT", config.DeliverTimeout,
		"INGEST_TOKEN_SET", config.IngestToken != "",
		"WEBHOOKGATE_MODE", config.Mode,
		"API_KEY_HEADER", config.APIKeyHeader,
		"LICENSE_KEY_SET", config.LicenseKey != "",
		"MAX_ATTEMPTS", config.MaxAttempts,
		"DATABASE_URL_SET", config.DatabaseURL != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		addr:           flag.String("addr", config.Addr, "API listen address (overrides $WEBHOOKGATE_ADDR)"),
		targetURL:      flag.String("target-url", config.TargetURL, "downstream consumer URL (overrides $TARGET_URL)"),
		retryInterval:  flag.Duration("retry-interval", config.RetryInterval, "drain loop interval (overrides $RETRY_INTERVAL)"),
		deliverTimeout: flag.Duration("deliver-timeout", config.DeliverTimeout, "per-attempt delivery timeout (overrides $DELIVER_TIMEOUT)"),
		ingestToken:    flag.String("ingest-token", config.IngestToken, "shared ingest secret; empty disables the token check (overrides $INGEST_TOKEN)"),
		mode:           flag.String("mode", config.Mode, "enforcement mode: observe or enforce (overrides $WEBHOOKGATE_MODE)"),
		apiKeyHeader:   flag.String("api-key-header", config.APIKeyHeader, "header carrying the ingest API key (overrides $API_KEY_HEADER)"),
		licenseKey:     flag.String("license-key", config.LicenseKey, "deployment license key (overrides $LICENSE_KEY)"),
		requireLicense: flag.Bool("require-license", config.RequireLicense, "require a license in enforce mode (overrides $WEBHOOKGATE_REQUIRE_LICENSE)"),
		maxAttempts:    flag.Int("max-attempts", config.MaxAttempts, "delivery failure ceiling (overrides $MAX_ATTEMPTS)"),
		dbDSN:          flag.String("db-dsn", config.DatabaseURL, "database DSN: SQLite path or Postgres URL (overrides $DATABASE_URL)"),
	}

	flag.Parse()

	if *flags.mode != string(models.ModeObserve) && *flags.mode != string(models.ModeEnforce) {
		slog.Warn("Unknown mode, falling back to observe", "mode", *flags.mode)
		*flags.mode = string(models.ModeObserve)
	}

	return flags
}
