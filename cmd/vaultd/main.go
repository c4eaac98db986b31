package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/maharlikacoop/vaultledger/internal/httpapi"
	"github.com/maharlikacoop/vaultledger/internal/metrics"
	"github.com/maharlikacoop/vaultledger/internal/refreshgate"
	"github.com/maharlikacoop/vaultledger/internal/scheduler"
	"github.com/maharlikacoop/vaultledger/internal/store/gormstore"
	"github.com/maharlikacoop/vaultledger/pkg/vault"
)

const (
	flagDatabaseURL       = "database-url"
	flagListenAddr        = "listen-addr"
	flagRedisURL          = "redis-url"
	flagAllowedOrigins    = "allowed-origins"
	flagClearingHours     = "clearing-hours"
	flagAgingHours        = "aging-hours"
	flagReviewWithdrawals = "review-withdrawals"
	flagSystemFrozen      = "system-frozen"
	flagMaintenanceMode   = "maintenance-mode"

	configKeyDatabaseURL       = "database_url"
	configKeyListenAddr        = "listen_addr"
	configKeyRedisURL          = "redis_url"
	configKeyAllowedOrigins    = "allowed_origins"
	configKeyClearingHours     = "clearing_hours"
	configKeyAgingHours        = "aging_hours"
	configKeyReviewWithdrawals = "review_withdrawals"
	configKeySystemFrozen      = "system_frozen"
	configKeyMaintenanceMode   = "maintenance_mode"

	defaultDatabaseURL = "sqlite:///tmp/vaultledger.db"
	defaultListenAddr  = ":8080"

	balanceGateInterval = 2 * time.Second
	balanceGateTTL      = 5 * time.Second
)

type runtimeConfig struct {
	DatabaseURL       string
	ListenAddr        string
	RedisURL          string
	AllowedOrigins    []string
	ClearingHours     int
	AgingHours        int
	ReviewWithdrawals bool
	SystemFrozen      bool
	MaintenanceMode   bool
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "vaultd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "vaultd",
		Short:         "Cooperative ledger and lending engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	defaults := vault.DefaultSettings()
	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or sqlite connection string")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagRedisURL, "", "redis URL for the balance refresh gate (empty disables)")
	cmd.Flags().StringSlice(flagAllowedOrigins, nil, "CORS allowed origins")
	cmd.Flags().Int(flagClearingHours, int(defaults.ClearingPeriod.Hours()), "clearing window in hours")
	cmd.Flags().Int(flagAgingHours, int(defaults.AgingPeriod.Hours()), "deposit aging period in hours")
	cmd.Flags().Bool(flagReviewWithdrawals, defaults.ReviewWithdrawals, "route withdrawals through manual review")
	cmd.Flags().Bool(flagSystemFrozen, false, "start with the kill switch engaged")
	cmd.Flags().Bool(flagMaintenanceMode, false, "start in maintenance mode")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		configKeyDatabaseURL:       "DATABASE_URL",
		configKeyListenAddr:        "LISTEN_ADDR",
		configKeyRedisURL:          "REDIS_URL",
		configKeyAllowedOrigins:    "ALLOWED_ORIGINS",
		configKeyClearingHours:     "CLEARING_HOURS",
		configKeyAgingHours:        "AGING_HOURS",
		configKeyReviewWithdrawals: "REVIEW_WITHDRAWALS",
		configKeySystemFrozen:      "SYSTEM_FROZEN",
		configKeyMaintenanceMode:   "MAINTENANCE_MODE",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}
	flags := map[string]string{
		configKeyDatabaseURL:       flagDatabaseURL,
		configKeyListenAddr:        flagListenAddr,
		configKeyRedisURL:          flagRedisURL,
		configKeyAllowedOrigins:    flagAllowedOrigins,
		configKeyClearingHours:     flagClearingHours,
		configKeyAgingHours:        flagAgingHours,
		configKeyReviewWithdrawals: flagReviewWithdrawals,
		configKeySystemFrozen:      flagSystemFrozen,
		configKeyMaintenanceMode:   flagMaintenanceMode,
	}
	for key, flag := range flags {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.RedisURL = viper.GetString(configKeyRedisURL)
	cfg.AllowedOrigins = viper.GetStringSlice(configKeyAllowedOrigins)
	cfg.ClearingHours = viper.GetInt(configKeyClearingHours)
	cfg.AgingHours = viper.GetInt(configKeyAgingHours)
	cfg.ReviewWithdrawals = viper.GetBool(configKeyReviewWithdrawals)
	cfg.SystemFrozen = viper.GetBool(configKeySystemFrozen)
	cfg.MaintenanceMode = viper.GetBool(configKeyMaintenanceMode)
	return nil
}

func buildSettings(cfg *runtimeConfig) vault.Settings {
	settings := vault.DefaultSettings()
	if cfg.ClearingHours > 0 {
		settings.ClearingPeriod = time.Duration(cfg.ClearingHours) * time.Hour
	}
	if cfg.AgingHours > 0 {
		settings.AgingPeriod = time.Duration(cfg.AgingHours) * time.Hour
	}
	settings.ReviewWithdrawals = cfg.ReviewWithdrawals
	settings.SystemFrozen = cfg.SystemFrozen
	settings.MaintenanceMode = cfg.MaintenanceMode
	return settings
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer cleanup()

	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	store := gormstore.New(gormDB)
	engine, err := vault.NewService(store, func() time.Time { return time.Now().UTC() },
		vault.WithSettings(buildSettings(cfg)),
		vault.WithOperationLogger(&zapOperationLogger{logger: logger}),
	)
	if err != nil {
		return fmt.Errorf("engine init: %w", err)
	}

	var gate *refreshgate.Gate
	if cfg.RedisURL != "" {
		redisOptions, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis url: %w", err)
		}
		gate = refreshgate.New(redis.NewClient(redisOptions), balanceGateInterval, balanceGateTTL, logger)
	}

	collectors := metrics.New()
	facade, err := httpapi.New(httpapi.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: cfg.AllowedOrigins,
	}, engine, gate, collectors, logger)
	if err != nil {
		return fmt.Errorf("http facade init: %w", err)
	}

	jobs := scheduler.New(engine, scheduler.DefaultIntervals(), logger, collectors)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return facade.Run(groupCtx) })
	group.Go(func() error {
		jobs.Run(groupCtx)
		return nil
	})
	return group.Wait()
}

// zapOperationLogger forwards engine operation callbacks to zap.
type zapOperationLogger struct {
	logger *zap.Logger
}

func (operationLogger *zapOperationLogger) LogOperation(ctx context.Context, entry vault.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if entry.MemberID != "" {
		fields = append(fields, zap.String("member_id", entry.MemberID.String()))
	}
	if entry.Related != "" {
		fields = append(fields, zap.String("related_member_id", entry.Related.String()))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount_centavos", entry.Amount.Int64()))
	}
	if entry.Reference != "" {
		fields = append(fields, zap.String("reference", entry.Reference))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		operationLogger.logger.Warn("operation failed", fields...)
		return
	}
	operationLogger.logger.Info("operation completed", fields...)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "vaultledger.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := gormstore.AutoMigrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
