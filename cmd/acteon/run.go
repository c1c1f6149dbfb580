package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"penserai/acteon/pkg/audit"
	"penserai/acteon/pkg/config"
	"penserai/acteon/pkg/executor"
	"penserai/acteon/pkg/gateway"
	"penserai/acteon/pkg/provider"
	"penserai/acteon/pkg/rules"
	"penserai/acteon/pkg/rules/yamlrules"
	"penserai/acteon/pkg/state"
	"penserai/acteon/pkg/state/boltstate"
	"penserai/acteon/pkg/state/memstate"
	"penserai/acteon/pkg/telemetry/logging"
)

var runFlags struct {
	logLevel string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the dispatch gateway",
	Long: `Start the gateway with the specified configuration.

Examples:
  # Start with the default config
  acteon run

  # Start with a custom config
  acteon run --config /etc/acteon/config.yaml

  # Override the log level
  acteon run --log-level debug`,
	RunE: runGateway,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if runFlags.logLevel != "" {
		cfg.Logging.Level = runFlags.logLevel
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	engineOpts := []rules.Option{rules.WithLogger(logger)}
	if cfg.Rules.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Rules.Timezone)
		if err != nil {
			return fmt.Errorf("load timezone %q: %w", cfg.Rules.Timezone, err)
		}
		engineOpts = append(engineOpts, rules.WithTimezone(loc))
	}
	engine := rules.New(store, engineOpts...)

	var watcher *yamlrules.Watcher
	if cfg.Rules.Watch {
		watcher = yamlrules.NewWatcher(cfg.Rules.Dir, engine, yamlrules.WithWatcherLogger(logger))
		if err := watcher.Start(); err != nil {
			return fmt.Errorf("start rule watcher: %w", err)
		}
		defer watcher.Stop()
	} else {
		rs, err := yamlrules.LoadDir(cfg.Rules.Dir)
		if err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
		engine.ReplaceRules(rs)
	}

	registry := provider.NewRegistry()
	for _, pc := range cfg.Providers {
		wh, err := provider.NewWebhook(pc)
		if err != nil {
			return err
		}
		if err := registry.Register(wh); err != nil {
			return err
		}
	}

	exec := executor.New(executor.Config{
		MaxConcurrent: cfg.Executor.MaxConcurrent,
		MaxRetries:    cfg.Executor.MaxRetries,
		Timeout:       cfg.Executor.Timeout,
	}, logger)

	audits, err := openAuditStore(cfg, logger)
	if err != nil {
		return err
	}
	defer audits.Close()

	gwOpts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithRulesLoader(func() ([]*rules.Rule, error) {
			return yamlrules.LoadDir(cfg.Rules.Dir)
		}),
	}
	if cfg.Audit.RetentionDays > 0 {
		gwOpts = append(gwOpts,
			gateway.WithAuditRetention(time.Duration(cfg.Audit.RetentionDays)*24*time.Hour))

		retention := audit.NewRetention(audits, audit.RetentionConfig{
			Schedule: cfg.Audit.RetentionSchedule,
		}, logger)
		if err := retention.Start(); err != nil {
			return err
		}
		defer retention.Stop()
	}

	gw := gateway.New(gateway.Config{
		LockTTL:       cfg.Dispatch.LockTTL,
		LockTimeout:   cfg.Dispatch.LockTimeout,
		DedupTTL:      cfg.Dispatch.DedupTTL,
		BatchWorkers:  cfg.Dispatch.BatchWorkers,
		AsyncAudit:    cfg.Audit.Async,
		QuotaCacheTTL: cfg.Dispatch.QuotaCacheTTL,
	}, store, state.NewStoreLock(store), engine, registry, exec, audits, gwOpts...)
	defer gw.Close()

	logger.Info("gateway ready",
		"state_backend", cfg.State.Backend,
		"rules_dir", cfg.Rules.Dir,
		"watch", cfg.Rules.Watch,
		"providers", registry.Names())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Info("shutting down", "signal", s.String())
	return nil
}

func openStore(cfg *config.Config, logger *slog.Logger) (state.Store, error) {
	switch cfg.State.Backend {
	case "bolt":
		store, err := boltstate.Open(cfg.State.Path)
		if err != nil {
			return nil, fmt.Errorf("open bolt state store: %w", err)
		}
		logger.Info("state store opened", "backend", "bolt", "path", cfg.State.Path)
		return store, nil
	default:
		return memstate.New(memstate.Config{CleanupInterval: cfg.State.CleanupInterval}), nil
	}
}

func openAuditStore(cfg *config.Config, logger *slog.Logger) (audit.Store, error) {
	switch cfg.Audit.Backend {
	case "memory":
		return audit.NewMemoryStore(), nil
	default:
		sqliteCfg := audit.DefaultSQLiteConfig()
		sqliteCfg.Path = cfg.Audit.Path
		return audit.NewSQLiteStore(sqliteCfg, logger)
	}
}
