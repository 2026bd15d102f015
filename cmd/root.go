/*
Copyright © 2025 Katie Mulliken <katie@mulliken.net>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/seckatie/pagetrail/internal/config"
	"github.com/seckatie/pagetrail/internal/core"
	"github.com/seckatie/pagetrail/internal/core/db"
	"github.com/seckatie/pagetrail/internal/core/web"
	"github.com/seckatie/pagetrail/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pagetrail",
	Short: "Passively archive the pages you read in Chrome",
	Long: `pagetrail watches the tabs of a Chrome browser and keeps a local history
of the pages you actually stay on. After a page has been open for the minimum
stay time it is snapshotted and stored in SQLite, but only when its content
changed since the last stored version.

Run without a subcommand to start the daemon: it launches Chrome (or attaches
to one with --remote-url) and serves the archive as JSON over HTTP.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(cmd)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	defaults := config.Default()

	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultPath, "Path to the YAML config file")
	rootCmd.PersistentFlags().StringP("db", "d", defaults.Database.Path, "Path to the SQLite database file")
	rootCmd.PersistentFlags().String("log-level", defaults.Log.Level, "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-dev", false, "Human-readable development logging")

	rootCmd.Flags().IntP("port", "p", defaults.HTTP.Port, "Port to listen on")
	rootCmd.Flags().String("host", defaults.HTTP.Host, "Host to listen on")
	rootCmd.Flags().String("remote-url", "", "DevTools URL of a running Chrome to attach to instead of launching one")
	rootCmd.Flags().String("chrome-path", "", "Path to Chrome/Chromium executable")
	rootCmd.Flags().Bool("headless", false, "Run the launched Chrome without a window")
	rootCmd.Flags().Duration("capture-timeout", defaults.Browser.CaptureTimeout, "Deadline for one capture attempt")
}

func runDaemon(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	database, err := initDB(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
	}()
	registerEventLogging(database, log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	browser, err := core.NewBrowser(ctx, core.BrowserOptions{
		RemoteURL:  cfg.Browser.RemoteURL,
		ChromePath: cfg.Browser.ChromePath,
		Headless:   cfg.Browser.Headless,
		Logger:     log,
	})
	if err != nil {
		return err
	}
	defer browser.Close()

	tracker := core.NewTracker(core.TrackerConfig{
		Settings:       database,
		Tabs:           browser,
		Snapshotter:    browser,
		Archiver:       core.NewArchiver(database, core.WithArchiverLogger(log)),
		Policy:         core.NewPolicy(log),
		CaptureTimeout: cfg.Browser.CaptureTimeout,
		Logger:         log,
	})
	defer tracker.Close()

	server := web.NewServer(database, core.NewCommands(database, log), log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return browser.Watch(gctx, tracker) })
	g.Go(func() error { return web.StartServer(gctx, cfg.HTTP.Addr(), server) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("pagetrail stopped")
	return nil
}

// loadConfig reads the config file and applies flags given on the command
// line on top of it.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to read --config: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	overrides := []func() error{
		func() error { return overrideFlag(cmd, "db", &cfg.Database.Path, cmd.Flags().GetString) },
		func() error { return overrideFlag(cmd, "log-level", &cfg.Log.Level, cmd.Flags().GetString) },
		func() error { return overrideFlag(cmd, "log-dev", &cfg.Log.Development, cmd.Flags().GetBool) },
		func() error { return overrideFlag(cmd, "host", &cfg.HTTP.Host, cmd.Flags().GetString) },
		func() error { return overrideFlag(cmd, "port", &cfg.HTTP.Port, cmd.Flags().GetInt) },
		func() error { return overrideFlag(cmd, "remote-url", &cfg.Browser.RemoteURL, cmd.Flags().GetString) },
		func() error { return overrideFlag(cmd, "chrome-path", &cfg.Browser.ChromePath, cmd.Flags().GetString) },
		func() error { return overrideFlag(cmd, "headless", &cfg.Browser.Headless, cmd.Flags().GetBool) },
		func() error {
			return overrideFlag(cmd, "capture-timeout", &cfg.Browser.CaptureTimeout, cmd.Flags().GetDuration)
		},
	}
	for _, apply := range overrides {
		if err := apply(); err != nil {
			return config.Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// overrideFlag copies the flag's value into dst when it was set explicitly.
// Flags the command does not define are skipped.
func overrideFlag[T any](cmd *cobra.Command, name string, dst *T, get func(string) (T, error)) error {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, err := get(name)
	if err != nil {
		return fmt.Errorf("failed to read --%s: %w", name, err)
	}
	*dst = v
	return nil
}

func initDB(cfg config.Config, log *zap.Logger) (*db.DB, error) {
	database, err := db.NewSQLiteDB(cfg.Database.Path, db.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Debug("database migrated successfully", zap.String("path", cfg.Database.Path))
	return database, nil
}

// registerEventLogging reports archive writes in the daemon log.
func registerEventLogging(database *db.DB, log *zap.Logger) {
	database.RegisterEventListener(db.OnVersionSavedEvent, func(event db.Event) error {
		ev := event.(db.VersionSavedEvent)
		log.Info("archived new page version",
			zap.String("url", ev.Version.URL),
			zap.String("version_id", ev.Version.VersionID),
			zap.String("title", ev.Version.Title),
		)
		return nil
	})

	database.RegisterEventListener(db.OnVisitsPurgedEvent, func(event db.Event) error {
		ev := event.(db.VisitsPurgedEvent)
		log.Info("purged expired visits",
			zap.Int64("removed", ev.Removed),
			zap.Time("cutoff", ev.Cutoff),
		)
		return nil
	})

	database.RegisterEventListener(db.OnSettingsChangedEvent, func(event db.Event) error {
		ev := event.(db.SettingsChangedEvent)
		log.Info("settings changed",
			zap.Bool("enabled", ev.Settings.Enabled),
			zap.Int64("min_stay_ms", ev.Settings.MinStayMs),
			zap.Int("disabled_hosts", len(ev.Settings.DisabledHosts)),
			zap.Int("disabled_url_patterns", len(ev.Settings.DisabledURLPatterns)),
		)
		return nil
	})
}
