/*
Copyright © 2025 Katie Mulliken <katie@mulliken.net>
*/

// The capture command archives pages on demand, without waiting for a visit.
//
// Each URL is loaded in a fresh Chrome, snapshotted by the same in-page agent
// the daemon uses and stored through the same pipeline: a visit is recorded
// and a new version is kept only when the content changed.
//
// Example usage:
//
//	pagetrail capture https://example.com/ https://go.dev/doc/
//	pagetrail capture --timeout=60s --wait-selector="#content" --headful https://example.com/
package cmd

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/seckatie/pagetrail/internal/core"
	"github.com/seckatie/pagetrail/internal/core/db"
	"github.com/seckatie/pagetrail/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// captureCmd represents the capture command
var captureCmd = &cobra.Command{
	Use:          "capture URL...",
	Short:        "Capture pages into the archive now",
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCapture(cmd, args)
	},
}

// runCapture is the main function for the capture command.
func runCapture(cmd *cobra.Command, urls []string) error {
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

	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return fmt.Errorf("failed to read --timeout: %w", err)
	}
	waitSelector, err := cmd.Flags().GetString("wait-selector")
	if err != nil {
		return fmt.Errorf("failed to read --wait-selector: %w", err)
	}
	chromePath, err := cmd.Flags().GetString("chrome-path")
	if err != nil {
		return fmt.Errorf("failed to read --chrome-path: %w", err)
	}
	headful, err := cmd.Flags().GetBool("headful")
	if err != nil {
		return fmt.Errorf("failed to read --headful: %w", err)
	}

	if chromePath == "" {
		chromePath = cfg.Browser.ChromePath
	}
	if chromePath == "" && runtime.GOOS == "darwin" {
		// Best-effort default for macOS.
		chromePath = "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
	}

	opts := core.CaptureOptions{
		ChromePath:   chromePath,
		Headless:     !headful,
		Timeout:      timeout,
		WaitSelector: waitSelector,
		Logger:       log,
	}

	// Explicit captures skip the host and pattern denylists but not the
	// scheme check.
	policy := core.NewPolicy(log)
	schemeOnly := db.DefaultSettings()
	schemeOnly.Enabled = true

	archiver := core.NewArchiver(database, core.WithArchiverLogger(log))
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	var failures int
	for _, url := range urls {
		if !policy.IsEligible(url, schemeOnly) {
			failures++
			fmt.Fprintf(out, "skipped   %s (only http and https pages can be captured)\n", url)
			continue
		}

		res, err := archiver.Archive(ctx, url, func(ctx context.Context) (core.Snapshot, error) {
			return core.CaptureURL(ctx, url, opts)
		})
		switch {
		case err != nil:
			failures++
			fmt.Fprintf(out, "error     %s: %v\n", url, err)
		case res.Outcome == core.OutcomeCaptureFailed:
			failures++
			fmt.Fprintf(out, "failed    %s: %v\n", url, res.CaptureErr)
		case res.Outcome == core.OutcomeDuplicate:
			fmt.Fprintf(out, "unchanged %s (version %s)\n", url, res.Version.VersionID)
		default:
			fmt.Fprintf(out, "stored    %s (version %s)\n", url, res.Version.VersionID)
		}
	}

	if failures > 0 {
		return fmt.Errorf("capture finished with %d failure(s)", failures)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(captureCmd)

	captureCmd.Flags().Duration("timeout", 40*time.Second, "Per-page capture timeout")
	captureCmd.Flags().String("wait-selector", "", "Optional CSS selector to wait for (useful for JS-heavy pages)")
	captureCmd.Flags().String("chrome-path", "", "Path to Chrome/Chromium executable")
	captureCmd.Flags().Bool("headful", false, "Run Chrome with a visible window (not headless)")
}
