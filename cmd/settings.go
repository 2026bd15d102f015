/*
Copyright © 2025 Katie Mulliken <katie@mulliken.net>
*/

// The settings command reads and changes what the daemon archives.
//
// Example usage:
//
//	pagetrail settings get
//	pagetrail settings disable
//	pagetrail settings min-stay 5000
//	pagetrail settings toggle-host https://mail.example.com/inbox
//	pagetrail settings add-pattern '*://*.example.com/*/settings*'
package cmd

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/seckatie/pagetrail/internal/core"
	"github.com/seckatie/pagetrail/internal/core/db"
	"github.com/seckatie/pagetrail/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// settingsCmd represents the settings command
var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change capture settings",
}

// settingsView is the printed form of db.Settings.
type settingsView struct {
	Enabled             bool     `yaml:"enabled"`
	MinStayMs           int64    `yaml:"min_stay_ms"`
	DisabledHosts       []string `yaml:"disabled_hosts"`
	DisabledURLPatterns []string `yaml:"disabled_url_patterns"`
}

// settingsSubcommands maps each subcommand to the request it sends.
var settingsSubcommands = []struct {
	use   string
	short string
	args  cobra.PositionalArgs
	build func(args []string) (core.Request, error)
}{
	{
		use:   "get",
		short: "Print the current settings",
		args:  cobra.NoArgs,
		build: func([]string) (core.Request, error) {
			return core.Request{Type: core.CmdGetSettings}, nil
		},
	},
	{
		use:   "enable",
		short: "Resume archiving",
		args:  cobra.NoArgs,
		build: func([]string) (core.Request, error) {
			enabled := true
			return core.Request{Type: core.CmdToggleEnabled, Enabled: &enabled}, nil
		},
	},
	{
		use:   "disable",
		short: "Pause archiving",
		args:  cobra.NoArgs,
		build: func([]string) (core.Request, error) {
			enabled := false
			return core.Request{Type: core.CmdToggleEnabled, Enabled: &enabled}, nil
		},
	},
	{
		use:   "min-stay MILLISECONDS",
		short: "Set how long a page must stay open before it is captured",
		args:  cobra.ExactArgs(1),
		build: func(args []string) (core.Request, error) {
			ms, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return core.Request{}, fmt.Errorf("invalid milliseconds %q: %w", args[0], err)
			}
			return core.Request{Type: core.CmdSetMinStay, MinStayMs: &ms}, nil
		},
	},
	{
		use:   "toggle-host URL",
		short: "Add or remove the URL's host from the denylist",
		args:  cobra.ExactArgs(1),
		build: func(args []string) (core.Request, error) {
			return core.Request{Type: core.CmdToggleHost, URL: args[0]}, nil
		},
	},
	{
		use:   "add-pattern PATTERN",
		short: "Never capture URLs matching a wildcard pattern",
		args:  cobra.ExactArgs(1),
		build: func(args []string) (core.Request, error) {
			return core.Request{Type: core.CmdAddPattern, Pattern: args[0]}, nil
		},
	},
	{
		use:   "remove-pattern PATTERN",
		short: "Remove a wildcard pattern from the denylist",
		args:  cobra.ExactArgs(1),
		build: func(args []string) (core.Request, error) {
			return core.Request{Type: core.CmdRemovePattern, Pattern: args[0]}, nil
		},
	},
}

// runSettings sends req to the command surface and prints the resulting
// settings.
func runSettings(cmd *cobra.Command, req core.Request) error {
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

	resp := core.NewCommands(database, log).Handle(req)
	if !resp.OK {
		return errors.New(resp.Error)
	}
	return printSettings(cmd.OutOrStdout(), *resp.Settings)
}

func printSettings(w io.Writer, s db.Settings) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(settingsView{
		Enabled:             s.Enabled,
		MinStayMs:           s.MinStayMs,
		DisabledHosts:       s.DisabledHosts,
		DisabledURLPatterns: s.DisabledURLPatterns,
	}); err != nil {
		return err
	}
	return enc.Close()
}

func init() {
	rootCmd.AddCommand(settingsCmd)

	for _, sub := range settingsSubcommands {
		build := sub.build
		settingsCmd.AddCommand(&cobra.Command{
			Use:          sub.use,
			Short:        sub.short,
			Args:         sub.args,
			SilenceUsage: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				req, err := build(args)
				if err != nil {
					return err
				}
				return runSettings(cmd, req)
			},
		})
	}
}
