package core

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"slices"
	"strings"

	"github.com/seckatie/pagetrail/internal/core/db"
	"go.uber.org/zap"
)

// Command types accepted by Commands.Handle.
const (
	CmdGetSettings   = "getSettings"
	CmdToggleEnabled = "toggleEnabled"
	CmdSetMinStay    = "setMinStay"
	CmdToggleHost    = "toggleHost"
	CmdAddPattern    = "addPattern"
	CmdRemovePattern = "removePattern"
)

// ErrUnknownCommand is reported for unrecognized command types.
var ErrUnknownCommand = errors.New("unknown message")

// SettingsStore reads and replaces the stored settings.
type SettingsStore interface {
	GetSettings() (db.Settings, error)
	SaveSettings(s db.Settings) (db.Settings, error)
}

// Request is a settings command. Only the fields relevant to Type are read.
type Request struct {
	Type string `json:"type"`
	// Enabled forces the toggleEnabled result; nil flips the current value.
	Enabled *bool `json:"enabled,omitempty"`
	// MinStayMs is clamped to a non-negative integer.
	MinStayMs *float64 `json:"minStayMs,omitempty"`
	// URL is a full page URL whose host is toggled.
	URL     string `json:"url,omitempty"`
	Pattern string `json:"pattern,omitempty"`
}

// Response reports the result of a command. Settings holds the settings in
// effect after a successful command.
type Response struct {
	OK       bool         `json:"ok"`
	Error    string       `json:"error,omitempty"`
	Settings *db.Settings `json:"settings,omitempty"`
}

// Commands applies settings commands from the UI layers.
type Commands struct {
	store  SettingsStore
	logger *zap.Logger
}

// NewCommands returns a Commands backed by store.
func NewCommands(store SettingsStore, logger *zap.Logger) *Commands {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Commands{store: store, logger: logger}
}

// Handle runs one command. Failures are reported in the Response, never
// panicked or dropped.
func (c *Commands) Handle(req Request) Response {
	settings, err := c.apply(req)
	if err != nil {
		c.logger.Debug("command failed", zap.String("type", req.Type), zap.Error(err))
		return Response{OK: false, Error: err.Error()}
	}
	return Response{OK: true, Settings: &settings}
}

func (c *Commands) apply(req Request) (db.Settings, error) {
	var mutate func(*db.Settings) error
	switch req.Type {
	case CmdGetSettings:
		return c.store.GetSettings()
	case CmdToggleEnabled:
		mutate = func(s *db.Settings) error {
			if req.Enabled != nil {
				s.Enabled = *req.Enabled
			} else {
				s.Enabled = !s.Enabled
			}
			return nil
		}
	case CmdSetMinStay:
		mutate = func(s *db.Settings) error {
			s.MinStayMs = clampMinStay(req.MinStayMs)
			return nil
		}
	case CmdToggleHost:
		mutate = func(s *db.Settings) error {
			host, err := hostFromURL(req.URL)
			if err != nil {
				return err
			}
			s.DisabledHosts = toggle(s.DisabledHosts, host)
			return nil
		}
	case CmdAddPattern:
		mutate = func(s *db.Settings) error {
			p := strings.TrimSpace(req.Pattern)
			if p == "" {
				return errors.New("pattern is required")
			}
			s.DisabledURLPatterns = append(s.DisabledURLPatterns, p)
			return nil
		}
	case CmdRemovePattern:
		mutate = func(s *db.Settings) error {
			p := strings.TrimSpace(req.Pattern)
			s.DisabledURLPatterns = slices.DeleteFunc(slices.Clone(s.DisabledURLPatterns), func(v string) bool {
				return v == p
			})
			return nil
		}
	default:
		return db.Settings{}, ErrUnknownCommand
	}

	settings, err := c.store.GetSettings()
	if err != nil {
		return db.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	if err := mutate(&settings); err != nil {
		return db.Settings{}, err
	}
	saved, err := c.store.SaveSettings(settings)
	if err != nil {
		return db.Settings{}, fmt.Errorf("save settings: %w", err)
	}
	c.logger.Info("settings changed", zap.String("command", req.Type))
	return saved, nil
}

// clampMinStay truncates v to an integer in [0, db.MaxMinStayMs]. Missing or
// NaN values become zero.
func clampMinStay(v *float64) int64 {
	if v == nil || math.IsNaN(*v) || *v <= 0 {
		return 0
	}
	if *v >= float64(db.MaxMinStayMs) {
		return db.MaxMinStayMs
	}
	return int64(*v)
}

func hostFromURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	host := HostOf(u)
	if host == "" {
		return "", fmt.Errorf("invalid url %q: no host", raw)
	}
	return host, nil
}

// toggle removes v from list when present and adds it otherwise.
func toggle(list []string, v string) []string {
	if slices.Contains(list, v) {
		return slices.DeleteFunc(slices.Clone(list), func(s string) bool { return s == v })
	}
	return append(slices.Clone(list), v)
}
