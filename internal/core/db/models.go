package db

import (
	"math"
	"sort"
	"time"
)

// ContentTypeHTML is the content type of every snapshot taken from a tab.
const ContentTypeHTML = "text/html"

// PageVersion is one immutable captured snapshot of a page.
type PageVersion struct {
	VersionID   string    `json:"versionId"`
	URL         string    `json:"url"`
	URLKey      string    `json:"urlKey"`
	Title       string    `json:"title"`
	CapturedAt  time.Time `json:"capturedAt"`
	Hash        string    `json:"hash"`
	ContentType string    `json:"contentType"`
	// HTML is left empty by listing queries.
	HTML string `json:"html,omitempty"`
}

// Visit is a lightweight history record of a navigation that reached its
// dwell time, whether or not a new version was stored.
type Visit struct {
	VisitID string    `json:"visitId"`
	URL     string    `json:"url"`
	URLKey  string    `json:"urlKey"`
	VisitAt time.Time `json:"visitAt"`
}

// VisitsPageQuery selects a page of visits, newest first. A zero Before
// starts from the newest visit; otherwise only visits strictly older than
// Before are returned.
type VisitsPageQuery struct {
	Limit  int
	Before time.Time
}

// VisitsPage is one page of visits. NextBefore is zero when there are no
// more rows.
type VisitsPage struct {
	Rows       []Visit   `json:"rows"`
	NextBefore time.Time `json:"nextBefore"`
}

// Settings is the process-wide capture configuration.
type Settings struct {
	Enabled             bool     `json:"enabled"`
	MinStayMs           int64    `json:"minStayMs"`
	DisabledHosts       []string `json:"disabledHosts"`
	DisabledURLPatterns []string `json:"disabledUrlPatterns"`
}

// Default settings applied when nothing is stored yet.
const (
	DefaultEnabled   = true
	DefaultMinStayMs = 3000
)

// MaxMinStayMs is the largest dwell time that fits in a time.Duration.
const MaxMinStayMs = math.MaxInt64 / int64(time.Millisecond)

// DefaultSettings returns the settings used before the user changes anything.
func DefaultSettings() Settings {
	return Settings{
		Enabled:             DefaultEnabled,
		MinStayMs:           DefaultMinStayMs,
		DisabledHosts:       []string{},
		DisabledURLPatterns: []string{},
	}
}

// MinStay returns the dwell time as a duration.
func (s Settings) MinStay() time.Duration {
	if s.MinStayMs > MaxMinStayMs {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(s.MinStayMs) * time.Millisecond
}

// Normalize clamps MinStayMs to [0, MaxMinStayMs] and returns the set-valued
// fields de-duplicated and sorted. The receiver is not modified.
func (s Settings) Normalize() Settings {
	if s.MinStayMs < 0 {
		s.MinStayMs = 0
	}
	s.MinStayMs = min(s.MinStayMs, MaxMinStayMs)
	s.DisabledHosts = sortedSet(s.DisabledHosts)
	s.DisabledURLPatterns = sortedSet(s.DisabledURLPatterns)
	return s
}

func sortedSet(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
