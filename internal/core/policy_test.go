package core

import (
	"errors"
	"regexp"
	"testing"

	"github.com/seckatie/pagetrail/internal/core/db"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func enabledSettings() db.Settings {
	s := db.DefaultSettings()
	s.Enabled = true
	s.MinStayMs = 2000
	return s
}

func TestPolicy_IsEligible(t *testing.T) {
	policy := NewPolicy(nil)

	tests := []struct {
		name     string
		url      string
		settings func(s *db.Settings)
		want     bool
	}{
		{name: "https allowed", url: "https://example.com/", want: true},
		{name: "http allowed", url: "http://example.com/page?q=1#x", want: true},
		{name: "ftp rejected", url: "ftp://example.com/file", want: false},
		{name: "chrome scheme rejected", url: "chrome://settings", want: false},
		{name: "file scheme rejected", url: "file:///tmp/x.html", want: false},
		{name: "about blank rejected", url: "about:blank", want: false},
		{name: "unparsable rejected", url: "http://[::1", want: false},
		{name: "empty rejected", url: "", want: false},
		{
			name:     "disabled globally",
			url:      "https://example.com/",
			settings: func(s *db.Settings) { s.Enabled = false },
			want:     false,
		},
		{
			name:     "host denylisted",
			url:      "https://mail.example.com/inbox",
			settings: func(s *db.Settings) { s.DisabledHosts = []string{"mail.example.com"} },
			want:     false,
		},
		{
			name:     "host match is exact",
			url:      "https://www.example.com/",
			settings: func(s *db.Settings) { s.DisabledHosts = []string{"example.com"} },
			want:     true,
		},
		{
			name:     "host match includes port",
			url:      "http://localhost:8080/",
			settings: func(s *db.Settings) { s.DisabledHosts = []string{"localhost:8080"} },
			want:     false,
		},
		{
			name:     "host match is case insensitive",
			url:      "https://Example.COM/",
			settings: func(s *db.Settings) { s.DisabledHosts = []string{"example.com"} },
			want:     false,
		},
		{
			name:     "pattern matches",
			url:      "https://foo.github.com/bar/settings/x",
			settings: func(s *db.Settings) { s.DisabledURLPatterns = []string{"*://*.github.com/*/settings*"} },
			want:     false,
		},
		{
			name:     "pattern does not match",
			url:      "https://foo.github.com/bar/other",
			settings: func(s *db.Settings) { s.DisabledURLPatterns = []string{"*://*.github.com/*/settings*"} },
			want:     true,
		},
		{
			name:     "pattern is anchored",
			url:      "https://example.com/a/b",
			settings: func(s *db.Settings) { s.DisabledURLPatterns = []string{"example.com/a"} },
			want:     true,
		},
		{
			name:     "regex metacharacters are literal",
			url:      "https://exampleXcom/",
			settings: func(s *db.Settings) { s.DisabledURLPatterns = []string{"https://example.com/"} },
			want:     true,
		},
		{
			name:     "unbalanced pattern never matches",
			url:      "https://example.com/",
			settings: func(s *db.Settings) { s.DisabledURLPatterns = []string{"[", "(", "a(b*"} },
			want:     true,
		},
		{
			name:     "unbalanced pattern matches literally",
			url:      "https://foo.example/(a/[x]",
			settings: func(s *db.Settings) { s.DisabledURLPatterns = []string{"https://foo.example/(a*[x]"} },
			want:     false,
		},
		{
			name:     "unbalanced pattern is not a regex group",
			url:      "https://foo.example/",
			settings: func(s *db.Settings) { s.DisabledURLPatterns = []string{"https://(foo*", "https://foo*)", "["} },
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := enabledSettings()
			if tt.settings != nil {
				tt.settings(&s)
			}
			if got := policy.IsEligible(tt.url, s); got != tt.want {
				t.Errorf("IsEligible(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

func TestPolicy_DisabledRejectsEverything(t *testing.T) {
	policy := NewPolicy(nil)
	s := enabledSettings()
	s.Enabled = false

	for _, u := range []string{"https://example.com/", "http://a.b/c?d", "https://localhost:3000/x"} {
		if policy.IsEligible(u, s) {
			t.Errorf("expected %q to be rejected when disabled", u)
		}
	}
}

func TestPolicy_MalformedPatternIsSkipped(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	policy := NewPolicy(zap.New(core))
	policy.compile = func(pattern string) (*regexp.Regexp, error) {
		if pattern == "bad" {
			return regexp.MustCompile(".*"), errors.New("boom")
		}
		return CompileWildcard(pattern)
	}

	s := enabledSettings()
	s.DisabledURLPatterns = []string{"bad", "*://blocked.example/*"}

	if !policy.IsEligible("https://example.com/", s) {
		t.Error("expected a malformed pattern to never match")
	}
	if policy.IsEligible("https://blocked.example/x", s) {
		t.Error("expected later valid patterns to still apply")
	}
	if n := logs.FilterMessage("skipping malformed url pattern").Len(); n != 1 {
		t.Errorf("expected one warning for the cached bad pattern, got %d", n)
	}
}

func TestCompileWildcard(t *testing.T) {
	tests := []struct {
		pattern string
		input   string
		want    bool
	}{
		{"*", "", true},
		{"*", "anything", true},
		{"a*c", "abc", true},
		{"a*c", "ac", true},
		{"a*c", "abd", false},
		{"a.c", "abc", false},
		{"a+b", "a+b", true},
		{"https://x.com/?q=*", "https://x.com/?q=1", true},
		{"[", "[", true},
		{"[", "a", false},
		{"https://(foo*", "https://(foo/bar", true},
		{"https://(foo*", "https://foo/bar", false},
		{"a(b|c*", "a(b|cd", true},
		{"a(b|c*", "ab", false},
		{`a\*`, `a\zz`, true},
	}

	for _, tt := range tests {
		re, err := CompileWildcard(tt.pattern)
		if err != nil {
			t.Fatalf("CompileWildcard(%q) failed: %v", tt.pattern, err)
		}
		if got := re.MatchString(tt.input); got != tt.want {
			t.Errorf("%q matching %q = %v, want %v", tt.pattern, tt.input, got, tt.want)
		}
	}
}
