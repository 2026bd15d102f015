package core

import (
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/seckatie/pagetrail/internal/core/db"
	"go.uber.org/zap"
)

// Policy decides whether a URL may be archived under a given set of settings.
// It is safe for concurrent use; compiled wildcard patterns are cached.
type Policy struct {
	logger  *zap.Logger
	compile func(string) (*regexp.Regexp, error)

	mu       sync.Mutex
	compiled map[string]*regexp.Regexp
}

// NewPolicy returns a Policy that logs rejected patterns to logger.
func NewPolicy(logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{
		logger:   logger,
		compile:  CompileWildcard,
		compiled: make(map[string]*regexp.Regexp),
	}
}

// IsEligible reports whether rawURL should be archived.
//
// A URL is rejected when it does not parse, is not http(s), capture is
// globally disabled, its host is in DisabledHosts, or it fully matches one of
// DisabledURLPatterns.
func (p *Policy) IsEligible(rawURL string, s db.Settings) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if !s.Enabled {
		return false
	}

	host := HostOf(u)
	for _, disabled := range s.DisabledHosts {
		if host == disabled {
			return false
		}
	}

	for _, pattern := range s.DisabledURLPatterns {
		re := p.pattern(pattern)
		if re != nil && re.MatchString(rawURL) {
			return false
		}
	}
	return true
}

// HostOf returns the lower-cased host[:port] of u, the form stored in
// DisabledHosts.
func HostOf(u *url.URL) string {
	return strings.ToLower(u.Host)
}

// pattern returns the compiled form of a wildcard pattern, or nil when it
// cannot be compiled.
func (p *Policy) pattern(pattern string) *regexp.Regexp {
	p.mu.Lock()
	defer p.mu.Unlock()

	if re, ok := p.compiled[pattern]; ok {
		return re
	}

	re, err := p.compile(pattern)
	if err != nil {
		p.logger.Warn("skipping malformed url pattern",
			zap.String("pattern", pattern),
			zap.Error(err),
		)
		re = nil
	}
	p.compiled[pattern] = re
	return re
}

// CompileWildcard compiles a pattern in which '*' matches any run of
// characters, everything else is literal, and the whole string must match.
func CompileWildcard(pattern string) (*regexp.Regexp, error) {
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return regexp.Compile("^" + strings.Join(parts, ".*") + "$")
}
