package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/seckatie/pagetrail/internal/core/db"
	"go.uber.org/zap"
)

// ArchiveStore is the subset of the archive database the capture pipeline
// writes to.
type ArchiveStore interface {
	AppendVisit(v db.Visit) error
	PurgeVisitsOlderThan(cutoff time.Time) (int64, error)
	LatestVersion(urlKey string) (db.PageVersion, bool, error)
	PutPageVersion(v db.PageVersion) error
}

// ArchiveOutcome describes what a single archive attempt did.
type ArchiveOutcome string

const (
	// OutcomeStored means a new page version was written.
	OutcomeStored ArchiveOutcome = "stored"
	// OutcomeDuplicate means the capture matched the latest version and was discarded.
	OutcomeDuplicate ArchiveOutcome = "duplicate"
	// OutcomeCaptureFailed means the visit was logged but no snapshot could be taken.
	OutcomeCaptureFailed ArchiveOutcome = "capture_failed"
)

// ArchiveResult reports the outcome of an archive attempt.
type ArchiveResult struct {
	Outcome ArchiveOutcome
	// Version is the stored version for OutcomeStored, or the latest existing
	// one for OutcomeDuplicate. HTML is not set.
	Version db.PageVersion
	// CaptureErr is set for OutcomeCaptureFailed.
	CaptureErr error
}

// CaptureFunc takes one snapshot of the page being archived.
type CaptureFunc func(ctx context.Context) (Snapshot, error)

// Archiver runs the visit-log, purge, capture and deduplication steps for one
// URL.
type Archiver struct {
	store     ArchiveStore
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
	retention time.Duration
}

// ArchiverOption configures an Archiver.
type ArchiverOption func(*Archiver)

// WithArchiverLogger sets the logger.
func WithArchiverLogger(logger *zap.Logger) ArchiverOption {
	return func(a *Archiver) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithClock overrides time.Now, used for visit and capture timestamps.
func WithClock(now func() time.Time) ArchiverOption {
	return func(a *Archiver) { a.now = now }
}

// WithIDGenerator overrides the UUIDv7 generator used for visit and version IDs.
func WithIDGenerator(newID func() string) ArchiverOption {
	return func(a *Archiver) { a.newID = newID }
}

// NewArchiver returns an Archiver writing to store.
func NewArchiver(store ArchiveStore, opts ...ArchiverOption) *Archiver {
	a := &Archiver{
		store:     store,
		logger:    zap.NewNop(),
		now:       time.Now,
		newID:     newUUIDv7,
		retention: VisitRetention,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// URLKey returns the identity used to group versions of the same page. It is
// the URL verbatim, query and fragment included.
func URLKey(url string) string {
	return url
}

// Archive logs a visit to url, purges expired visits, captures the page and
// stores it as a new version unless its fingerprint equals the latest stored
// version for the same URL key.
//
// Capture failures are not errors: they are logged and reported as
// OutcomeCaptureFailed. Storage failures are returned.
func (a *Archiver) Archive(ctx context.Context, url string, capture CaptureFunc) (ArchiveResult, error) {
	key := URLKey(url)
	logger := a.logger.With(zap.String("url", url))

	visitAt := a.now()
	if err := a.store.AppendVisit(db.Visit{
		VisitID: a.newID(),
		URL:     url,
		URLKey:  key,
		VisitAt: visitAt,
	}); err != nil {
		return ArchiveResult{}, fmt.Errorf("record visit: %w", err)
	}

	removed, err := a.store.PurgeVisitsOlderThan(visitAt.Add(-a.retention))
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("purge visits: %w", err)
	}
	if removed > 0 {
		logger.Debug("purged expired visits", zap.Int64("removed", removed))
	}

	snap, err := capture(ctx)
	if err != nil {
		var captureErr *CaptureError
		if !errors.As(err, &captureErr) {
			captureErr = &CaptureError{Reason: "snapshot", Err: err}
		}
		logger.Info("capture skipped", zap.Error(captureErr))
		return ArchiveResult{Outcome: OutcomeCaptureFailed, CaptureErr: captureErr}, nil
	}

	hash := Fingerprint(snap.HTML)

	latest, found, err := a.store.LatestVersion(key)
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("load latest version: %w", err)
	}
	if found && latest.Hash == hash {
		logger.Debug("content unchanged, discarding capture", zap.String("hash", hash))
		return ArchiveResult{Outcome: OutcomeDuplicate, Version: latest}, nil
	}

	version := db.PageVersion{
		VersionID:   a.newID(),
		URL:         url,
		URLKey:      key,
		Title:       snap.Title,
		CapturedAt:  a.now(),
		Hash:        hash,
		ContentType: db.ContentTypeHTML,
		HTML:        snap.HTML,
	}
	if err := a.store.PutPageVersion(version); err != nil {
		return ArchiveResult{}, fmt.Errorf("store version: %w", err)
	}

	logger.Info("stored new version",
		zap.String("version_id", version.VersionID),
		zap.String("hash", hash),
		zap.Int("bytes", len(snap.HTML)),
	)
	version.HTML = ""
	return ArchiveResult{Outcome: OutcomeStored, Version: version}, nil
}

func newUUIDv7() string {
	return uuid.Must(uuid.NewV7()).String()
}
