package db

import (
	"time"

	"go.uber.org/zap"
)

// ------------------------------
// Event System
// ------------------------------
//
// The DB emits typed events after visits, page versions and settings are
// written. Register listeners to react to these changes.
//
// Example usage:
//
//	db.RegisterEventListener(db.OnVersionSavedEvent, func(event db.Event) error {
//	    ev := event.(db.VersionSavedEvent)
//	    logger.Info("new version", zap.String("url", ev.Version.URL))
//	    return nil
//	})
//
// Event is the common interface for all database events.
type Event interface {
	Kind() EventKind
}

// EventKind represents all the kinds of events that can be emitted by the DB.
type EventKind int

const (
	// OnVisitRecordedEvent is emitted when a visit is appended.
	OnVisitRecordedEvent EventKind = iota
	// OnVisitsPurgedEvent is emitted when a purge removed at least one visit.
	OnVisitsPurgedEvent
	// OnVersionSavedEvent is emitted when a page version is stored.
	OnVersionSavedEvent
	// OnVersionDeletedEvent is emitted when a page version is deleted.
	OnVersionDeletedEvent
	// OnSettingsChangedEvent is emitted when settings are saved.
	OnSettingsChangedEvent
)

func (k EventKind) String() string {
	switch k {
	case OnVisitRecordedEvent:
		return "visit_recorded"
	case OnVisitsPurgedEvent:
		return "visits_purged"
	case OnVersionSavedEvent:
		return "version_saved"
	case OnVersionDeletedEvent:
		return "version_deleted"
	case OnSettingsChangedEvent:
		return "settings_changed"
	default:
		return "unknown"
	}
}

// VisitRecordedEvent is emitted after a visit is inserted.
type VisitRecordedEvent struct {
	Visit Visit
}

func (e VisitRecordedEvent) Kind() EventKind { return OnVisitRecordedEvent }

// VisitsPurgedEvent is emitted after old visits are removed.
type VisitsPurgedEvent struct {
	Cutoff  time.Time
	Removed int64
}

func (e VisitsPurgedEvent) Kind() EventKind { return OnVisitsPurgedEvent }

// VersionSavedEvent is emitted after a page version is stored. The HTML body
// is not included.
type VersionSavedEvent struct {
	Version PageVersion
}

func (e VersionSavedEvent) Kind() EventKind { return OnVersionSavedEvent }

// VersionDeletedEvent is emitted after a page version is deleted.
type VersionDeletedEvent struct {
	VersionID string
}

func (e VersionDeletedEvent) Kind() EventKind { return OnVersionDeletedEvent }

// SettingsChangedEvent carries the normalized settings that were saved.
type SettingsChangedEvent struct {
	Settings Settings
}

func (e SettingsChangedEvent) Kind() EventKind { return OnSettingsChangedEvent }

// EventListener is a callback that handles events of a specific kind.
type EventListener func(event Event) error

// RegisterEventListener adds a listener for a specific event kind.
// Listeners are called synchronously in registration order after the DB
// operation succeeds. Register them before the DB is shared between goroutines.
func (db *DB) RegisterEventListener(eventKind EventKind, listener EventListener) {
	if db.eventListeners == nil {
		db.eventListeners = make(map[EventKind][]EventListener)
	}
	db.eventListeners[eventKind] = append(db.eventListeners[eventKind], listener)
}

// emit dispatches an event to all registered listeners for that event kind.
func (db *DB) emit(event Event) {
	for _, listener := range db.eventListeners[event.Kind()] {
		if err := listener(event); err != nil {
			db.logger.Warn("event listener failed",
				zap.Stringer("event", event.Kind()),
				zap.Error(err),
			)
		}
	}
}
