package monitor

import (
	"time"

	"leakwatch/internal/model"
)

// EventStore is the durable log of file events, alerts and fingerprints.
// Implementations serialize access so every call sees a consistent snapshot.
type EventStore interface {
	// Events

	// SaveEvent appends an event and returns its assigned id.
	SaveEvent(event *model.FileEvent) (int64, error)

	// GetEvent returns the event with the given id, or nil if none exists.
	GetEvent(id int64) (*model.FileEvent, error)

	// GetAllEvents returns every event, newest first.
	GetAllEvents() ([]*model.FileEvent, error)

	// GetEventsByDateRange returns events with start <= timestamp <= end, newest first.
	// An inverted range yields an empty result rather than an error.
	GetEventsByDateRange(start, end time.Time) ([]*model.FileEvent, error)

	// GetSuspiciousEvents returns the suspicious subset, newest first.
	GetSuspiciousEvents() ([]*model.FileEvent, error)

	// Alerts

	SaveAlert(alert *model.Alert) (int64, error)
	GetAlert(id int64) (*model.Alert, error)

	// GetAllAlerts returns every alert ordered by creation time, newest first.
	GetAllAlerts() ([]*model.Alert, error)

	// AcknowledgeAlert marks an alert as reviewed. Acknowledgement is one-way.
	AcknowledgeAlert(id int64) error

	// Fingerprints

	// UpsertFingerprint records the latest hash for an absolute path.
	UpsertFingerprint(fp *model.Fingerprint) error
	DeleteFingerprint(path string) error
	FindFingerprintsByHash(hash string) ([]*model.Fingerprint, error)

	// FindFingerprintsUnder returns fingerprints for paths at or below root.
	FindFingerprintsUnder(root string) ([]*model.Fingerprint, error)

	// Maintenance

	BackupTo(destPath string) error
	CheckMigrations() error
	Close() error
}
