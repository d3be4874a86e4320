package store

import (
	"github.com/Juancal1728/multichat-relay/internal/model"
)

// HistoryLog is the append-only per-conversation record store. Keys are
// identities or group keys ("#name"). Implementations must serialize
// concurrent writers per key.
type HistoryLog interface {
	// Append adds one record to the end of the key's log.
	Append(key string, rec model.HistoryRecord) error

	// ReadAll returns every record for the key in append order.
	// A missing key yields an empty slice, not an error.
	ReadAll(key string) ([]model.HistoryRecord, error)

	// Rewrite replaces the key's log with the given records.
	Rewrite(key string, recs []model.HistoryRecord) error

	// Delete removes the key's log entirely. Deleting a missing key is
	// not an error.
	Delete(key string) error
}

// RegistryStore persists the registry snapshots. Both saves are invoked
// synchronously after every mutating registry call (write-through;
// registry churn is low-frequency).
type RegistryStore interface {
	SaveIdentities(identities []string) error
	LoadIdentities() ([]string, error)

	SaveGroups(groups map[string][]string) error
	LoadGroups() (map[string][]string, error)
}

// MediaStore persists binary voice-note blobs and returns a reference
// path recorded in history.
type MediaStore interface {
	Save(data []byte) (string, error)
}
