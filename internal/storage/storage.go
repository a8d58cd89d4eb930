// Package storage defines the persistence contracts UsageRecorder and
// QuotaTracker write through, independent of the backing engine.
package storage

import (
	"errors"

	"github.com/plexus-gateway/plexus/internal/quota"
	"github.com/plexus-gateway/plexus/internal/usage"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("storage: not found")

// Store combines the usage, error, and quota-state persistence contracts
// that usage.Recorder and quota.Tracker are built against, plus lifecycle.
type Store interface {
	usage.Store
	quota.StateStore
	Close() error
}
