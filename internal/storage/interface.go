// Package storage defines the engines that corrected readings are fanned out to
// after they are committed to the primary datastore.
package storage

import (
	"context"
	"sync"

	"github.com/chrissnell/riverapi/internal/types"
)

// StorageEngineInterface is an interface that provides a few standardized
// methods for various storage backends
type StorageEngineInterface interface {
	StartStorageEngine(context.Context, *sync.WaitGroup) chan<- types.CorrectedReading
}

// HealthChecker is implemented by backends that can report their health
type HealthChecker interface {
	CheckHealth(ctx context.Context) *HealthData
}
