package managers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chrissnell/riverapi/internal/log"
	"github.com/chrissnell/riverapi/internal/storage"
	"github.com/chrissnell/riverapi/internal/storage/influxdb"
	"github.com/chrissnell/riverapi/internal/types"
	"github.com/chrissnell/riverapi/pkg/config"
)

// ReadingStore is the system of record for corrected readings. SaveReadings
// returns only the readings that were not already stored.
type ReadingStore interface {
	SaveReadings(ctx context.Context, readings []types.CorrectedReading) ([]types.CorrectedReading, error)
}

// StorageManager saves corrected readings to the database and mirrors the
// newly saved ones to every active storage engine
type StorageManager struct {
	Engines            []StorageEngine
	ReadingDistributor chan types.CorrectedReading

	mu     sync.RWMutex
	store  ReadingStore
	health *storage.HealthManager
}

// StorageEngine holds a backend storage engine's interface as well as
// a channel for passing readings to the engine
type StorageEngine struct {
	Name   string
	Engine storage.StorageEngineInterface
	C      chan<- types.CorrectedReading
}

// HealthCheckInterval is how often engine health is refreshed
const HealthCheckInterval = 30 * time.Second

// NewStorageManager creates a StorageManager, populated with all configured
// storage engines
func NewStorageManager(ctx context.Context, wg *sync.WaitGroup, store ReadingStore, c *config.StorageData, hm *storage.HealthManager) (*StorageManager, error) {
	s := &StorageManager{
		ReadingDistributor: make(chan types.CorrectedReading, 20),
		store:              store,
		health:             hm,
	}

	// Start our reading distributor to distribute saved readings to storage
	// engines
	wg.Add(1)
	go s.startReadingDistributor(ctx, wg)

	if c != nil && c.InfluxDB != nil && c.InfluxDB.URL != "" {
		engine, err := influxdb.New(c.InfluxDB)
		if err != nil {
			return s, fmt.Errorf("could not add InfluxDB storage backend: %w", err)
		}
		s.AddEngine(ctx, wg, "influxdb", engine)
	}

	return s, nil
}

// AddEngine starts engine and registers it with the distributor. Engines
// that can report their health get a health monitor.
func (s *StorageManager) AddEngine(ctx context.Context, wg *sync.WaitGroup, name string, engine storage.StorageEngineInterface) {
	se := StorageEngine{
		Name:   name,
		Engine: engine,
		C:      engine.StartStorageEngine(ctx, wg),
	}
	s.mu.Lock()
	s.Engines = append(s.Engines, se)
	s.mu.Unlock()

	if checker, ok := engine.(storage.HealthChecker); ok && s.health != nil {
		storage.StartHealthMonitor(ctx, wg, s.health, name, checker, HealthCheckInterval)
	}
}

// Close releases engines that hold connections. Call it only after the
// WaitGroup passed to NewStorageManager and AddEngine has drained so that no
// engine is still writing.
func (s *StorageManager) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.Engines {
		if c, ok := e.Engine.(interface{ Close() }); ok {
			log.Infof("closing %s storage engine", e.Name)
			c.Close()
		}
	}
	s.Engines = nil
}

// StoreReadings implements ingest.ReadingSink. Readings are written to the
// database synchronously; only those not stored before are forwarded to the
// storage engines.
func (s *StorageManager) StoreReadings(ctx context.Context, readings []types.CorrectedReading) error {
	saved, err := s.store.SaveReadings(ctx, readings)
	if err != nil {
		return err
	}

	if len(saved) < len(readings) {
		log.Debugf("skipped %d already stored readings", len(readings)-len(saved))
	}

	for _, r := range saved {
		select {
		case s.ReadingDistributor <- r:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// startReadingDistributor fans saved readings out to the storage engines
func (s *StorageManager) startReadingDistributor(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case r := <-s.ReadingDistributor:
			s.mu.RLock()
			engines := s.Engines
			s.mu.RUnlock()
			for _, e := range engines {
				select {
				case e.C <- r:
				case <-ctx.Done():
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}
