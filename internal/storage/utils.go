package storage

import (
	"context"
	"sync"
	"time"

	"github.com/chrissnell/riverapi/internal/log"
	"github.com/chrissnell/riverapi/internal/types"
)

// StartHealthMonitor periodically checks a backend and records the result in hm
func StartHealthMonitor(ctx context.Context, wg *sync.WaitGroup, hm *HealthManager, name string, checker HealthChecker, interval time.Duration) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		updateHealth := func() {
			checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			health := checker.CheckHealth(checkCtx)
			hm.UpdateHealth(name, health)
			log.Debugf("updated %s health status: %s", name, health.Status)
		}

		updateHealth()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				updateHealth()
			case <-ctx.Done():
				log.Infof("stopping %s health monitor", name)
				return
			}
		}
	}()
}

// ProcessReadings provides a standard pattern for processing readings from a channel
func ProcessReadings(ctx context.Context, wg *sync.WaitGroup, readingChan <-chan types.CorrectedReading, processor func(context.Context, types.CorrectedReading) error, name string) {
	defer wg.Done()

	for {
		select {
		case r := <-readingChan:
			if err := processor(ctx, r); err != nil {
				log.Errorf("%s reading processor error: %v", name, err)
			}
		case <-ctx.Done():
			log.Infof("cancellation request received. Cancelling %s readings processor", name)
			return
		}
	}
}

// CreateHealthData creates a basic health data structure
func CreateHealthData(status, message string, err error) *HealthData {
	health := &HealthData{
		LastCheck: time.Now().UTC(),
		Status:    status,
		Message:   message,
	}

	if err != nil {
		health.Error = err.Error()
	}

	return health
}
