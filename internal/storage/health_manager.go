package storage

import (
	"context"
	"sync"
	"time"
)

// Health status values
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// HealthData is the last health check result of one backend
type HealthData struct {
	LastCheck time.Time `json:"last_check"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// HealthManager manages backend health status in memory
type HealthManager struct {
	mu     sync.RWMutex
	health map[string]HealthData
}

// NewHealthManager creates a new health manager
func NewHealthManager() *HealthManager {
	return &HealthManager{
		health: make(map[string]HealthData),
	}
}

// UpdateHealth updates the health status for a backend
func (hm *HealthManager) UpdateHealth(name string, health *HealthData) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.health[name] = *health
}

// GetHealth retrieves the health status for a specific backend
func (hm *HealthManager) GetHealth(name string) (HealthData, bool) {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	h, ok := hm.health[name]
	return h, ok
}

// GetAllHealth retrieves all health statuses
func (hm *HealthManager) GetAllHealth() map[string]HealthData {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	result := make(map[string]HealthData, len(hm.health))
	for k, v := range hm.health {
		result[k] = v
	}
	return result
}

// IsHealthy checks if a backend reported healthy within maxAge
func (hm *HealthManager) IsHealthy(name string, maxAge time.Duration) bool {
	health, exists := hm.GetHealth(name)
	if !exists {
		return false
	}
	if time.Since(health.LastCheck) > maxAge {
		return false
	}
	return health.Status == StatusHealthy
}

// AllHealthy reports whether every tracked backend is healthy
func (hm *HealthManager) AllHealthy(maxAge time.Duration) bool {
	for name := range hm.GetAllHealth() {
		if !hm.IsHealthy(name, maxAge) {
			return false
		}
	}
	return true
}

// PingChecker adapts a ping function into a HealthChecker
type PingChecker struct {
	Name string
	Ping func(ctx context.Context) error
}

// CheckHealth implements HealthChecker
func (p PingChecker) CheckHealth(ctx context.Context) *HealthData {
	if err := p.Ping(ctx); err != nil {
		return CreateHealthData(StatusUnhealthy, p.Name+" check failed", err)
	}
	return CreateHealthData(StatusHealthy, p.Name+" operational", nil)
}
