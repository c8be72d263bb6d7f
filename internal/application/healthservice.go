package application

import (
	"context"
	"time"
)

// Pinger is anything whose reachability gates readiness, typically the
// credential store's database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus is the result of a readiness check.
type HealthStatus struct {
	OK    bool
	Time  time.Time
	Error string
}

// HealthService reports whether the service can reach its credential store.
// The remote platform is not probed.
type HealthService struct {
	store   Pinger
	timeout time.Duration
}

// NewHealthService creates a new HealthService for the given store.
func NewHealthService(store Pinger) *HealthService {
	return &HealthService{store: store, timeout: 2 * time.Second}
}

// Check pings the store with a short timeout.
func (s *HealthService) Check(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	status := HealthStatus{OK: true, Time: time.Now().UTC()}
	if err := s.store.Ping(ctx); err != nil {
		status.OK = false
		status.Error = err.Error()
	}
	return status
}
