package metrics

import "context"

// HealthChecker is the interface to check if a pipeline component is connected and ready to use
type HealthChecker interface {
	// IsHealthy checks if the component is healthy
	IsHealthy(ctx context.Context) error
}
