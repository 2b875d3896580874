package cache

import (
	"context"
	"time"

	"stitchworks/backend/internal/domain"
)

type MetricsCache interface {
	Get(ctx context.Context, key string) (*domain.DashboardMetrics, bool, error)
	Set(ctx context.Context, key string, value *domain.DashboardMetrics, ttl time.Duration) error
}

type NoopMetricsCache struct{}

func (NoopMetricsCache) Get(_ context.Context, _ string) (*domain.DashboardMetrics, bool, error) {
	return nil, false, nil
}

func (NoopMetricsCache) Set(_ context.Context, _ string, _ *domain.DashboardMetrics, _ time.Duration) error {
	return nil
}
