// Package dashboard aggregates the home-screen counters from the store,
// with a short cache in front so repeated loads don't re-run five queries.
package dashboard

import (
	"context"
	"time"

	"stitchworks/backend/internal/cache"
	"stitchworks/backend/internal/domain"
	"stitchworks/backend/internal/store"
)

const cacheKey = "stitchworks:dashboard:metrics"

type Aggregator struct {
	repo     store.Repository
	cache    cache.MetricsCache
	cacheTTL time.Duration
}

func NewAggregator(repo store.Repository, metricsCache cache.MetricsCache, cacheTTL time.Duration) *Aggregator {
	if metricsCache == nil {
		metricsCache = cache.NoopMetricsCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}

	return &Aggregator{
		repo:     repo,
		cache:    metricsCache,
		cacheTTL: cacheTTL,
	}
}

func (a *Aggregator) Metrics(ctx context.Context, now time.Time) (*domain.DashboardMetrics, error) {
	if cached, ok, err := a.cache.Get(ctx, cacheKey); err == nil && ok {
		return cached, nil
	}

	now = now.UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	endOfDay := startOfDay.Add(24 * time.Hour)

	todaySales, err := a.repo.SumPaidInvoicesBetween(ctx, startOfDay, endOfDay)
	if err != nil {
		return nil, err
	}

	activeRepairs, err := a.repo.CountWorkOrdersByStatus(ctx, []string{
		domain.WorkOrderStatusPending,
		domain.WorkOrderStatusInProgress,
	})
	if err != nil {
		return nil, err
	}

	dueToday, err := a.repo.CountWorkOrdersDueBetween(ctx, startOfDay, endOfDay)
	if err != nil {
		return nil, err
	}

	newCustomers, err := a.repo.CountCustomersSince(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		return nil, err
	}

	lowStock, err := a.repo.CountLowStockItems(ctx)
	if err != nil {
		return nil, err
	}

	metrics := &domain.DashboardMetrics{
		TodaySalesCents:    todaySales,
		ActiveRepairs:      activeRepairs,
		WorkOrdersDueToday: dueToday,
		NewCustomers7d:     newCustomers,
		LowStockItems:      lowStock,
		GeneratedAt:        now,
	}

	_ = a.cache.Set(ctx, cacheKey, metrics, a.cacheTTL)
	return metrics, nil
}
