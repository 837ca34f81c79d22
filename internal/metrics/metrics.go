// Package metrics holds the prometheus collectors of the enumeration engine.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

var (
	CategoriesDiscovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fab_categories_discovered_total",
		Help: "Category nodes recorded for the first time",
	})

	CategoryPagesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fab_category_pages_skipped_total",
		Help: "Category pages skipped after exhausting retries",
	})

	PartitionsWalked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fab_partitions_walked_total",
		Help: "Cursor walks by termination reason",
	}, []string{"termination"})

	PartitionsRedundant = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fab_partitions_redundant_total",
		Help: "Partitions skipped because an earlier sort order already covered the range",
	})

	PartitionsReused = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fab_partitions_reused_total",
		Help: "Partitions already complete in the registry",
	})

	ItemsFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fab_items_fetched_total",
		Help: "Raw items yielded by cursor walks",
	})

	PagesFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fab_search_pages_fetched_total",
		Help: "Search API pages fetched",
	})

	Retries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fab_retries_total",
		Help: "Retry attempts by operation",
	}, []string{"operation"})

	RetriesExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fab_retries_exhausted_total",
		Help: "Operations that failed after every retry",
	}, []string{"operation"})

	WalkDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fab_partition_walk_seconds",
		Help:    "Duration of one partition walk",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
	})
)

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Infof("📈 Serving metrics on http://%s/metrics", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}
