package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	BlocksProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swapscope_blocks_processed_total",
		Help: "Total number of blocks whose swap and reserve events were published",
	})
	SwapsComputed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swapscope_swaps_computed_total",
		Help: "Total number of swaps extracted, by DEX",
	}, []string{"dex"})
	EventProcessingFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swapscope_event_processing_failed_total",
		Help: "Total number of dispatcher loop errors",
	})
	PoolReservePersistFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swapscope_pool_reserve_persist_failed_total",
		Help: "Total number of failed pool reserve persistence batches",
	})
	PricePersistFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swapscope_price_persist_failed_total",
		Help: "Total number of failed price persistence batches",
	})
	PricePublishFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swapscope_price_publish_failed_total",
		Help: "Total number of price records dropped by the external publisher",
	})
	UtxoResolutionMissing = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swapscope_utxo_resolution_missing_total",
		Help: "Total number of resolver calls that returned fewer outputs than requested",
	})
	UtxoResolutionCountMismatch = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swapscope_utxo_resolution_count_mismatch_total",
		Help: "Total number of fallback responses not aligned with the request size",
	})
	UtxoCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swapscope_utxo_cache_hits_total",
		Help: "Total number of UTXO references served from the cache",
	})
	UtxoCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swapscope_utxo_cache_misses_total",
		Help: "Total number of UTXO references resolved via the fallback provider",
	})
	UtxoCacheSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "swapscope_utxo_cache_size",
		Help: "Current number of entries in the UTXO cache",
	})
	RollbacksHandled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swapscope_rollbacks_handled_total",
		Help: "Total number of chain rollbacks processed",
	})
)

func init() {
	prometheus.MustRegister(
		BlocksProcessed,
		SwapsComputed,
		EventProcessingFailed,
		PoolReservePersistFailed,
		PricePersistFailed,
		PricePublishFailed,
		UtxoResolutionMissing,
		UtxoResolutionCountMismatch,
		UtxoCacheHits,
		UtxoCacheMisses,
		UtxoCacheSize,
		RollbacksHandled,
	)
}

// Serve exposes the prometheus handler until ctx is cancelled.
func Serve(ctx context.Context, port int, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", zap.Error(err))
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}
