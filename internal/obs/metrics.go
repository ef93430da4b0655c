package obs

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BlocksChunked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "patchctl_blocks_chunked_total",
		Help: "Total number of blocks produced by the chunker",
	})
	BlocksDeduplicated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "patchctl_blocks_deduplicated_total",
		Help: "Total number of chunked blocks that already existed in the pool",
	})
	BytesFetchedBundle = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "patchctl_bytes_fetched_bundle_total",
		Help: "Total bytes fetched via whole-bundle range requests",
	})
	BytesFetchedBlock = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "patchctl_bytes_fetched_block_total",
		Help: "Total bytes fetched via individual block requests",
	})
	ApplyDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "patchctl_apply_duration_seconds",
		Help:    "Histogram of apply operation durations",
		Buckets: prometheus.DefBuckets,
	})
	BundleReuseRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "patchctl_bundle_reuse_ratio",
		Help: "Fraction of the most recent build's bundles reused verbatim from the prior manifest",
	})
)

func init() {
	prometheus.MustRegister(BlocksChunked, BlocksDeduplicated, BytesFetchedBundle, BytesFetchedBlock, ApplyDuration, BundleReuseRatio)
}

// StartMetricsServer exposes /metrics on the given port and returns
// the server for controlled shutdown.
func StartMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
