package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mailtrack_api_requests_total", Help: "API requests"},
		[]string{"endpoint", "status"},
	)
	PixelFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mailtrack_pixel_fetches_total", Help: "Pixel fetches by detected open type"},
		[]string{"open_type"},
	)
	Opens = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mailtrack_opens_total", Help: "Open ingestion outcomes"},
		[]string{"result"},
	)
	PipelineDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mailtrack_pipeline_dropped_total", Help: "Open jobs dropped before reaching the ledger"},
		[]string{"reason"},
	)
	StoreLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "mailtrack_store_latency_seconds", Help: "Open append latency"},
	)
)

// Open ingestion results.
const (
	OpenCounted      = "counted"
	OpenGracePeriod  = "grace_period"
	OpenSelfView     = "self_view"
	OpenNotCounted   = "not_counted"
	OpenUnknownTrack = "unknown_tracking_id"
	OpenError        = "error"
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, PixelFetches, Opens, PipelineDropped, StoreLatency)
}
