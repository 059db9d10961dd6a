package httpserver

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mailtrack/internal/observability"
)

type Server struct {
	Mux *mux.Router
}

// New returns a router that counts every matched request in
// mailtrack_api_requests_total.
func New() *Server {
	r := mux.NewRouter()
	r.Use(Metrics(observability.APIRequests))
	return &Server{Mux: r}
}

// Handler wraps the router with request logging and CORS.
func (s *Server) Handler() http.Handler {
	return Logging(CORS(s.Mux))
}

// NewMetricsMux serves /metrics plus liveness for the side port.
func NewMetricsMux(ready http.HandlerFunc) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", Healthz())
	if ready != nil {
		r.HandleFunc("/readyz", ready)
	}
	return r
}
