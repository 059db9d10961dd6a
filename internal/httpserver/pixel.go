package httpserver

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"mailtrack/internal/classify"
	"mailtrack/internal/domain"
	"mailtrack/internal/pipeline"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21,
	0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00,
	0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x01, 0x44,
	0x00, 0x3b,
}

// capturedHeaders are kept on the open for display and proxy detection.
var capturedHeaders = []string{"Via", "Accept", "Accept-Language", "Accept-Encoding"}

type Pixel struct {
	Sink              pipeline.Sink
	TrustProxyHeaders bool
	Now               func() time.Time
}

func (p *Pixel) Register(r *mux.Router) {
	r.HandleFunc("/track/{trackingId}", p.handleTrack).Methods(http.MethodGet, http.MethodHead)
}

// handleTrack hands the fetch to the pipeline and answers with the image
// whether or not the tracking id exists.
func (p *Pixel) handleTrack(w http.ResponseWriter, r *http.Request) {
	tid := mux.Vars(r)["trackingId"]
	if tid != "" && r.Method == http.MethodGet {
		p.Sink.Submit(domain.OpenJob{TrackingID: tid, Fetch: p.metadata(r)})
	}
	servePixel(w, r)
}

func (p *Pixel) metadata(r *http.Request) domain.FetchMetadata {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	headers := make(map[string]string, len(capturedHeaders))
	for _, name := range capturedHeaders {
		if v := r.Header.Values(name); len(v) > 0 {
			headers[strings.ToLower(name)] = strings.Join(v, ", ")
		}
	}
	return domain.FetchMetadata{
		UserAgent: r.UserAgent(),
		IP:        clientIP(r, p.TrustProxyHeaders),
		Referer:   r.Referer(),
		Headers:   headers,
		FetchedAt: now().UTC(),
	}
}

func servePixel(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Content-Type", "image/gif")
	h.Set("Content-Length", strconv.Itoa(len(pixelGIF)))
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(pixelGIF)
	}
}

// clientIP prefers the first X-Forwarded-For hop when the service sits
// behind a trusted proxy.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			return classify.NormalizeIP(xff)
		}
		if xri := r.Header.Get("X-Real-Ip"); xri != "" {
			return classify.NormalizeIP(xri)
		}
	}
	return classify.NormalizeIP(r.RemoteAddr)
}

func requestOrigin(r *http.Request, trustProxy bool) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := r.Host
	if trustProxy {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
		}
		if fh := r.Header.Get("X-Forwarded-Host"); fh != "" {
			host = strings.TrimSpace(strings.Split(fh, ",")[0])
		}
	}
	return scheme + "://" + host
}
