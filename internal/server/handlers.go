package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"

	"github.com/HerbHall/simon/internal/version"
)

// ErrEncodingFailure wraps any failure to gather or serialize metrics.
var ErrEncodingFailure = errors.New("metrics encoding failure")

var landingPage = template.Must(template.New("landing").Parse(`<!DOCTYPE html>
<html>
<head><title>simon</title></head>
<body>
<h1>simon</h1>
<p>Host metrics exporter, version {{.Version}}.</p>
<ul>
<li><a href="metrics">Metrics</a></li>
<li><a href="health">Health</a></li>
</ul>
</body>
</html>
`))

func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := landingPage.Execute(&buf, map[string]string{"Version": version.Short()}); err != nil {
		s.logger.Error("render landing page", zap.Error(err))
		InternalError(w, "failed to render page", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleMetrics renders the whole registry into a buffer first so a failure
// part-way through never leaves a truncated 200 response.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	format := expfmt.NegotiateIncludingOpenMetrics(r.Header)
	body, err := s.encode(format)
	if err != nil {
		s.logger.Error("scrape failed", zap.Error(err))
		InternalError(w, "failed to encode metrics", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", string(format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) encode(format expfmt.Format) ([]byte, error) {
	mfs, err := s.gatherer.Gather()
	if err != nil {
		return nil, fmt.Errorf("%w: gather: %w", ErrEncodingFailure, err)
	}

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, format)
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return nil, fmt.Errorf("%w: encode %s: %w", ErrEncodingFailure, mf.GetName(), err)
		}
	}
	if closer, ok := enc.(expfmt.Closer); ok {
		if err := closer.Close(); err != nil {
			return nil, fmt.Errorf("%w: close: %w", ErrEncodingFailure, err)
		}
	}
	return buf.Bytes(), nil
}

type healthResponse struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   map[string]string `json:"version"`
	Collector string            `json:"collector,omitempty"`
	LastCycle *time.Time        `json:"last_cycle,omitempty"`
}

// handleHealth returns 200 while the collector is healthy and 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Service: "simon",
		Version: version.Map(),
	}
	status := http.StatusOK
	if s.health != nil {
		h := s.health()
		resp.Collector = h.State
		if !h.LastCycle.IsZero() {
			last := h.LastCycle.UTC()
			resp.LastCycle = &last
		}
		if !h.Healthy {
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Simon-Version", version.Short())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		MethodNotAllowed(w, "only GET is supported", r.URL.Path)
		return
	}
	NotFound(w, fmt.Sprintf("no handler for %s", r.URL.Path), r.URL.Path)
}
