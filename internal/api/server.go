// Package api is the HTTP surface: playback decisions, HLS session
// materialization and remux streaming, plus health and metrics.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexamediaserver/server/internal/config"
	"github.com/nexamediaserver/server/internal/ffmpeg/capabilities"
	"github.com/nexamediaserver/server/internal/hls"
	"github.com/nexamediaserver/server/internal/library"
	"github.com/nexamediaserver/server/internal/profiles"
	"github.com/nexamediaserver/server/internal/remux"
)

// HeaderRequestID carries the correlation id on every response.
const HeaderRequestID = "X-Request-Id"

// HeaderHLSStartTime reports the keyframe-snapped session start position
// so the player can offset its timeline.
const HeaderHLSStartTime = "X-Hls-Start-Time-Ms"

// Server bundles the request-path dependencies.
type Server struct {
	cfg     config.Config
	library *library.Service
	mat     *hls.Materializer
	remuxer *remux.Remuxer
	caps    *capabilities.Snapshot
	device  *profiles.DeviceProfile
}

// NewServer wires the HTTP surface. The capability snapshot is detected
// once at startup and shared by reference.
func NewServer(cfg config.Config, lib *library.Service, mat *hls.Materializer, rmx *remux.Remuxer, caps *capabilities.Snapshot) *Server {
	return &Server{
		cfg:     cfg,
		library: lib,
		mat:     mat,
		remuxer: rmx,
		caps:    caps,
		device:  profiles.DefaultDeviceProfile(),
	}
}

// Router builds the chi router with the canonical middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(recoverer)
	r.Use(requestID)
	r.Use(requestLogger)
	if s.cfg.OTLPEndpoint != "" {
		r.Use(otelMiddleware("nexa"))
	}
	if s.cfg.RateLimitPerMinute > 0 {
		r.Use(rateLimit(s.cfg.RateLimitPerMinute, time.Minute))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/part/{id}", func(r chi.Router) {
		r.Get("/decision", s.handleDecision)
		r.Get("/hls/master.m3u8", s.handleMaster)
		r.Get("/hls/{variantID}/playlist.m3u8", s.handleVariantPlaylist)
		r.Get("/hls/{variantID}/status", s.handleSessionStatus)
		r.Get("/hls/{variantID}/{fileName}", s.handleSegment)
		r.Get("/remux.{ext}", s.handleRemux)
		r.Get("/remux-seek.{ext}", s.handleRemux)
	})

	return r
}
