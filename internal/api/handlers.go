package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/nexamediaserver/server/internal/decision"
	"github.com/nexamediaserver/server/internal/ffmpeg"
	"github.com/nexamediaserver/server/internal/hls"
	"github.com/nexamediaserver/server/internal/library"
	"github.com/nexamediaserver/server/internal/log"
	"github.com/nexamediaserver/server/internal/pipeline"
	"github.com/nexamediaserver/server/internal/remux"
	"github.com/nexamediaserver/server/internal/telemetry"
	"github.com/nexamediaserver/server/internal/throttle"
)

const playlistContentType = "application/vnd.apple.mpegurl"

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.library.Store().Healthy(r.Context()); err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Msg("health check failed")
		writeError(w, http.StatusServiceUnavailable, "unhealthy")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	part, ok := s.part(w, r)
	if !ok {
		return
	}
	out := decision.Decide(decision.Input{
		Properties: part.Properties,
		MediaType:  part.MediaType,
		Device:     s.device,
	})
	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(telemetry.DecisionAttributes(part.ID, string(out.Path), out.Reasons.String())...)
	writeJSON(w, http.StatusOK, out.Summary())
}

func (s *Server) handleMaster(w http.ResponseWriter, r *http.Request) {
	part, ok := s.part(w, r)
	if !ok {
		return
	}
	seekMs, ok := seekParam(w, r)
	if !ok {
		return
	}

	req, variant, err := s.buildHLSRequest(r.Context(), part, seekMs)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	sess, _, err := s.mat.EnsureSessionWithSeek(r.Context(), req)
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(telemetry.SessionAttributes(sess.Key, sess.AchievedStartMs, sess.State().String())...)

	variant.URI = fmt.Sprintf("%d/playlist.m3u8", seekMs)
	if err := hls.WriteMasterPlaylist(sess.Dir, []hls.Variant{variant}); err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Msg("master playlist write failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set(HeaderHLSStartTime, strconv.FormatInt(sess.AchievedStartMs, 10))
	w.Header().Set("Content-Type", playlistContentType)
	http.ServeFile(w, r, filepath.Join(sess.Dir, hls.MasterPlaylistName))
}

func (s *Server) handleVariantPlaylist(w http.ResponseWriter, r *http.Request) {
	s.serveSessionFile(w, r, ffmpeg.MediaPlaylistName)
}

func (s *Server) handleSegment(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "fileName")
	// Reject traversal before anything touches the filesystem.
	if isPathTraversal(name) || !isSafeSegmentName(name) {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Warn().
			Str("event", "segment.denied").
			Str(log.FieldPath, r.URL.Path).
			Msg("rejected segment name")
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	s.serveSessionFile(w, r, name)
}

// serveSessionFile resolves the session addressed by the route, waits for
// the named file to materialize and serves it. Sessions evicted between
// playlist fetches are relaunched transparently.
func (s *Server) serveSessionFile(w http.ResponseWriter, r *http.Request, name string) {
	part, ok := s.part(w, r)
	if !ok {
		return
	}
	startMs, err := strconv.ParseInt(chi.URLParam(r, "variantID"), 10, 64)
	if err != nil || startMs < 0 {
		writeError(w, http.StatusBadRequest, "invalid variant")
		return
	}

	sess := s.mat.Get(sessionKey(part.ID, startMs))
	if sess == nil {
		req, _, berr := s.buildHLSRequest(r.Context(), part, startMs)
		if berr != nil {
			writeError(w, http.StatusUnprocessableEntity, berr.Error())
			return
		}
		sess, _, err = s.mat.EnsureSessionWithSeek(r.Context(), req)
		if err != nil {
			s.writeSessionError(w, r, err)
			return
		}
	}

	sess.Acquire()
	defer sess.Release()

	if err := s.mat.WaitForSegment(r.Context(), sess, name, s.cfg.SegmentWait); err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentTypeFor(name))
	http.ServeFile(w, r, filepath.Join(sess.Dir, name))
}

// handleSessionStatus reports session state and materialized timeline for
// players that poll before committing to a seek.
func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	part, ok := s.part(w, r)
	if !ok {
		return
	}
	startMs, err := strconv.ParseInt(chi.URLParam(r, "variantID"), 10, 64)
	if err != nil || startMs < 0 {
		writeError(w, http.StatusBadRequest, "invalid variant")
		return
	}
	sess := s.mat.Get(sessionKey(part.ID, startMs))
	if sess == nil {
		writeError(w, http.StatusNotFound, "no live session")
		return
	}
	prog, err := s.mat.Progress(sess)
	if err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Msg("progress read failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, sessionStatus{
		State:            sess.State().String(),
		RequestedStartMs: sess.RequestedStartMs,
		AchievedStartMs:  sess.AchievedStartMs,
		Progress:         prog,
	})
}

type sessionStatus struct {
	State            string        `json:"state"`
	RequestedStartMs int64         `json:"requestedStartMs"`
	AchievedStartMs  int64         `json:"achievedStartMs"`
	Progress         *hls.Progress `json:"progress"`
}

func (s *Server) handleRemux(w http.ResponseWriter, r *http.Request) {
	part, ok := s.part(w, r)
	if !ok {
		return
	}
	container := chi.URLParam(r, "ext")
	contentType := remux.ContentType(container)
	if contentType == "" {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported container")
		return
	}
	seekMs, ok := seekParam(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", contentType)
	if err := s.remuxer.Stream(r.Context(), w, part.Path, container, seekMs); err != nil {
		// Headers are gone by now; the log line is all we can do.
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).
			Str(log.FieldPartID, part.ID).
			Str(log.FieldContainer, container).
			Msg("remux stream failed")
	}
}

// buildHLSRequest derives the materializer request for a part. Direct-play
// and remux verdicts stream-copy into the HLS container; transcode verdicts
// run through the pipeline planner.
func (s *Server) buildHLSRequest(ctx context.Context, part *library.Part, seekMs int64) (hls.Request, hls.Variant, error) {
	out := decision.Decide(decision.Input{
		Properties: part.Properties,
		MediaType:  part.MediaType,
		Device:     s.device,
	})
	if out.Path == decision.PathReject {
		return hls.Request{}, hls.Variant{}, fmt.Errorf("no playable representation: %s", out.Reasons)
	}

	req := hls.Request{
		Key:            sessionKey(part.ID, seekMs),
		StartMs:        seekMs,
		SegmentSeconds: 6,
		Input:          ffmpeg.InputSpec{Path: part.Path},
	}
	variant := hls.Variant{
		Codecs: hls.CodecString(part.Properties.VideoCodec, part.Properties.AudioCodec),
	}
	if part.Properties.Width != nil {
		variant.Width = *part.Properties.Width
	}
	if part.Properties.Height != nil {
		variant.Height = *part.Properties.Height
	}
	if part.Properties.TotalBitrate != nil {
		variant.Bandwidth = *part.Properties.TotalBitrate
	}

	if out.Path != decision.PathTranscode {
		req.Video = ffmpeg.VideoSpec{Copy: true}
		req.Audio = ffmpeg.AudioSpec{Copy: true}
		return req, variant, nil
	}

	plan, err := pipeline.Build(pipeline.Input{
		Props:    part.Properties,
		Rotation: part.Rotation,
		Device:   s.device,
		Decision: out,
		Caps:     s.caps,
	})
	if err != nil {
		return hls.Request{}, hls.Variant{}, err
	}
	req.Video = plan.Video
	req.Audio = plan.Audio
	req.SegmentSeconds = plan.SegmentSeconds
	req.Input.Accel = plan.Accel
	req.Input.HWDecode = plan.HWDecode

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(telemetry.TranscodeAttributes(
		part.Properties.VideoCodec,
		out.Profile.VideoCodec,
		plan.Container,
		string(plan.Accel),
	)...)

	variant.Codecs = hls.CodecString(out.Profile.VideoCodec, out.Profile.AudioCodec)
	variant.Bandwidth = plan.Video.Bitrate + plan.Audio.Bitrate
	return req, variant, nil
}

// part loads the probed part for the route or writes the error response.
func (s *Server) part(w http.ResponseWriter, r *http.Request) (*library.Part, bool) {
	id := chi.URLParam(r, "id")
	part, err := s.library.GetProbed(r.Context(), id)
	if err != nil {
		if errors.Is(err, library.ErrNotFound) {
			writeError(w, http.StatusNotFound, "part not found")
		} else {
			logger := log.WithComponentFromContext(r.Context(), "api")
			logger.Error().Err(err).
				Str(log.FieldPartID, id).Msg("part load failed")
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return nil, false
	}
	return part, true
}

func (s *Server) writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	logger := log.WithComponentFromContext(r.Context(), "api")
	span := trace.SpanFromContext(r.Context())
	switch {
	case errors.Is(err, throttle.ErrExhausted):
		span.SetAttributes(telemetry.ErrorAttributes("throttle_exhausted")...)
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, "all transcode slots busy")
	case errors.Is(err, hls.ErrSegmentTimeout):
		span.SetAttributes(telemetry.ErrorAttributes("segment_timeout")...)
		writeError(w, http.StatusGatewayTimeout, "segment not ready")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Client went away; nothing to write.
	default:
		span.SetAttributes(telemetry.ErrorAttributes("session_failure")...)
		logger.Error().Err(err).Msg("session error")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func sessionKey(partID string, startMs int64) string {
	return fmt.Sprintf("%s-%d", partID, startMs)
}

func seekParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.URL.Query().Get("seekMs")
	if raw == "" {
		return 0, true
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms < 0 {
		writeError(w, http.StatusBadRequest, "invalid seekMs")
		return 0, false
	}
	return ms, true
}

func contentTypeFor(name string) string {
	switch filepath.Ext(name) {
	case ".m3u8":
		return playlistContentType
	case ".ts":
		return "video/mp2t"
	case ".m4s", ".mp4":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}
