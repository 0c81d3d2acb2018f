package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/retinalab/gazecap/internal/gaze"
	"github.com/retinalab/gazecap/internal/httputil"
	"github.com/retinalab/gazecap/internal/recorder"
	"github.com/retinalab/gazecap/internal/store"
)

// errStatus maps pipeline errors onto HTTP status codes. Lifecycle ordering
// violations surface as 409 so clients can distinguish "wrong state" from
// genuine failures.
func errStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, recorder.ErrNotInitialized),
		errors.Is(err, recorder.ErrAlreadyInitialized),
		errors.Is(err, recorder.ErrNoActiveSession),
		errors.Is(err, recorder.ErrSessionActive),
		errors.Is(err, recorder.ErrAlreadyRecording),
		errors.Is(err, recorder.ErrNotRecording):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	httputil.WriteJSONError(w, errStatus(err), err.Error())
}

func (s *Server) showState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.rec.GetState())
}

func (s *Server) initialize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := s.rec.Initialize(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, s.rec.GetState())
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := s.rec.Reset(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, s.rec.GetState())
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req recorder.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid session request: %v", err))
		return
	}
	id, err := s.rec.CreateSession(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"session_id": id})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	sessions, err := s.st.Sessions.List()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list sessions: %v", err))
		return
	}
	httputil.WriteJSONOK(w, sessions)
}

func (s *Server) showSessionData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		httputil.BadRequest(w, "missing 'session_id' parameter")
		return
	}
	windowed := r.URL.Query().Get("windowed") == "true"
	data, err := s.rec.GetSessionData(sessionID, windowed)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, data)
}

// exportSession writes a session reconstruction to the configured export
// directory. With video=true the chunk payloads are concatenated into a media
// file alongside the JSON.
func (s *Server) exportSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.exporter == nil {
		httputil.NotFound(w, "no export directory configured")
		return
	}
	sessionID := r.FormValue("session_id")
	if sessionID == "" {
		httputil.BadRequest(w, "missing 'session_id' parameter")
		return
	}
	windowed := r.FormValue("windowed") == "true"
	data, err := s.rec.GetSessionData(sessionID, windowed)
	if err != nil {
		s.writeError(w, err)
		return
	}

	paths := map[string]string{}
	paths["session"], err = s.exporter.WriteSession(data)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("export failed: %v", err))
		return
	}
	if r.FormValue("video") == "true" {
		videoPath, err := s.exporter.WriteVideo(data, s.st.Chunks.Data)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("video export failed: %v", err))
			return
		}
		if videoPath != "" {
			paths["video"] = videoPath
		}
	}
	httputil.WriteJSONOK(w, paths)
}

func (s *Server) startRecording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := s.rec.StartRecording(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, s.rec.GetState())
}

func (s *Server) stopRecording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := s.rec.StopRecording(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, s.rec.GetState())
}

// ingestGaze accepts one raw sample per request and responds with the
// coordinate-enriched stored form. Sources that batch should use an adaptor
// instead; this endpoint exists for callers that push over plain HTTP.
func (s *Server) ingestGaze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var raw gaze.RawSample
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid gaze sample: %v", err))
		return
	}
	sample, err := s.rec.AddGazeSample(r.Context(), raw)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.stream.publish(raw)
	httputil.WriteJSONOK(w, sample)
}

type eventRequest struct {
	Kind    gaze.EventKind  `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (s *Server) addEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid event: %v", err))
		return
	}
	if req.Kind == "" {
		httputil.BadRequest(w, "missing event kind")
		return
	}
	if err := s.rec.AddEvent(r.Context(), req.Kind, req.Payload); err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}

// showChunk streams one video chunk's binary payload.
func (s *Server) showChunk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	chunkID := r.URL.Query().Get("chunk_id")
	if chunkID == "" {
		httputil.BadRequest(w, "missing 'chunk_id' parameter")
		return
	}
	data, err := s.rec.GetVideoChunkData(chunkID)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load chunk: %v", err))
		return
	}
	if data == nil {
		httputil.NotFound(w, "chunk not found")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.Write(data)
}

func (s *Server) showQuota(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	policy := store.DefaultCleanupPolicy()
	quota, err := s.st.Quota(policy.BudgetBytes)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to compute quota: %v", err))
		return
	}
	httputil.WriteJSONOK(w, quota)
}

func (s *Server) trackingStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.trackers == nil {
		httputil.WriteJSONOK(w, map[string]gaze.TrackingStatus{})
		return
	}
	httputil.WriteJSONOK(w, s.trackers.Status())
}

func (s *Server) disconnectTracker(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	id := r.FormValue("id")
	if id == "" {
		httputil.BadRequest(w, "missing 'id' parameter")
		return
	}
	if s.trackers == nil {
		httputil.NotFound(w, "no tracking manager")
		return
	}
	if err := s.trackers.Disconnect(r.Context(), id); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to disconnect: %v", err))
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}
