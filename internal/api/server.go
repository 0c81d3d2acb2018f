// Package api exposes the acquisition pipeline over HTTP: session lifecycle,
// gaze ingestion, tracking source control, and export retrieval.
package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/retinalab/gazecap/internal/db"
	"github.com/retinalab/gazecap/internal/export"
	"github.com/retinalab/gazecap/internal/recorder"
	"github.com/retinalab/gazecap/internal/store"
	"github.com/retinalab/gazecap/internal/tracking"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	rec      *recorder.Recorder
	trackers *tracking.Manager
	st       *store.Store
	db       *db.DB
	exporter *export.Exporter
	stream   *gazeStream
}

// NewServer wires the HTTP surface. exporter may be nil, in which case the
// export endpoint reports itself unconfigured.
func NewServer(rec *recorder.Recorder, trackers *tracking.Manager, st *store.Store, database *db.DB, exporter *export.Exporter) *Server {
	s := &Server{
		rec:      rec,
		trackers: trackers,
		st:       st,
		db:       database,
		exporter: exporter,
		stream:   newGazeStream(),
	}
	if trackers != nil {
		trackers.SetObserver(s.stream.publish)
	}
	return s
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400 && statusCode < 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", s.showState)
	mux.HandleFunc("/api/initialize", s.initialize)
	mux.HandleFunc("/api/reset", s.reset)
	mux.HandleFunc("/api/session", s.createSession)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/session_data", s.showSessionData)
	mux.HandleFunc("/api/export", s.exportSession)
	mux.HandleFunc("/api/recording/start", s.startRecording)
	mux.HandleFunc("/api/recording/stop", s.stopRecording)
	mux.HandleFunc("/api/gaze", s.ingestGaze)
	mux.HandleFunc("/api/gaze/tail", s.tailGaze)
	mux.HandleFunc("/api/event", s.addEvent)
	mux.HandleFunc("/api/chunk", s.showChunk)
	mux.HandleFunc("/api/quota", s.showQuota)
	mux.HandleFunc("/api/tracking/status", s.trackingStatus)
	mux.HandleFunc("/api/tracking/disconnect", s.disconnectTracker)
	return mux
}
