package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"nerfmark/internal/pipeline"
	"nerfmark/internal/storage"
)

// Server exposes job submission, history and live results over HTTP.
type Server struct {
	addr     string
	store    *storage.Store
	pipeline *pipeline.Pipeline
	log      *slog.Logger
	hub      *Hub
	server   *http.Server
}

// NewServer wires the HTTP API around an existing pipeline and store.
func NewServer(addr string, store *storage.Store, pipe *pipeline.Pipeline, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		addr:     addr,
		store:    store,
		pipeline: pipe,
		log:      log,
		hub:      NewHub(log),
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.setupRoutes(r)
	return r
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.startBackground(ctx)

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) setupRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/jobs", s.handleJobs).Methods("GET")
	r.HandleFunc("/jobs", s.handleSubmit).Methods("POST")
	r.HandleFunc("/jobs/{id}", s.handleJob).Methods("GET")
	r.HandleFunc("/jobs/{id}/frames", s.handleFrames).Methods("GET")
	r.HandleFunc("/jobs/{id}/centroids", s.handleCentroids).Methods("GET")
	r.HandleFunc("/stream", s.handleJobStream).Methods("GET")
	r.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
}

// Serve runs a server on addr until ctx is done.
func Serve(ctx context.Context, addr string, store *storage.Store, pipe *pipeline.Pipeline, log *slog.Logger) error {
	return NewServer(addr, store, pipe, log).Start(ctx)
}

// Event is the wire form of pipeline activity on /stream and /ws.
type Event struct {
	Kind     string             `json:"kind"` // result, progress
	JobID    string             `json:"job_id"`
	JobType  string             `json:"job_type,omitempty"`
	Error    string             `json:"error,omitempty"`
	Meta     map[string]any     `json:"meta,omitempty"`
	Progress *pipeline.Progress `json:"progress,omitempty"`
}

func resultEvent(res pipeline.Result) Event {
	ev := Event{Kind: "result", JobID: res.Job.ID, JobType: string(res.Job.Type), Meta: res.Meta}
	if res.Error != nil {
		ev.Error = res.Error.Error()
	}
	return ev
}

func progressEvent(p pipeline.Progress) Event {
	return Event{Kind: "progress", JobID: p.JobID, Error: p.Error, Progress: &p}
}

// startBackground runs the hub and subscribes it to the pipeline before
// returning, so no event published afterwards is missed.
func (s *Server) startBackground(ctx context.Context) {
	results, unsubResults := s.pipeline.Subscribe()
	progress, unsubProgress := s.pipeline.SubscribeProgress()
	go s.hub.Run(ctx)
	go func() {
		defer unsubResults()
		defer unsubProgress()
		s.forward(ctx, results, progress)
	}()
}

// forward copies pipeline results and progress into the websocket hub.
func (s *Server) forward(ctx context.Context, results <-chan pipeline.Result, progress <-chan pipeline.Progress) {
	for {
		var ev Event
		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			ev = resultEvent(res)
		case p, ok := <-progress:
			if !ok {
				return
			}
			ev = progressEvent(p)
		}
		if data, err := json.Marshal(ev); err == nil {
			s.hub.Broadcast(data)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.RecentJobs(100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

type submitRequest struct {
	Type    pipeline.JobType `json:"type"`
	Input   string           `json:"input"`
	Output  string           `json:"output"`
	Options map[string]any   `json:"options"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid job: "+err.Error(), http.StatusBadRequest)
		return
	}
	switch req.Type {
	case pipeline.JobBarycentre, pipeline.JobCampath, pipeline.JobScan:
	default:
		http.Error(w, "unknown job type: "+string(req.Type), http.StatusBadRequest)
		return
	}
	if req.Input == "" {
		http.Error(w, "input is required", http.StatusBadRequest)
		return
	}
	job := pipeline.Job{
		ID:        uuid.NewString(),
		Type:      req.Type,
		InputPath: req.Input,
		Output:    req.Output,
		Options:   req.Options,
	}
	if err := s.pipeline.Submit(job); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": job.ID})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	meta, err := s.store.JobMeta(id)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "no result for job "+id, http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	frames, err := s.store.Frames(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, frames)
}

func (s *Server) handleCentroids(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	tbl, err := s.store.Centroids(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(tbl.Frames()) == 0 {
		http.Error(w, "no frames recorded for job "+id, http.StatusNotFound)
		return
	}
	data, err := tbl.MarshalJSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	progCh, unsubProgress := s.pipeline.SubscribeProgress()
	defer unsubProgress()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	for {
		var ev Event
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			ev = resultEvent(res)
		case p, ok := <-progCh:
			if !ok {
				return
			}
			ev = progressEvent(p)
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("event: " + ev.Kind + "\ndata: " + string(payload) + "\n\n"))
		flusher.Flush()
	}
}
