// Package httpapi implements SolDocs' HTTP surface (§6): thin request
// validation and delegation to the store and agent, with per-client-IP
// rate limiting on mutating routes and a bounded request body size.
package httpapi

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soldocs/soldocs/pkg/agentcore"
	"github.com/soldocs/soldocs/pkg/docgen"
	"github.com/soldocs/soldocs/pkg/idmodel"
	"github.com/soldocs/soldocs/pkg/logx"
	"github.com/soldocs/soldocs/pkg/metrics"
	"github.com/soldocs/soldocs/pkg/ratelimit"
	"github.com/soldocs/soldocs/pkg/store"
)

const maxBodyBytes = 5 << 20 // 5 MiB, §6

const mutatingRateLimitPerMinute = 30

const (
	defaultPage  = 1
	defaultLimit = 50
	maxLimit     = 100
)

// Server is SolDocs' HTTP surface.
type Server struct {
	store   *store.Store
	agent   *agentcore.Agent
	metrics *metrics.Registry
	limiter *ratelimit.Limiter
	logger  *logx.Logger
	mux     *http.ServeMux
}

// New constructs a Server. metricsRegistry may be nil to disable /metrics
// and HTTP request counters (§6 METRICS_ENABLED).
func New(s *store.Store, agent *agentcore.Agent, metricsRegistry *metrics.Registry) *Server {
	srv := &Server{
		store:   s,
		agent:   agent,
		metrics: metricsRegistry,
		limiter: ratelimit.New(mutatingRateLimitPerMinute),
		logger:  logx.New("httpapi"),
		mux:     http.NewServeMux(),
	}
	srv.routes()
	return srv
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/health", s.instrument(s.handleHealth))
	s.mux.HandleFunc("/api/agent/status", s.instrument(s.handleAgentStatus))
	s.mux.HandleFunc("/api/programs", s.instrument(s.withBodyLimit(s.withRateLimit(s.handlePrograms))))
	s.mux.HandleFunc("/api/queue", s.instrument(s.handleQueue))
	s.mux.HandleFunc("/api/logs", s.instrument(s.handleLogs))
	if s.metrics != nil {
		s.mux.Handle("/metrics", metrics.Handler())
	}
	s.mux.HandleFunc("/api/programs/", s.instrument(s.withBodyLimit(s.handleProgramByID)))
}

// instrument wraps a handler with soldocs_http_requests_total accounting.
func (s *Server) instrument(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		w.Header().Set("X-Request-Id", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		if s.metrics != nil {
			s.metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		}
		if rec.status >= http.StatusInternalServerError {
			s.logger.Error("[%s] %s %s -> %d", requestID, r.Method, r.URL.Path, rec.status)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withBodyLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next(w, r)
	}
}

func (s *Server) withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if isMutating(r.Method) && !s.limiter.Allow(clientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

func isMutating(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodDelete || method == http.MethodPatch
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleAgentStatus(w http.ResponseWriter, _ *http.Request) {
	state, err := s.agent.State()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleQueue(w http.ResponseWriter, _ *http.Request) {
	queue, err := s.store.ListQueue()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queue": queue, "total": len(queue)})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, logx.RecentEntries(r.URL.Query().Get("domain")))
}

// handlePrograms dispatches GET (list) and POST (enqueue) on /api/programs.
func (s *Server) handlePrograms(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listPrograms(w, r)
	case http.MethodPost:
		s.enqueueProgram(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) listPrograms(w http.ResponseWriter, r *http.Request) {
	programs, err := s.store.ListPrograms()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	search := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("search")))
	if search != "" {
		filtered := programs[:0]
		for _, p := range programs {
			if strings.Contains(strings.ToLower(p.Name), search) ||
				strings.Contains(strings.ToLower(p.ProgramID), search) ||
				strings.Contains(strings.ToLower(p.Description), search) {
				filtered = append(filtered, p)
			}
		}
		programs = filtered
	}

	sort.Slice(programs, func(i, j int) bool {
		return programs[i].UpdatedAt.After(programs[j].UpdatedAt)
	})

	page := parsePositiveInt(r.URL.Query().Get("page"), defaultPage)
	limit := parsePositiveInt(r.URL.Query().Get("limit"), defaultLimit)
	if limit > maxLimit {
		limit = maxLimit
	}

	start := (page - 1) * limit
	if start > len(programs) {
		start = len(programs)
	}
	end := start + limit
	if end > len(programs) {
		end = len(programs)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"programs": programs[start:end],
		"total":    len(programs),
		"page":     page,
		"limit":    limit,
	})
}

// parsePositiveInt parses s as a positive int, falling back to def on a
// missing, non-numeric, or non-positive value (NaN-safe, §6).
func parsePositiveInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return def
	}
	return n
}

type enqueueRequest struct {
	ProgramID string `json:"programId"`
}

func (s *Server) enqueueProgram(w http.ResponseWriter, r *http.Request) {
	var body enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := idmodel.Validate(body.ProgramID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	item, kind, err := s.store.AddToQueueSafe(body.ProgramID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status := http.StatusOK
	message := "program already queued"
	switch kind {
	case store.AddNew:
		status = http.StatusAccepted
		message = "program enqueued"
	case store.AddRequeued:
		message = "program re-queued for retry"
	}
	writeJSON(w, status, map[string]any{"message": message, "item": item})
}

// handleProgramByID dispatches the /api/programs/:id family of routes.
func (s *Server) handleProgramByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/programs/")
	if rest == "" {
		writeError(w, http.StatusBadRequest, "missing program id")
		return
	}
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if err := idmodel.Validate(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	suffix := ""
	if len(parts) == 2 {
		suffix = parts[1]
	}

	if isMutating(r.Method) && !s.limiter.Allow(clientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	switch {
	case suffix == "" && r.Method == http.MethodGet:
		s.getProgram(w, id)
	case suffix == "" && r.Method == http.MethodDelete:
		s.deleteProgram(w, id)
	case suffix == "idl" && r.Method == http.MethodGet:
		s.getIDL(w, id)
	case suffix == "idl" && r.Method == http.MethodPost:
		s.uploadIDL(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) getProgram(w http.ResponseWriter, id string) {
	program, ok, err := s.store.GetProgram(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "program not found")
		return
	}
	doc, _, err := s.store.GetDoc(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"program": program, "docs": doc})
}

func (s *Server) getIDL(w http.ResponseWriter, id string) {
	idl, ok, err := s.store.GetIDL(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "idl not found")
		return
	}
	writeJSON(w, http.StatusOK, idl)
}

func (s *Server) uploadIDL(w http.ResponseWriter, r *http.Request, id string) {
	var idl map[string]any
	if err := json.NewDecoder(r.Body).Decode(&idl); err != nil {
		writeError(w, http.StatusBadRequest, "invalid idl body")
		return
	}
	instructions, _ := idl["instructions"].([]any)
	if len(instructions) == 0 {
		writeError(w, http.StatusBadRequest, "idl must have a non-empty instructions array")
		return
	}
	if docgen.ProgramName(idl) == "unknown_program" {
		writeError(w, http.StatusBadRequest, "idl name could not be determined")
		return
	}

	if _, err := s.store.SaveIDLSafe(id, idl); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	item, _, err := s.store.AddToQueueSafe(id)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"message": "idl saved and queued", "item": item})
}

func (s *Server) deleteProgram(w http.ResponseWriter, id string) {
	_, ok, err := s.store.GetProgram(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "program not found")
		return
	}

	var errs []error
	if err := s.store.RemoveProgramSafe(id); err != nil {
		errs = append(errs, err)
	}
	if err := s.store.RemoveQueueItemSafe(id); err != nil {
		errs = append(errs, err)
	}
	if err := s.store.RemoveDocSafe(id); err != nil {
		errs = append(errs, err)
	}
	if err := s.store.RemoveIDLSafe(id); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "program deleted"})
}
