// Package api provides the HTTP API for observing and steering the colony.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/mars-colony/internal/agents"
	"github.com/talgya/mars-colony/internal/engine"
	"github.com/talgya/mars-colony/internal/persistence"
	"github.com/talgya/mars-colony/internal/simerr"
)

const maxStreamConns = 4

// Server serves colony state over HTTP.
type Server struct {
	Eng         *engine.Engine
	Saver       *persistence.Coordinator
	Port        int
	AdminKey    string        // Bearer token for POST endpoints. Empty = POST disabled.
	SaveDir     string        // Directory named save destinations resolve into.
	SaveTimeout time.Duration // How long POST /save waits for the result.

	// Proxy addresses whose X-Forwarded-For is believed by the save rate limit.
	TrustedProxies []string

	streamConns int32
	upgrader    websocket.Upgrader
	http        *http.Server
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	saveLimiter := NewRateLimiter(6, time.Minute)
	saveLimiter.TrustProxies(s.TrustedProxies...)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 16 * 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/settlements", s.handleSettlements)
	mux.HandleFunc("/api/v1/agents", s.handleAgents)
	mux.HandleFunc("/api/v1/agent/", s.handleAgentRoutes)
	mux.HandleFunc("/api/v1/ticks", s.handleTicks)
	mux.HandleFunc("/api/v1/tasks", s.handleTasks)

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))
	mux.HandleFunc("/api/v1/pause", s.adminOnly(s.handlePause))
	mux.HandleFunc("/api/v1/resume", s.adminOnly(s.handleResume))
	mux.HandleFunc("/api/v1/save", s.adminOnly(RateLimitMiddleware(saveLimiter, s.handleSave)))
	mux.HandleFunc("/api/v1/interrupt/", s.adminOnly(s.handleInterrupt))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	s.http = &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS to a comma-separated list of extra origins.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
// GET requests pass through (for endpoints that support both GET and POST).
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no COLONYSIM_ADMIN_KEY set)", http.StatusForbidden)
				return
			}
			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view := s.Eng.World.View()

	weather := make(map[string]any)
	for _, st := range s.Eng.World.Settlements().All() {
		c := s.Eng.World.Weather(st.ID)
		weather[st.Name] = map[string]any{
			"opacity":  c.Opacity,
			"daylight": c.Daylight,
			"storm":    c.Storm,
		}
	}

	status := map[string]any{
		"name":        "Mars Colony",
		"tick":        view.Tick,
		"time":        view.Time,
		"sim_time":    view.Time.String(),
		"speed":       s.Eng.Speed(),
		"paused":      s.Eng.Paused(),
		"running":     s.Eng.Running(),
		"people":      view.Stats.People,
		"robots":      view.Stats.Robots,
		"vehicles":    view.Stats.Vehicles,
		"deaths":      view.Stats.Deaths,
		"settlements": len(s.Eng.World.Settlements().All()),
		"weather":     weather,
	}
	if s.Saver != nil {
		status["save_in_progress"] = s.Saver.Busy()
	}
	writeJSON(w, status)
}

func (s *Server) handleSettlements(w http.ResponseWriter, r *http.Request) {
	type settlementSummary struct {
		ID         uint64   `json:"id"`
		Name       string   `json:"name"`
		Population int      `json:"population"`
		Agenda     string   `json:"agenda,omitempty"`
		Focus      []string `json:"focus,omitempty"`
	}

	counts := make(map[uint64]int)
	for _, a := range s.Eng.World.View().Agents {
		if a.Alive {
			counts[a.SettlementID]++
		}
	}

	result := []settlementSummary{}
	for _, st := range s.Eng.World.Settlements().All() {
		sum := settlementSummary{ID: st.ID, Name: st.Name, Population: counts[st.ID]}
		if st.Agenda != nil {
			sum.Agenda = st.Agenda.Name
			sum.Focus = st.Agenda.Tasks()
		}
		result = append(result, sum)
	}
	writeJSON(w, result)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind := q.Get("kind")
	var settlement uint64
	if v := q.Get("settlement"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid settlement id", http.StatusBadRequest)
			return
		}
		settlement = id
	}
	aliveOnly := q.Get("alive") == "true"

	result := []engine.AgentSummary{}
	for _, a := range s.Eng.World.View().Agents {
		if kind != "" && a.Kind != kind {
			continue
		}
		if settlement != 0 && a.SettlementID != settlement {
			continue
		}
		if aliveOnly && !a.Alive {
			continue
		}
		result = append(result, a)
	}
	writeJSON(w, result)
}

// handleAgentRoutes serves /api/v1/agent/:id, /api/v1/agent/:id/relations
// and /api/v1/agent/:id/activities[?sol=N].
func (s *Server) handleAgentRoutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) < 5 || parts[4] == "" {
		http.Error(w, "missing agent id", http.StatusBadRequest)
		return
	}
	n, err := strconv.ParseUint(parts[4], 10, 64)
	if err != nil {
		http.Error(w, "invalid agent id", http.StatusBadRequest)
		return
	}
	id := agents.AgentID(n)

	if len(parts) >= 6 {
		switch parts[5] {
		case "activities":
			s.handleActivities(w, r, id)
			return
		case "relations":
			ops, err := s.Eng.World.Acquaintances(id)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, map[string]any{"agent": id, "opinions": ops})
			return
		}
	}

	for _, a := range s.Eng.World.View().Agents {
		if a.ID == id {
			writeJSON(w, a)
			return
		}
	}
	http.Error(w, "agent not found", http.StatusNotFound)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	cat := s.Eng.World.Catalog()
	result := []map[string]any{}
	for _, name := range cat.Names() {
		t := cat.Get(name)
		phases := make([]string, len(t.Phases))
		for i, p := range t.Phases {
			phases[i] = p.Name
		}
		result = append(result, map[string]any{"name": name, "phases": phases})
	}
	writeJSON(w, result)
}

func (s *Server) handleActivities(w http.ResponseWriter, r *http.Request, id agents.AgentID) {
	solParam := r.URL.Query().Get("sol")
	if solParam == "" {
		all, err := s.Eng.World.AllActivities(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, all)
		return
	}

	sol, err := strconv.ParseUint(solParam, 10, 64)
	if err != nil {
		writeError(w, fmt.Errorf("sol %q: %w", solParam, simerr.ErrInvalidArgument))
		return
	}
	day, err := s.Eng.World.QueryActivities(id, sol)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"agent": id, "sol": sol, "activities": day})
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed > 1000 {
			http.Error(w, "speed must be at most 1000", http.StatusBadRequest)
			return
		}
		if err := s.Eng.SetSpeed(req.Speed); err != nil {
			writeError(w, err)
			return
		}
	}

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.Eng.Pause()
	writeJSON(w, map[string]any{"paused": true, "tick": s.Eng.World.CurrentTick()})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.Eng.Resume()
	writeJSON(w, map[string]any{"paused": false, "tick": s.Eng.World.CurrentTick()})
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) < 5 {
		http.Error(w, "missing agent id", http.StatusBadRequest)
		return
	}
	n, err := strconv.ParseUint(parts[4], 10, 64)
	if err != nil {
		http.Error(w, "invalid agent id", http.StatusBadRequest)
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "manual override"
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := s.Eng.Interrupt(ctx, agents.AgentID(n), req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"agent": n, "interrupted": true, "reason": req.Reason})
}

// handleSave runs a save and waits up to SaveTimeout for its result. A
// timed-out save keeps running; its outcome is only logged.
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.Saver == nil {
		http.Error(w, "saving not available", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		Destination string `json:"destination"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
	}
	dest := ""
	if req.Destination != "" {
		// Only plain file names, resolved inside the save directory.
		name := filepath.Base(req.Destination)
		if name != req.Destination || name == "." || name == ".." {
			http.Error(w, "destination must be a file name", http.StatusBadRequest)
			return
		}
		dest = filepath.Join(s.SaveDir, name)
	}

	timeout := s.SaveTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	ev, err := s.Saver.SaveAndWait(r.Context(), dest, timeout)
	if err != nil {
		slog.Warn("save request failed", "request", ev.RequestID, "reason", simerr.Reason(err), "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusFor(err))
		json.NewEncoder(w).Encode(map[string]any{
			"request_id": ev.RequestID,
			"kind":       persistence.SaveFailed,
			"reason":     simerr.Reason(err),
			"error":      err.Error(),
		})
		return
	}
	writeJSON(w, ev)
}

// handleTicks streams tick-complete notifications over a websocket.
func (s *Server) handleTicks(w http.ResponseWriter, r *http.Request) {
	current := atomic.AddInt32(&s.streamConns, 1)
	defer atomic.AddInt32(&s.streamConns, -1)
	if current > maxStreamConns {
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	out := make(chan engine.TickEvent, 64)
	unsubscribe := s.Eng.OnTick(func(ev engine.TickEvent) {
		select {
		case out <- ev:
		default:
			// Slow client; drop rather than hold up other listeners.
		}
	})
	defer unsubscribe()

	slog.Info("tick stream client connected", "remote", r.RemoteAddr)

	// Reader: only to notice the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(15 * time.Second)
	defer ping.Stop()

	for {
		select {
		case ev := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-gone:
			slog.Info("tick stream client disconnected", "remote", r.RemoteAddr)
			return
		case <-r.Context().Done():
			return
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, simerr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, simerr.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, simerr.ErrConcurrentSave):
		return http.StatusConflict
	case errors.Is(err, simerr.ErrSaveTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, simerr.ErrInterrupted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusFor(err))
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
