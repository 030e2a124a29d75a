package service

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/steward/internal/notify"
	"github.com/haasonsaas/steward/internal/registry"
	"github.com/haasonsaas/steward/internal/spawner"
	"github.com/haasonsaas/steward/internal/storage"
	"github.com/haasonsaas/steward/internal/vault"
)

// upgrader accepts websocket sessions for notification delivery. The gateway
// binds to loopback; origin checks are the proxy's job.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Service) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /ws", s.handleWebsocket)

	mux.HandleFunc("GET /api/notifications", s.handleNotificationsList)
	mux.HandleFunc("POST /api/notifications/read", s.handleNotificationsRead)

	mux.HandleFunc("GET /api/agents", s.handleAgentsList)
	mux.HandleFunc("GET /api/agents/{name}", s.handleAgentGet)
	mux.HandleFunc("POST /api/agents", s.handleAgentCreate)
	mux.HandleFunc("DELETE /api/agents/{name}", s.handleAgentDelete)
	mux.HandleFunc("POST /api/agents/{name}/soul", s.handleAgentSoul)
	mux.HandleFunc("PUT /api/agents/{name}/files/{field}", s.handleAgentFile)

	mux.HandleFunc("POST /api/tasks", s.handleTask)
	mux.HandleFunc("POST /api/runs", s.handleRun)
	mux.HandleFunc("POST /api/threads", s.handleThreadSpawn)
	mux.HandleFunc("GET /api/threads", s.handleThreadsList)

	mux.HandleFunc("GET /api/artifacts", s.handleArtifactsList)
	mux.HandleFunc("GET /api/artifacts/{id}", s.handleArtifactGet)
	mux.HandleFunc("DELETE /api/artifacts/{id}", s.handleArtifactDelete)

	mux.HandleFunc("GET /api/schedules", s.handleSchedulesList)
	mux.HandleFunc("POST /api/schedules", s.handleScheduleCreate)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.handleScheduleDelete)
	mux.HandleFunc("POST /api/schedules/sync", s.handleScheduleSync)

	mux.HandleFunc("GET /api/credentials", s.handleCredentialsList)
	mux.HandleFunc("PUT /api/credentials/{service}", s.handleCredentialPut)
	mux.HandleFunc("DELETE /api/credentials/{service}", s.handleCredentialDelete)

	return s.instrument(mux)
}

// instrument records request count and latency per route pattern.
func (s *Service) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		pattern := r.Pattern
		if pattern == "" {
			pattern = "unmatched"
		}
		code := strconv.Itoa(rec.status)
		s.metrics.HTTPRequestCounter.WithLabelValues(r.Method, pattern, code).Inc()
		s.metrics.HTTPRequestDuration.WithLabelValues(r.Method, pattern, code).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.written {
		r.status = status
		r.written = true
	}
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrade through the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

// userID resolves the acting user from the X-User-ID header, falling back to
// the user_id query parameter.
func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return r.URL.Query().Get("user_id")
}

func callerProfile(r *http.Request) string {
	if p := r.Header.Get("X-Caller-Profile"); p != "" {
		return p
	}
	return "personal"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := userID(r)
	if id == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("user id is required"))
		return "", false
	}
	return id, true
}

func limitParam(r *http.Request, fallback int) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleWebsocket upgrades the connection and registers it for notification
// fan-out until the peer goes away.
func (s *Service) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	channel := notify.NewWebsocketChannel(conn)
	s.Queue.RegisterSession(user, channel)
	s.metrics.WebsocketSessions.Inc()
	s.logger.Info("websocket session opened", "user_id", user)

	defer func() {
		s.Queue.UnregisterSession(user, channel)
		s.metrics.WebsocketSessions.Dec()
		channel.Close()
		s.logger.Info("websocket session closed", "user_id", user)
	}()

	// Inbound frames are ignored; the read loop only detects disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Service) handleNotificationsList(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	items, err := s.Queue.GetUnread(r.Context(), user, limitParam(r, 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	type row struct {
		ID         string    `json:"id"`
		FromAgent  string    `json:"from_agent"`
		Message    string    `json:"message"`
		Priority   string    `json:"priority"`
		ArtifactID string    `json:"artifact_id,omitempty"`
		CreatedAt  time.Time `json:"created_at"`
	}
	out := make([]row, 0, len(items))
	for _, n := range items {
		out = append(out, row{
			ID:         n.ID,
			FromAgent:  n.FromAgent,
			Message:    n.Message,
			Priority:   n.Priority,
			ArtifactID: n.ArtifactID,
			CreatedAt:  n.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": out})
}

func (s *Service) handleNotificationsRead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	count, err := s.Queue.MarkRead(r.Context(), req.IDs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": count})
}

func (s *Service) handleAgentsList(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	summaries, err := s.Registry.ListAgents(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	type row struct {
		Name             string `json:"name"`
		Description      string `json:"description,omitempty"`
		Source           string `json:"source"`
		Instantiated     bool   `json:"instantiated"`
		UserDefined      bool   `json:"user_defined"`
		UpgradeAvailable bool   `json:"upgrade_available"`
	}
	out := make([]row, 0, len(summaries))
	for _, a := range summaries {
		out = append(out, row{
			Name:             a.Name,
			Description:      a.Description,
			Source:           string(a.Source),
			Instantiated:     a.Instantiated,
			UserDefined:      a.UserDefined,
			UpgradeAvailable: a.UpgradeAvailable,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": out})
}

func (s *Service) handleAgentGet(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	def, err := s.Registry.Resolve(r.Context(), r.PathValue("name"), user, callerProfile(r))
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrAccessDenied):
			writeError(w, http.StatusForbidden, err)
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":            def.AgentName,
		"source":          string(def.Source),
		"agent_md":        def.AgentMD,
		"tools_md":        def.ToolsMD,
		"bootstrap_md":    def.BootstrapMD,
		"heartbeat_md":    def.HeartbeatMD,
		"soul_md":         def.SoulMD,
		"system_prompt":   def.SystemPrompt(),
		"allowed_servers": def.AllowedServers(),
	})
}

func (s *Service) handleAgentCreate(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Name        string `json:"name"`
		AgentMD     string `json:"agent_md"`
		ToolsMD     string `json:"tools_md"`
		BootstrapMD string `json:"bootstrap_md"`
		HeartbeatMD string `json:"heartbeat_md"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name == "" || req.AgentMD == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("name and agent_md are required"))
		return
	}

	def, err := s.Registry.Create(r.Context(), user, req.Name, req.AgentMD, req.ToolsMD, req.BootstrapMD, req.HeartbeatMD, user)
	if errors.Is(err, storage.ErrAlreadyExists) {
		writeError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": def.AgentName})
}

func (s *Service) handleAgentDelete(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	removed, err := s.Registry.Delete(r.Context(), r.PathValue("name"), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, fmt.Errorf("agent not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleAgentSoul(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Entry string `json:"entry"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Entry == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("entry is required"))
		return
	}
	if err := s.Registry.AppendSoul(r.Context(), r.PathValue("name"), user, req.Entry); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleAgentFile(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err := s.Registry.UpdateFile(r.Context(), r.PathValue("name"), user, r.PathValue("field"), req.Content)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleTask(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Skill    string         `json:"skill"`
		Task     string         `json:"task"`
		Context  map[string]any `json:"context"`
		Provider string         `json:"provider"`
		Model    string         `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Skill == "" || req.Task == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("skill and task are required"))
		return
	}

	result, err := s.Spawner.InvokeTask(r.Context(), user, req.Skill, req.Task, req.Context, spawner.RunOptions{
		Provider: req.Provider,
		Model:    req.Model,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": result})
}

func (s *Service) handleRun(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Agent    string         `json:"agent"`
		Skill    string         `json:"skill"`
		Config   map[string]any `json:"config"`
		Provider string         `json:"provider"`
		Model    string         `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Skill == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("skill is required"))
		return
	}
	if req.Agent == "" {
		req.Agent = req.Skill
	}

	s.metrics.BackgroundRuns.WithLabelValues("started").Inc()
	runID := s.Spawner.SpawnBackground(r.Context(), user, req.Agent, req.Skill, spawner.Config(req.Config), spawner.RunOptions{
		Provider: req.Provider,
		Model:    req.Model,
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Service) handleThreadSpawn(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Skill    string `json:"skill"`
		Title    string `json:"title"`
		PreTask  string `json:"pre_task"`
		Provider string `json:"provider"`
		Model    string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Skill == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("skill is required"))
		return
	}

	threadID, err := s.Spawner.SpawnForeground(r.Context(), user, req.Skill, req.Title, req.PreTask, spawner.RunOptions{
		Provider: req.Provider,
		Model:    req.Model,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"thread_id": threadID})
}

func (s *Service) handleThreadsList(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	items, err := s.Threads.List(r.Context(), user, limitParam(r, 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	type row struct {
		ThreadID     string    `json:"thread_id"`
		Title        string    `json:"title"`
		MessageCount int64     `json:"message_count"`
		UpdatedAt    time.Time `json:"updated_at"`
	}
	out := make([]row, 0, len(items))
	for _, t := range items {
		out = append(out, row{
			ThreadID:     t.ThreadID,
			Title:        t.Title,
			MessageCount: t.MessageCount,
			UpdatedAt:    t.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": out})
}

func (s *Service) handleArtifactsList(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	items, err := s.Artifacts.List(r.Context(), user, r.URL.Query().Get("type"), limitParam(r, 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	type row struct {
		ID        string    `json:"id"`
		AgentID   string    `json:"agent_id"`
		Type      string    `json:"type"`
		Preview   string    `json:"preview"`
		CreatedAt time.Time `json:"created_at"`
	}
	out := make([]row, 0, len(items))
	for _, a := range items {
		out = append(out, row{
			ID:        a.ID,
			AgentID:   a.AgentID,
			Type:      a.Type,
			Preview:   a.Preview,
			CreatedAt: a.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"artifacts": out})
}

func (s *Service) handleArtifactGet(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.Artifacts.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if artifact == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("artifact not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         artifact.ID,
		"agent_id":   artifact.AgentID,
		"type":       artifact.Type,
		"content":    artifact.Content,
		"metadata":   artifact.Metadata,
		"created_at": artifact.CreatedAt,
	})
}

func (s *Service) handleArtifactDelete(w http.ResponseWriter, r *http.Request) {
	removed, err := s.Artifacts.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, fmt.Errorf("artifact not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleSchedulesList(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	entries, err := s.Scheduler.ListSchedules(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	type row struct {
		ID        string     `json:"id"`
		AgentName string     `json:"agent_name"`
		Skill     string     `json:"skill"`
		Cron      string     `json:"cron"`
		NextRun   time.Time  `json:"next_run"`
		LastRun   *time.Time `json:"last_run,omitempty"`
	}
	out := make([]row, 0, len(entries))
	for _, e := range entries {
		out = append(out, row{
			ID:        e.ID,
			AgentName: e.AgentName,
			Skill:     e.Skill,
			Cron:      e.Cron,
			NextRun:   e.NextRun,
			LastRun:   e.LastRun,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": out})
}

func (s *Service) handleScheduleCreate(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Agent  string         `json:"agent"`
		Skill  string         `json:"skill"`
		Cron   string         `json:"cron"`
		Config map[string]any `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Agent == "" || req.Cron == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("agent and cron are required"))
		return
	}
	if req.Skill == "" {
		req.Skill = req.Agent
	}

	id, err := s.Scheduler.Schedule(r.Context(), user, req.Agent, req.Skill, req.Cron, req.Config)
	if errors.Is(err, storage.ErrAlreadyExists) {
		writeError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Service) handleScheduleDelete(w http.ResponseWriter, r *http.Request) {
	removed, err := s.Scheduler.Unschedule(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, fmt.Errorf("schedule not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleScheduleSync(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	counts, err := s.Scheduler.SyncFromHeartbeats(r.Context(), s.Registry, user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"created":   counts.Created,
		"updated":   counts.Updated,
		"unchanged": counts.Unchanged,
	})
}

func (s *Service) handleCredentialsList(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	services, err := s.Vault.ListServices(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": services})
}

func (s *Service) handleCredentialPut(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Token     json.RawMessage `json:"token"`
		Scopes    []string        `json:"scopes"`
		ExpiresAt *time.Time      `json:"expires_at"`
		Metadata  map[string]any  `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Token) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("token is required"))
		return
	}

	// Token may be any JSON shape: an OAuth blob, an API key string, raw
	// provider state. String tokens are stored unquoted.
	tokenData := []byte(req.Token)
	var asString string
	if err := json.Unmarshal(req.Token, &asString); err == nil {
		tokenData = []byte(asString)
	}

	service := r.PathValue("service")
	err := s.Vault.Put(r.Context(), user, service, tokenData, vault.PutOptions{
		Scopes:    req.Scopes,
		ExpiresAt: req.ExpiresAt,
		Metadata:  req.Metadata,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	// A fresh credential invalidates the cached bridge so the next run
	// picks it up.
	s.Bridges.Invalidate(user)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleCredentialDelete(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	removed, err := s.Vault.Delete(r.Context(), user, r.PathValue("service"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, fmt.Errorf("credential not found"))
		return
	}
	s.Bridges.Invalidate(user)
	w.WriteHeader(http.StatusNoContent)
}
