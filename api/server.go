package api

import (
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"spot-autotrader/config"
	"spot-autotrader/events"
	"spot-autotrader/logger"
	"spot-autotrader/monitoring"
	"spot-autotrader/store"
	"spot-autotrader/trader"
)

// Server exposes the dashboard HTTP surface: bot CRUD, lifecycle
// commands, account overview, live events and logs.
type Server struct {
	port          string
	manager       *trader.Manager
	hub           *events.Hub
	logs          *logger.Broadcaster
	settingsStore *store.SettingsStore
	accessPasskey string
	log           zerolog.Logger
}

func NewServer(cfg *config.Config, manager *trader.Manager, hub *events.Hub, logs *logger.Broadcaster, db *sql.DB, log zerolog.Logger) *Server {
	return &Server{
		port:          cfg.APIPort,
		manager:       manager,
		hub:           hub,
		logs:          logs,
		settingsStore: store.NewSettingsStore(db),
		accessPasskey: cfg.AccessPasskey,
		log:           log.With().Str("component", "api").Logger(),
	}
}

func (s *Server) Start() error {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/auth/verify", s.handleAuthVerify)
	mux.Handle("/metrics", monitoring.Handler())

	// Protected endpoints
	mux.HandleFunc("/api/overview", s.authMiddleware(s.handleOverview))
	mux.HandleFunc("/api/bot", s.authMiddleware(s.handleBots))
	mux.HandleFunc("/api/bot/", s.authMiddleware(s.handleBot))
	mux.HandleFunc("/api/settings", s.authMiddleware(s.handleSettings))
	mux.HandleFunc("/api/events", s.authMiddleware(s.hub.ServeHTTP))
	mux.HandleFunc("/api/logs/stream", s.authMiddleware(s.handleLogStream))

	handler := corsMiddleware(mux)

	s.log.Info().Str("port", s.port).Msg("API server starting")
	if s.accessPasskey == "" {
		s.log.Warn().Msg("no ACCESS_PASSKEY set, server is unprotected")
	}
	return http.ListenAndServe(":"+s.port, handler)
}

// authMiddleware checks for a valid passkey in the X-Access-Key header
// (or ?key= for SSE clients that cannot set headers).
func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.accessPasskey == "" {
			next(w, r)
			return
		}

		accessKey := r.Header.Get("X-Access-Key")
		if accessKey == "" {
			accessKey = r.URL.Query().Get("key")
		}
		if accessKey == "" {
			s.errorResponse(w, http.StatusUnauthorized, "Access key required")
			return
		}
		if !secureCompare(accessKey, s.accessPasskey) {
			s.errorResponse(w, http.StatusUnauthorized, "Invalid access key")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleAuthVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if s.accessPasskey == "" {
		s.jsonResponse(w, map[string]interface{}{"valid": true, "required": false})
		return
	}

	var req struct {
		Passkey string `json:"passkey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	s.jsonResponse(w, map[string]interface{}{
		"valid":    secureCompare(req.Passkey, s.accessPasskey),
		"required": true,
	})
}

// secureCompare performs constant-time comparison to prevent timing attacks
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Access-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleOverview returns all bots plus the account summary.
func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := s.manager.RefreshAllocations(r.Context()); err != nil {
		s.log.Warn().Err(err).Msg("allocation refresh failed, figures may be stale")
	}

	bots, err := s.manager.Bots().List()
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	botViews := make([]map[string]interface{}, 0, len(bots))
	for _, bot := range bots {
		view := map[string]interface{}{
			"bot":    bot,
			"status": s.manager.Status(bot.ID),
		}
		if pnl, err := s.manager.Trades().TotalPnL(bot.ID); err == nil {
			view["total_pnl"] = pnl
		}
		botViews = append(botViews, view)
	}

	free, allocated, available, err := s.manager.Allocator().Snapshot()
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	monitoring.UpdateAllocation(allocated, free)

	s.jsonResponse(w, map[string]interface{}{
		"bots": botViews,
		"summary": map[string]interface{}{
			"free_quote":               free,
			"total_allocated":          allocated,
			"available_for_allocation": available,
		},
	})
}

// handleBots handles POST /api/bot (create).
func (s *Server) handleBots(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var bot store.Bot
	if err := json.NewDecoder(r.Body).Decode(&bot); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if bot.Name == "" || bot.Symbol == "" {
		s.errorResponse(w, http.StatusBadRequest, "name and symbol are required")
		return
	}
	if !store.ValidStrategy(bot.Strategy) {
		s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("unknown strategy %q", bot.Strategy))
		return
	}
	if err := s.manager.RefreshAllocations(r.Context()); err != nil {
		s.log.Warn().Err(err).Msg("allocation refresh failed, checking against stale figures")
	}
	if err := s.manager.Allocator().CheckAllocation(bot.Allocated); err != nil {
		s.errorResponse(w, http.StatusConflict, err.Error())
		return
	}

	bot.State = store.StateStopped
	if err := s.manager.Bots().Create(&bot); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, bot)
}

// handleBot routes /api/bot/{id} and its sub-commands.
func (s *Server) handleBot(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/bot/")
	parts := strings.SplitN(rest, "/", 2)

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid bot ID")
		return
	}

	bot, err := s.manager.Bots().Get(id)
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, "Bot not found")
		return
	}

	if len(parts) == 2 {
		s.handleBotCommand(w, r, bot, parts[1])
		return
	}

	switch r.Method {
	case "GET":
		s.handleBotDetail(w, bot)
	case "PATCH":
		s.handleBotPatch(w, r, bot)
	case "DELETE":
		s.handleBotDelete(w, bot)
	default:
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleBotDetail(w http.ResponseWriter, bot *store.Bot) {
	view := map[string]interface{}{
		"bot":    bot,
		"status": s.manager.Status(bot.ID),
	}

	if snap, err := s.manager.Snapshots().Load(bot.ID); err == nil && snap != nil {
		view["snapshot"] = snap
	}
	if trades, err := s.manager.Trades().ListByBot(bot.ID, 50); err == nil {
		view["trades"] = trades
	}
	if stats, err := s.manager.Trades().Stats(bot.ID); err == nil {
		view["stats"] = stats
	}
	view["logs"] = s.logs.TailBot(bot.ID, 100)

	s.jsonResponse(w, view)
}

func (s *Server) handleBotPatch(w http.ResponseWriter, r *http.Request, bot *store.Bot) {
	var patch struct {
		Name      *string  `json:"name"`
		Symbol    *string  `json:"symbol"`
		Strategy  *string  `json:"strategy"`
		Allocated *float64 `json:"allocated"`
	}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// Structural fields are only editable while the bot is stopped.
	structural := patch.Symbol != nil || patch.Strategy != nil || patch.Allocated != nil
	if structural && bot.State != store.StateStopped {
		s.errorResponse(w, http.StatusConflict, "bot must be stopped to edit symbol, strategy or allocation")
		return
	}

	if patch.Name != nil {
		bot.Name = *patch.Name
	}
	if patch.Symbol != nil {
		bot.Symbol = *patch.Symbol
	}
	if patch.Strategy != nil {
		if !store.ValidStrategy(*patch.Strategy) {
			s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("unknown strategy %q", *patch.Strategy))
			return
		}
		bot.Strategy = *patch.Strategy
	}
	if patch.Allocated != nil {
		delta := *patch.Allocated - bot.Allocated
		if err := s.manager.RefreshAllocations(r.Context()); err != nil {
			s.log.Warn().Err(err).Msg("allocation refresh failed, checking against stale figures")
		}
		if err := s.manager.Allocator().CheckAllocation(delta); err != nil {
			s.errorResponse(w, http.StatusConflict, err.Error())
			return
		}
		bot.Allocated = *patch.Allocated
	}

	if err := s.manager.Bots().Update(bot); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, bot)
}

func (s *Server) handleBotDelete(w http.ResponseWriter, bot *store.Bot) {
	if bot.State != store.StateStopped {
		s.errorResponse(w, http.StatusConflict, "bot must be stopped before deletion")
		return
	}
	if snap, err := s.manager.Snapshots().Load(bot.ID); err == nil && snap.Open() {
		s.errorResponse(w, http.StatusConflict, "bot still holds a position")
		return
	}

	if err := s.manager.Bots().Delete(bot.ID); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.manager.Snapshots().Delete(bot.ID); err != nil {
		s.log.Warn().Err(err).Int64("bot", bot.ID).Msg("failed to remove snapshot")
	}
	s.jsonResponse(w, map[string]interface{}{"deleted": bot.ID})
}

func (s *Server) handleBotCommand(w http.ResponseWriter, r *http.Request, bot *store.Bot, command string) {
	if r.Method != "POST" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	switch command {
	case "start":
		if err := s.manager.Start(bot.ID); err != nil {
			s.errorResponse(w, http.StatusConflict, err.Error())
			return
		}
		s.jsonResponse(w, map[string]interface{}{"started": bot.ID})

	case "stop":
		if err := s.manager.Stop(bot.ID); err != nil {
			s.errorResponse(w, http.StatusConflict, err.Error())
			return
		}
		s.jsonResponse(w, map[string]interface{}{"stopped": bot.ID})

	case "add-funds":
		s.handleAddFunds(w, r, bot)

	default:
		s.errorResponse(w, http.StatusNotFound, "Unknown command")
	}
}

func (s *Server) handleAddFunds(w http.ResponseWriter, r *http.Request, bot *store.Bot) {
	var req struct {
		Amount float64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount <= 0 {
		s.errorResponse(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	if err := s.manager.RefreshAllocations(r.Context()); err != nil {
		s.log.Warn().Err(err).Msg("allocation refresh failed, checking against stale figures")
	}
	if err := s.manager.Allocator().CheckAllocation(req.Amount); err != nil {
		s.errorResponse(w, http.StatusConflict, err.Error())
		return
	}

	if engine, ok := s.manager.Engine(bot.ID); ok {
		if err := engine.AddFunds(req.Amount); err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
	} else {
		snap, err := s.manager.Snapshots().Load(bot.ID)
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		if snap == nil {
			snap = &store.Snapshot{}
		}
		snap.CapitalAdditions = append(snap.CapitalAdditions, store.CapitalAddition{
			Amount:    req.Amount,
			Timestamp: time.Now().UTC(),
		})
		if err := s.manager.Snapshots().Save(bot.ID, snap); err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	bot.Allocated += req.Amount
	if err := s.manager.Bots().Update(bot); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, bot)
}

// handleSettings exposes the runtime KV store.
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		settings, err := s.settingsStore.GetAll()
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.jsonResponse(w, settings)

	case "PUT":
		var kv map[string]string
		if err := json.NewDecoder(r.Body).Decode(&kv); err != nil {
			s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		for k, v := range kv {
			if err := s.settingsStore.Set(k, v); err != nil {
				s.errorResponse(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		s.jsonResponse(w, map[string]interface{}{"updated": len(kv)})

	default:
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleLogStream streams log lines over SSE, history first.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, history := s.logs.Subscribe()
	defer s.logs.Unsubscribe(ch)

	for _, line := range history {
		fmt.Fprint(w, line.ToSSE())
	}
	flusher.Flush()

	notify := r.Context().Done()
	for {
		select {
		case <-notify:
			return
		case line, open := <-ch:
			if !open {
				return
			}
			fmt.Fprint(w, line.ToSSE())
			flusher.Flush()
		}
	}
}
