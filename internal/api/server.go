// Package api provides the HTTP API for observing the simulation.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/talgya/market-sim/internal/agents"
	"github.com/talgya/market-sim/internal/business"
	"github.com/talgya/market-sim/internal/config"
	"github.com/talgya/market-sim/internal/engine"
	"github.com/talgya/market-sim/internal/ledger"
	"github.com/talgya/market-sim/internal/market"
	"github.com/talgya/market-sim/internal/persistence"
)

// Server serves the simulation state over HTTP.
type Server struct {
	Eng          *engine.Engine
	DB           *persistence.DB // optional; history endpoints answer 503 without it
	Hub          *Hub            // optional; streaming answers 503 without it
	Port         int
	AdminKey     string // Bearer token for POST endpoints. Empty = POST disabled.
	SnapshotPath string // where POST /snapshot writes; empty disables it
}

// Handler builds the routing table.
func (s *Server) Handler() http.Handler {
	snapshotLimiter := NewRateLimiter(6, time.Minute)
	streamLimiter := NewRateLimiter(20, time.Minute)

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/people", s.handlePeople)
	mux.HandleFunc("/api/v1/person/", s.handlePerson)
	mux.HandleFunc("/api/v1/businesses", s.handleBusinesses)
	mux.HandleFunc("/api/v1/business/", s.handleBusiness)
	mux.HandleFunc("/api/v1/market", s.handleMarket)
	mux.HandleFunc("/api/v1/prices", s.handlePrices)
	mux.HandleFunc("/api/v1/government", s.handleGovernment)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/ledger", s.handleLedger)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/stats/history", s.handleStatsHistory)
	mux.HandleFunc("/api/v1/runs", s.handleRuns)
	mux.HandleFunc("/api/v1/stream", RateLimitMiddleware(streamLimiter, s.handleStream))

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))
	mux.HandleFunc("/api/v1/snapshot", s.adminOnly(RateLimitMiddleware(snapshotLimiter, s.handleSnapshot)))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine. The caller shuts the
// returned server down.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "history", s.DB != nil)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	return srv
}

// PublishDay streams the summary of the day just simulated.
func (s *Server) PublishDay(st *engine.State) {
	if s.Hub != nil {
		s.Hub.Publish("day", engine.Summarize(st))
	}
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS env var to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
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
				http.Error(w, "admin endpoints disabled (no MARKETSIM_ADMIN_KEY set)", http.StatusForbidden)
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

// queryInt reads a positive integer query parameter no larger than max.
func queryInt(r *http.Request, key string, def, max int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= max {
			return n
		}
	}
	return def
}

// pathID parses the numeric tail of a detail route such as /api/v1/person/7.
func pathID(r *http.Request, prefix string) (uint64, bool) {
	tail := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	id, err := strconv.ParseUint(tail, 10, 64)
	return id, err == nil && id > 0
}

func goodByName(cfg *config.Config, name string) (market.Good, bool) {
	_, i, ok := lo.FindIndexOf(cfg.Goods, func(g config.Good) bool {
		return strings.EqualFold(g.Name, name)
	})
	return market.Good(i), ok
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.Eng.State()
	speed := s.Eng.Speed()
	status := map[string]any{
		"name":       "market-sim",
		"day":        st.Day,
		"speed":      speed,
		"paused":     speed == 0,
		"seed":       st.Config.Game.Seed.Get(),
		"resolver":   st.ResolverName,
		"people":     len(st.People),
		"businesses": st.Stats.ActiveBusinesses,
		"goods":      lo.Map(st.Config.Goods, func(g config.Good, _ int) string { return g.Name }),
		"stats":      st.Stats,
	}
	if s.DB != nil {
		status["run"] = s.DB.RunID()
	}
	writeJSON(w, status)
}

func (s *Server) handlePeople(w http.ResponseWriter, r *http.Request) {
	people := engine.Query(s.Eng.State()).People

	if c := r.URL.Query().Get("class"); c != "" {
		people = lo.Filter(people, func(p engine.PersonView, _ int) bool {
			return strings.EqualFold(p.Class.String(), c)
		})
	}
	if e := r.URL.Query().Get("employed"); e != "" {
		want := e == "true"
		people = lo.Filter(people, func(p engine.PersonView, _ int) bool {
			return (p.Employer != 0) == want
		})
	}

	offset := queryInt(r, "offset", 0, len(people))
	limit := queryInt(r, "limit", 100, 1000)
	writeJSON(w, lo.Subset(people, offset, uint(limit)))
}

func (s *Server) handlePerson(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "/api/v1/person/")
	if !ok {
		http.Error(w, "invalid person id", http.StatusBadRequest)
		return
	}
	st := s.Eng.State()
	p := st.Person(agents.PersonID(id))
	if p == nil {
		http.Error(w, "person not found", http.StatusNotFound)
		return
	}

	acct := p.Account()
	writeJSON(w, map[string]any{
		"id":            p.ID,
		"name":          p.Name,
		"class":         p.Class,
		"discount_rate": p.DiscountRate,
		"money":         st.Ledger.Balance(acct),
		"reserved":      st.Market.Reserved(acct),
		"utility":       p.Utility,
		"stock":         p.Stock,
		"employer":      p.EmployerID,
		"orders_today":  p.OrdersToday,
	})
}

func (s *Server) handleBusinesses(w http.ResponseWriter, r *http.Request) {
	st := s.Eng.State()
	list := engine.Query(st).Businesses

	if state := r.URL.Query().Get("state"); state != "" {
		list = lo.Filter(list, func(b engine.BusinessView, _ int) bool {
			return strings.EqualFold(b.State.String(), state)
		})
	}
	if name := r.URL.Query().Get("good"); name != "" {
		list = lo.Filter(list, func(b engine.BusinessView, _ int) bool {
			return strings.EqualFold(b.Good, name)
		})
	}
	writeJSON(w, list)
}

func (s *Server) handleBusiness(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "/api/v1/business/")
	if !ok {
		http.Error(w, "invalid business id", http.StatusBadRequest)
		return
	}
	st := s.Eng.State()
	b := st.Business(business.ID(id))
	if b == nil {
		http.Error(w, "business not found", http.StatusNotFound)
		return
	}

	writeJSON(w, map[string]any{
		"id":                b.ID,
		"name":              b.Name,
		"owner":             b.OwnerID,
		"good":              st.GoodName(b.Good),
		"state":             b.State,
		"price":             b.Price,
		"inventory":         b.Inventory,
		"listed":            st.Market.OwnerVolume(b.Account(), b.Good, market.Sell),
		"staff":             b.Staff,
		"last_staff_change": b.LastStaffChangeDay,
		"sold_history":      b.SoldHistory,
		"period":            b.Period,
		"money":             st.Ledger.Balance(b.Account()),
		"created_day":       b.CreatedDay,
	})
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	st := s.Eng.State()
	name := r.URL.Query().Get("good")
	if name == "" {
		writeJSON(w, engine.Query(st).Goods)
		return
	}

	good, ok := goodByName(st.Config, name)
	if !ok {
		http.Error(w, "unknown good", http.StatusNotFound)
		return
	}
	limit := queryInt(r, "limit", 50, 1000)
	writeJSON(w, map[string]any{
		"good":  st.GoodName(good),
		"day":   st.Day,
		"buys":  lo.Subset(st.Market.Orders(good, market.Buy), 0, uint(limit)),
		"sells": lo.Subset(st.Market.Orders(good, market.Sell), 0, uint(limit)),
	})
}

// handlePrices returns per-day price statistics for one good. By default
// they come from the in-memory history; source=db reads the recorded run.
func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	st := s.Eng.State()
	good, ok := goodByName(st.Config, r.URL.Query().Get("good"))
	if !ok {
		http.Error(w, "unknown good", http.StatusNotFound)
		return
	}
	days := queryInt(r, "days", 30, market.HistoryDays)

	if r.URL.Query().Get("source") == "db" {
		if s.DB == nil {
			http.Error(w, "database not available", http.StatusServiceUnavailable)
			return
		}
		rows, err := s.DB.PriceHistory(good, days)
		if err != nil {
			slog.Error("price history query failed", "error", err)
			http.Error(w, "query failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, rows)
		return
	}
	writeJSON(w, st.Market.History(good).Last(days))
}

func (s *Server) handleGovernment(w http.ResponseWriter, r *http.Request) {
	st := s.Eng.State()
	g := engine.Query(st).Government
	writeJSON(w, map[string]any{
		"treasury":                           g.Treasury,
		"cit":                                g.CIT,
		"pit":                                g.PIT,
		"collected_cit":                      g.CollectedCIT,
		"last_business_creation_day":         g.LastBusinessCreationDay,
		"min_time_between_business_creation": st.Government.MinTimeBetweenCreation,
		"money_to_create_business":           st.Government.MoneyToCreateBusiness,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, engine.MaxEvents)
	events := s.Eng.State().Events

	if c := r.URL.Query().Get("category"); c != "" {
		events = lo.Filter(events, func(e engine.Event, _ int) bool { return e.Category == c })
	}
	writeJSON(w, lo.Subset(events, -limit, uint(limit)))
}

// handleLedger returns recent transfers, optionally only those of one reason.
func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100, ledger.JournalLimit)
	entries := s.Eng.State().Ledger.Journal()

	if reason := r.URL.Query().Get("reason"); reason != "" {
		var want ledger.Reason
		if err := want.UnmarshalText([]byte(reason)); err != nil {
			http.Error(w, "unknown reason", http.StatusBadRequest)
			return
		}
		entries = lo.Filter(entries, func(e ledger.Entry, _ int) bool { return e.Reason == want })
	}
	writeJSON(w, lo.Subset(entries, -limit, uint(limit)))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, engine.Summarize(s.Eng.State()))
}

func (s *Server) handleStatsHistory(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	rows, err := s.DB.RecentDays(queryInt(r, "limit", 30, 1000))
	if err != nil {
		slog.Error("stats history query failed", "error", err)
		// Return empty array instead of error; the run may not have data yet.
		writeJSON(w, []persistence.DayRecord{})
		return
	}
	writeJSON(w, rows)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	runs, err := s.DB.Runs()
	if err != nil {
		slog.Error("runs query failed", "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, runs)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.Hub == nil {
		http.Error(w, "streaming disabled", http.StatusServiceUnavailable)
		return
	}
	hello, err := json.Marshal(Message{Type: "day", Payload: engine.Summarize(s.Eng.State())})
	if err != nil {
		http.Error(w, "encode failed", http.StatusInternalServerError)
		return
	}
	s.Hub.serve(w, r, hello)
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			Speed *float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Speed == nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if err := s.Eng.SetSpeed(*req.Speed); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if s.Hub != nil {
			s.Hub.Publish("speed", map[string]float64{"speed": *req.Speed})
		}
	}

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.SnapshotPath == "" {
		http.Error(w, "snapshots not configured", http.StatusServiceUnavailable)
		return
	}

	st, rng, err := s.Eng.Snapshot()
	if err == nil {
		runID := ""
		if s.DB != nil {
			runID = s.DB.RunID()
		}
		err = persistence.WriteSnapshot(s.SnapshotPath, runID, st, rng)
	}
	if err != nil {
		slog.Error("snapshot save failed", "error", err)
		http.Error(w, "snapshot failed", http.StatusInternalServerError)
		return
	}

	slog.Info("snapshot saved", "day", st.Day, "path", s.SnapshotPath)
	writeJSON(w, map[string]any{
		"day":     st.Day,
		"message": "snapshot saved",
	})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
