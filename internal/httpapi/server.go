// Package httpapi exposes the ingestion pipeline and the stored bar data
// over HTTP. A triggered run that reaches its summary answers 200 even when
// individual symbols failed; only a run that could not start at all maps to
// an error status.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"marketsync/internal/ingest"
	"marketsync/internal/store"
	"marketsync/internal/util"
)

// Runner triggers ingestion runs. *ingest.Pipeline is the production
// implementation.
type Runner interface {
	Run(ctx context.Context, symbols []string) (*ingest.Summary, error)
	RunHistorical(ctx context.Context, symbols []string, start time.Time) (*ingest.Summary, error)
}

var _ Runner = (*ingest.Pipeline)(nil)

// Server serves the ingestion HTTP API.
type Server struct {
	store  store.StockStore
	runner Runner

	// Defaults when the request doesn't name them.
	symbols         []string
	historicalStart time.Time

	log *slog.Logger
}

// NewServer creates a Server. symbols is the default universe for triggered
// runs and the status endpoint; historicalStart is the default start of a
// historical load.
func NewServer(st store.StockStore, runner Runner, symbols []string, historicalStart time.Time) *Server {
	return &Server{
		store:           st,
		runner:          runner,
		symbols:         symbols,
		historicalStart: historicalStart,
		log:             slog.Default().With("component", "httpapi"),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/ingest", s.handleIngest)
	mux.HandleFunc("GET /api/bars/{symbol}", s.handleBars)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/health", s.handleHealth)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

// handleIngest triggers a synchronous ingestion run.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	src := req.Symbols
	if len(src) == 0 {
		src = s.symbols
	}
	symbols := make([]string, len(src))
	for i, sym := range src {
		symbols[i] = strings.ToUpper(strings.TrimSpace(sym))
	}

	mode := req.Mode
	if mode == "" {
		mode = ingest.ModeDaily
	}

	var (
		summary *ingest.Summary
		err     error
	)
	switch mode {
	case ingest.ModeDaily:
		summary, err = s.runner.Run(r.Context(), symbols)
	case ingest.ModeHistorical:
		start := s.historicalStart
		if req.Start != "" {
			start, err = time.Parse(dateFormat, req.Start)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid start date: "+req.Start)
				return
			}
		}
		summary, err = s.runner.RunHistorical(r.Context(), symbols, start)
	default:
		writeError(w, http.StatusBadRequest, "unknown mode: "+mode)
		return
	}
	if err != nil {
		// The run never started (store unreachable).
		s.log.Error("ingestion run failed to start", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, newIngestResponse(summary))
}

// handleBars serves stored bars for one symbol. Query params: start and end
// (YYYY-MM-DD, both optional) and adjusted (bool, default false).
func (s *Server) handleBars(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))

	from := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	to := util.MidnightUTC(time.Now())
	q := r.URL.Query()

	if v := q.Get("start"); v != "" {
		t, err := time.Parse(dateFormat, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start date: "+v)
			return
		}
		from = t
	}
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(dateFormat, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid end date: "+v)
			return
		}
		to = t
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "end date before start date")
		return
	}
	adjusted := q.Get("adjusted") == "true" || q.Get("adjusted") == "1"

	bars, err := s.store.BarsInRange(r.Context(), symbol, from, to)
	if err != nil {
		s.log.Error("reading bars", "symbol", symbol, "error", err)
		writeError(w, http.StatusInternalServerError, "reading bars: "+err.Error())
		return
	}

	writeJSON(w, newBarsResponse(symbol, bars, adjusted))
}

// handleStatus reports per-symbol row counts and latest dates for the
// configured universe.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Symbols: make([]SymbolStatus, 0, len(s.symbols))}
	for _, sym := range s.symbols {
		st := SymbolStatus{Symbol: sym}

		count, err := s.store.Count(r.Context(), sym)
		if err != nil {
			s.log.Error("status count", "symbol", sym, "error", err)
			writeError(w, http.StatusInternalServerError, "reading status: "+err.Error())
			return
		}
		st.Rows = count

		latest, err := s.store.LatestBar(r.Context(), sym)
		if err != nil {
			s.log.Error("status latest", "symbol", sym, "error", err)
			writeError(w, http.StatusInternalServerError, "reading status: "+err.Error())
			return
		}
		if latest != nil {
			st.LatestDate = latest.Date.Format(dateFormat)
		}

		resp.Symbols = append(resp.Symbols, st)
	}
	writeJSON(w, resp)
}

// handleHealth answers 200 when the store responds to a ping.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unreachable: "+err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}
