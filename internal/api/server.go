package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"VeriStake/internal/attestation"
	"VeriStake/internal/events"
	"VeriStake/internal/gov"
	"VeriStake/internal/logger"
	"VeriStake/internal/scoring"
	"VeriStake/internal/stake"
	"VeriStake/internal/timelock"
	"VeriStake/internal/tokens"
	"VeriStake/internal/types"
	"VeriStake/internal/verifier"
)

const (
	// defaultEventPage is the page size for GET /events when the caller
	// does not pass a limit.
	defaultEventPage = 256

	// maxEventPage caps the page size a caller can request.
	maxEventPage = 1000
)

// Deps collects the wired platform components the server exposes.
type Deps struct {
	Stake     *stake.Ledger
	Scoring   *scoring.Engine
	Attest    *attestation.Ledger
	Verifiers *verifier.Registry
	Timelock  *timelock.Scheduler
	Authority *gov.Authority
	Tokens    *tokens.Ledger
	Journal   *events.Journal

	// Now overrides the server clock. Nil selects wall time.
	Now func() uint64
}

// Server is the HTTP front end. Every platform operation is reachable
// here: mutating routes carry a signed envelope attributing the caller,
// reads are open.
type Server struct {
	addr string

	stake     *stake.Ledger
	scoring   *scoring.Engine
	attest    *attestation.Ledger
	verifiers *verifier.Registry
	timelock  *timelock.Scheduler
	authority *gov.Authority
	tokens    *tokens.Ledger
	journal   *events.Journal

	now    func() uint64
	server *http.Server
}

// New creates the HTTP API server.
func New(addr string, deps Deps) *Server {
	now := deps.Now
	if now == nil {
		now = func() uint64 { return uint64(time.Now().Unix()) }
	}

	return &Server{
		addr:      addr,
		stake:     deps.Stake,
		scoring:   deps.Scoring,
		attest:    deps.Attest,
		verifiers: deps.Verifiers,
		timelock:  deps.Timelock,
		authority: deps.Authority,
		tokens:    deps.Tokens,
		journal:   deps.Journal,
		now:       now,
	}
}

// routes builds the request multiplexer.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /stake/deposit", s.handleDeposit)
	mux.HandleFunc("POST /stake/register", s.handleRegister)
	mux.HandleFunc("POST /stake/deregister", s.handleDeregister)
	mux.HandleFunc("POST /stake/withdraw", s.handleWithdraw)
	mux.HandleFunc("GET /stake/{id}", s.handleStakeInfo)

	mux.HandleFunc("POST /attestations", s.handlePostAttestation)
	mux.HandleFunc("GET /attestations/{subject}/count", s.handleAttestationCount)
	mux.HandleFunc("GET /attestations/{subject}/latest", s.handleLatestScore)
	mux.HandleFunc("GET /attestations/{subject}/{index}", s.handleAttestationAt)

	mux.HandleFunc("POST /score", s.handleScore)
	mux.HandleFunc("GET /score/weights", s.handleWeights)

	mux.HandleFunc("POST /verify", s.handleVerify)
	mux.HandleFunc("GET /verifiers/{id}", s.handleVerifierInfo)

	mux.HandleFunc("POST /gov/schedule", s.handleSchedule)
	mux.HandleFunc("POST /gov/execute", s.handleExecute)
	mux.HandleFunc("GET /gov/operations/{id}", s.handleOperation)

	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

// Handler returns the routed handler, for callers that mount the API
// inside their own server.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", s.addr)

		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleStatus handles GET /status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	custody, err := s.tokens.CustodyBalance()
	if err != nil {
		writeError(w, statusFromErr(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, StatusInfo{
		Head:     s.journal.Head(),
		Governor: s.authority.Owner().String(),
		MinStake: s.stake.MinStake(),
		MinDelay: s.timelock.MinDelay(),
		Custody:  custody,
	})
}

// handleEvents handles GET /events?from=N&limit=M requests, the HTTP
// fallback for consumers that cannot speak the QUIC feed.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	from, err := queryUint(r, "from", 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit, err := queryUint(r, "limit", defaultEventPage)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if limit == 0 || limit > maxEventPage {
		limit = maxEventPage
	}

	evs, err := s.journal.ReadSince(from, int(limit))
	if err != nil {
		writeError(w, statusFromErr(err), err.Error())
		return
	}

	out := make([]EventRecord, len(evs))
	for i, e := range evs {
		out[i] = toEventRecord(e)
	}

	writeJSON(w, http.StatusOK, out)
}

// queryUint parses an optional unsigned query parameter.
func queryUint(r *http.Request, name string, def uint64) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}

	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, types.Validationf("%s: %v", name, err)
	}

	return v, nil
}

// statusFromErr maps the platform error taxonomy to HTTP status codes.
func statusFromErr(err error) int {
	switch {
	case errors.Is(err, types.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, types.ErrState):
		return http.StatusConflict
	case errors.Is(err, types.ErrExternalCall):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
