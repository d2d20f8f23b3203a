package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"SynthLedger/internal/core"
	"SynthLedger/internal/ingestion"
	"SynthLedger/internal/observability"
	"SynthLedger/internal/persistence"
	"SynthLedger/internal/projection"
	"SynthLedger/internal/query"
	"SynthLedger/internal/state"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// maxBodyBytes bounds operation payloads. Wire events are a few hundred
// bytes; anything near the cap is garbage.
const maxBodyBytes = 1 << 20

// ServerDeps holds all dependencies needed by the HTTP handlers.
type ServerDeps struct {
	DB            *sql.DB
	QueryService  *query.QueryService
	Injector      *ingestion.Injector
	SnapshotMgr   *persistence.SnapshotManager
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	StartTime     time.Time
}

// HTTPServer serves operation submission, queries, admin endpoints, health
// probes and Prometheus metrics on one listener. Submissions hold the
// request open until the core reports the outcome, so a 200 means applied.
type HTTPServer struct {
	server *http.Server
	deps   *ServerDeps
}

func NewHTTPServer(addr string, deps *ServerDeps) *HTTPServer {
	s := &HTTPServer{deps: deps}

	r := mux.NewRouter()

	// Operation submission: wire-format JSON bodies, same format the NATS
	// subjects carry.
	ops := r.PathPrefix("/v1/operations").Subrouter()
	ops.HandleFunc("/deposit", s.submitHandler("DepositCollateral")).Methods(http.MethodPost)
	ops.HandleFunc("/mint", s.submitHandler("MintSynth")).Methods(http.MethodPost)
	ops.HandleFunc("/deposit-and-mint", s.submitHandler("DepositAndMint")).Methods(http.MethodPost)
	ops.HandleFunc("/burn", s.submitHandler("BurnSynth")).Methods(http.MethodPost)
	ops.HandleFunc("/redeem", s.submitHandler("RedeemCollateral")).Methods(http.MethodPost)
	ops.HandleFunc("/redeem-for-synth", s.submitHandler("RedeemForSynth")).Methods(http.MethodPost)
	ops.HandleFunc("/liquidate", s.submitHandler("Liquidate")).Methods(http.MethodPost)
	r.HandleFunc("/v1/prices", s.submitHandler("PriceUpdate")).Methods(http.MethodPost)

	// Queries against projections.
	r.HandleFunc("/v1/accounts/{user_id}", s.handleGetAccount).Methods(http.MethodGet)
	r.HandleFunc("/v1/accounts/{user_id}/collateral/{asset}", s.handleCollateralBalance).Methods(http.MethodGet)
	r.HandleFunc("/v1/accounts/{user_id}/journal", s.handleJournalHistory).Methods(http.MethodGet)
	r.HandleFunc("/v1/accounts/{user_id}/liquidations", s.handleLiquidationHistory).Methods(http.MethodGet)
	r.HandleFunc("/v1/operations", s.handleOperationHistory).Methods(http.MethodGet)
	r.HandleFunc("/v1/supply", s.handleSupply).Methods(http.MethodGet)
	r.HandleFunc("/v1/prices/{asset}", s.handleGetPrice).Methods(http.MethodGet)
	r.HandleFunc("/v1/convert/{asset}", s.handleConvert).Methods(http.MethodGet)
	r.HandleFunc("/v1/params", s.handleParams).Methods(http.MethodGet)

	// Admin.
	r.HandleFunc("/v1/admin/integrity", s.handleVerifyIntegrity).Methods(http.MethodGet)
	r.HandleFunc("/v1/admin/oplog", s.handleOpLogInfo).Methods(http.MethodGet)
	r.HandleFunc("/v1/admin/projections/rebuild", s.handleRebuildProjections).Methods(http.MethodPost)

	if deps.HealthChecker != nil {
		r.HandleFunc("/healthz", deps.HealthChecker.LivenessHandler).Methods(http.MethodGet)
		r.HandleFunc("/readyz", deps.HealthChecker.ReadinessHandler).Methods(http.MethodGet)
	} else {
		r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, `{"status":"ok"}`)
		}).Methods(http.MethodGet)
	}
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(r)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Start runs the server until ctx is cancelled (blocking). It returns only
// after in-flight handlers have drained, so callers can tear down the core
// request funnel as soon as Start comes back.
func (s *HTTPServer) Start(ctx context.Context) error {
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		log.Println("INFO: HTTP server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	log.Printf("INFO: HTTP server listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	<-shutdownDone
	return nil
}

// --- Operation submission ---

// submitHandler parses a wire-format operation and funnels it into the
// core, blocking until the outcome is known. HTTP submissions carry no
// stream position, so their source sequence is zero and ordering
// validation does not apply; idempotency still does.
func (s *HTTPServer) submitHandler(eventType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
			return
		}

		evt, err := ingestion.ParseRawEvent(ingestion.RawEvent{Subject: "http", Data: body}, eventType)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if err := s.deps.Injector.Submit(r.Context(), evt); err != nil {
			writeError(w, statusForCoreError(err), err.Error())
			return
		}

		// Redelivered idempotency keys also land here: the core
		// acknowledges them without reapplying, which is exactly what a
		// retrying client wants.
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":          "applied",
			"event_type":      eventType,
			"idempotency_key": evt.IdempotencyKey(),
		})
	}
}

// statusForCoreError maps the core's rejection classes onto HTTP codes.
// Input rejections are the caller's fault, solvency rejections conflict
// with ledger state, collaborator failures are upstream faults.
func statusForCoreError(err error) int {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	switch core.Classify(err) {
	case core.ClassSolvency:
		return http.StatusConflict
	case core.ClassCollaborator:
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}

// --- Query handlers ---

func (s *HTTPServer) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(mux.Vars(r)["user_id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid user_id: %v", err))
		return
	}

	start := time.Now()
	resp, err := s.deps.QueryService.GetAccount(r.Context(), userID)
	s.finishQuery(w, "account", start, resp, err)
}

func (s *HTTPServer) handleJournalHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(mux.Vars(r)["user_id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid user_id: %v", err))
		return
	}
	limit, before := paginationParams(r)

	start := time.Now()
	entries, err := s.deps.QueryService.GetJournalHistory(r.Context(), userID, limit, before)
	if entries == nil {
		entries = []query.JournalHistoryEntry{}
	}
	s.finishQuery(w, "journal", start, map[string]interface{}{"journals": entries}, err)
}

func (s *HTTPServer) handleLiquidationHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(mux.Vars(r)["user_id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid user_id: %v", err))
		return
	}
	limit, before := paginationParams(r)

	start := time.Now()
	records, err := s.deps.QueryService.GetLiquidationHistory(r.Context(), userID, limit, before)
	if records == nil {
		records = []query.LiquidationRecord{}
	}
	s.finishQuery(w, "liquidations", start, map[string]interface{}{"liquidations": records}, err)
}

func (s *HTTPServer) handleOperationHistory(w http.ResponseWriter, r *http.Request) {
	limit, before := paginationParams(r)

	start := time.Now()
	records, err := s.deps.QueryService.GetOperationHistory(r.Context(), limit, before)
	if records == nil {
		records = []query.OperationRecord{}
	}
	s.finishQuery(w, "operations", start, map[string]interface{}{"operations": records}, err)
}

func (s *HTTPServer) handleSupply(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	resp, err := s.deps.QueryService.GetSynthSupply(r.Context())
	s.finishQuery(w, "supply", start, resp, err)
}

func (s *HTTPServer) handleCollateralBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(mux.Vars(r)["user_id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid user_id: %v", err))
		return
	}

	start := time.Now()
	resp, err := s.deps.QueryService.GetCollateralBalance(r.Context(), userID, mux.Vars(r)["asset"])
	s.finishQuery(w, "collateral", start, resp, err)
}

func (s *HTTPServer) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	resp, err := s.deps.QueryService.GetPrice(r.Context(), mux.Vars(r)["asset"])
	s.finishQuery(w, "price", start, resp, err)
}

// handleConvert serves token<->usd conversions at the latest projected
// price. Exactly one of token_amount or usd_amount selects the direction.
func (s *HTTPServer) handleConvert(w http.ResponseWriter, r *http.Request) {
	asset := mux.Vars(r)["asset"]
	tokenRaw := r.URL.Query().Get("token_amount")
	usdRaw := r.URL.Query().Get("usd_amount")
	if (tokenRaw == "") == (usdRaw == "") {
		writeError(w, http.StatusBadRequest, "exactly one of token_amount or usd_amount is required")
		return
	}

	raw := tokenRaw
	if raw == "" {
		raw = usdRaw
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() < 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("amount %q is not a non-negative base-10 integer", raw))
		return
	}

	start := time.Now()
	var resp *query.ConversionResponse
	var err error
	if tokenRaw != "" {
		resp, err = s.deps.QueryService.ConvertTokenToUSD(r.Context(), asset, amount)
	} else {
		resp, err = s.deps.QueryService.ConvertUSDToToken(r.Context(), asset, amount)
	}
	s.finishQuery(w, "convert", start, resp, err)
}

func (s *HTTPServer) handleParams(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.finishQuery(w, "params", start, s.deps.QueryService.GetParams(), nil)
}

// --- Admin handlers ---

func (s *HTTPServer) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	report, err := s.deps.QueryService.VerifyIntegrity(r.Context())
	s.finishQuery(w, "integrity", start, report, err)
}

func (s *HTTPServer) handleOpLogInfo(w http.ResponseWriter, r *http.Request) {
	latestSeq, err := s.deps.SnapshotMgr.GetLatestSequence(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("get latest sequence: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"last_sequence":  latestSeq,
		"uptime_seconds": int64(time.Since(s.deps.StartTime).Seconds()),
	})
}

func (s *HTTPServer) handleRebuildProjections(w http.ResponseWriter, r *http.Request) {
	if err := projection.RebuildProjections(r.Context(), s.deps.DB); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("rebuild failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rebuilt": true})
}

// --- helpers ---

// finishQuery records query metrics and writes either the response or the
// mapped error. Oracle gaps surface as 502: the data needed to answer is
// missing upstream, not here.
func (s *HTTPServer) finishQuery(w http.ResponseWriter, endpoint string, start time.Time, resp interface{}, err error) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, state.ErrOracleFailure) {
			status = http.StatusBadGateway
		}
		if errors.Is(err, state.ErrAssetNotAllowed) {
			status = http.StatusBadRequest
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.QueryRequests.WithLabelValues(endpoint, "error").Inc()
			s.deps.Metrics.QueryErrors.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
		}
		writeError(w, status, err.Error())
		return
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.QueryRequests.WithLabelValues(endpoint, "ok").Inc()
	}
	writeJSON(w, http.StatusOK, resp)
}

// paginationParams reads limit and before-cursor query parameters,
// clamping limit so projection scans stay bounded.
func paginationParams(r *http.Request) (int, *int64) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	var before *int64
	if raw := r.URL.Query().Get("before"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			before = &n
		}
	}

	return limit, before
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("WARN: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
