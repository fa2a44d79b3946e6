package web

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/custodia-labs/cvm/internal/logger"
	"github.com/custodia-labs/cvm/internal/state"
	"github.com/custodia-labs/cvm/internal/types"
	"github.com/custodia-labs/cvm/internal/utils"
	"github.com/custodia-labs/cvm/internal/vault"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer exposes a read-only JSON view of the vault. It never mutates
// state: every mutating path goes through the engine with a capability.
type WebServer struct {
	router *mux.Router
	port   string
	vault  vault.Reader
}

// NewWebServer creates a new web server instance over a read-only vault view.
func NewWebServer(port string, v vault.Reader) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router: mux.NewRouter(),
		port:   port,
		vault:  v,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")
	ws.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/vault/summary", ws.handleGetVaultSummary).Methods("GET")
	api.HandleFunc("/vault/slots", ws.handleGetSlots).Methods("GET")
	api.HandleFunc("/vault/ledger", ws.handleGetLedger).Methods("GET")
	api.HandleFunc("/vault/operation", ws.handleGetOperation).Methods("GET")
	api.HandleFunc("/receipts/{owner}", ws.handleGetReceipt).Methods("GET")
	api.HandleFunc("/requests", ws.handleGetRequests).Methods("GET")

	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns server health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	hasErrors := false

	dbHealthy := true
	if err := state.TestDBConnection(); err != nil {
		dbHealthy = false
		hasErrors = true
	}

	invariantsOK := true
	if err := ws.vault.CheckInvariants(); err != nil {
		webLogger.Error().Err(err).Msg("Invariant check failed in health probe")
		invariantsOK = false
		hasErrors = true
	}

	overallStatus := "OK"
	if hasErrors {
		overallStatus = "DEGRADED"
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"sys_bytes":        memStats.Sys,
			"gc_cycles":        memStats.NumGC,
		},
		"component": map[string]interface{}{
			"name":    "cvm-custodial-vault-manager",
			"version": "1.0.0",
		},
		"vault_status": map[string]interface{}{
			"database_healthy": dbHealthy,
			"invariants_ok":    invariantsOK,
			"vault_id":         ws.vault.ID(),
			"status":           ws.vault.Status(),
			"during_operation": ws.vault.OpRecord() != nil,
		},
	}

	statusCode := http.StatusOK
	if hasErrors {
		statusCode = http.StatusServiceUnavailable
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetVaultSummary returns vault summary statistics
func (ws *WebServer) handleGetVaultSummary(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()

	summary := map[string]interface{}{
		"vault_id":         ws.vault.ID(),
		"status":           ws.vault.Status(),
		"total_shares":     ws.vault.TotalShares().String(),
		"cur_epoch":        ws.vault.CurEpoch(),
		"cur_epoch_loss":   ws.vault.CurEpochLoss().String(),
		"fee_collected":    ws.vault.FeeCollected().String(),
		"during_operation": ws.vault.OpRecord() != nil,
		"timestamp":        now,
	}

	// A stale ledger is reported, not hidden: valuation fields go null and
	// the reason is attached.
	if total, err := ws.vault.TotalValue(now); err == nil {
		summary["total_value"] = total.String()
		if display, err := utils.IntToDisplayFloat(total, types.CanonicalDecimals); err == nil {
			summary["total_value_usd"] = display
		}
	} else {
		summary["total_value"] = nil
		summary["valuation_error"] = err.Error()
	}
	if ratio, err := ws.vault.ShareRatio(now); err == nil {
		summary["share_ratio"] = ratio.String()
	} else {
		summary["share_ratio"] = nil
	}

	ws.writeJSONResponse(w, http.StatusOK, summary)
}

// handleGetSlots returns every slot in vault custody
func (ws *WebServer) handleGetSlots(w http.ResponseWriter, r *http.Request) {
	slots := ws.vault.Slots()
	response := map[string]interface{}{
		"slots": slots,
		"count": len(slots),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetLedger returns the valuation ledger contents
func (ws *WebServer) handleGetLedger(w http.ResponseWriter, r *http.Request) {
	entries := ws.vault.LedgerEntries()
	response := map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetOperation returns the current operation record, if any
func (ws *WebServer) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	record := ws.vault.OpRecord()
	if record == nil {
		ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
			"during_operation": false,
		})
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"during_operation": true,
		"operation":        record,
	})
}

// handleGetReceipt returns one owner's receipt
func (ws *WebServer) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	owner := vars["owner"]

	receipt, exists := ws.vault.Receipt(owner)
	if !exists {
		ws.writeErrorResponse(w, http.StatusNotFound, "No receipt for owner")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, receipt)
}

// handleGetRequests returns both pending request queues
func (ws *WebServer) handleGetRequests(w http.ResponseWriter, r *http.Request) {
	deposits := ws.vault.PendingDepositRequests()
	withdrawals := ws.vault.PendingWithdrawRequests()

	response := map[string]interface{}{
		"deposits":    deposits,
		"withdrawals": withdrawals,
		"count":       len(deposits) + len(withdrawals),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs each request at debug level
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		webLogger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}
