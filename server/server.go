package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ShanRaboy11/unitap/ledger"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	nm "github.com/cometbft/cometbft/node"
	cmtrpc "github.com/cometbft/cometbft/rpc/client/local"
	"github.com/google/uuid"
)

// Ledger is the invocation surface the HTTP handlers need. The gateway
// implements it; tests substitute a fake.
type Ledger interface {
	SubmitTransaction(ctx context.Context, fn string, args ...string) ([]byte, error)
	EvaluateTransaction(ctx context.Context, path string) ([]byte, error)
}

// WebServer handles HTTP requests
type WebServer struct {
	ledger         Ledger
	httpAddr       string
	server         *http.Server
	logger         cmtlog.Logger
	node           *nm.Node
	rpc            *cmtrpc.Local
	metricsHandler http.Handler
	startTime      time.Time
}

// ClientResponse is the envelope for successful submits and evaluates.
type ClientResponse struct {
	RequestID string          `json:"request_id"`
	Result    json.RawMessage `json:"result"`
}

type createTransactionRequest struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	RecipientID  string `json:"recipient_id"`
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currency_code"`
	FeeAmount    string `json:"fee_amount"`
	Type         string `json:"type"`
	Description  string `json:"description"`
	EcoPoints    string `json:"eco_points"`
}

type createQrTokenRequest struct {
	TokenSignature  string `json:"token_signature"`
	UserID          string `json:"user_id"`
	TransactionType string `json:"transaction_type"`
	AmountLocked    string `json:"amount_locked"`
	ExpiresAt       string `json:"expires_at"`
}

type verifyQrTokenRequest struct {
	TokenSignature string `json:"token_signature"`
	ScannerID      string `json:"scanner_id"`
}

type purgeQrTokensRequest struct {
	Limit string `json:"limit"`
}

// NewWebServer creates a new web server. node and rpc may be nil in tests;
// the ledger routes do not need them.
func NewWebServer(lgr Ledger, httpPort string, logger cmtlog.Logger, node *nm.Node, rpc *cmtrpc.Local, metricsHandler http.Handler) *WebServer {
	mux := http.NewServeMux()

	server := &WebServer{
		ledger:   lgr,
		httpAddr: ":" + httpPort,
		server: &http.Server{
			Addr:    ":" + httpPort,
			Handler: mux,
		},
		logger:         logger,
		node:           node,
		rpc:            rpc,
		metricsHandler: metricsHandler,
		startTime:      time.Now(),
	}

	// Register routes
	mux.HandleFunc("/tx/create", server.handleCreateTransaction)
	mux.HandleFunc("/tx/", server.handleGetTransaction)
	mux.HandleFunc("/user/", server.handleUserTransactions)
	mux.HandleFunc("/qr/create", server.handleCreateQrToken)
	mux.HandleFunc("/qr/verify", server.handleVerifyQrToken)
	mux.HandleFunc("/qr/purge", server.handlePurgeQrTokens)
	mux.HandleFunc("/qr/", server.handleGetQrToken)
	mux.HandleFunc("/health", server.handleHealth)
	mux.HandleFunc("/metadata", server.handleMetadata)
	mux.HandleFunc("/block/", server.handleBlockInfo)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	return server
}

// Handler exposes the route mux, for tests.
func (ws *WebServer) Handler() http.Handler {
	return ws.server.Handler
}

// Start starts the web server
func (ws *WebServer) Start() error {
	ws.logger.Info("Starting web server", "addr", ws.httpAddr)
	go func() {
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ws.logger.Error("web server error: ", "err", err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the web server
func (ws *WebServer) Shutdown(ctx context.Context) error {
	ws.logger.Info("Shutting down web server")
	return ws.server.Shutdown(ctx)
}

func (ws *WebServer) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	ws.submit(w, r, "createTransaction",
		req.ID, req.UserID, req.RecipientID, req.Amount, req.CurrencyCode,
		req.FeeAmount, req.Type, req.Description, req.EcoPoints)
}

func (ws *WebServer) handleCreateQrToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createQrTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	ws.submit(w, r, "createQrToken",
		req.TokenSignature, req.UserID, req.TransactionType, req.AmountLocked, req.ExpiresAt)
}

func (ws *WebServer) handleVerifyQrToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req verifyQrTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	ws.submit(w, r, "verifyQrToken", req.TokenSignature, req.ScannerID)
}

func (ws *WebServer) handlePurgeQrTokens(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Body is optional; an empty purge uses the default limit.
	var req purgeQrTokensRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	ws.submit(w, r, "purgeExpiredQrTokens", req.Limit)
}

func (ws *WebServer) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	pathParts := strings.Split(r.URL.Path, "/")
	if len(pathParts) != 3 || pathParts[2] == "" {
		JSONError(w, "Invalid transaction ID", http.StatusBadRequest)
		return
	}

	ws.evaluate(w, r, "tx/"+pathParts[2])
}

func (ws *WebServer) handleGetQrToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	pathParts := strings.Split(r.URL.Path, "/")
	if len(pathParts) != 3 || pathParts[2] == "" {
		JSONError(w, "Invalid token signature", http.StatusBadRequest)
		return
	}

	ws.evaluate(w, r, "qr/"+pathParts[2])
}

func (ws *WebServer) handleUserTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	pathParts := strings.Split(r.URL.Path, "/")
	if len(pathParts) != 4 || pathParts[2] == "" || pathParts[3] != "transactions" {
		JSONError(w, "Invalid user transactions path", http.StatusBadRequest)
		return
	}

	ws.evaluate(w, r, "user/"+pathParts[2]+"/transactions")
}

// submit broadcasts a mutating invocation and renders the committed record.
func (ws *WebServer) submit(w http.ResponseWriter, r *http.Request, fn string, args ...string) {
	requestID := uuid.NewString()

	result, err := ws.ledger.SubmitTransaction(r.Context(), fn, args...)
	if err != nil {
		ws.writeLedgerError(w, requestID, fn, err)
		return
	}

	writeJSON(w, http.StatusOK, ClientResponse{RequestID: requestID, Result: result})
}

func (ws *WebServer) evaluate(w http.ResponseWriter, r *http.Request, path string) {
	requestID := uuid.NewString()

	result, err := ws.ledger.EvaluateTransaction(r.Context(), path)
	if err != nil {
		ws.writeLedgerError(w, requestID, path, err)
		return
	}

	writeJSON(w, http.StatusOK, ClientResponse{RequestID: requestID, Result: result})
}

// writeLedgerError maps ledger failure kinds onto HTTP status codes. The
// reason string passes through verbatim so clients see the same message the
// state machine produced.
func (ws *WebServer) writeLedgerError(w http.ResponseWriter, requestID, op string, err error) {
	status := http.StatusInternalServerError
	switch ledger.KindOf(err) {
	case ledger.KindValidation:
		status = http.StatusBadRequest
	case ledger.KindNotFound:
		status = http.StatusNotFound
	case ledger.KindAlreadyExists, ledger.KindAlreadyConsumed:
		status = http.StatusConflict
	case ledger.KindExpired:
		status = http.StatusGone
	}

	if status == http.StatusInternalServerError {
		ws.logger.Error("Ledger request failed", "op", op, "request_id", requestID, "err", err)
	}
	JSONError(w, err.Error(), status)
}

// handleHealth reports node liveness and sync state.
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(ws.startTime).String(),
	}

	if ws.rpc != nil {
		status, err := ws.rpc.Status(r.Context())
		if err != nil {
			health["status"] = "degraded"
			health["node_error"] = err.Error()
		} else {
			health["latest_block_height"] = status.SyncInfo.LatestBlockHeight
			health["catching_up"] = status.SyncInfo.CatchingUp
		}
	}

	writeJSON(w, http.StatusOK, health)
}

// handleMetadata describes this node.
func (ws *WebServer) handleMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	meta := map[string]interface{}{
		"service": "unitap-ledger",
		"uptime":  time.Since(ws.startTime).String(),
	}

	if ws.node != nil {
		meta["node_id"] = string(ws.node.NodeInfo().ID())
		meta["p2p_address"] = ws.node.Config().P2P.ListenAddress
		meta["rpc_address"] = ws.node.Config().RPC.ListenAddress
	}
	if ws.rpc != nil {
		abciInfo, err := ws.rpc.ABCIInfo(r.Context())
		if err != nil {
			meta["abci_error"] = err.Error()
		} else {
			meta["app_version"] = abciInfo.Response.Version
			meta["last_block_height"] = abciInfo.Response.LastBlockHeight
			meta["last_block_app_hash"] = fmt.Sprintf("%X", abciInfo.Response.LastBlockAppHash)
		}
	}

	writeJSON(w, http.StatusOK, meta)
}

// handleBlockInfo returns block information for a given height
func (ws *WebServer) handleBlockInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	pathParts := strings.Split(r.URL.Path, "/")
	if len(pathParts) != 3 || pathParts[1] != "block" {
		JSONError(w, "Invalid block height", http.StatusBadRequest)
		return
	}

	height, err := strconv.ParseInt(pathParts[2], 10, 64)
	if err != nil {
		JSONError(w, "Invalid block height format", http.StatusBadRequest)
		return
	}

	if ws.rpc == nil {
		JSONError(w, "Node RPC unavailable", http.StatusServiceUnavailable)
		return
	}

	block, err := ws.rpc.Block(r.Context(), &height)
	if err != nil {
		JSONError(w, "Error fetching block: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if block.Block == nil {
		JSONError(w, "Block not found", http.StatusNotFound)
		return
	}

	// Decode the invocations the block carries where possible.
	var invocations []ledger.Invocation
	for _, tx := range block.Block.Txs {
		var inv ledger.Invocation
		if err := json.Unmarshal(tx, &inv); err == nil {
			invocations = append(invocations, inv)
		}
	}

	blockInfo := struct {
		Height          int64               `json:"height"`
		Hash            string              `json:"hash"`
		Time            time.Time           `json:"time"`
		NumTxs          int                 `json:"num_txs"`
		Invocations     []ledger.Invocation `json:"invocations"`
		ProposerAddress string              `json:"proposer_address"`
	}{
		Height:          block.Block.Height,
		Hash:            fmt.Sprintf("%X", block.BlockID.Hash),
		Time:            block.Block.Time,
		NumTxs:          len(block.Block.Txs),
		Invocations:     invocations,
		ProposerAddress: fmt.Sprintf("%X", block.Block.ProposerAddress),
	}

	writeJSON(w, http.StatusOK, blockInfo)
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(body)
}

// JSONError sends a JSON formatted error response with the given status code and message
func JSONError(w http.ResponseWriter, message string, statusCode int) {
	errorResponse := struct {
		Error string `json:"error"`
	}{
		Error: message,
	}
	jsonBytes, err := json.Marshal(errorResponse)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(jsonBytes)
}
