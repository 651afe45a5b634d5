package rpc

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"shopchain/core"
	"shopchain/observability/logging"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
)

// Server exposes the marketplace operations over JSON-RPC 2.0.
type Server struct {
	node   *core.Node
	logger *slog.Logger
}

// NewServer creates an RPC server bound to the node.
func NewServer(node *core.Node, logger *slog.Logger) *Server {
	return &Server{
		node:   node,
		logger: logging.Component(logger, "rpc"),
	}
}

// Start serves JSON-RPC on addr, with Prometheus metrics at metricsPath.
func (s *Server) Start(addr, metricsPath string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	if metricsPath != "" {
		mux.Handle(metricsPath, promhttp.Handler())
	}
	s.logger.Info("starting JSON-RPC server", slog.String("addr", addr))
	return http.ListenAndServe(addr, mux)
}

// Handler returns the RPC entry point, useful for tests.
func (s *Server) Handler() http.HandlerFunc { return s.handle }

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "invalid_request", "POST required")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse_error", err.Error())
		return
	}
	req := new(RPCRequest)
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse_error", err.Error())
		return
	}

	switch req.Method {
	case "market_list":
		s.handleMarketList(w, req)
	case "market_execute":
		s.handleMarketExecute(w, req)
	case "market_delist":
		s.handleMarketDelist(w, req)
	case "market_getListing":
		s.handleMarketGetListing(w, req)
	case "market_getCounters":
		s.handleMarketGetCounters(w, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method_not_found", req.Method)
	}
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(RPCResponse{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	})
}
