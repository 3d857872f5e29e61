package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"goa.design/orchestra/telemetry"
)

type (
	// HandlerFunc processes one JSON-RPC method call. Implementations must
	// not block the caller's goroutine indefinitely; honour ctx
	// cancellation.
	HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

	// Server dispatches inbound JSON-RPC 2.0 requests to registered method
	// handlers (§4.2), rejecting with HTTP 503 once a per-host in-flight
	// cap is saturated (§5 Backpressure).
	Server struct {
		handlers    map[string]HandlerFunc
		obs         telemetry.Provider
		maxInFlight int64

		mu       sync.Mutex
		inFlight map[string]*int64
	}

	// ServerOption configures a Server.
	ServerOption func(*Server)
)

// WithMaxInFlight caps the number of concurrent in-flight requests the
// server accepts from any single host, rejecting the rest with HTTP 503
// (§5 Backpressure: "the server rejects inbound requests when per-host
// connection cap is saturated with HTTP 503; clients see this as
// retryable"). max <= 0 disables the cap.
func WithMaxInFlight(max int) ServerOption {
	return func(s *Server) { s.maxInFlight = int64(max) }
}

// NewServer constructs an empty Server. Register method handlers with
// Handle before calling ServeHTTP.
func NewServer(obs telemetry.Provider, opts ...ServerOption) *Server {
	s := &Server{handlers: make(map[string]HandlerFunc), obs: obs, inFlight: make(map[string]*int64)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle registers a handler for the given JSON-RPC method name.
func (s *Server) Handle(method string, h HandlerFunc) {
	s.handlers[method] = h
}

// hostOf extracts the host a request's in-flight count is tracked under,
// falling back to the raw RemoteAddr if it isn't a host:port pair.
func hostOf(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// acquire increments host's in-flight counter and reports whether the
// request may proceed; release must be called exactly once when it does.
func (s *Server) acquire(host string) (release func(), ok bool) {
	if s.maxInFlight <= 0 {
		return func() {}, true
	}
	s.mu.Lock()
	counter, exists := s.inFlight[host]
	if !exists {
		var n int64
		counter = &n
		s.inFlight[host] = counter
	}
	s.mu.Unlock()

	if atomic.AddInt64(counter, 1) > s.maxInFlight {
		atomic.AddInt64(counter, -1)
		return nil, false
	}
	return func() { atomic.AddInt64(counter, -1) }, true
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	w.Header().Set("Content-Type", "application/json")

	release, ok := s.acquire(hostOf(r))
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(rpcResponse{
			JSONRPC: "2.0",
			Error:   &RPCError{Code: CodeInternal, Message: "per-host request cap saturated"},
		})
		return
	}
	defer release()

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "", CodeInvalidRequest, "invalid JSON-RPC request", err)
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		s.writeError(w, req.ID, CodeInvalidRequest, "missing jsonrpc version or method", nil)
		return
	}

	handler, ok := s.handlers[req.Method]
	if !ok {
		s.writeError(w, req.ID, CodeMethodNotFound, "method not found: "+req.Method, nil)
		return
	}

	paramsRaw, err := json.Marshal(req.Params)
	if err != nil {
		s.writeError(w, req.ID, CodeInvalidParams, "invalid params", err)
		return
	}

	result, err := handler(ctx, paramsRaw)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			s.writeError(w, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
			return
		}
		s.obs.Logger.Error(ctx, "a2a handler failed", "method", req.Method, "error", err.Error())
		s.writeError(w, req.ID, CodeInternal, "internal error", err.Error())
		return
	}

	s.writeResult(w, req.ID, result)
}

func (s *Server) writeResult(w http.ResponseWriter, id string, result any) {
	raw, err := json.Marshal(result)
	if err != nil {
		s.writeError(w, id, CodeInternal, "failed to encode result", err.Error())
		return
	}
	resp := rpcResponse{JSONRPC: "2.0", Result: raw, ID: id}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) writeError(w http.ResponseWriter, id string, code int, msg string, data any) {
	var dataStr any
	if data != nil {
		if err, ok := data.(error); ok {
			dataStr = err.Error()
		} else {
			dataStr = data
		}
	}
	resp := rpcResponse{
		JSONRPC: "2.0",
		Error:   &RPCError{Code: code, Message: msg, Data: dataStr},
		ID:      id,
	}
	_ = json.NewEncoder(w).Encode(resp)
}
