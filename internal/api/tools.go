package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nugget/toolhost/internal/mcp"
	"github.com/nugget/toolhost/internal/toolset"
)

// InvokeRequest is the body of POST /v1/invoke.
type InvokeRequest struct {
	ServerID string          `json:"server_id"`
	Method   string          `json:"method"`
	Params   json.RawMessage `json:"params,omitempty"`
}

// InvokeResponse reports the outcome of an invoke. Failures are
// reported in-band with ok=false.
type InvokeResponse struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ToolCallRequest is the body of POST /v1/tools/call. Name is the
// qualified "<server>--<tool>" form.
type ToolCallRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// statusFor maps host errors onto HTTP status codes.
func statusFor(err error) int {
	var rpcErr *mcp.RPCError
	switch {
	case errors.Is(err, mcp.ErrInvalidToolName), errors.Is(err, mcp.ErrInvalidArguments):
		return http.StatusBadRequest
	case errors.Is(err, mcp.ErrUnknownServer), errors.Is(err, mcp.ErrUnknownTool), errors.Is(err, mcp.ErrUnknownMethod):
		return http.StatusNotFound
	case errors.Is(err, mcp.ErrCallTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &rpcErr), errors.Is(err, mcp.ErrTransportClosed), errors.Is(err, mcp.ErrUnexpectedRequest):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"servers": s.host.ServerIDs()}, s.logger)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.host.RefreshTools(r.Context(), id); err != nil {
		s.errorResponse(w, statusFor(err), err.Error())
		return
	}
	srv, _ := s.host.Server(id)
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"server_id": id, "tools": srv.ListTools(r.Context())}, s.logger)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	tools, err := s.host.ListTools(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"tools": tools}, s.logger)
}

func (s *Server) handleFunctions(w http.ResponseWriter, r *http.Request) {
	tools, err := s.host.ListTools(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"functions": mcp.FunctionDefinitions(tools)}, s.logger)
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req InvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.ServerID == "" || req.Method == "" {
		s.errorResponse(w, http.StatusBadRequest, "server_id and method are required")
		return
	}

	var params any
	if len(req.Params) > 0 {
		params = req.Params
	}

	w.Header().Set("Content-Type", "application/json")
	result, err := s.host.Invoke(r.Context(), req.ServerID, req.Method, params)
	if err != nil {
		s.logger.Debug("invoke failed", "mcp_server", req.ServerID, "method", req.Method, "error", err)
		writeJSON(w, InvokeResponse{OK: false, Error: err.Error()}, s.logger)
		return
	}
	writeJSON(w, InvokeResponse{OK: true, Result: result}, s.logger)
}

func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request) {
	var req ToolCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	var args any
	if len(req.Arguments) > 0 {
		args = req.Arguments
	}
	result, err := s.host.CallQualified(r.Context(), req.Name, args)
	if err != nil {
		s.errorResponse(w, statusFor(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, result, s.logger)
}

func (s *Server) handleToolset(w http.ResponseWriter, r *http.Request) {
	if s.toolset == nil {
		s.errorResponse(w, http.StatusNotFound, "no toolset configured")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"kind":          s.toolset.Kind(),
		"system_prompt": s.toolset.SystemPrompt(),
	}, s.logger)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if s.toolset == nil {
		s.errorResponse(w, http.StatusNotFound, "no toolset configured")
		return
	}
	state, err := s.toolset.State(r.Context())
	if err != nil {
		s.errorResponse(w, statusFor(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(state); err != nil {
		s.logger.Debug("failed to write state", "error", err)
	}
}

func (s *Server) handleStateMarkdown(w http.ResponseWriter, r *http.Request) {
	if s.toolset == nil {
		s.errorResponse(w, http.StatusNotFound, "no toolset configured")
		return
	}
	md, err := s.toolset.Markdown(r.Context())
	if errors.Is(err, toolset.ErrNoMarkdown) {
		s.errorResponse(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.errorResponse(w, statusFor(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	if _, err := w.Write([]byte(md)); err != nil {
		s.logger.Debug("failed to write markdown", "error", err)
	}
}
