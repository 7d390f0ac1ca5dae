package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/richard-senior/podds/internal/logger"
	"github.com/richard-senior/podds/pkg/protocol"
	"github.com/richard-senior/podds/pkg/tools"
	"github.com/richard-senior/podds/pkg/transport"
)

// clients such as Amazon Q namespace tool names with this prefix
const toolPrefix = "mcp___"

// Server represents an MCP server
type Server struct {
	transport transport.Transport
	name      string
	version   string

	mu       sync.RWMutex
	tools    []protocol.Tool
	handlers map[string]tools.Handler
}

// HandlerFunc handles one JSON-RPC method
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// NewServer creates a server on t with the given tool definitions registered
func NewServer(t transport.Transport, defs ...tools.Definition) *Server {
	s := &Server{
		transport: t,
		name:      "podds",
		version:   "1.0.0",
		handlers:  make(map[string]tools.Handler),
	}
	for _, d := range defs {
		s.RegisterTool(d.Tool, d.Handler)
	}
	return s
}

// RegisterTool registers a tool with the server
func (s *Server) RegisterTool(tool protocol.Tool, handler tools.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools = append(s.tools, tool)
	s.handlers[tool.Name] = handler
	logger.Info("Registered tool:", tool.Name)
}

// GetTools returns the list of registered tools
func (s *Server) GetTools() []protocol.Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]protocol.Tool(nil), s.tools...)
}

func (s *Server) methods() map[string]HandlerFunc {
	return map[string]HandlerFunc{
		string(protocol.MethodInitialize): s.handleInitialize,
		string(protocol.MethodToolsList):  s.handleToolsList,
		string(protocol.MethodToolsCall):  s.handleToolsCall,
		string(protocol.MethodPing):       s.handlePing,
	}
}

// Start processes requests until the input closes or the process is signalled
func (s *Server) Start(ctx context.Context) error {
	logger.Info("Starting MCP server")
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.ProcessRequests(ctx)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logger.Info("Shutting down MCP server")
		return nil
	}
}

// ProcessRequests reads and answers requests until EOF, which ends the loop cleanly
func (s *Server) ProcessRequests(ctx context.Context) error {
	for {
		req, err := s.transport.ReadRequest()
		if err != nil {
			var perr *transport.ParseError
			if errors.As(err, &perr) {
				if werr := s.transport.WriteResponse(protocol.NewJsonRpcErrorResponse(protocol.ErrParse, perr.Error(), nil, nil)); werr != nil {
					return werr
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		resp := s.handleRequest(ctx, req)
		if resp == nil {
			continue
		}
		if err := s.transport.WriteResponse(resp); err != nil {
			return err
		}
	}
}

// handleRequest answers one request, nil for notifications
func (s *Server) handleRequest(ctx context.Context, req *protocol.JsonRpcRequest) *protocol.JsonRpcResponse {
	logger.Info(">> ", req.Method)
	logger.Debug("Full request:", req.String())

	if strings.HasPrefix(req.Method, "notifications/") || req.Method == string(protocol.MethodInitialized) {
		logger.Info("Received notification:", req.Method)
		return nil
	}

	handler, ok := s.methods()[req.Method]
	if !ok {
		if req.IsNotification() {
			return nil
		}
		return protocol.NewJsonRpcErrorResponse(protocol.ErrMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil, req.ID)
	}

	result, err := handler(ctx, req.Params)
	if req.IsNotification() {
		return nil
	}
	if err != nil {
		var rpcErr *protocol.JsonRpcError
		if errors.As(err, &rpcErr) {
			return protocol.NewJsonRpcErrorResponse(rpcErr.Code, rpcErr.Message, rpcErr.Data, req.ID)
		}
		return protocol.NewJsonRpcErrorResponse(protocol.ErrInternal, err.Error(), nil, req.ID)
	}

	resp, err := protocol.NewJsonRpcResponse(result, req.ID)
	if err != nil {
		return protocol.NewJsonRpcErrorResponse(protocol.ErrInternal, "Failed to marshal result: "+err.Error(), nil, req.ID)
	}
	logger.Debug("Full response:", resp.String())
	return resp
}

// handleToolsList handles the tools/list method
func (s *Server) handleToolsList(ctx context.Context, params json.RawMessage) (any, error) {
	return protocol.ToolsResponse{Tools: s.GetTools()}, nil
}

func (s *Server) handlePing(ctx context.Context, params json.RawMessage) (any, error) {
	return struct{}{}, nil
}

// handleInitialize answers with the requested protocol version and a tools capability
func (s *Server) handleInitialize(ctx context.Context, params json.RawMessage) (any, error) {
	version := protocol.ProtocolVersion
	var p struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			logger.Warn("Failed to read initialize params:", err)
		} else if p.ProtocolVersion != "" {
			version = p.ProtocolVersion
		}
	}
	logger.Info("Initializing with protocol version", version, "and", len(s.GetTools()), "tools")

	type serverInfo struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}
	return struct {
		ProtocolVersion string         `json:"protocolVersion"`
		Capabilities    map[string]any `json:"capabilities"`
		ServerInfo      serverInfo     `json:"serverInfo"`
	}{
		ProtocolVersion: version,
		Capabilities:    map[string]any{"tools": map[string]any{"listChanged": false}},
		ServerInfo:      serverInfo{Name: s.name, Version: s.version},
	}, nil
}

// handleToolsCall runs a tool. Tool failures come back as an error result, not a JSON-RPC error.
func (s *Server) handleToolsCall(ctx context.Context, params json.RawMessage) (any, error) {
	var call protocol.ToolCallParams
	if err := json.Unmarshal(params, &call); err != nil {
		return nil, &protocol.JsonRpcError{Code: protocol.ErrInvalidParams, Message: "invalid tools/call parameters: " + err.Error()}
	}
	logger.Info("Tool call requested for:", call.Name)

	s.mu.RLock()
	handler := s.handlers[call.Name]
	if handler == nil && strings.HasPrefix(call.Name, toolPrefix) {
		handler = s.handlers[strings.TrimPrefix(call.Name, toolPrefix)]
	}
	s.mu.RUnlock()
	if handler == nil {
		return nil, &protocol.JsonRpcError{Code: protocol.ErrInvalidParams, Message: "tool not found: " + call.Name}
	}

	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	text, err := handler(ctx, args)
	if err != nil {
		logger.Warn("Tool failed", call.Name, err)
		return protocol.ErrorResult(err), nil
	}
	return protocol.TextResult(text), nil
}
