package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scanline-labs/houbridge/store"
)

// CallRecorder receives one record per tool invocation. Production
// code passes *store.CallLog.
type CallRecorder interface {
	Record(ctx context.Context, tool, argsJSON, status string, elapsed time.Duration) (string, error)
}

var _ CallRecorder = (*store.CallLog)(nil)

// Config configures the MCP server.
type Config struct {
	Name     string
	Version  string
	Tools    []ToolDef
	Recorder CallRecorder
	Logger   *slog.Logger
}

// Server speaks MCP over a reader/writer pair, normally stdio.
type Server struct {
	name     string
	version  string
	tools    []ToolDef
	byName   map[string]ToolDef
	recorder CallRecorder
	log      *slog.Logger

	writeMu sync.Mutex
}

// New creates an MCP server over the given tool registry.
func New(cfg Config) (*Server, error) {
	if cfg.Name == "" {
		cfg.Name = "houbridge"
	}
	if len(cfg.Tools) == 0 {
		return nil, errors.New("server: at least one tool is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	byName := make(map[string]ToolDef, len(cfg.Tools))
	for _, def := range cfg.Tools {
		if _, dup := byName[def.Tool.Name]; dup {
			return nil, fmt.Errorf("server: duplicate tool %q", def.Tool.Name)
		}
		byName[def.Tool.Name] = def
	}

	return &Server{
		name:     cfg.Name,
		version:  cfg.Version,
		tools:    cfg.Tools,
		byName:   byName,
		recorder: cfg.Recorder,
		log:      cfg.Logger.With("component", "server"),
	}, nil
}

// Serve reads JSON-RPC messages from r until EOF or ctx cancellation,
// writing responses to w. Notifications get no response.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			s.writeError(w, nil, codeParseError, "parse error")
			continue
		}
		s.dispatch(ctx, w, msg)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("server: read: %w", err)
	}
	return nil
}

func (s *Server) dispatch(ctx context.Context, w io.Writer, msg Message) {
	isNotification := len(msg.ID) == 0

	switch msg.Method {
	case "initialize":
		s.handleInitialize(w, msg)
	case "notifications/initialized":
		s.log.Info("client initialized")
	case "ping":
		s.writeResult(w, msg.ID, map[string]any{})
	case "tools/list":
		s.handleToolsList(w, msg)
	case "tools/call":
		s.handleToolsCall(ctx, w, msg)
	default:
		if isNotification {
			s.log.Debug("ignoring notification", "method", msg.Method)
			return
		}
		s.writeError(w, msg.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", msg.Method))
	}
}

func (s *Server) handleInitialize(w io.Writer, msg Message) {
	var params InitializeParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.writeError(w, msg.ID, codeInvalidParams, "invalid initialize params")
			return
		}
	}
	s.log.Info("initialize",
		"client", params.ClientInfo.Name,
		"client_version", params.ClientInfo.Version,
		"protocol", params.ProtocolVersion)

	s.writeResult(w, msg.ID, InitializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities: map[string]any{
			"tools": map[string]any{},
		},
		ServerInfo: ServerInfo{Name: s.name, Version: s.version},
	})
}

func (s *Server) handleToolsList(w io.Writer, msg Message) {
	tools := make([]Tool, len(s.tools))
	for i, def := range s.tools {
		tools[i] = def.Tool
	}
	s.writeResult(w, msg.ID, ToolsListResult{Tools: tools})
}

func (s *Server) handleToolsCall(ctx context.Context, w io.Writer, msg Message) {
	var params ToolsCallParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.writeError(w, msg.ID, codeInvalidParams, "invalid tools/call params")
		return
	}

	def, ok := s.byName[params.Name]
	if !ok {
		s.writeError(w, msg.ID, codeInvalidParams, fmt.Sprintf("unknown tool %q", params.Name))
		return
	}

	invocationID := uuid.NewString()
	start := time.Now()
	value, err := def.Handler(ctx, params.Arguments)
	elapsed := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
	}
	s.record(ctx, params.Name, params.Arguments, status, elapsed)

	logger := s.log.With("tool", params.Name, "invocation_id", invocationID, "elapsed", elapsed)
	if err != nil {
		// Tool failures are results, not protocol errors: the client
		// keeps the session and decides what to do next.
		logger.Warn("tool call failed", "error", err)
		s.writeResult(w, msg.ID, ToolsCallResult{
			Content: []ContentBlock{{Type: "text", Text: err.Error()}},
			IsError: true,
		})
		return
	}
	logger.Info("tool call complete")

	encoded, jsonErr := json.Marshal(value)
	if jsonErr != nil {
		s.writeError(w, msg.ID, codeInternalError, "encode tool result")
		return
	}
	result := ToolsCallResult{
		Content: []ContentBlock{{Type: "text", Text: string(encoded)}},
	}
	var structured map[string]any
	if json.Unmarshal(encoded, &structured) == nil {
		result.StructuredContent = structured
	}
	s.writeResult(w, msg.ID, result)
}

func (s *Server) record(ctx context.Context, tool string, args map[string]any, status string, elapsed time.Duration) {
	if s.recorder == nil {
		return
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		argsJSON = []byte("{}")
	}
	if _, err := s.recorder.Record(ctx, tool, string(argsJSON), status, elapsed); err != nil {
		s.log.Warn("call log write failed", "tool", tool, "error", err)
	}
}

func (s *Server) writeResult(w io.Writer, id json.RawMessage, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		s.writeError(w, id, codeInternalError, "encode result")
		return
	}
	s.write(w, Message{JSONRPC: jsonRPCVersion, ID: id, Result: raw})
}

func (s *Server) writeError(w io.Writer, id json.RawMessage, code int, message string) {
	s.write(w, Message{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message},
	})
}

func (s *Server) write(w io.Writer, msg Message) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	encoded, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("encode response", "error", err)
		return
	}
	encoded = append(encoded, '\n')
	if _, err := w.Write(encoded); err != nil {
		s.log.Error("write response", "error", err)
	}
}
