package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/ironsheep/wandbridge/internal/logging"
	"github.com/ironsheep/wandbridge/internal/ocr"
	"github.com/ironsheep/wandbridge/internal/wand"
)

// Name is reported in the initialize handshake.
const Name = "wand-mcp"

// Server handles MCP protocol communication
type Server struct {
	rt      *wand.Runtime
	session *Session
	logger  *zap.Logger
	version string

	in  io.Reader
	out io.Writer

	ocrConfig ocr.Config
	ocrMu     sync.Mutex
	engine    *ocr.Engine
}

// MCPRequest represents an incoming JSON-RPC request
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// MCPResponse represents an outgoing JSON-RPC response
type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

// MCPError represents a JSON-RPC error
type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeToolFailed     = -32000
)

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithIO replaces stdin and stdout.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(s *Server) { s.in, s.out = in, out }
}

// WithMaxImages bounds the images a client may hold open.
func WithMaxImages(n int) Option {
	return func(s *Server) { s.session = NewSession(n) }
}

// WithOCR configures the engine created on the first OCR tool call.
func WithOCR(cfg ocr.Config) Option {
	return func(s *Server) { s.ocrConfig = cfg }
}

func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// New creates a server whose tools operate on rt. The caller keeps
// ownership of rt and closes it after the server.
func New(rt *wand.Runtime, opts ...Option) *Server {
	s := &Server{
		rt:      rt,
		session: NewSession(0),
		version: "dev",
		in:      os.Stdin,
		out:     os.Stdout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Logger().Named("server")
	}
	return s
}

// Session returns the store of open images.
func (s *Server) Session() *Session { return s.session }

// Run reads requests until the input ends or ctx is done. Requests are
// handled one at a time, in order.
func (s *Server) Run(ctx context.Context) error {
	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.in)
		// Increase buffer size for large requests
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 16*1024*1024)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	encoder := json.NewEncoder(s.out)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("scanner error: %w", err)
					}
				default:
				}
				return nil
			}
			if len(line) == 0 {
				continue
			}

			resp := s.handleLine(ctx, line)
			if resp != nil {
				if err := encoder.Encode(resp); err != nil {
					s.logger.Error("failed to encode response", zap.Error(err))
				}
			}
		}
	}
}

func (s *Server) handleLine(ctx context.Context, line []byte) *MCPResponse {
	var req MCPRequest
	if err := json.Unmarshal(line, &req); err != nil {
		s.logger.Warn("failed to parse request", zap.Error(err))
		return s.errorResponse(nil, codeParseError, "Parse error", err.Error())
	}
	return s.handleRequest(ctx, &req)
}

// handleRequest routes requests to appropriate handlers
func (s *Server) handleRequest(ctx context.Context, req *MCPRequest) *MCPResponse {
	s.logger.Debug("handling request", zap.String("method", req.Method), zap.Any("id", req.ID))

	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "notifications/initialized":
		// Client acknowledgment, no response needed
		return nil
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "ping":
		return &MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  map[string]interface{}{},
		}
	default:
		return s.errorResponse(req.ID, codeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), "")
	}
}

// handleInitialize responds to the initialize request
func (s *Server) handleInitialize(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    Name,
				"version": s.version,
			},
		},
	}
}

func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}

// ocrEngine returns the engine, creating it on first use.
func (s *Server) ocrEngine() (*ocr.Engine, error) {
	s.ocrMu.Lock()
	defer s.ocrMu.Unlock()
	if s.engine != nil && !s.engine.Closed() {
		return s.engine, nil
	}
	e, err := ocr.New(s.rt, s.ocrConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to start OCR engine: %w", err)
	}
	s.engine = e
	return e, nil
}

// Close closes every open image and the OCR engine. It does not close the
// runtime.
func (s *Server) Close() error {
	var errs *multierror.Error
	if err := s.session.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}

	s.ocrMu.Lock()
	e := s.engine
	s.engine = nil
	s.ocrMu.Unlock()
	if e != nil && !e.Closed() {
		if err := e.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("ocr engine: %w", err))
		}
	}
	return errs.ErrorOrNil()
}
