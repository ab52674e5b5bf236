package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/wandbridge/internal/wand"
)

func newRuntime(t *testing.T) *wand.Runtime {
	t.Helper()
	rt, err := wand.Open(context.Background(), wand.Config{CallTimeout: 10 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, rt.Close(context.Background()))
	})
	return rt
}

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	s := New(newRuntime(t), opts...)
	t.Cleanup(func() { assert.NoError(t, s.Close()) })
	return s
}

func TestNew(t *testing.T) {
	s := newTestServer(t)
	require.NotNil(t, s.Session())
	assert.Equal(t, 0, s.Session().Len())
	assert.Equal(t, "dev", s.version)
	assert.NotNil(t, s.logger)
}

func TestMCPRequest_Unmarshal(t *testing.T) {
	tests := []struct {
		name       string
		json       string
		wantID     interface{}
		wantMethod string
	}{
		{"string id", `{"jsonrpc":"2.0","id":"test-1","method":"tools/list"}`, "test-1", "tools/list"},
		{"number id", `{"jsonrpc":"2.0","id":42,"method":"ping"}`, float64(42), "ping"},
		{"null id", `{"jsonrpc":"2.0","id":null,"method":"initialize"}`, nil, "initialize"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req MCPRequest
			require.NoError(t, json.Unmarshal([]byte(tt.json), &req))
			assert.Equal(t, tt.wantID, req.ID)
			assert.Equal(t, tt.wantMethod, req.Method)
			assert.Equal(t, "2.0", req.JSONRPC)
		})
	}
}

func TestHandleRequest_Initialize(t *testing.T) {
	s := newTestServer(t, WithVersion("1.2.3"))
	resp := s.handleRequest(context.Background(), &MCPRequest{JSONRPC: "2.0", ID: 1, Method: "initialize"})

	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
	assert.Equal(t, 1, resp.ID)

	result, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "2024-11-05", result["protocolVersion"])
	info := result["serverInfo"].(map[string]interface{})
	assert.Equal(t, Name, info["name"])
	assert.Equal(t, "1.2.3", info["version"])
}

func TestHandleRequest_Ping(t *testing.T) {
	s := newTestServer(t)
	resp := s.handleRequest(context.Background(), &MCPRequest{JSONRPC: "2.0", ID: "ping-1", Method: "ping"})

	require.NotNil(t, resp)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "ping-1", resp.ID)
}

func TestHandleRequest_ToolsList(t *testing.T) {
	s := newTestServer(t)
	resp := s.handleRequest(context.Background(), &MCPRequest{JSONRPC: "2.0", ID: 1, Method: "tools/list"})

	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
	result := resp.Result.(map[string]interface{})
	tools, ok := result["tools"].([]Tool)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(tools), 10)
}

func TestHandleRequest_NotificationsInitialized(t *testing.T) {
	s := newTestServer(t)
	resp := s.handleRequest(context.Background(), &MCPRequest{JSONRPC: "2.0", Method: "notifications/initialized"})
	assert.Nil(t, resp, "notifications get no response")
}

func TestHandleRequest_MethodNotFound(t *testing.T) {
	s := newTestServer(t)
	resp := s.handleRequest(context.Background(), &MCPRequest{JSONRPC: "2.0", ID: 1, Method: "nonexistent/method"})

	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32601, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "nonexistent/method")
}

func TestRun(t *testing.T) {
	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize"}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		``,
		`not json`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"color_parse","arguments":{"color":"red"}}}`,
		`{"jsonrpc":"2.0","id":3,"method":"ping"}`,
	}, "\n")

	var out bytes.Buffer
	s := newTestServer(t, WithIO(strings.NewReader(input), &out))
	require.NoError(t, s.Run(context.Background()))

	var responses []MCPResponse
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var resp MCPResponse
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
		responses = append(responses, resp)
	}
	require.Len(t, responses, 4)

	assert.Equal(t, float64(1), responses[0].ID)
	assert.Nil(t, responses[0].Error)

	require.NotNil(t, responses[1].Error)
	assert.Equal(t, -32700, responses[1].Error.Code)
	assert.Nil(t, responses[1].ID)

	assert.Equal(t, float64(2), responses[2].ID)
	assert.Nil(t, responses[2].Error)
	assert.Contains(t, mustMarshalJSON(responses[2].Result), `#ff0000`)

	assert.Equal(t, float64(3), responses[3].ID)
}

func TestRunStopsWithContext(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	s := newTestServer(t, WithIO(pr, io.Discard))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestCloseReleasesSession(t *testing.T) {
	rt := newRuntime(t)
	s := New(rt)
	for i := 0; i < 3; i++ {
		callTool(t, s, "image_blank", map[string]interface{}{"width": 4, "height": 4})
	}
	assert.Equal(t, 3, s.Session().Len())
	assert.Equal(t, 3, rt.Registry().Len())

	require.NoError(t, s.Close())
	assert.Equal(t, 0, s.Session().Len())
	assert.Equal(t, 0, rt.Registry().Len())
	assert.Equal(t, 0, rt.Library().Live())
}

func TestCloseAfterRuntimeSweep(t *testing.T) {
	ctx := context.Background()
	rt, err := wand.Open(ctx, wand.Config{})
	require.NoError(t, err)
	s := New(rt)
	callTool(t, s, "image_blank", map[string]interface{}{"width": 4, "height": 4})

	require.NoError(t, rt.Close(ctx))
	assert.NoError(t, s.Close(), "images closed by the sweep are skipped")
}
