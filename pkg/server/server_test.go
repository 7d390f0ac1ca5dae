package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/richard-senior/podds/pkg/protocol"
	"github.com/richard-senior/podds/pkg/tools"
	"github.com/richard-senior/podds/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool() tools.Definition {
	return tools.Definition{
		Tool: protocol.Tool{Name: "podds_echo", Description: "echo", InputSchema: protocol.InputSchema{Type: "object"}},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			text, _ := args["text"].(string)
			if text == "" {
				return "", errors.New("nothing to echo")
			}
			return "## " + text, nil
		},
	}
}

// run feeds the input lines through a server and returns the decoded responses
func run(t *testing.T, input ...string) []protocol.JsonRpcResponse {
	t.Helper()
	var out bytes.Buffer
	tr := transport.NewStreamTransport(strings.NewReader(strings.Join(input, "\n")), &out)
	s := NewServer(tr, echoTool())
	require.NoError(t, s.ProcessRequests(context.Background()))

	var responses []protocol.JsonRpcResponse
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		var r protocol.JsonRpcResponse
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		responses = append(responses, r)
	}
	return responses
}

func TestInitializeHandshake(t *testing.T) {
	responses := run(t,
		`{"jsonrpc":"2.0","id":0,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"0.1.0"}}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`,
	)
	require.Len(t, responses, 2)

	var init struct {
		ProtocolVersion string         `json:"protocolVersion"`
		Capabilities    map[string]any `json:"capabilities"`
		ServerInfo      struct {
			Name string `json:"name"`
		} `json:"serverInfo"`
	}
	require.NoError(t, json.Unmarshal(responses[0].Result, &init))
	assert.Equal(t, "2025-03-26", init.ProtocolVersion)
	assert.Contains(t, init.Capabilities, "tools")
	assert.Equal(t, "podds", init.ServerInfo.Name)

	var list protocol.ToolsResponse
	require.NoError(t, json.Unmarshal(responses[1].Result, &list))
	require.Len(t, list.Tools, 1)
	assert.Equal(t, "podds_echo", list.Tools[0].Name)
	assert.Equal(t, float64(1), responses[1].ID)
}

func TestToolsCall(t *testing.T) {
	responses := run(t,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"mcp___podds_echo","arguments":{"text":"hello"}}}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"podds_echo","arguments":{}}}`,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"missing"}}`,
	)
	require.Len(t, responses, 3)

	var ok protocol.ToolResult
	require.NoError(t, json.Unmarshal(responses[0].Result, &ok))
	assert.False(t, ok.IsError)
	assert.Equal(t, "## hello", ok.Content[0].Text)

	var failed protocol.ToolResult
	require.NoError(t, json.Unmarshal(responses[1].Result, &failed))
	assert.True(t, failed.IsError)
	assert.Equal(t, "nothing to echo", failed.Content[0].Text)

	require.NotNil(t, responses[2].Error)
	assert.Equal(t, protocol.ErrInvalidParams, responses[2].Error.Code)
}

func TestUnknownMethodAndBadInput(t *testing.T) {
	responses := run(t,
		`{"jsonrpc":"2.0","id":5,"method":"resources/list"}`,
		`{"jsonrpc":"1.0","id":6,"method":"ping"}`,
		`{"jsonrpc":"2.0","id":7,"method":"ping"}`,
	)
	require.Len(t, responses, 3)
	assert.Equal(t, protocol.ErrMethodNotFound, responses[0].Error.Code)
	assert.Equal(t, protocol.ErrParse, responses[1].Error.Code)
	assert.Nil(t, responses[2].Error)
	assert.JSONEq(t, `{}`, string(responses[2].Result))
}
