// Package transport exposes the Command Dispatcher over external
// protocols. Commands are published as MCP tools via mark3labs/mcp-go
// (grounded on joestump-claude-ops's internal/mcpserver), replacing a
// hand-rolled JSON-RPC framing layer with the ecosystem's own one;
// unsolicited events ride a separate gorilla/websocket push channel
// (internal/eventbus).
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/helmsman-dev/helmsman/internal/dispatch"
)

// passthroughSchema accepts any object; per-command validation already
// happens inside Dispatch (spec §4.1 step 4), so the MCP tool schema
// stays permissive rather than duplicating it.
var passthroughSchema = json.RawMessage(`{"type":"object","additionalProperties":true}`)

// Server wraps one Dispatcher connection as an MCP server: every
// registered command becomes a tool whose arguments are forwarded to
// Dispatch unmodified.
type Server struct {
	mcp    *server.MCPServer
	disp   *dispatch.Dispatcher
	connID string
}

// NewServer builds the MCP server. connID identifies this session to
// the dispatcher's per-connection rate limiter and active-view
// tracking — one MCP server instance serves exactly one logical
// connection, matching stdio's one-process-per-client model.
func NewServer(version, connID string, d *dispatch.Dispatcher) *Server {
	mcpServer := server.NewMCPServer("helmsman", version, server.WithToolCapabilities(true))
	s := &Server{mcp: mcpServer, disp: d, connID: connID}

	names := d.CommandNames()
	tools := make([]server.ServerTool, 0, len(names))
	for _, name := range names {
		tools = append(tools, server.ServerTool{
			Tool:    mcp.NewToolWithRawSchema(name, "Helmsman command: "+name, passthroughSchema),
			Handler: s.handle(name),
		})
	}
	mcpServer.AddTools(tools...)
	return s
}

func (s *Server) handle(name string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		params, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encoding arguments: %v", err)), nil
		}

		resp := s.disp.Dispatch(ctx, s.connID, dispatch.Request{
			ID:      uuid.NewString(),
			Command: name,
			Params:  params,
		})

		body, err := json.Marshal(resp)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encoding response: %v", err)), nil
		}
		if !resp.Success {
			return mcp.NewToolResultError(string(body)), nil
		}
		return mcp.NewToolResultText(string(body)), nil
	}
}

// ServeStdio blocks, serving MCP tool calls over in/out until ctx is
// cancelled or the stream closes — the transport a CLI-launched
// Helmsman session uses.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(os.Stderr, "[helmsman-mcp] ", log.LstdFlags))
	return stdio.Listen(ctx, in, out)
}
