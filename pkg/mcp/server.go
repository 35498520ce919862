// Package mcp exposes registered capabilities as MCP tools so external
// MCP clients can call them over stdio.
package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/avollmer/conductor/pkg/core"
)

// Dispatcher routes a tool call to its capability. Satisfied by the router.
type Dispatcher interface {
	Dispatch(ctx context.Context, req core.Request) core.Response
}

// Server bridges the capability router onto an MCP stdio server. Each
// registered capability becomes one MCP tool whose arguments are passed
// through as the request payload.
type Server struct {
	mcpServer  *server.MCPServer
	dispatcher Dispatcher
}

// NewServer creates an MCP server over the given dispatcher.
func NewServer(name, version string, dispatcher Dispatcher) *Server {
	return &Server{
		mcpServer:  server.NewMCPServer(name, version),
		dispatcher: dispatcher,
	}
}

// RegisterCapability exposes one capability as an MCP tool.
func (s *Server) RegisterCapability(name, description string) {
	tool := mcp.NewTool(name, mcp.WithDescription(description))
	s.mcpServer.AddTool(tool, s.toolHandler(name))
}

// ServeStdio starts the server on stdio and blocks until the client
// disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) toolHandler(capability string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]interface{})
		resp := s.dispatcher.Dispatch(ctx, core.Request{Type: capability, Data: args})
		if !resp.Success {
			msg := "capability failed"
			if resp.Error != nil {
				msg = string(resp.Error.Kind) + ": " + resp.Error.Message
			}
			return mcp.NewToolResultError(msg), nil
		}
		encoded, err := json.Marshal(resp.Data)
		if err != nil {
			return mcp.NewToolResultError("result encoding failed: " + err.Error()), nil
		}
		return mcp.NewToolResultText(string(encoded)), nil
	}
}
