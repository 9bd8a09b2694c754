package server

import (
	"context"

	"github.com/mark3labs/mcp-go/server"
)

// This file contains server startup methods that start blocking servers and
// are exercised from cmd/orchestrator rather than unit tests.

// mcpBasePath is where the HTTP/SSE transport is mounted
const mcpBasePath = "/mcp"

// Serve starts the MCP server with stdio transport
func (ms *MCPServer) Serve() error {
	ms.logger.Info("Starting MCP server with stdio transport")
	return server.ServeStdio(ms.server)
}

// ServeHTTP starts the MCP server with HTTP/SSE transport on the specified address
func (ms *MCPServer) ServeHTTP(addr string) error {
	sse := server.NewSSEServer(ms.server,
		server.WithBaseURL("http://"+addr),
		server.WithStaticBasePath(mcpBasePath),
	)
	ms.mu.Lock()
	ms.sse = sse
	ms.mu.Unlock()

	ms.logger.Info("Starting MCP server with HTTP/SSE transport", "address", addr, "base_path", mcpBasePath)
	return sse.Start(addr)
}

// Shutdown stops the HTTP/SSE transport if it was started
func (ms *MCPServer) Shutdown(ctx context.Context) error {
	ms.mu.Lock()
	sse := ms.sse
	ms.mu.Unlock()
	if sse == nil {
		return nil
	}
	return sse.Shutdown(ctx)
}
