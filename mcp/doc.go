// Package mcp contains the protocol data types and constants exchanged between
// the server and its remote caller. It mirrors the wire representation of the
// Model Context Protocol while keeping the surface Go-friendly (exported
// structs with json tags, string constants for method names and enumerations).
//
// The package is free of transport logic. The stdio and streaminghttp
// transports frame these types; the engine builds them from dispatch results.
//
// # Method Names
//
// JSON-RPC method and notification names are enumerated as Method constants
// (e.g. ToolsListMethod). Only the methods this server answers are listed.
//
// # Pagination
//
// List operations use cursor-based pagination. PaginatedRequest and
// PaginatedResult are embedded in request / result envelopes.
//
// Example (tool result construction):
//
//	res := &mcp.CallToolResult{
//	    Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: "hello"}},
//	}
//
// # Logging Levels
//
// LoggingLevel values mirror syslog severities. Use IsValidLoggingLevel to
// validate caller-provided values and LoggingLevel.Severity to compare them.
package mcp
