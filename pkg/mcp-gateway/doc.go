// Package mcpgateway re-exports the hub's aggregated tool catalogue as a
// single Streamable HTTP MCP server. Downstream MCP clients see one server
// whose tools are the hub's tools under namespaced names; calls are resolved
// and validated by the tool router before reaching the owning server.
package mcpgateway
