// Package mcpmgr keeps a fleet of MCP tool servers alive from a single Go
// process and exposes their tools as one catalogue.
//
// # Core entry points
//
//   - Connection owns one server: it launches the process, performs the MCP
//     handshake, fetches the tool list, issues tools/call with a bounded
//     timeout and answers health probes. Its status moves between Starting,
//     Ready, Degraded and Stopped.
//   - Pool starts many connections concurrently, publishes the union of their
//     tools as an immutable Catalogue snapshot, dispatches calls by qualified
//     name and supervises health (probe, demote, restart with backoff).
//   - Hub holds the current Pool and swaps it atomically when the server
//     registry is reloaded.
//   - Options tune client identity, timeouts, probe cadence, restart policy,
//     the transport factory and JSON-RPC tracing.
//
// Tools are addressed as "<server>.<tool>" (see QualifiedName). Failures are
// reported as typed errors (StartupError, TimeoutError, ProtocolError,
// ToolNotFoundError) that carry an ErrorKind so callers can fold them into a
// ToolResult without inspecting messages.
package mcpmgr
