// Package mcpmgr keeps one MCP client session per named server and lets a
// single Go process talk to many servers at once. It resolves each server's
// transport (a stdio subprocess, Streamable HTTP, or SSE as a fallback),
// shares an in-flight dial between concurrent callers, and re-dials on demand
// whenever an operation needs a session.
//
// # Core entry points
//
//   - Manager is the long-lived registry. Construct it with NewManager, then
//     call ConnectToServer, DisconnectServer, or RemoveServer. Every façade
//     method (ListTools, ExecuteTool, ReadResource, GetPrompt, ...) connects
//     lazily using the stored configuration.
//   - StdioServerConfig and HTTPServerConfig declare how a server is launched
//     or reached. ValidateConfig reports missing fields before any dial.
//   - ManagerOptions sets the advertised client identity, the default timeout,
//     JSON-RPC traffic logging, and the slog.Logger used for diagnostics.
//
// Timeouts resolve per call: WithTimeout, then the connected session's
// timeout, then the server's configured Timeout, then
// ManagerOptions.DefaultTimeout. Requests that run out of time fail with an
// error for which IsTimeout reports true.
//
// Notification handlers (AddNotificationHandler, OnToolListChanged,
// OnResourceUpdated, ...) are registered by server name and survive
// reconnects; each returns a func that unregisters it. Elicitation requests go
// to the server's handler, then the global handler, then the global callback;
// a callback may defer its answer and complete it later with
// RespondToElicitation.
//
// Use IsStdio/IsHTTP, AsStdio/AsHTTP, or TransportOf to branch on a config
// returned by GetServerConfig or GetServerSummaries. Avoid marshaling
// BaseServerConfig directly because it contains function fields.
package mcpmgr
