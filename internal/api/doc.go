// Package api implements the HTTP REST API and WebSocket session
// server for the hub.
//
// This package provides:
//   - REST endpoints for the device registry, commissioning, attribute
//     reads/writes, command dispatch and the data model dictionary
//   - WebSocket sessions that stream registry events (status_report,
//     register_report, delete_report) and accept textual commands
//   - Bearer JWT authentication with a read/mutate role split
//   - Middleware stack (request ID, logging, recovery, CORS)
//   - TLS support for production deployments
//
// # Architecture
//
// The server sits between clients and the hub's core: reads come from
// the registry cache and dictionary, mutations go through the command
// dispatcher onto the control channel, and registry events reach
// sessions through per-subscriber notifier queues.
//
//	client ──REST──► Server ──► Dispatcher ──► control channel
//	client ◄──WS──── session ◄── Notifier ◄── Registry
//
// # Security
//
// Every route under /api/v1 except health and metrics requires a
// bearer token. Mutating routes and session commands additionally
// require the admin role. WebSocket upgrades may carry the token in
// the "token" query parameter since browsers cannot set headers there.
package api
