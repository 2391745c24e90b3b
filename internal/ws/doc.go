// Package ws is the push channel between browser terminals and the
// interactive session service.
//
// Each websocket connection is a Client with its own id. Clients speak a
// JSON event protocol (see Message) and are routed to terminal.Service by
// Handler:
//   - create-session / restore-session bind the connection to a session
//   - terminal-input, resize, heartbeat and cleanup-session act on it
//   - terminal-output and session-exited are pushed by the session relay
//
// Closing a connection releases its binding only; persistent sessions keep
// running until they are restored, cleaned up, or reaped.
package ws
