// Package server exposes the gateway over HTTP.
//
// Routes:
//
//	GET    /health                      liveness and session count
//	GET    /session                     list sessions
//	POST   /session                     create a session (?wait=true builds it before replying)
//	GET    /session/{id}                session state
//	DELETE /session/{id}                close a session (?purge=true also drops its transcript)
//	POST   /session/{id}/message        answer one message as an SSE stream
//	GET    /session/{id}/message        stored transcript
//	POST   /session/{id}/abort          cancel the turn in progress
//	GET    /session/{id}/ws             chat over a WebSocket
//	GET    /event                       lifecycle events as SSE (?sessionID= filters)
//
// Message streams carry ui.Op values: "send" opens a message, "token"
// appends to it and "update" finalizes it. The SSE stream ends with a
// "done" event carrying the failure kind, if any. WebSocket clients send
// {"type":"message","text":...} or {"type":"abort"} frames and receive the
// same ops plus "done" after each turn and "error" for rejected frames.
// Closing the socket closes the session.
package server
