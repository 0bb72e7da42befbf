// Package server exposes the session service over HTTP.
//
// The router is chi with request id, real ip, zerolog request logging,
// panic recovery and CORS middleware.
//
// # Endpoints
//
//   - GET /health
//   - GET /session, POST /session
//   - GET, PATCH, DELETE /session/{sessionID}
//   - GET /session/{sessionID}/message: message history
//   - POST /session/{sessionID}/message: send a message and stream the turn
//   - POST /session/{sessionID}/abort
//   - GET /session/{sessionID}/todo
//   - GET /session/{sessionID}/question: questions waiting for answers
//   - POST /session/{sessionID}/question/{callID}: answer one
//   - GET /event: bus notifications
//
// # Streaming
//
// Both streaming endpoints use Server-Sent Events with one JSON document per
// "data:" frame. POST /session/{sessionID}/message sends the stream events of
// one turn (text-delta, tool-call, complete and so on) and ends after the
// terminal event. Dropping the connection does not abort the turn; use the
// abort endpoint for that.
//
// GET /event sends {"type": ..., "properties": ...} notifications such as
// session.idle, todo.updated, question.asked and vcs.branch.updated, starting with
// server.connected, and writes a heartbeat comment every 30 seconds while
// idle.
//
// # Errors
//
// Failed requests return {"error": {"code": ..., "message": ...}} with
// NOT_FOUND (404), SESSION_BUSY (409), INVALID_REQUEST (400), UNAVAILABLE
// (503) or INTERNAL_ERROR (500).
package server
