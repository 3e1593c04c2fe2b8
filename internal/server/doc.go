// Package server implements the HTTP and WebSocket surface of ChatNet.
//
// The Hub owns live WebSocket clients and delivers frames for the chat
// router; each Client runs a read pump that decodes {"event","data"}
// envelopes and a write pump that drains its send queue. The REST endpoints
// expose usage statistics, message history and the current roster behind
// bearer authentication. Configuration comes from the environment.
package server
