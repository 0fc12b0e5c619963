// Package transport provides the line transports a session Manager drives:
// a TCP stream with optional TLS and a WebSocket channel for servers behind
// a websocket bridge. Both share one connection core with bounded inbound
// and outbound queues, optional stream obfuscation and read/write stats.
package transport
