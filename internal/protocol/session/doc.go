// Package session owns the client side of a game-server session.
//
// Ownership boundary:
// - connection state machine and reconnect policy (Manager, Runner)
// - intro/acknowledgement handshake and feature gating
// - echo tag sequencing and the echo ledger
// - ping statistics
// - communications log and error reporting
//
// Byte framing, socket I/O and stream obfuscation belong to the Transport
// implementation.
package session
