// Package protocol owns the line-oriented wire vocabulary shared by the
// session layer and the transports.
//
// Ownership boundary:
// - numeric command codes
// - line tokenizing
// - echo tag syntax (x<digits>)
//
// Application game commands ride inside lines and are opaque here.
package protocol
