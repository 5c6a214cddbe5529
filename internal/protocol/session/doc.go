// Package session owns the per-connection export protocol above framing.
//
// Ownership boundary:
// - export variant detection (legacy vs acknowledged) and ACK replies
// - heartbeat classification and liveness bookkeeping
// - heartbeat monitor decisions (send local heartbeat, declare remote stale)
// - connect retry backoff and session timing defaults
package session
