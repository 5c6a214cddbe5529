// Package link owns the connection to an Earthworm export process.
//
// A Manager acquires one connection at a time through a Strategy (dial out
// or accept in), runs a worker that reads, frames, dispatches and decodes
// that connection, and supervises it with a heartbeat monitor. Any
// connection-level failure tears the connection down and starts over with
// fresh framing and liveness state.
package link
