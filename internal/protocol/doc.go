// Package protocol owns the Earthworm export wire contract shared by the
// framing, session, and trace decoding layers.
//
// Ownership boundary:
// - message logo (installation, module, message type) parsing and formatting
// - protocol-level error taxonomy
// - well-known Earthworm message type numbers
package protocol
