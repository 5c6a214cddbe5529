// Package tracebuf decodes Earthworm waveform packets (TRACEBUF and
// TRACEBUF2) into byte-order normalized 32-bit sample batches.
//
// Fields are read one by one from explicit offsets; nothing overlays a
// struct on the receive buffer, and decoded samples never alias it.
package tracebuf
