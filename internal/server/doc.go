// Package server is the authoritative side of replication.
//
// Ownership boundary:
// - per-client ack baselines (ClientTicks)
// - update and mutate message assembly over one shared serialized buffer
// - visibility and predictive spawn bookkeeping per client
// - handshake and ack intake from the backend
package server
