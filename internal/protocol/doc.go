// Package protocol owns the replication wire contract shared by server and
// client.
//
// Ownership boundary:
// - tick and mutate index arithmetic
// - message flag words and channel ids
// - wire primitives (see wire/)
// - sentinel errors surfaced to transports and callers
package protocol
