// Package client mirrors replicated state received from a server.
//
// Ownership boundary:
// - update and mutate message decoding and application
// - server to local entity mapping for the mirror
// - buffering of mutate messages that reference unapplied updates
// - ack encoding back to the server
package client
