// Package service wires configuration, transports, the demo world and the
// replication engine into the replicad and replica-client runtimes.
package service
