// Package transport holds what the network backends share: the stream frame
// codec, the per-connection write queue, the poll inbox, TLS setup and dial
// backoff.
//
// Ownership:
//   - frame.go: [channel u8][len u32le][payload] stream framing
//   - outbox.go: single-writer queue per connection
//   - inbox.go: packets and events waiting for the replication loop
//   - tls.go: self-signed and file based TLS configs
//   - backoff.go: client redial delays
package transport
