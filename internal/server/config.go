package server

import "time"

type Config struct {
	Visibility VisibilityPolicy
	// ForceEmptyUpdates sends an update every step even when nothing
	// structural changed. Clients see it as a tick heartbeat.
	ForceEmptyUpdates bool
	// TrackMutateMessages adds the per-tick message count to mutate
	// messages so clients can tell when a tick is fully received.
	TrackMutateMessages bool
	// MutationsTimeout drops unacked mutate info after this long.
	MutationsTimeout time.Duration
	// DefaultMaxMessageSize is used when the backend reports no limit.
	DefaultMaxMessageSize int
}

func DefaultConfig() Config {
	return Config{
		Visibility:            PolicyAll,
		MutationsTimeout:      10 * time.Second,
		DefaultMaxMessageSize: 1200,
	}
}
