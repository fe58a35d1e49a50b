package demo

import (
	"github.com/danmuck/replica/internal/event"
	"github.com/danmuck/replica/internal/protocol/wire"
	"github.com/danmuck/replica/internal/registry"
)

// Event ids follow registration order in Protocol.
const (
	RespawnedEvent event.ID = iota
	NudgeEvent
)

// Respawned is triggered on a freshly spawned box.
type Respawned struct {
	Label Label
}

// Nudge asks the server to give the targeted boxes a new velocity.
type Nudge struct{}

// Protocol registers the demo components and events. Both peers must use
// it so their protocol hashes match.
func Protocol() (*registry.Registry, *event.Registry) {
	components := Registry()
	events := event.NewRegistry(components)
	event.MustRegister(events, "demo.Respawned",
		func(buf []byte, v Respawned, _ *event.EncodeContext) []byte {
			return wire.AppendString(buf, string(v.Label))
		},
		func(rd *wire.Reader, _ *registry.DecodeContext) (Respawned, error) {
			s, err := rd.String()
			return Respawned{Label: Label(s)}, err
		})
	event.MustRegister(events, "demo.Nudge",
		func(buf []byte, _ Nudge, _ *event.EncodeContext) []byte { return buf },
		func(*wire.Reader, *registry.DecodeContext) (Nudge, error) { return Nudge{}, nil })
	return components, events
}
