package event

import "github.com/danmuck/replica/internal/backend"

type Mode uint8

const (
	Broadcast Mode = iota
	BroadcastExcept
	Direct
)

// SendMode selects the clients a server event goes to.
type SendMode struct {
	Mode   Mode
	Client backend.ClientID
}

func ToAll() SendMode {
	return SendMode{Mode: Broadcast}
}

func ToAllExcept(id backend.ClientID) SendMode {
	return SendMode{Mode: BroadcastExcept, Client: id}
}

func ToClient(id backend.ClientID) SendMode {
	return SendMode{Mode: Direct, Client: id}
}

// Includes reports whether the event goes to id.
func (m SendMode) Includes(id backend.ClientID) bool {
	switch m.Mode {
	case BroadcastExcept:
		return id != m.Client
	case Direct:
		return id == m.Client
	default:
		return true
	}
}

// FromClient is an event received by the server.
type FromClient struct {
	Client backend.ClientID
	Event  Event
}
