package registry

import "github.com/danmuck/replica/internal/protocol"

type SendRateKind uint8

const (
	SendEveryTick SendRateKind = iota
	// SendOnce replicates inserts only; value changes are never sent.
	SendOnce
	// SendPeriodic sends value changes on ticks divisible by Period.
	SendPeriodic
)

type SendRate struct {
	Kind   SendRateKind
	Period uint32
}

var EveryTick = SendRate{Kind: SendEveryTick}

var Once = SendRate{Kind: SendOnce}

func Periodic(period uint32) SendRate {
	if period <= 1 {
		return EveryTick
	}
	return SendRate{Kind: SendPeriodic, Period: period}
}

// SendMutations reports whether value changes go out on tick.
func (s SendRate) SendMutations(tick protocol.Tick) bool {
	switch s.Kind {
	case SendOnce:
		return false
	case SendPeriodic:
		return uint32(tick)%s.Period == 0
	default:
		return true
	}
}
