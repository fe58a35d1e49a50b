// Package quic is a backend over quic-go. Reliable channels share one
// bidirectional stream the client opens; mutate messages travel as
// datagrams.
package quic

import (
	"crypto/tls"
	"time"

	"github.com/danmuck/replica/internal/transport"
	quicgo "github.com/quic-go/quic-go"
)

type Config struct {
	Addr string
	TLS  *tls.Config
	// MaxDatagramSize bounds mutate messages. quic-go fits about 1200
	// bytes per datagram on a default path.
	MaxDatagramSize  int
	Limits           transport.Limits
	QueueDepth       int
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
	KeepAlive        time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxDatagramSize:  1100,
		Limits:           transport.DefaultLimits(),
		QueueDepth:       transport.DefaultQueueDepth,
		HandshakeTimeout: 5 * time.Second,
		IdleTimeout:      15 * time.Second,
		KeepAlive:        5 * time.Second,
	}
}

func (c Config) quic() *quicgo.Config {
	return &quicgo.Config{
		EnableDatagrams:      true,
		HandshakeIdleTimeout: c.HandshakeTimeout,
		MaxIdleTimeout:       c.IdleTimeout,
		KeepAlivePeriod:      c.KeepAlive,
	}
}

const (
	codeNormal   quicgo.ApplicationErrorCode = 0
	codeProtocol quicgo.ApplicationErrorCode = 1
)
