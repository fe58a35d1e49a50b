package protocol

import "errors"

var (
	ErrTruncated            = errors.New("protocol: truncated data")
	ErrMalformed            = errors.New("protocol: malformed message")
	ErrUnknownComponent     = errors.New("protocol: unknown component fns id")
	ErrEncode               = errors.New("protocol: component encode failed")
	ErrEntityTooLarge       = errors.New("protocol: entity mutations exceed max message size")
	ErrMutateIndexExhausted = errors.New("protocol: mutate index space exhausted")
	ErrProtocolMismatch     = errors.New("protocol: protocol hash mismatch")
	ErrUnknownClient        = errors.New("protocol: unknown client")
	ErrNotConnected         = errors.New("protocol: not connected")
	ErrUnknownChannel       = errors.New("protocol: unknown channel")
	ErrUnknownEvent         = errors.New("protocol: unknown event id")
)
