package core

import "errors"

//go:generate mockgen -source=signal_iface.go -destination=mock/conn.go -package=mock

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// Frame is a raw encoded message.
type Frame []byte

// Conn abstracts a participant's messaging transport.
// TrySend must never block; the adapter owns the transport and must Close() it.
type Conn interface {
	TrySend(Frame) error
	Close()
}
