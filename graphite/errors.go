package graphite

import "github.com/pkg/errors"

var (
	// ErrResolve means the collector host could not be resolved.
	ErrResolve = errors.New("resolve collector address")
	// ErrConnect means no resolved address accepted a connection.
	ErrConnect = errors.New("connect to collector")
	// ErrNotConnected is returned when writing without a live connection.
	ErrNotConnected = errors.New("not connected")
	// ErrWrite means a message could not be written to the collector.
	ErrWrite = errors.New("write to collector")

	// ErrLengthMismatch is an encoder bug: the header does not describe the payload.
	ErrLengthMismatch = errors.New("pickle payload length mismatch")
	// ErrPayloadTooLarge means the samples do not fit in a single message.
	ErrPayloadTooLarge = errors.New("pickle payload too large")
	// ErrMalformed means a received message is not a list of metric tuples.
	ErrMalformed = errors.New("malformed pickle message")

	ErrAlreadyStarted   = errors.New("pusher already started")
	ErrNotStarted       = errors.New("pusher not started")
	ErrInvalidFrequency = errors.New("frequency must be a finite number > 0")
	ErrInvalidPort      = errors.New("port must be within 1-65535")
)
