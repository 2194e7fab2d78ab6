package session

import "errors"

var (
	ErrNoTransport       = errors.New("session: no transport factory configured")
	ErrNilHandler        = errors.New("session: nil handler")
	ErrDuplicateInstance = errors.New("session: another instance is already active")
	ErrEmptyAddress      = errors.New("session: empty server address")
	ErrAlreadyConnected  = errors.New("session: already connecting or connected")
	ErrNotConnected      = errors.New("session: not connected")
	ErrBindFailed        = errors.New("session: bind failed")
	ErrAlreadyCreated    = errors.New("session: server already created")
	ErrNotStarted        = errors.New("session: server not started")
	ErrClosed            = errors.New("session: closed")
	ErrUnknownConnection = errors.New("session: connection not in table")
)
