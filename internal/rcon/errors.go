package rcon

import "errors"

// Error kinds returned by Client. Transport failures are wrapped together
// with their cause, so both errors.Is(err, ErrTCPConnectionOpen) and
// errors.Is(err, syscall.ECONNREFUSED) hold for a refused dial.
var (
	ErrInvalidOptions      = errors.New("rcon: invalid connection options")
	ErrInvalidPassword     = errors.New("rcon: invalid password")
	ErrTCPConnectionOpen   = errors.New("rcon: failed to open connection")
	ErrTCPConnectionClosed = errors.New("rcon: connection closed")
	ErrTCPConnection       = errors.New("rcon: connection error")
	ErrTCPWrite            = errors.New("rcon: failed to write packet")
	ErrTimeout             = errors.New("rcon: timed out")
	ErrClientClosed        = errors.New("rcon: client closed")
)
