package session

import "errors"

var (
	ErrUnknownSession       = errors.New("unknown session")
	ErrSessionAlreadyExists = errors.New("session already exists")
	ErrInvalidSessionID     = errors.New("invalid session id")
	ErrStreamInUse          = errors.New("session already has an attached stream")
	ErrStreamReleased       = errors.New("stream released")
	ErrRegistryClosed       = errors.New("session registry closed")
)
