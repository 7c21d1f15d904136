package bus

import "errors"

var (
	ErrDuplicateRegistration = errors.New("agent type already registered")
	ErrUnknownAgentType      = errors.New("unknown agent type")
	ErrBusNotRunning         = errors.New("bus not running")
	ErrBusStopped            = errors.New("bus stopped")
	ErrHandlerPanic          = errors.New("handler panicked")
	ErrSelfSend              = errors.New("agent cannot send to itself")
	ErrInvalidTopic          = errors.New("invalid topic")
)
