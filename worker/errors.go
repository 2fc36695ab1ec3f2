package worker

import (
	"errors"
)

// Control-plane error taxonomy. Validation and already-in-progress errors
// are rejected before any state change; restart failures arrive after the
// rollback protocol has restored the previous configuration.
var (
	ErrValidation        = errors.New("invalid command parameters")
	ErrAlreadyInProgress = errors.New("another config change is in progress")
	ErrStateConflict     = errors.New("command conflicts with current state")
	ErrRestartFailure    = errors.New("pipeline failed to restart")
	ErrUnknownCommand    = errors.New("unknown command")
	ErrBusUnavailable    = errors.New("message bus unavailable")
	ErrLockTimeout       = errors.New("config lock acquisition timed out")
)
