package model

import "errors"

// ErrInvalidStatusTransition is returned when a status change violates the state machine.
var ErrInvalidStatusTransition = errors.New("invalid migration status transition")
