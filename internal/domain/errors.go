package domain

import "errors"

// Sentinel errors surfaced across layer boundaries. Callers match them with
// errors.Is after any number of fmt.Errorf %w wraps.
var (
	ErrInvalidEntryPoint   = errors.New("invalid entry point")
	ErrNotFound            = errors.New("not found")
	ErrReadError           = errors.New("corrupt or unreadable state")
	ErrDeadEnd             = errors.New("no matching outbound edge")
	ErrVisitLimitExceeded  = errors.New("node visit limit exceeded")
	ErrInvalidSeverity     = errors.New("invalid severity")
	ErrIncompleteTicket    = errors.New("incomplete escalation ticket")
	ErrNoAwaitingNode      = errors.New("no node awaiting input")
	ErrSessionTerminal     = errors.New("session already in terminal state")
	ErrInvalidSubscription = errors.New("subscription requires at least one event type")
	ErrBusClosed           = errors.New("event bus is closed")
)
