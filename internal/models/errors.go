package models

import "errors"

// Business rule violations. Engines wrap these with the event or reservation
// id; callers match with errors.Is.
var (
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrNotPublishable        = errors.New("event is not publishable")
	ErrTooEarly              = errors.New("event has not ended yet")
	ErrInvalidWindow         = errors.New("end time must be after start time")
	ErrInsufficientInventory = errors.New("not enough tickets available")
	ErrEventNotSellable      = errors.New("event cannot be purchased right now")
	ErrUnderflow             = errors.New("cannot reverse more tickets than were sold")
	ErrBelowSold             = errors.New("capacity below committed tickets")
	ErrOutOfRange            = errors.New("capacity out of range")
	ErrDuplicateReservation  = errors.New("reservation already exists")
	ErrNotFound              = errors.New("not found")
	ErrEventExists           = errors.New("event already exists")
	ErrExpired               = errors.New("reservation expired")
	ErrAlreadyFinalized      = errors.New("reservation already finalized")
	ErrInvalidQuantity       = errors.New("quantity must be at least 1")
	ErrInvalidReservation    = errors.New("reservation id is required")
)

// ErrUnavailable is returned when the store kept failing transiently after
// the bounded retry budget was spent.
var ErrUnavailable = errors.New("inventory store temporarily unavailable")
