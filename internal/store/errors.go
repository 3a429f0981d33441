package store

import "errors"

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrSeatLimit is returned by ClaimSeat when a license has no free seat for
// a new machine.
var ErrSeatLimit = errors.New("activation limit reached")
