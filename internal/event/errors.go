package event

import "errors"

var (
	// ErrTableFull is returned by Table.Alloc when the global event table
	// has no free slots.
	ErrTableFull = errors.New("event: table full")
	// ErrBadHandle is returned when a handle falls outside the table.
	ErrBadHandle = errors.New("event: bad handle")
)
