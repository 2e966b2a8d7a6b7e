package onewire

import (
	"errors"

	"github.com/nerrad567/gray-logic-unibus/internal/unibus/scratchpad"
)

var (
	// ErrBusTimeout is returned when no module answers a reset or a
	// transfer does not complete in time.
	ErrBusTimeout = errors.New("onewire: bus timeout")

	// ErrNotBound is returned when a transaction is attempted on a
	// Scratchpad that has no line or record. It indicates a programming error.
	ErrNotBound = errors.New("onewire: scratchpad not bound")

	// ErrChecksum is returned when a module answered with a corrupt record.
	ErrChecksum = scratchpad.ErrChecksum
)
