package client

import (
	"fmt"

	"github.com/nerrad567/gray-logic-unibus/internal/unibus/scratchpad"
)

// Factory maps categories to clients. It holds no per-module state and is
// safe to call every cycle.
type Factory struct {
	clients map[scratchpad.Category]Client
}

// NewFactory creates a factory over the enabled clients. A nil client
// leaves its category disabled.
func NewFactory(clients ...Client) *Factory {
	f := &Factory{clients: make(map[scratchpad.Category]Client, len(clients))}
	for _, c := range clients {
		if c != nil {
			f.clients[c.Category()] = c
		}
	}
	return f
}

// Resolve returns the client for a category, or a Dummy and ErrUnknownCategory.
func (f *Factory) Resolve(c scratchpad.Category) (Client, error) {
	if cl, ok := f.clients[c]; ok {
		return cl, nil
	}
	return Dummy{category: c}, fmt.Errorf("%w: %s", ErrUnknownCategory, c)
}

// Get returns the client for a record's category, Dummy when there is none.
func (f *Factory) Get(rec *scratchpad.Record) Client {
	cl, _ := f.Resolve(rec.Category())
	return cl
}
