package onewire

import "context"

// Line is one physical bus line. Implementations transfer bytes reliably or
// fail; bit timing is their concern.
type Line interface {
	// Reset issues a reset pulse and returns ErrBusTimeout when no module
	// answers with a presence pulse.
	Reset(ctx context.Context) error

	// Write sends p to the bus.
	Write(ctx context.Context, p []byte) error

	// Read fills p from the bus.
	Read(ctx context.Context, p []byte) error
}

// Logger is the logging interface used by this package.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Error(string, ...any) {}
