package line

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-unibus/internal/unibus/client"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/scratchpad"
)

// Binder is the part of the registration dispatcher lines use to bind a
// module to this controller.
type Binder interface {
	GetControllerID() byte
	PeekRFID() (byte, error)
	ClaimRFID(id byte)
	SaveState(ctx context.Context) error
}

// Logger is the logging interface used by lines.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Roles reported in Status.
const (
	RolePermanent    = "permanent"
	RoleRegistration = "registration"
)

// Status is a line's externally visible state.
type Status struct {
	Name     string    `json:"name"`
	Role     string    `json:"role"`
	Online   bool      `json:"online"`
	Category string    `json:"category,omitempty"`
	RFID     *uint8    `json:"rf_id,omitempty"`
	Phase    string    `json:"phase,omitempty"`
	Failures int       `json:"consecutive_failures"`
	LastSeen time.Time `json:"last_seen,omitzero"`
}

// bindHead writes our controller id into rec and proposes an rf id when
// the module has none or got it from another controller. The rf id is only
// taken by commit.
func bindHead(rec *scratchpad.Record, b Binder) error {
	controllerID := b.GetControllerID()
	foreign := rec.Foreign(controllerID)

	rec.Head.ControllerID = controllerID
	if rec.Head.RFID == scratchpad.Unused || foreign {
		id, err := b.PeekRFID()
		if err != nil {
			return fmt.Errorf("assigning rf id: %w", err)
		}
		rec.Head.RFID = id
	}
	return nil
}

// commit runs once the module holds rec: the client claims what it
// proposed and the rf id is marked used.
func commit(ctx context.Context, c client.Client, rec *scratchpad.Record, b Binder) error {
	if err := c.Commit(ctx, rec); err != nil {
		return fmt.Errorf("committing registration: %w", err)
	}
	b.ClaimRFID(rec.Head.RFID)
	return nil
}

// withTimeout bounds one bus transaction.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
