package line

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-unibus/internal/unibus/client"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/onewire"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/scratchpad"
)

// Phase is the registration lifetime of the module on a registration line.
type Phase int

// Registration phases.
const (
	PhaseUnregistered Phase = iota
	PhaseIdentified
	PhaseRegistered
	PhaseActive
)

func (p Phase) String() string {
	switch p {
	case PhaseUnregistered:
		return "unregistered"
	case PhaseIdentified:
		return "identified"
	case PhaseRegistered:
		return "registered"
	case PhaseActive:
		return "active"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// RegistrationOptions configures a Registration line.
type RegistrationOptions struct {
	Name    string
	Line    onewire.Line
	Factory *client.Factory
	Binder  Binder
	Logger  Logger

	// Interval is the time between scans.
	Interval time.Duration
	// TransactionTimeout bounds each bus transaction.
	TransactionTimeout time.Duration
}

// Registration onboards modules on a shared discovery line. It keeps its
// own record buffer, separate from any permanent line's.
type Registration struct {
	name    string
	engine  onewire.Scratchpad
	buffer  scratchpad.Record
	factory *client.Factory
	binder  Binder
	logger  Logger

	interval time.Duration
	timeout  time.Duration
	elapsed  time.Duration

	phase    Phase
	online   bool
	client   client.Client
	lastGood scratchpad.Record
	lastType scratchpad.Category
	hasLast  bool
	failures int
	lastSeen time.Time
}

// NewRegistration creates a registration line. The first Update scans the line.
func NewRegistration(opts RegistrationOptions) *Registration {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	r := &Registration{
		name:     opts.Name,
		factory:  opts.Factory,
		binder:   opts.Binder,
		logger:   logger,
		interval: opts.Interval,
		timeout:  opts.TransactionTimeout,
		elapsed:  opts.Interval,
	}
	r.engine.Bind(opts.Line, &r.buffer)
	r.engine.SetLogger(logger)
	return r
}

// Name returns the configured line name.
func (r *Registration) Name() string { return r.name }

// Phase returns the current registration phase.
func (r *Registration) Phase() Phase { return r.phase }

// Client returns the client of the last registered module, or nil.
func (r *Registration) Client() client.Client { return r.client }

// Status returns the line state for reporting.
func (r *Registration) Status() Status {
	st := Status{
		Name:     r.name,
		Role:     RoleRegistration,
		Online:   r.online,
		Phase:    r.phase.String(),
		Failures: r.failures,
		LastSeen: r.lastSeen,
	}
	if r.hasLast {
		st.Category = r.lastType.String()
		rf := r.lastGood.Head.RFID
		st.RFID = &rf
	}
	return st
}

// IsModulePresent reports whether a module answers a reset. Nothing is
// read or written.
func (r *Registration) IsModulePresent(ctx context.Context) bool {
	txCtx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	return r.engine.Presence(txCtx) == nil
}

// CopyScratchpad copies the internal buffer into dst.
func (r *Registration) CopyScratchpad(dst *scratchpad.Record) {
	*dst = r.buffer
}

// SetScratchpadData replaces the internal buffer. Records with a bad CRC
// are refused.
func (r *Registration) SetScratchpadData(src *scratchpad.Record) bool {
	if !src.Valid() {
		return false
	}
	r.buffer = *src
	return true
}

// IsSameScratchpadType reports whether src has the category of the last
// module registered on this line.
func (r *Registration) IsSameScratchpadType(src *scratchpad.Record) bool {
	return r.hasLast && src.Category() == r.lastType
}

// Register runs the discovery protocol against the attached module: read,
// validate, resolve the client, propose indices, write back, save and only
// then claim what was proposed.
//
// A read or CRC failure leaves the line Unregistered and creates nothing. A
// failed write-back or save leaves it Identified and claims nothing. A
// module of a different category than the previous one on this line is a
// new device and gets a fresh client. A module no client handles is left
// untouched.
func (r *Registration) Register(ctx context.Context) error {
	var candidate scratchpad.Record
	r.CopyScratchpad(&candidate)

	if err := r.transact(ctx, r.engine.Read); err != nil {
		r.buffer = candidate
		r.phase = PhaseUnregistered
		r.online = false
		r.failures++
		return fmt.Errorf("reading candidate: %w", err)
	}
	r.phase = PhaseIdentified
	read := r.buffer

	c, err := r.factory.Resolve(r.buffer.Category())
	if errors.Is(err, client.ErrUnknownCategory) {
		r.ignore(c)
		return nil
	}

	if r.IsSameScratchpadType(&r.buffer) && r.client != nil {
		r.logger.Debug("re-registering module", "line", r.name, "category", c.Category().String())
	} else {
		r.logger.Info("new module on registration line", "line", r.name, "category", c.Category().String())
	}

	if err := r.bind(ctx, c); err != nil {
		r.buffer = read
		r.online = false
		r.failures++
		return err
	}
	if err := r.binder.SaveState(ctx); err != nil {
		r.logger.Error("persisting registrations failed", "line", r.name, "error", err)
	}

	r.client = c
	r.lastGood = r.buffer
	r.lastType = r.buffer.Category()
	r.hasLast = true
	r.phase = PhaseRegistered
	r.online = true
	r.failures = 0
	r.lastSeen = time.Now().UTC()

	r.logger.Info("module registered",
		"line", r.name,
		"category", r.lastType.String(),
		"controller_id", r.buffer.Head.ControllerID,
		"rf_id", r.buffer.Head.RFID,
	)
	return nil
}

func (r *Registration) bind(ctx context.Context, c client.Client) error {
	if err := c.Register(ctx, &r.buffer); err != nil {
		return fmt.Errorf("registering module: %w", err)
	}
	if err := bindHead(&r.buffer, r.binder); err != nil {
		return err
	}
	if err := r.transact(ctx, r.engine.Write); err != nil {
		return fmt.Errorf("writing registration: %w", err)
	}
	if err := r.transact(ctx, r.engine.Save); err != nil {
		return fmt.Errorf("saving registration: %w", err)
	}
	return commit(ctx, c, &r.buffer, r.binder)
}

// ignore records a module whose category has no client. The phase stays
// Identified; the module is not written to.
func (r *Registration) ignore(c client.Client) {
	if _, seen := r.client.(client.Dummy); !seen || !r.IsSameScratchpadType(&r.buffer) {
		r.logger.Warn("module category has no client, leaving module untouched",
			"line", r.name,
			"category", c.Category().String(),
		)
	}
	r.client = c
	r.lastGood = r.buffer
	r.lastType = r.buffer.Category()
	r.hasLast = true
	r.online = false
	r.failures = 0
	r.lastSeen = time.Now().UTC()
}

// Update scans the line every interval. An unknown module is registered;
// a registered one is read and updated through its client.
func (r *Registration) Update(ctx context.Context, dt time.Duration) {
	r.elapsed += dt
	if r.elapsed < r.interval {
		return
	}
	r.elapsed = 0

	if !r.IsModulePresent(ctx) {
		if r.phase != PhaseUnregistered {
			r.logger.Info("module detached", "line", r.name)
			r.markOffline(ctx)
		}
		r.phase = PhaseUnregistered
		return
	}

	switch r.phase {
	case PhaseUnregistered, PhaseIdentified:
		if err := r.Register(ctx); err != nil {
			r.logger.Warn("registration failed", "line", r.name, "phase", r.phase.String(), "error", err)
		}
	case PhaseRegistered, PhaseActive:
		r.poll(ctx)
	}
}

func (r *Registration) poll(ctx context.Context) {
	if err := r.transact(ctx, r.engine.Read); err != nil {
		r.buffer = r.lastGood
		r.degrade(ctx, fmt.Errorf("reading module: %w", err))
		return
	}

	if !r.IsSameScratchpadType(&r.buffer) || r.buffer.Foreign(r.binder.GetControllerID()) {
		r.phase = PhaseUnregistered
		if err := r.Register(ctx); err != nil {
			r.logger.Warn("registration failed", "line", r.name, "error", err)
		}
		return
	}

	before := r.buffer
	if err := r.client.Update(ctx, &r.buffer, true); err != nil {
		r.logger.Warn("module update incomplete", "line", r.name, "error", err)
	}
	if r.buffer != before {
		if err := r.transact(ctx, r.engine.Write); err != nil {
			r.degrade(ctx, fmt.Errorf("writing update: %w", err))
			return
		}
	}

	if !r.online {
		r.logger.Info("module back online", "line", r.name, "missed", r.failures)
	}
	r.lastGood = r.buffer
	r.phase = PhaseActive
	r.online = true
	r.failures = 0
	r.lastSeen = time.Now().UTC()
}

// degrade handles a failed transaction with a registered module: the
// module's state shows no data and the phase falls back to Registered until
// a poll succeeds again.
func (r *Registration) degrade(ctx context.Context, err error) {
	r.failures++
	if r.online {
		r.logger.Warn("module not responding", "line", r.name, "error", err)
	} else {
		r.logger.Debug("module still not responding", "line", r.name, "failures", r.failures, "error", err)
	}
	r.phase = PhaseRegistered
	r.markOffline(ctx)
}

// markOffline pushes the last good record through the client as offline.
func (r *Registration) markOffline(ctx context.Context) {
	r.online = false
	if r.client == nil || !r.hasLast {
		return
	}
	rec := r.lastGood
	if err := r.client.Update(ctx, &rec, false); err != nil {
		r.logger.Warn("offline update incomplete", "line", r.name, "error", err)
	}
}

func (r *Registration) transact(ctx context.Context, fn func(context.Context) error) error {
	txCtx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	return fn(txCtx)
}
