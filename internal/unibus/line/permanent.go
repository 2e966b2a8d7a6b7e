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

// PermanentOptions configures a Permanent line.
type PermanentOptions struct {
	Name    string
	Line    onewire.Line
	Factory *client.Factory
	Binder  Binder
	Logger  Logger

	// PollInterval is the time between measurements.
	PollInterval time.Duration
	// MeasureTime is the wait between StartMeasure and Read. Values below
	// onewire.MeasureMinTime are raised to it.
	MeasureTime time.Duration
	// TransactionTimeout bounds each bus transaction.
	TransactionTimeout time.Duration
}

// Permanent polls the module on a dedicated line.
type Permanent struct {
	name    string
	engine  onewire.Scratchpad
	record  scratchpad.Record
	factory *client.Factory
	binder  Binder
	logger  Logger

	pollInterval time.Duration
	measureTime  time.Duration
	timeout      time.Duration

	elapsed   time.Duration
	measuring bool

	client   client.Client
	lastGood scratchpad.Record
	hasGood  bool
	online   bool
	failures int
	lastSeen time.Time
}

// NewPermanent creates a permanent line. The first Update starts a measurement.
func NewPermanent(opts PermanentOptions) *Permanent {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	measure := max(opts.MeasureTime, onewire.MeasureMinTime)
	poll := max(opts.PollInterval, measure)

	p := &Permanent{
		name:         opts.Name,
		factory:      opts.Factory,
		binder:       opts.Binder,
		logger:       logger,
		pollInterval: poll,
		measureTime:  measure,
		timeout:      opts.TransactionTimeout,
		elapsed:      poll,
	}
	p.engine.Bind(opts.Line, &p.record)
	p.engine.SetLogger(logger)
	return p
}

// Name returns the configured line name.
func (p *Permanent) Name() string { return p.name }

// Online reports whether the last transaction succeeded.
func (p *Permanent) Online() bool { return p.online }

// Client returns the client bound at the last registration, or nil.
func (p *Permanent) Client() client.Client { return p.client }

// Failures returns the number of consecutive failed transactions.
func (p *Permanent) Failures() int { return p.failures }

// LastGood returns the last valid record read from the module.
func (p *Permanent) LastGood() (scratchpad.Record, bool) { return p.lastGood, p.hasGood }

// Status returns the line state for reporting.
func (p *Permanent) Status() Status {
	st := Status{
		Name:     p.name,
		Role:     RolePermanent,
		Online:   p.online,
		Failures: p.failures,
		LastSeen: p.lastSeen,
	}
	if p.hasGood {
		st.Category = p.lastGood.Category().String()
		rf := p.lastGood.Head.RFID
		st.RFID = &rf
	}
	return st
}

// Update advances the line by dt. At most one bus transaction runs per call.
func (p *Permanent) Update(ctx context.Context, dt time.Duration) {
	p.elapsed += dt

	if !p.measuring {
		if p.elapsed < p.pollInterval {
			return
		}
		p.elapsed = 0

		txCtx, cancel := withTimeout(ctx, p.timeout)
		err := p.engine.StartMeasure(txCtx)
		cancel()
		if err != nil {
			p.fail(ctx, err)
			return
		}
		p.measuring = true
		return
	}

	if p.elapsed < p.measureTime {
		return
	}
	p.measuring = false

	txCtx, cancel := withTimeout(ctx, p.timeout)
	err := p.engine.Read(txCtx)
	cancel()
	if err != nil {
		p.fail(ctx, err)
		return
	}
	p.succeed(ctx)
}

func (p *Permanent) succeed(ctx context.Context) {
	c, resolveErr := p.factory.Resolve(p.record.Category())

	if p.needsRegistration(c) {
		if errors.Is(resolveErr, client.ErrUnknownCategory) {
			p.adopt(c)
		} else if err := p.register(ctx, c); err != nil {
			p.fail(ctx, err)
			return
		}
	}

	before := p.record
	if err := c.Update(ctx, &p.record, true); err != nil {
		p.logger.Warn("module update incomplete", "line", p.name, "error", err)
	}
	if p.record != before {
		if err := p.transact(ctx, p.engine.Write); err != nil {
			p.fail(ctx, fmt.Errorf("writing update: %w", err))
			return
		}
	}

	if !p.online && p.failures > 0 {
		p.logger.Info("module back online", "line", p.name, "missed", p.failures)
	}
	p.lastGood = p.record
	p.hasGood = true
	p.online = true
	p.failures = 0
	p.lastSeen = time.Now().UTC()
}

// needsRegistration reports whether the record must go through Register
// before Update: no client yet, a different category on the pin, or a
// module bound to another controller. A module no client handles is never
// bound, so it is not re-registered for being foreign.
func (p *Permanent) needsRegistration(c client.Client) bool {
	if p.client == nil {
		return true
	}
	if p.client.Category() != c.Category() {
		p.logger.Info("module category changed",
			"line", p.name,
			"from", p.client.Category().String(),
			"to", c.Category().String(),
		)
		return true
	}
	if _, ok := p.client.(client.Dummy); ok {
		return false
	}
	return p.record.Foreign(p.binder.GetControllerID())
}

// adopt takes a module whose category has no client. It is left exactly as
// it is: no controller id, no rf id, no write-back.
func (p *Permanent) adopt(c client.Client) {
	p.client = c
	p.logger.Warn("module category has no client, leaving module untouched",
		"line", p.name,
		"category", c.Category().String(),
	)
}

// register binds the module. Indices and the rf id are only proposed until
// the module has stored the record, so a failed write-back claims nothing.
func (p *Permanent) register(ctx context.Context, c client.Client) error {
	before := p.record

	if err := c.Register(ctx, &p.record); err != nil {
		return fmt.Errorf("registering module: %w", err)
	}
	if err := bindHead(&p.record, p.binder); err != nil {
		return err
	}

	if p.record != before {
		if err := p.transact(ctx, p.engine.Write); err != nil {
			return fmt.Errorf("writing registration: %w", err)
		}
		if err := p.transact(ctx, p.engine.Save); err != nil {
			return fmt.Errorf("saving registration: %w", err)
		}
	}
	if err := commit(ctx, c, &p.record, p.binder); err != nil {
		return err
	}
	if err := p.binder.SaveState(ctx); err != nil {
		p.logger.Error("persisting registrations failed", "line", p.name, "error", err)
	}

	p.client = c
	p.logger.Info("module registered",
		"line", p.name,
		"category", c.Category().String(),
		"rf_id", p.record.Head.RFID,
	)
	return nil
}

func (p *Permanent) transact(ctx context.Context, fn func(context.Context) error) error {
	txCtx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()
	return fn(txCtx)
}

func (p *Permanent) fail(ctx context.Context, err error) {
	p.failures++
	if p.online || p.failures == 1 {
		p.logger.Warn("module not responding", "line", p.name, "error", err)
	} else {
		p.logger.Debug("module still not responding", "line", p.name, "failures", p.failures, "error", err)
	}
	if errors.Is(err, onewire.ErrNotBound) {
		p.logger.Error("line has no bus attached", "line", p.name)
	}
	p.online = false

	if p.client == nil || !p.hasGood {
		return
	}
	rec := p.lastGood
	if uerr := p.client.Update(ctx, &rec, false); uerr != nil {
		p.logger.Warn("offline update incomplete", "line", p.name, "error", uerr)
	}
}
