package onewire

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-unibus/internal/unibus/scratchpad"
)

// Bus commands.
const (
	CmdSkipROM         byte = 0xCC
	CmdStartMeasure    byte = 0x44
	CmdReadScratchpad  byte = 0xBE
	CmdWriteScratchpad byte = 0x4E
	CmdSaveEEPROM      byte = 0x25
)

// MeasureMinTime is the minimum delay between StartMeasure and Read.
const MeasureMinTime = 1000 * time.Millisecond

// Scratchpad runs transactions for one module on one line against one
// record buffer. It never modifies the buffer outside Read and Write.
type Scratchpad struct {
	line   Line
	record *scratchpad.Record
	logger Logger
}

// Bind attaches the engine to a line and the record buffer it reads into
// and writes from.
func (s *Scratchpad) Bind(line Line, record *scratchpad.Record) {
	s.line = line
	s.record = record
}

// SetLogger sets the logger for programming-error reports.
func (s *Scratchpad) SetLogger(logger Logger) {
	s.logger = logger
}

// Record returns the bound buffer.
func (s *Scratchpad) Record() *scratchpad.Record {
	return s.record
}

// Presence resets the line and reports whether a module answered.
func (s *Scratchpad) Presence(ctx context.Context) error {
	if err := s.canWork(); err != nil {
		return err
	}
	return s.line.Reset(ctx)
}

// StartMeasure asks the module to begin a conversion. Callers wait
// MeasureMinTime before calling Read.
func (s *Scratchpad) StartMeasure(ctx context.Context) error {
	return s.command(ctx, CmdStartMeasure)
}

// Read transfers a full record into the bound buffer and validates it.
// On error the buffer contents are undefined.
func (s *Scratchpad) Read(ctx context.Context) error {
	if err := s.command(ctx, CmdReadScratchpad); err != nil {
		return err
	}

	raw := make([]byte, scratchpad.Size)
	if err := s.line.Read(ctx, raw); err != nil {
		return fmt.Errorf("reading scratchpad: %w", err)
	}

	rec, err := scratchpad.Decode(raw)
	*s.record = rec
	return err
}

// Write seals the bound buffer and transfers it to the module.
func (s *Scratchpad) Write(ctx context.Context) error {
	if err := s.command(ctx, CmdWriteScratchpad); err != nil {
		return err
	}

	s.record.Seal()
	if err := s.line.Write(ctx, s.record.Bytes()); err != nil {
		return fmt.Errorf("writing scratchpad: %w", err)
	}
	return nil
}

// Save tells the module to commit its scratchpad to EEPROM. A module that
// loses power before Save completes reverts to its last saved record.
func (s *Scratchpad) Save(ctx context.Context) error {
	return s.command(ctx, CmdSaveEEPROM)
}

func (s *Scratchpad) command(ctx context.Context, cmd byte) error {
	if err := s.canWork(); err != nil {
		return err
	}
	if err := s.line.Reset(ctx); err != nil {
		return err
	}
	if err := s.line.Write(ctx, []byte{CmdSkipROM, cmd}); err != nil {
		return fmt.Errorf("sending command 0x%02X: %w", cmd, err)
	}
	return nil
}

func (s *Scratchpad) canWork() error {
	if s.line != nil && s.record != nil {
		return nil
	}
	logger := s.logger
	if logger == nil {
		logger = noopLogger{}
	}
	logger.Error("scratchpad transaction without bound line", "line_bound", s.line != nil, "record_bound", s.record != nil)
	return ErrNotBound
}
