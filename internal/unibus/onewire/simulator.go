package onewire

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-unibus/internal/unibus/scratchpad"
)

// errUnexpectedROM is returned when a transaction does not start with SKIP ROM.
var errUnexpectedROM = errors.New("onewire: simulator expected SKIP ROM")

type simPhase int

const (
	simIdle simPhase = iota
	simAwaitROM
	simAwaitCommand
	simSending
	simReceiving
)

// SimulatorStats counts the transactions a Simulator has served.
type SimulatorStats struct {
	Resets   int
	Measures int
	Reads    int
	Writes   int
	Saves    int
}

// Simulator is an in-memory UniBus module implementing Line. It keeps a
// working scratchpad and an EEPROM copy the way module firmware does, and
// accepts a written record only when its CRC is correct.
type Simulator struct {
	mu sync.Mutex

	scratch scratchpad.Record
	eeprom  scratchpad.Record

	online  bool
	corrupt int
	measure func(*scratchpad.Record)

	phase  simPhase
	outBuf []byte
	inBuf  []byte

	stats SimulatorStats
}

// NewSimulator returns an online module whose scratchpad and EEPROM both
// hold rec.
func NewSimulator(rec scratchpad.Record) *Simulator {
	rec.Seal()
	return &Simulator{
		scratch: rec,
		eeprom:  rec,
		online:  true,
	}
}

// SimulatedModule returns a factory-fresh record for a module category:
// no controller binding, no rf id, unassigned sensor indices.
func SimulatedModule(c scratchpad.Category) scratchpad.Record {
	rec := scratchpad.New(c)

	switch c {
	case scratchpad.CategorySensors:
		p := scratchpad.DecodeSensors(rec.Data)
		p.BatteryStatus = 100
		p.QueryInterval = scratchpad.PackQueryInterval(0)
		p.Sensors[0] = scratchpad.SensorEntry{
			Index: scratchpad.NoSensorRegistered,
			Type:  scratchpad.SensorTemperature,
			Data:  [4]byte{0x00, 0xD2, 0xFF, 0xFF},
		}
		p.Sensors[1] = scratchpad.SensorEntry{
			Index: scratchpad.NoSensorRegistered,
			Type:  scratchpad.SensorHumidity,
			Data:  [4]byte{0x02, 0x6C, 0x00, 0xD2},
		}
		rec.Data = p.Encode()
	case scratchpad.CategoryExecution:
		var p scratchpad.ExecutionPayload
		for i := range p.Slots {
			p.Slots[i] = scratchpad.Slot{Type: scratchpad.SlotEmpty, LinkedData: scratchpad.Unused, Status: scratchpad.SlotLow}
		}
		rec.Data = p.Encode()
	}

	rec.Seal()
	return rec
}

// SetOnline attaches or detaches the module from the bus.
func (s *Simulator) SetOnline(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = online
}

// CorruptReads makes the next n scratchpad reads arrive with a flipped bit.
func (s *Simulator) CorruptReads(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corrupt = n
}

// SetMeasure installs a hook run on every start-measure command. It may
// rewrite the working scratchpad's data; the CRC is resealed afterwards.
func (s *Simulator) SetMeasure(fn func(*scratchpad.Record)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.measure = fn
}

// Record returns the working scratchpad.
func (s *Simulator) Record() scratchpad.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scratch
}

// Saved returns the EEPROM copy.
func (s *Simulator) Saved() scratchpad.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eeprom
}

// Replace swaps in a different physical module.
func (s *Simulator) Replace(rec scratchpad.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Seal()
	s.scratch = rec
	s.eeprom = rec
	s.phase = simIdle
}

// PowerCycle reloads the working scratchpad from EEPROM.
func (s *Simulator) PowerCycle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scratch = s.eeprom
	s.phase = simIdle
}

// Stats returns transaction counters.
func (s *Simulator) Stats() SimulatorStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Reset implements Line.
func (s *Simulator) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.phase = simIdle
	if !s.online {
		return ErrBusTimeout
	}
	s.stats.Resets++
	s.phase = simAwaitROM
	return nil
}

// Write implements Line.
func (s *Simulator) Write(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.online {
		return ErrBusTimeout
	}
	for _, b := range p {
		if err := s.consume(b); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulator) consume(b byte) error {
	switch s.phase {
	case simAwaitROM:
		if b != CmdSkipROM {
			s.phase = simIdle
			return fmt.Errorf("%w: got 0x%02X", errUnexpectedROM, b)
		}
		s.phase = simAwaitCommand
	case simAwaitCommand:
		s.command(b)
	case simReceiving:
		s.inBuf = append(s.inBuf, b)
		if len(s.inBuf) == scratchpad.Size {
			// Firmware drops a written record with a bad CRC.
			if rec, err := scratchpad.Decode(s.inBuf); err == nil {
				s.scratch = rec
			}
			s.inBuf = nil
			s.phase = simIdle
		}
	default:
		// Bytes outside a transaction are ignored by the module.
	}
	return nil
}

func (s *Simulator) command(cmd byte) {
	s.phase = simIdle
	switch cmd {
	case CmdStartMeasure:
		s.stats.Measures++
		if s.measure != nil {
			s.measure(&s.scratch)
			s.scratch.Seal()
		}
	case CmdReadScratchpad:
		s.stats.Reads++
		s.outBuf = s.scratch.Bytes()
		if s.corrupt > 0 {
			s.corrupt--
			s.outBuf[scratchpad.HeadSize] ^= 0x01
		}
		s.phase = simSending
	case CmdWriteScratchpad:
		s.stats.Writes++
		s.inBuf = nil
		s.phase = simReceiving
	case CmdSaveEEPROM:
		s.stats.Saves++
		s.eeprom = s.scratch
	}
}

// Read implements Line. Outside a read transaction the bus floats high and
// reads as 0xFF.
func (s *Simulator) Read(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.online {
		return ErrBusTimeout
	}
	for i := range p {
		if s.phase == simSending && len(s.outBuf) > 0 {
			p[i] = s.outBuf[0]
			s.outBuf = s.outBuf[1:]
			continue
		}
		p[i] = 0xFF
	}
	if s.phase == simSending && len(s.outBuf) == 0 {
		s.phase = simIdle
	}
	return nil
}
