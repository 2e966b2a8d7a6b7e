package onewire

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// 1-Wire over UART: the reset pulse is a 0xF0 byte at 9600 baud, every data
// bit is one byte at 115200 baud. A module answering the reset stretches the
// echoed byte; a module sending a 0 bit pulls the echoed 0xFF low.
const (
	resetBaud = 9600
	dataBaud  = 115200

	resetByte = 0xF0
	bitOne    = 0xFF
	bitZero   = 0x00
)

// uartPort is the subset of serial.Port used by UARTLine.
type uartPort interface {
	SetMode(mode *serial.Mode) error
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ResetInputBuffer() error
	Close() error
}

// UARTLine is a Line driven through a serial adapter with TX and RX tied to
// the bus data wire (through the usual open-drain buffer).
type UARTLine struct {
	mu   sync.Mutex
	port uartPort
	name string
	baud int
}

// OpenUART opens a serial device as a bus line.
//
// Parameters:
//   - portName: Serial device (e.g. /dev/ttyUSB0)
//   - timeout: Read timeout; a transfer that does not echo in time fails with ErrBusTimeout
//
// Returns:
//   - *UARTLine: Line ready for transactions
//   - error: If the device cannot be opened or configured
func OpenUART(portName string, timeout time.Duration) (*UARTLine, error) {
	port, err := serial.Open(portName, uartMode(resetBaud))
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("setting read timeout on %s: %w", portName, err)
	}
	return newUARTLine(port, portName), nil
}

func newUARTLine(port uartPort, name string) *UARTLine {
	return &UARTLine{port: port, name: name, baud: resetBaud}
}

func uartMode(baud int) *serial.Mode {
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// Name returns the serial device name.
func (u *UARTLine) Name() string {
	return u.name
}

// Close releases the serial port.
func (u *UARTLine) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.port.Close()
}

// Reset implements Line.
func (u *UARTLine) Reset(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := u.setBaud(resetBaud); err != nil {
		return err
	}
	if err := u.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("flushing %s: %w", u.name, err)
	}

	echo, err := u.exchange([]byte{resetByte})
	if err != nil {
		return err
	}
	if echo[0] == resetByte {
		return ErrBusTimeout
	}

	return u.setBaud(dataBaud)
}

// Write implements Line.
func (u *UARTLine) Write(ctx context.Context, p []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	for _, b := range p {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := u.exchange(encodeBits(b)); err != nil {
			return err
		}
	}
	return nil
}

// Read implements Line.
func (u *UARTLine) Read(ctx context.Context, p []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	slots := encodeBits(0xFF)
	for i := range p {
		if err := ctx.Err(); err != nil {
			return err
		}
		echo, err := u.exchange(slots)
		if err != nil {
			return err
		}
		p[i] = decodeBits(echo)
	}
	return nil
}

func (u *UARTLine) setBaud(baud int) error {
	if u.baud == baud {
		return nil
	}
	if err := u.port.SetMode(uartMode(baud)); err != nil {
		return fmt.Errorf("switching %s to %d baud: %w", u.name, baud, err)
	}
	u.baud = baud
	return nil
}

// exchange writes out and reads back the same number of echoed bytes.
func (u *UARTLine) exchange(out []byte) ([]byte, error) {
	if _, err := u.port.Write(out); err != nil {
		return nil, fmt.Errorf("writing to %s: %w", u.name, err)
	}

	echo := make([]byte, len(out))
	for got := 0; got < len(echo); {
		n, err := u.port.Read(echo[got:])
		if err != nil {
			return nil, fmt.Errorf("reading from %s: %w", u.name, err)
		}
		if n == 0 {
			return nil, ErrBusTimeout
		}
		got += n
	}
	return echo, nil
}

// encodeBits expands b into eight UART time slots, least significant bit first.
func encodeBits(b byte) []byte {
	slots := make([]byte, 8)
	for i := range slots {
		if b&(1<<i) != 0 {
			slots[i] = bitOne
		} else {
			slots[i] = bitZero
		}
	}
	return slots
}

// decodeBits collapses eight echoed slots into a byte. Only a slot that came
// back untouched reads as 1.
func decodeBits(slots []byte) byte {
	var b byte
	for i, s := range slots {
		if s == bitOne {
			b |= 1 << i
		}
	}
	return b
}
