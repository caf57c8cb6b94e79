// Package serio is the serial transport for the DrawBridge protocol engine.
// It is intentionally dumb: timed byte I/O and line-level control, no
// knowledge of the command vocabulary.
package serio

import (
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"
)

// Open failure classification, so callers can tell a missing device from a
// busy or forbidden one.
var (
	ErrNotFound     = errors.New("serial port not found")
	ErrInUse        = errors.New("serial port already in use")
	ErrAccessDenied = errors.New("access to serial port denied")
)

// Port wraps a serial device with the timeout model the DrawBridge firmware
// expects: every read and write deadline is base + perByte * requestedSize.
type Port struct {
	port serial.Port
	name string

	readBase     time.Duration
	readPerByte  time.Duration
	writeBase    time.Duration
	writePerByte time.Duration
}

// Open opens the serial port at its default mode. Configure must be called
// before any protocol traffic.
func Open(name string) (*Port, error) {
	port, err := serial.Open(name, &serial.Mode{BaudRate: 9600})
	if err != nil {
		var portErr *serial.PortError
		if errors.As(err, &portErr) {
			switch portErr.Code() {
			case serial.PortNotFound:
				return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
			case serial.PortBusy:
				return nil, fmt.Errorf("%s: %w", name, ErrInUse)
			case serial.PermissionDenied:
				return nil, fmt.Errorf("%s: %w", name, ErrAccessDenied)
			}
		}
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	return &Port{port: port, name: name}, nil
}

// Configure switches the port to raw 8N1 framing at the requested baud rate
// and asserts DTR. The ctsFlowControl flag is accepted for parity with the
// protocol contract; the underlying library drives a USB CDC device where
// pacing is handled by the adapter firmware, so no termios-level CRTSCTS is
// applied here.
func (p *Port) Configure(baudRate int, ctsFlowControl bool) error {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if err := p.port.SetMode(mode); err != nil {
		return fmt.Errorf("failed to configure %s at %d baud: %w", p.name, baudRate, err)
	}
	// Not fatal if this fails: some CDC stacks assert DTR on open already.
	_ = p.port.SetDTR(true)
	return nil
}

// SetReadTimeout sets the read deadline parameters.
func (p *Port) SetReadTimeout(base, perByte time.Duration) {
	p.readBase = base
	p.readPerByte = perByte
}

// SetWriteTimeout sets the write deadline parameters.
func (p *Port) SetWriteTimeout(base, perByte time.Duration) {
	p.writeBase = base
	p.writePerByte = perByte
}

// Read fills buf with whatever arrives before the deadline and returns the
// partial count. A pure timeout is (0, nil), not an error.
func (p *Port) Read(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	deadline := time.Now().Add(p.readBase + p.readPerByte*time.Duration(len(buf)))
	total := 0
	for total < len(buf) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if err := p.port.SetReadTimeout(remaining); err != nil {
			return total, err
		}
		n, err := p.port.Read(buf[total:])
		if err != nil {
			return total, err
		}
		if n == 0 {
			// Library-level timeout expired.
			break
		}
		total += n
	}
	return total, nil
}

// Write sends buf and returns the number of bytes accepted.
func (p *Port) Write(buf []byte) (int, error) {
	return p.port.Write(buf)
}

// SetDTR drives the DTR line, used by the reset sequence.
func (p *Port) SetDTR(state bool) error {
	return p.port.SetDTR(state)
}

// SetRTS drives the RTS line, used by the reset sequence.
func (p *Port) SetRTS(state bool) error {
	return p.port.SetRTS(state)
}

// GetCTS reports the current CTS line state, used by diagnostics.
func (p *Port) GetCTS() (bool, error) {
	bits, err := p.port.GetModemStatusBits()
	if err != nil {
		return false, err
	}
	return bits.CTS, nil
}

// Purge discards anything pending in both directions.
func (p *Port) Purge() {
	_ = p.port.ResetInputBuffer()
	_ = p.port.ResetOutputBuffer()
}

// BytesWaiting reports how many bytes are queued for reading. The serial
// library does not expose the kernel input queue, so this returns 0
// (unknown); callers fall back to fixed-size polls bounded by the read
// deadline.
func (p *Port) BytesWaiting() int {
	return 0
}

// Close releases the port. The library restores the saved line discipline
// on close.
func (p *Port) Close() error {
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	return err
}
