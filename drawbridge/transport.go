package drawbridge

import "time"

// Transport is the byte-oriented serial channel the engine speaks over.
// serio.Port is the production implementation; tests substitute a scripted
// one. The transport has no protocol knowledge.
type Transport interface {
	// Configure sets raw 8N1 framing at the given baud rate, optionally
	// with hardware flow control, and asserts DTR.
	Configure(baudRate int, ctsFlowControl bool) error

	// Read and Write honor a deadline of base + perByte*len(buf) and
	// return the partial count achieved within it; a pure timeout is
	// (0, nil), not an error.
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)

	SetReadTimeout(base, perByte time.Duration)
	SetWriteTimeout(base, perByte time.Duration)

	// Line-level control, used for reset sequencing and diagnostics.
	SetDTR(state bool) error
	SetRTS(state bool) error
	GetCTS() (bool, error)

	// Purge discards buffered data in both directions. BytesWaiting
	// reports the receive queue depth, 0 when unknown.
	Purge()
	BytesWaiting() int

	Close() error
}
