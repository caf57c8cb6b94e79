package fdd

import (
	"testing"
	"time"

	"github.com/sergev/drawbridge/drawbridge"
)

// brokenReadTransport acks drive control commands but refuses every track
// read, simulating a surface the hardware cannot capture.
type brokenReadTransport struct {
	pending      []byte
	trackDigits  int
	readAttempts int
}

func (m *brokenReadTransport) Write(buf []byte) (int, error) {
	for _, b := range buf {
		if m.trackDigits > 0 {
			if m.trackDigits--; m.trackDigits == 0 {
				m.pending = append(m.pending, '1')
			}
			continue
		}
		switch b {
		case '#':
			m.trackDigits = 2
		case '[', ']', '+', '-', '*', '~', 'H', 'D':
			m.pending = append(m.pending, '1')
		case '<', '{':
			m.readAttempts++
			m.pending = append(m.pending, '0')
		}
	}
	return len(buf), nil
}

func (m *brokenReadTransport) Read(buf []byte) (int, error) {
	n := copy(buf, m.pending)
	m.pending = m.pending[n:]
	return n, nil
}

func (m *brokenReadTransport) Configure(baudRate int, ctsFlowControl bool) error { return nil }
func (m *brokenReadTransport) SetReadTimeout(base, perByte time.Duration)        {}
func (m *brokenReadTransport) SetWriteTimeout(base, perByte time.Duration)       {}
func (m *brokenReadTransport) SetDTR(state bool) error                           { return nil }
func (m *brokenReadTransport) SetRTS(state bool) error                           { return nil }
func (m *brokenReadTransport) GetCTS() (bool, error)                             { return false, nil }
func (m *brokenReadTransport) Purge()                                            {}
func (m *brokenReadTransport) BytesWaiting() int                                 { return 0 }
func (m *brokenReadTransport) Close() error                                      { return nil }

func TestReadSectorDegradesOnCaptureFailure(t *testing.T) {
	m := &brokenReadTransport{}
	d := NewDrive(drawbridge.New(m), 2)
	d.tracks = numTracks
	d.heads = numHeads
	d.sectors = 9
	d.diskInserted = true

	buffer := make([]byte, SectorSize)
	for i := range buffer {
		buffer[i] = 0xFF
	}

	// An unreadable track is served as zeroed data, never as an error.
	if err := d.ReadSector(0, 0, 1, buffer); err != nil {
		t.Fatalf("ReadSector() = %v, expected degraded data instead of an error", err)
	}
	for i, b := range buffer {
		if b != 0 {
			t.Fatalf("buffer[%d] = 0x%02X, expected zeroed data for a failed capture", i, b)
		}
	}

	// The capture budget is two attempts, each with one command retry.
	if m.readAttempts != 4 {
		t.Errorf("read command sent %d times, expected 4 for a budget of 2", m.readAttempts)
	}

	// The FDC entry point degrades the same way.
	if err := d.SetSector(0, 0, 1); err != nil {
		t.Fatalf("SetSector() = %v, expected degraded data instead of an error", err)
	}
	if b := d.ReadByte(0); b != 0 {
		t.Errorf("ReadByte(0) = 0x%02X, expected 0", b)
	}

	// Seek tolerates the unreadable surfaces too.
	if err := d.Seek(0); err != nil {
		t.Fatalf("Seek(0) = %v, expected nil with degraded surfaces", err)
	}
}

func TestNewDriveRetryBudget(t *testing.T) {
	if d := NewDrive(nil, 0); d.maxRetries != defaultReadRetries {
		t.Errorf("maxRetries = %d for retries 0, expected the default %d",
			d.maxRetries, defaultReadRetries)
	}
	if d := NewDrive(nil, 5); d.maxRetries != 5 {
		t.Errorf("maxRetries = %d, expected 5", d.maxRetries)
	}
}

// Helper function: driveForSectors builds a Drive with the geometry fields
// set as Detect would leave them, then derives the format parameters.
func driveForSectors(sectors int) *Drive {
	d := &Drive{
		tracks:    numTracks,
		heads:     numHeads,
		sectors:   sectors,
		diskFlags: 0x08,
	}
	d.calculateGapSizes()
	return d
}

func TestCalculateGapSizesDD(t *testing.T) {
	d := driveForSectors(9)

	if d.dataRate != 2 {
		t.Errorf("data rate = %d, expected 2 (250 kbps)", d.dataRate)
	}
	if d.gap2Size != 22 || d.gap3Size != 80 {
		t.Errorf("gaps = %d/%d, expected 22/80", d.gap2Size, d.gap3Size)
	}
	if d.TrackFlags() != 0x0A {
		t.Errorf("track flags = 0x%02X, expected 0x0A", d.TrackFlags())
	}
	if d.DiskFlags() != 0x88 {
		t.Errorf("disk flags = 0x%02X, expected 0x88", d.DiskFlags())
	}
	if d.SideFlags() != 0x0A {
		t.Errorf("side flags = 0x%02X, expected 0x0A", d.SideFlags())
	}
}

func TestCalculateGapSizesHD(t *testing.T) {
	d := driveForSectors(18)

	if d.dataRate != 0 {
		t.Errorf("data rate = %d, expected 0 (500 kbps)", d.dataRate)
	}
	if d.gap2Size != 22 || d.gap3Size != 108 {
		t.Errorf("gaps = %d/%d, expected 22/108", d.gap2Size, d.gap3Size)
	}
	if d.TrackFlags() != 0x08 {
		t.Errorf("track flags = 0x%02X, expected 0x08", d.TrackFlags())
	}
	if d.DiskFlags() != 0x8A {
		t.Errorf("disk flags = 0x%02X, expected 0x8A", d.DiskFlags())
	}
	if d.SideFlags() != 0x08 {
		t.Errorf("side flags = 0x%02X, expected 0x08", d.SideFlags())
	}
}

func TestCalculateGapSizesED(t *testing.T) {
	d := driveForSectors(36)

	if d.dataRate != 3 {
		t.Errorf("data rate = %d, expected 3 (1000 kbps)", d.dataRate)
	}
	if d.gap2Size != 41 {
		t.Errorf("gap2 = %d, expected the longer 41 for ED media", d.gap2Size)
	}
	if d.gap3Size != 84 {
		t.Errorf("gap3 = %d, expected 84", d.gap3Size)
	}
	if d.SideFlags() != 0x0B {
		t.Errorf("side flags = 0x%02X, expected 0x0B", d.SideFlags())
	}
}

func TestCalculateGapSizes300RPM(t *testing.T) {
	// 15 sectors only fits the 500 kbps at 300 RPM column.
	d := driveForSectors(15)

	if d.dataRate != 4 {
		t.Errorf("data rate = %d, expected 4", d.dataRate)
	}
	if d.TrackFlags() != 0x28 {
		t.Errorf("track flags = 0x%02X, expected 0x28 (300 RPM bit set)", d.TrackFlags())
	}
	if d.gap3Size != 34 {
		t.Errorf("gap3 = %d, expected 34", d.gap3Size)
	}
	if d.SideFlags() != 0x0A {
		t.Errorf("side flags = 0x%02X, expected the 250 kbps fallback 0x0A", d.SideFlags())
	}
}

func TestGap3Size(t *testing.T) {
	cases := []struct {
		rate     uint8
		sectors  int
		expected uint8
	}{
		{0, 18, 108},
		{0, 15, 84},
		{2, 9, 80},
		{2, 10, 34},
		{3, 36, 84},
	}
	for _, c := range cases {
		if got := gap3Size(c.rate, c.sectors); got != c.expected {
			t.Errorf("gap3Size(%d, %d) = %d, expected %d",
				c.rate, c.sectors, got, c.expected)
		}
	}
}

func TestFDCContract(t *testing.T) {
	d := driveForSectors(9)

	if d.FormatSupported() {
		t.Error("FormatSupported() = true, the adapter is read-only")
	}
	if b := d.ReadByte(0); b != 0 {
		t.Errorf("ReadByte with no sector selected = 0x%02X, expected 0", b)
	}

	// Writes are silently discarded.
	d.WriteByte(0, 0xFF)
	d.Writeback()
	if b := d.ReadByte(0); b != 0 {
		t.Errorf("ReadByte after discarded write = 0x%02X, expected 0", b)
	}

	if err := d.SetSector(0, 0, 0); err == nil {
		t.Error("SetSector accepted sector number 0, numbering starts at 1")
	}
	if err := d.SetSector(80, 0, 1); err == nil {
		t.Error("SetSector accepted an out of range cylinder")
	}
}
