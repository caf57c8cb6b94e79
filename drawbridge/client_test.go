package drawbridge

import (
	"bytes"
	"testing"
	"time"
)

// mockTransport is a scripted Transport: Read serves bytes from a canned
// input stream and Write records everything the engine sends.
type mockTransport struct {
	input    []byte
	inputPos int

	writes       []byte
	readRequests []int
	closed       bool

	configureErr error
	ctsState     bool

	dtrLog []bool
	rtsLog []bool
	purges int
}

func (m *mockTransport) Configure(baudRate int, ctsFlowControl bool) error {
	return m.configureErr
}

func (m *mockTransport) Read(buf []byte) (int, error) {
	m.readRequests = append(m.readRequests, len(buf))
	n := copy(buf, m.input[m.inputPos:])
	m.inputPos += n
	return n, nil
}

func (m *mockTransport) Write(buf []byte) (int, error) {
	m.writes = append(m.writes, buf...)
	return len(buf), nil
}

func (m *mockTransport) SetReadTimeout(base, perByte time.Duration)  {}
func (m *mockTransport) SetWriteTimeout(base, perByte time.Duration) {}

func (m *mockTransport) SetDTR(state bool) error {
	m.dtrLog = append(m.dtrLog, state)
	return nil
}

func (m *mockTransport) SetRTS(state bool) error {
	m.rtsLog = append(m.rtsLog, state)
	return nil
}

func (m *mockTransport) GetCTS() (bool, error) {
	return m.ctsState, nil
}

func (m *mockTransport) Purge()            { m.purges++ }
func (m *mockTransport) BytesWaiting() int { return 0 }

func (m *mockTransport) Close() error {
	m.closed = true
	return nil
}

// newTestClient builds a session over the given transport with the clock
// stubbed out so tests run instantly.
func newTestClient(m *mockTransport) *Client {
	c := New(m)
	c.sleep = func(time.Duration) {}
	return c
}

func TestOpenPortHandshake(t *testing.T) {
	m := &mockTransport{
		// Version banner, then the feature exchange: command status '1'
		// followed by three capability bytes.
		input: append([]byte("1V9,51"), 0x08, 0x00, 42),
	}
	c := newTestClient(m)

	diag := c.OpenPort(true, true)
	if diag != DiagnosticOK {
		t.Fatalf("OpenPort() = %s, expected OK", diag)
	}
	if !c.IsOpen() {
		t.Error("IsOpen() = false after successful handshake")
	}

	// The sync must have started with abort, reset, version query.
	if !bytes.HasPrefix(m.writes, []byte{cmdAbortChar, cmdReset, cmdVersion}) {
		t.Errorf("handshake preamble = % X, expected x R ?", m.writes[:3])
	}

	version := c.FirmwareVersion()
	if version.Major != 9 || version.Minor != 5 {
		t.Errorf("version = %d.%d, expected 9.5", version.Major, version.Minor)
	}
	// A ',' separator means no full-control hardware mod.
	if version.FullControlMod {
		t.Error("FullControlMod = true for ',' separator banner")
	}
	if version.DeviceFlags1 != 0x08 || version.BuildNumber != 42 {
		t.Errorf("features = 0x%02X build %d, expected 0x08 build 42",
			version.DeviceFlags1, version.BuildNumber)
	}
}

func TestOpenPortFullControlModBanner(t *testing.T) {
	m := &mockTransport{
		input: append([]byte("1V1.91"), 0x00, 0x00, 0x00),
	}
	c := newTestClient(m)

	if diag := c.OpenPort(false, false); diag != DiagnosticOK {
		t.Fatalf("OpenPort() = %s, expected OK", diag)
	}

	version := c.FirmwareVersion()
	if version.Major != 1 || version.Minor != 9 {
		t.Errorf("version = %d.%d, expected 1.9", version.Major, version.Minor)
	}
	if !version.FullControlMod {
		t.Error("FullControlMod = false for '.' separator banner")
	}
}

func TestOpenPortTimeout(t *testing.T) {
	m := &mockTransport{} // never produces a byte
	c := New(m)

	// Every poll sleeps 1ms of engine time; make each one cost 100ms of
	// fake wall clock so the 8 second budget expires quickly.
	now := time.Unix(0, 0)
	c.now = func() time.Time { return now }
	c.sleep = func(time.Duration) { now = now.Add(100 * time.Millisecond) }

	diag := c.OpenPort(false, true)
	if diag != DiagnosticErrorReadingVersion {
		t.Fatalf("OpenPort() = %s, expected ErrorReadingVersion", diag)
	}
	if c.IsOpen() {
		t.Error("IsOpen() = true after failed handshake")
	}
	if !m.closed {
		t.Error("transport not closed after failed handshake")
	}

	// triggerReset must have toggled DTR and RTS low then high.
	wantToggle := []bool{false, true}
	if len(m.dtrLog) != 2 || m.dtrLog[0] != wantToggle[0] || m.dtrLog[1] != wantToggle[1] {
		t.Errorf("DTR sequence = %v, expected %v", m.dtrLog, wantToggle)
	}
	if len(m.rtsLog) != 2 || m.rtsLog[0] != wantToggle[0] || m.rtsLog[1] != wantToggle[1] {
		t.Errorf("RTS sequence = %v, expected %v", m.rtsLog, wantToggle)
	}
}

func TestOpenPortMalformedVersion(t *testing.T) {
	m := &mockTransport{input: bytes.Repeat([]byte{'z'}, 3000)}
	c := newTestClient(m)

	diag := c.OpenPort(false, false)
	if diag != DiagnosticMalformedVersion {
		t.Fatalf("OpenPort() = %s, expected MalformedVersion", diag)
	}
	if !m.closed {
		t.Error("transport not closed after failed handshake")
	}
}

func TestSelectTrackRange(t *testing.T) {
	m := &mockTransport{}
	c := newTestClient(m)

	diag := c.SelectTrack(MaxTrack + 1)
	if diag != DiagnosticTrackRangeError {
		t.Fatalf("SelectTrack(%d) = %s, expected TrackRangeError", MaxTrack+1, diag)
	}
	// Out-of-range tracks must be rejected before touching the wire.
	if len(m.writes) != 0 {
		t.Errorf("SelectTrack wrote % X for an out-of-range track", m.writes)
	}
}

func TestSelectTrack(t *testing.T) {
	m := &mockTransport{input: []byte("1")}
	c := newTestClient(m)

	if diag := c.SelectTrack(5); diag != DiagnosticOK {
		t.Fatalf("SelectTrack(5) = %s, expected OK", diag)
	}
	if string(m.writes) != "#05" {
		t.Errorf("SelectTrack(5) wrote %q, expected \"#05\"", m.writes)
	}
}

func TestRunCommandTaxonomy(t *testing.T) {
	tests := []struct {
		response byte
		want     Diagnostic
	}{
		{'1', DiagnosticOK},
		{'0', DiagnosticError},
		{'Q', DiagnosticStatusError},
	}
	for _, tt := range tests {
		m := &mockTransport{input: []byte{tt.response}}
		c := newTestClient(m)

		if diag := c.NoClickSeek(); diag != tt.want {
			t.Errorf("response %q: diag = %s, expected %s", tt.response, diag, tt.want)
		}
	}
}

func TestCheckForDisk(t *testing.T) {
	// Disk present and write protected.
	m := &mockTransport{input: []byte("11")}
	c := newTestClient(m)

	if diag := c.CheckForDisk(true); diag != DiagnosticOK {
		t.Fatalf("CheckForDisk(true) = %s, expected OK", diag)
	}
	if !c.IsDiskInDrive() {
		t.Error("IsDiskInDrive() = false after '1' response")
	}
	if diag := c.CheckIfDiskIsWriteProtected(false); diag != DiagnosticWriteProtected {
		t.Errorf("CheckIfDiskIsWriteProtected(false) = %s, expected WriteProtected", diag)
	}

	// No disk at all.
	m = &mockTransport{input: []byte("##")}
	c = newTestClient(m)

	if diag := c.CheckForDisk(true); diag != DiagnosticNoDiskInDrive {
		t.Fatalf("CheckForDisk(true) = %s, expected NoDiskInDrive", diag)
	}
	if c.IsDiskInDrive() {
		t.Error("IsDiskInDrive() = true after '#' response")
	}
}

func TestCheckDiskCapacity(t *testing.T) {
	tests := []struct {
		status byte
		wantHD bool
		want   Diagnostic
	}{
		{'H', true, DiagnosticOK},
		{'D', false, DiagnosticOK},
		{'x', false, DiagnosticNoDiskInDrive},
	}
	for _, tt := range tests {
		m := &mockTransport{input: []byte{'1', tt.status}}
		c := newTestClient(m)
		c.version.DeviceFlags1 = FlagsDensityDetectEnabled

		isHD, diag := c.CheckDiskCapacity()
		if diag != tt.want {
			t.Errorf("status %q: diag = %s, expected %s", tt.status, diag, tt.want)
		}
		if isHD != tt.wantHD {
			t.Errorf("status %q: isHD = %v, expected %v", tt.status, isHD, tt.wantHD)
		}
	}
}

func TestReadCurrentTrackDD(t *testing.T) {
	// Command ack, 16 packed bytes (four 01 cells each), null terminator.
	input := []byte{'1'}
	input = append(input, bytes.Repeat([]byte{0x55}, 16)...)
	input = append(input, 0)

	m := &mockTransport{input: input}
	c := newTestClient(m)

	trackData := make([]byte, RawTrackDataLengthDD)
	if diag := c.ReadCurrentTrack(trackData, true); diag != DiagnosticOK {
		t.Fatalf("ReadCurrentTrack() = %s, expected OK", diag)
	}

	// Each packed 0x55 byte is four 01 cells, so it unpacks to 0x55.
	for i := 0; i < 16; i++ {
		if trackData[i] != 0x55 {
			t.Fatalf("trackData[%d] = 0x%02X, expected 0x55", i, trackData[i])
		}
	}
	for i := 16; i < 32; i++ {
		if trackData[i] != 0 {
			t.Fatalf("trackData[%d] = 0x%02X, expected 0 after stream end", i, trackData[i])
		}
	}

	// The read command and the index-pulse parameter must both have gone
	// out.
	if string(m.writes) != "<\x01" {
		t.Errorf("wrote % X, expected '<' 01", m.writes)
	}
}

func TestReadCurrentTrackDensityMismatch(t *testing.T) {
	m := &mockTransport{}
	c := newTestClient(m)
	c.isHDMode = true

	trackData := make([]byte, RawTrackDataLengthDD)
	if diag := c.ReadCurrentTrack(trackData, false); diag != DiagnosticMediaTypeMismatch {
		t.Fatalf("ReadCurrentTrack() = %s, expected MediaTypeMismatch", diag)
	}
}

func TestReadCurrentTrackStreaming(t *testing.T) {
	// Motor on ack, HD switch ack, stream command ack, then a full track
	// of zero bytes (four shortest cells each) and the abort trailer.
	input := []byte("111")
	input = append(input, make([]byte, RawTrackDataLengthHD)...)
	input = append(input, 'X', 'Y', 'Z', cmdAbortChar, '1')

	m := &mockTransport{input: input}
	c := newTestClient(m)

	if diag := c.EnableReading(true, false, false); diag != DiagnosticOK {
		t.Fatalf("EnableReading() = %s, expected OK", diag)
	}
	if diag := c.SetDiskCapacity(true); diag != DiagnosticOK {
		t.Fatalf("SetDiskCapacity(true) = %s, expected OK", diag)
	}

	trackData := make([]byte, RawTrackDataLengthHD)
	if diag := c.ReadCurrentTrack(trackData, false); diag != DiagnosticOK {
		t.Fatalf("ReadCurrentTrack() = %s, expected OK", diag)
	}

	// Zero stream bytes carry code 0 in every group, which repacks as
	// four 01 cells, which unpack to 0x55.
	for i := 0; i < 64; i++ {
		if trackData[i] != 0x55 {
			t.Fatalf("trackData[%d] = 0x%02X, expected 0x55", i, trackData[i])
		}
	}

	// Filling the buffer must have triggered exactly one abort byte.
	if !bytes.HasSuffix(m.writes, []byte{cmdAbortChar}) {
		t.Errorf("wrote % X, expected trailing abort byte", m.writes)
	}
	if c.isStreaming.Load() {
		t.Error("still marked streaming after the trailer")
	}

	// The bulk of the stream must arrive in full-buffer polls; only the
	// trailer hunt after the abort drops to single bytes.
	chunked := 0
	for _, n := range m.readRequests {
		if n == 64 {
			chunked++
		}
	}
	if chunked == 0 {
		t.Errorf("poll sizes %v never requested a full 64-byte chunk", m.readRequests[:6])
	}
	tail := m.readRequests[len(m.readRequests)-5:]
	for _, n := range tail {
		if n != 1 {
			t.Errorf("trailer poll sizes = %v, expected single bytes after abort", tail)
			break
		}
	}
}

func TestAbortReadStreamingIdle(t *testing.T) {
	m := &mockTransport{}
	c := newTestClient(m)

	// Aborting when nothing is streaming is a no-op.
	if !c.AbortReadStreaming() {
		t.Error("AbortReadStreaming() = false on an idle session")
	}
	if len(m.writes) != 0 {
		t.Errorf("AbortReadStreaming wrote % X on an idle session", m.writes)
	}
}

func TestWriteCurrentTrackPrecomp(t *testing.T) {
	// Write-arm ack, then command ack, 'Y' go-ahead, '!' after parameters,
	// '1' final status.
	m := &mockTransport{input: []byte("11Y!1")}
	c := newTestClient(m)

	if diag := c.EnableWriting(true, false); diag != DiagnosticOK {
		t.Fatalf("EnableWriting() = %s, expected OK", diag)
	}
	m.writes = nil

	// 0xAA is alternating 10 cells, the simplest legal MFM stream.
	mfmData := bytes.Repeat([]byte{0xAA}, 16)
	if diag := c.WriteCurrentTrackPrecomp(mfmData, false, true); diag != DiagnosticOK {
		t.Fatalf("WriteCurrentTrackPrecomp() = %s, expected OK", diag)
	}

	// Wire layout: command byte, 16-bit length, index flag, payload.
	if m.writes[0] != cmdWriteTrackPrecomp {
		t.Errorf("command byte = %q, expected '}'", m.writes[0])
	}
	payloadLen := int(m.writes[1])<<8 | int(m.writes[2])
	if payloadLen != len(m.writes)-4 {
		t.Errorf("length prefix = %d, expected %d", payloadLen, len(m.writes)-4)
	}
	if m.writes[3] != 0 {
		t.Errorf("index flag = %d, expected 0", m.writes[3])
	}

	// An all-0xAA stream has every cell at the shortest legal run with
	// no precomp triggers.
	for i, b := range m.writes[4:] {
		if b != 0x00 {
			t.Fatalf("payload[%d] = 0x%02X, expected 0x00 for uniform cells", i, b)
		}
	}
}

func TestWriteCurrentTrackWriteProtected(t *testing.T) {
	m := &mockTransport{input: []byte("11N")}
	c := newTestClient(m)

	if diag := c.EnableWriting(true, false); diag != DiagnosticOK {
		t.Fatalf("EnableWriting() = %s, expected OK", diag)
	}

	mfmData := bytes.Repeat([]byte{0xAA}, 8)
	if diag := c.WriteCurrentTrackPrecomp(mfmData, false, false); diag != DiagnosticWriteProtected {
		t.Fatalf("WriteCurrentTrackPrecomp() = %s, expected WriteProtected", diag)
	}
}

func TestWriteCurrentTrackRequiresWriteArm(t *testing.T) {
	m := &mockTransport{input: []byte("1Y!1")}
	c := newTestClient(m)

	// Without EnableWriting the engine refuses before touching the wire.
	mfmData := bytes.Repeat([]byte{0xAA}, 8)
	if diag := c.WriteCurrentTrackPrecomp(mfmData, false, true); diag != DiagnosticWriteProtected {
		t.Fatalf("WriteCurrentTrackPrecomp() = %s, expected WriteProtected", diag)
	}
	if len(m.writes) != 0 {
		t.Errorf("wrote % X without the drive armed for writing", m.writes)
	}
}

func TestEnableWritingProtected(t *testing.T) {
	m := &mockTransport{input: []byte("0")}
	c := newTestClient(m)

	if diag := c.EnableWriting(true, false); diag != DiagnosticWriteProtected {
		t.Fatalf("EnableWriting() = %s, expected WriteProtected", diag)
	}
}
