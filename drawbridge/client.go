// Package drawbridge implements the serial protocol spoken by the DrawBridge
// Arduino floppy reader: connection handshake, drive control commands, raw
// track capture and the write path with precompensation.
package drawbridge

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sergev/drawbridge/serio"
)

// Session mode. Streaming is only reachable from read-enabled.
type mode int

const (
	modeIdle mode = iota
	modeReadEnabled
	modeWriteEnabled
	modeStreaming
)

// Client is a session with one DrawBridge device. It owns exactly one
// Transport. The engine is not internally reentrant: callers must serialize
// all operations on a session; AbortReadStreaming is the only method safe to
// call from a second goroutine.
type Client struct {
	port Transport
	open bool

	version     FirmwareVersion
	mode        mode
	lastCommand LastCommand
	lastError   Diagnostic

	diskInDrive    bool
	writeProtected bool
	isHDMode       bool
	inWriteMode    bool

	isStreaming    atomic.Bool
	abortStreaming atomic.Bool
	abortSignalled atomic.Bool

	// Injectable for handshake tests; defaults to the real clock.
	now   func() time.Time
	sleep func(time.Duration)
}

// New creates a closed session over the given transport. OpenPort performs
// the handshake.
func New(t Transport) *Client {
	c := &Client{
		port:  t,
		now:   time.Now,
		sleep: time.Sleep,
	}
	c.abortStreaming.Store(true)
	return c
}

// OpenDevice opens the serial port at path and performs the protocol
// handshake, returning a ready session.
func OpenDevice(path string, enableCTSFlowControl bool) (*Client, Diagnostic) {
	port, err := serio.Open(path)
	if err != nil {
		switch {
		case errors.Is(err, serio.ErrNotFound):
			return nil, DiagnosticPortNotFound
		case errors.Is(err, serio.ErrInUse):
			return nil, DiagnosticPortInUse
		case errors.Is(err, serio.ErrAccessDenied):
			return nil, DiagnosticAccessDenied
		default:
			return nil, DiagnosticPortError
		}
	}
	c := New(port)
	if diag := c.OpenPort(enableCTSFlowControl, true); diag != DiagnosticOK {
		return nil, diag
	}
	return c, DiagnosticOK
}

// OpenPort configures the transport and synchronizes with the firmware,
// taking the session from Closed to Ready. On a failed sync with
// triggerReset set, a DTR/RTS toggle reset is issued before the port is
// closed and the failure surfaced; there is no implicit retry loop.
func (c *Client) OpenPort(enableCTSFlowControl, triggerReset bool) Diagnostic {
	c.lastCommand = LastCommandOpenPort

	if c.open {
		c.ClosePort()
	}

	// Quickly force any stale streaming state to be treated as aborted.
	c.abortStreaming.Store(true)

	if err := c.port.Configure(BaudRate, enableCTSFlowControl); err != nil {
		log.Debugf("drawbridge: port configuration failed: %v", err)
		c.lastError = DiagnosticComportConfigError
		return c.lastError
	}

	// Tight timeouts while hunting for the version banner.
	c.port.SetReadTimeout(10*time.Millisecond, 250*time.Millisecond)
	c.port.SetWriteTimeout(2000*time.Millisecond, 200*time.Millisecond)

	versionString, diag := c.attemptToSync()
	if diag != DiagnosticOK {
		if triggerReset {
			// Toggle DTR/RTS to reset the device, then give up; the
			// caller decides whether to try again.
			_ = c.port.SetDTR(false)
			_ = c.port.SetRTS(false)
			c.sleep(10 * time.Millisecond)
			_ = c.port.SetDTR(true)
			_ = c.port.SetRTS(true)
			c.sleep(10 * time.Millisecond)
		}
		_ = c.port.Close()
		c.lastError = diag
		return c.lastError
	}
	c.open = true

	// Clear any redundant data still in the buffer.
	drain := make([]byte, 1)
	for counter := 0; c.port.BytesWaiting() > 0; {
		if n, _ := c.port.Read(drain); n < 1 {
			if counter++; counter >= 5 {
				break
			}
		}
	}

	log.Debugf("drawbridge: firmware version string %q", versionString)
	c.version = FirmwareVersion{
		Major: int(versionString[1] - '0'),
		Minor: int(versionString[3] - '0'),
		// A '.' separator marks a device with the full-control hardware mod.
		FullControlMod: versionString[2] == '.',
	}

	if c.version.Major > 1 || (c.version.Major == 1 && c.version.Minor >= 9) {
		if diag := c.runCommand(cmdCheckFeatures, 0, nil); diag != DiagnosticOK {
			return diag
		}
		caps := make([]byte, 3)
		if !c.deviceRead(caps, false) {
			c.lastError = DiagnosticErrorReadingVersion
			return c.lastError
		}
		c.version.DeviceFlags1 = caps[0]
		c.version.DeviceFlags2 = caps[1]
		c.version.BuildNumber = caps[2]
		log.Debugf("drawbridge: device flags1=0x%02X flags2=0x%02X build=%d",
			caps[0], caps[1], caps[2])
	}

	c.applyCommTimeouts(false)
	c.mode = modeIdle
	c.lastError = DiagnosticOK
	return c.lastError
}

// attemptToSync hunts for the firmware banner "1V<major><,|.><minor>" using
// a 5-byte sliding window, kicking the device with a fresh version query
// every few empty polls. Hard wall-clock budget: 8 seconds.
func (c *Client) attemptToSync() (string, Diagnostic) {
	if n, err := c.port.Write([]byte{cmdAbortChar, cmdReset, cmdVersion}); err != nil || n != 3 {
		return "", DiagnosticPortError
	}

	window := make([]byte, 5)
	counterNoData := 0
	counterData := 0
	bytesRead := 0

	start := c.now()
	for {
		if c.now().Sub(start) >= 8*time.Second {
			return "", DiagnosticErrorReadingVersion
		}

		n, _ := c.port.Read(window[4:5])
		bytesRead += n
		if n > 0 {
			if window[0] == '1' && window[1] == 'V' &&
				window[2] >= '1' && window[2] <= '9' &&
				(window[3] == ',' || window[3] == '.') &&
				window[4] >= '0' && window[4] <= '9' {
				c.port.Purge()
				c.sleep(1 * time.Millisecond)
				c.port.Purge()
				return string(window[1:]), DiagnosticOK
			}
			if bytesRead > 0 {
				bytesRead--
			}
			copy(window, window[1:])
			if counterData++; counterData > 2048 {
				return "", DiagnosticMalformedVersion
			}
		} else {
			c.sleep(1 * time.Millisecond)
			if counterNoData++; counterNoData > 120 {
				return "", DiagnosticErrorReadingVersion
			}
			if counterNoData%7 == 6 && bytesRead == 0 {
				// Give it a kick.
				if n, err := c.port.Write([]byte{cmdVersion}); err != nil || n != 1 {
					return "", DiagnosticPortError
				}
			}
		}
	}
}

// ClosePort powers the drive down and releases the transport. Safe to call
// on a closed session.
func (c *Client) ClosePort() {
	if !c.open {
		return
	}
	// Force the drive motor off before letting go of the port.
	c.EnableReading(false, false, false)
	_ = c.port.Close()
	c.open = false
	c.mode = modeIdle
}

// IsOpen reports whether the handshake has completed and the port is live.
func (c *Client) IsOpen() bool {
	return c.open
}

// FirmwareVersion returns the version recorded during the handshake.
func (c *Client) FirmwareVersion() FirmwareVersion {
	return c.version
}

// LastError returns the diagnostic recorded by the most recent operation.
func (c *Client) LastError() Diagnostic {
	return c.lastError
}

// LastFailedCommand identifies the operation that recorded LastError.
func (c *Client) LastFailedCommand() LastCommand {
	return c.lastCommand
}

// runCommand is the primitive behind every simple exchange: a short settle
// pause, the command byte, an optional parameter byte, then a single status
// byte back. '1' is OK, '0' is an error, anything else is a status error.
func (c *Client) runCommand(command, parameter byte, actualResponse *byte) Diagnostic {
	c.sleep(1 * time.Millisecond)

	if n, err := c.port.Write([]byte{command}); err != nil || n != 1 {
		c.lastError = DiagnosticSendFailed
		return c.lastError
	}
	if parameter != 0 {
		if n, err := c.port.Write([]byte{parameter}); err != nil || n != 1 {
			c.lastError = DiagnosticSendParameterFailed
			return c.lastError
		}
	}

	response := make([]byte, 1)
	if !c.deviceRead(response, true) {
		c.lastError = DiagnosticReadResponseFailed
		return c.lastError
	}
	if actualResponse != nil {
		*actualResponse = response[0]
	}

	switch response[0] {
	case '1':
		c.lastError = DiagnosticOK
	case '0':
		c.lastError = DiagnosticError
	default:
		c.lastError = DiagnosticStatusError
	}
	return c.lastError
}

// deviceRead fills buf from the transport. When failIfNotAllRead is false a
// short read zero-fills the remainder and still succeeds.
func (c *Client) deviceRead(buf []byte, failIfNotAllRead bool) bool {
	n, _ := c.port.Read(buf)
	if n < len(buf) {
		if failIfNotAllRead {
			return false
		}
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
	}
	return true
}

// applyCommTimeouts switches between the aggressive timeouts used while
// streaming and the forgiving ones used everywhere else.
func (c *Client) applyCommTimeouts(short bool) {
	if short {
		c.port.SetReadTimeout(5*time.Millisecond, 12*time.Millisecond)
	} else {
		c.port.SetReadTimeout(2000*time.Millisecond, 200*time.Millisecond)
	}
	c.port.SetWriteTimeout(2000*time.Millisecond, 200*time.Millisecond)
}

// EnableReading switches the drive motor on or off for reading. With reset
// set it also rewinds to track 0 and selects the upper surface. dontWait
// uses the no-spin-up-wait command variant on modded hardware.
func (c *Client) EnableReading(enable, reset, dontWait bool) Diagnostic {
	c.inWriteMode = false
	if !enable {
		c.lastCommand = LastCommandDisableMotor
		diag := c.runCommand(cmdDisable, 0, nil)
		if diag == DiagnosticOK {
			c.mode = modeIdle
		}
		return diag
	}

	c.lastCommand = LastCommandEnableMotor
	command := byte(cmdEnable)
	if dontWait {
		command = cmdEnableNoWait
	}
	if diag := c.runCommand(command, 0, nil); diag != DiagnosticOK {
		return diag
	}
	c.mode = modeReadEnabled
	if reset {
		if diag := c.FindTrack0(); diag != DiagnosticOK {
			return diag
		}
		return c.SelectSurface(SurfaceUpper)
	}
	// Modded hardware can write without a separate write arm.
	c.inWriteMode = c.version.FullControlMod
	c.lastError = DiagnosticOK
	return c.lastError
}

// EnableWriting arms the drive for writing. The firmware answers '0' when
// the disk is write protected.
func (c *Client) EnableWriting(enable, reset bool) Diagnostic {
	if !enable {
		c.lastCommand = LastCommandDisableMotor
		diag := c.runCommand(cmdDisable, 0, nil)
		if diag == DiagnosticOK {
			c.inWriteMode = false
			c.mode = modeIdle
		}
		return diag
	}

	c.lastCommand = LastCommandEnableWrite
	diag := c.runCommand(cmdEnableWrite, 0, nil)
	if diag == DiagnosticError {
		c.lastError = DiagnosticWriteProtected
		return c.lastError
	}
	if diag != DiagnosticOK {
		return diag
	}
	c.inWriteMode = true
	c.mode = modeWriteEnabled
	if reset {
		if diag := c.FindTrack0(); diag != DiagnosticOK {
			return diag
		}
		return c.SelectSurface(SurfaceUpper)
	}
	c.lastError = DiagnosticOK
	return c.lastError
}

// FindTrack0 rewinds the head to the first track.
func (c *Client) FindTrack0() Diagnostic {
	c.lastCommand = LastCommandRewind

	var status byte = '0'
	diag := c.runCommand(cmdRewind, 0, &status)
	if diag != DiagnosticOK && status == '#' {
		c.lastError = DiagnosticRewindFailure
		return c.lastError
	}
	return diag
}

// SelectTrack moves the head to the given track. Tracks above MaxTrack are
// rejected locally without touching the wire.
func (c *Client) SelectTrack(track int) Diagnostic {
	c.lastCommand = LastCommandGotoTrack

	if track < 0 || track > MaxTrack {
		c.lastError = DiagnosticTrackRangeError
		return c.lastError
	}

	// ASCII on purpose: easy to watch on a terminal while debugging the
	// firmware.
	buf := []byte(fmt.Sprintf("%c%02d", cmdGotoTrack, track))
	if n, err := c.port.Write(buf); err != nil || n != len(buf) {
		c.lastError = DiagnosticSendFailed
		return c.lastError
	}

	result := make([]byte, 1)
	if !c.deviceRead(result, true) {
		c.lastError = DiagnosticReadResponseFailed
		return c.lastError
	}
	switch result[0] {
	case '1', '2': // '2' means already there, a no-op
		c.lastError = DiagnosticOK
	case '0':
		c.lastError = DiagnosticSelectTrackError
	default:
		c.lastError = DiagnosticStatusError
	}
	return c.lastError
}

// NoClickSeek performs the firmware's silent head-settle trick on track 0.
func (c *Client) NoClickSeek() Diagnostic {
	c.lastCommand = LastCommandNoClickCheck
	return c.runCommand(cmdDoNoClickSeek, 0, nil)
}

// SelectSurface selects which side of the disk the head reads.
func (c *Client) SelectSurface(side DiskSurface) Diagnostic {
	c.lastCommand = LastCommandSelectSurface

	command := byte(cmdHead1)
	if side == SurfaceUpper {
		command = cmdHead0
	}
	return c.runCommand(command, 0, nil)
}

// CheckForDisk queries disk presence; the firmware answers with two bytes,
// presence then write protection, both cached on the session. Without
// forceCheck the cached answer is returned untouched.
func (c *Client) CheckForDisk(forceCheck bool) Diagnostic {
	c.lastCommand = LastCommandCheckDiskInDrive

	if !forceCheck {
		if c.diskInDrive {
			return DiagnosticOK
		}
		return DiagnosticNoDiskInDrive
	}

	var response byte
	diag := c.runCommand(cmdCheckDiskExists, 0, &response)
	if diag != DiagnosticStatusError && diag != DiagnosticOK {
		return diag
	}

	switch response {
	case '#':
		c.diskInDrive = false
		c.lastError = DiagnosticNoDiskInDrive
	case '1':
		c.diskInDrive = true
	default:
		c.lastError = DiagnosticReadResponseFailed
		return c.lastError
	}

	wp := make([]byte, 1)
	if !c.deviceRead(wp, true) {
		c.lastError = DiagnosticReadResponseFailed
		return c.lastError
	}
	if wp[0] == '1' || wp[0] == '#' {
		c.writeProtected = wp[0] == '1'
	}
	c.sleep(1 * time.Millisecond) // give the firmware a moment to recover

	return c.lastError
}

// CheckIfDiskIsWriteProtected reports the write-protect tab state, refreshing
// it from the device when forceCheck is set.
func (c *Client) CheckIfDiskIsWriteProtected(forceCheck bool) Diagnostic {
	c.lastCommand = LastCommandCheckDiskWriteProtected

	if !forceCheck {
		if c.writeProtected {
			return DiagnosticWriteProtected
		}
		return DiagnosticOK
	}

	diag := c.CheckForDisk(true)
	if (diag == DiagnosticStatusError || diag == DiagnosticOK) && c.writeProtected {
		return DiagnosticWriteProtected
	}
	return diag
}

// IsDiskInDrive returns the cached disk presence flag.
func (c *Client) IsDiskInDrive() bool {
	return c.diskInDrive
}

// CheckDiskCapacity asks the firmware to measure the media density. Requires
// the density-detect hardware; without it the answer is always DD. Both the
// 'H' and 'D' answers update the returned flag.
func (c *Client) CheckDiskCapacity() (bool, Diagnostic) {
	c.lastCommand = LastCommandCheckDensity

	if c.version.DeviceFlags1&FlagsDensityDetectEnabled == 0 {
		return false, DiagnosticOK
	}

	if diag := c.runCommand(cmdCheckDensity, 0, nil); diag != DiagnosticOK {
		return false, diag
	}

	status := make([]byte, 1)
	if !c.deviceRead(status, true) {
		c.lastError = DiagnosticReadResponseFailed
		return false, c.lastError
	}

	switch status[0] {
	case 'x':
		// No disk: leave the cached presence flag alone, just report it.
		c.lastError = DiagnosticNoDiskInDrive
		return false, c.lastError
	case 'H':
		c.diskInDrive = true
		c.lastError = DiagnosticOK
		return true, c.lastError
	case 'D':
		c.diskInDrive = true
		c.lastError = DiagnosticOK
		return false, c.lastError
	default:
		c.lastError = DiagnosticStatusError
		return false, c.lastError
	}
}

// SetDiskCapacity switches the firmware between DD and HD sampling modes.
func (c *Client) SetDiskCapacity(hd bool) Diagnostic {
	c.lastCommand = LastCommandSwitchDiskMode

	command := byte(cmdSwitchToDD)
	if hd {
		command = cmdSwitchToHD
	}
	diag := c.runCommand(command, 0, nil)
	if diag == DiagnosticOK {
		c.isHDMode = hd
	}
	return diag
}

// IsHDMode reports the sampling mode last applied with SetDiskCapacity.
func (c *Client) IsHDMode() bool {
	return c.isHDMode
}

// MeasureDriveRPM spins the disk and reads back the rotation speed. A value
// below 10 means the drive is not actually turning a disk.
func (c *Client) MeasureDriveRPM() (float64, Diagnostic) {
	c.lastCommand = LastCommandMeasureRPM

	if diag := c.runCommand(cmdTestRPM, 0, nil); diag != DiagnosticOK {
		return 0, diag
	}

	// Digits arrive one at a time, newline terminated, at most 10.
	var buf []byte
	b := make([]byte, 1)
	failCount := 0
	for len(buf) < 10 {
		if c.deviceRead(b, false) && b[0] != 0 {
			if b[0] == '\n' {
				break
			}
			buf = append(buf, b[0])
		} else if failCount++; failCount > 10 {
			break
		}
	}

	var rpm float64
	_, _ = fmt.Sscanf(string(buf), "%f", &rpm)
	if rpm < 10 {
		c.lastError = DiagnosticNoDiskInDrive
	}
	return rpm, c.lastError
}

// EraseCurrentTrack wipes the track under the head.
func (c *Client) EraseCurrentTrack() Diagnostic {
	c.lastCommand = LastCommandEraseTrack
	return c.runCommand(cmdEraseTrack, 0, nil)
}

// TestIndexPulse checks that the index sensor fires as the disk rotates.
func (c *Client) TestIndexPulse() Diagnostic {
	c.lastCommand = LastCommandRunDiagnostics
	return c.runCommand(cmdDiagnostics, '3', nil)
}

// TestDataPulse checks that read-head transitions reach the controller.
func (c *Client) TestDataPulse() Diagnostic {
	c.lastCommand = LastCommandRunDiagnostics
	return c.runCommand(cmdDiagnostics, '4', nil)
}

// TestCTS toggles the firmware's CTS output and verifies the line follows.
// Ten toggles; any mismatch closes the port and reports CTSFailure.
func (c *Client) TestCTS() Diagnostic {
	for a := 1; a <= 10; a++ {
		param := byte('2')
		if a&1 != 0 {
			param = '1'
		}
		if diag := c.runCommand(cmdDiagnostics, param, nil); diag != DiagnosticOK {
			c.lastCommand = LastCommandRunDiagnostics
			_ = c.port.Close()
			c.open = false
			return diag
		}
		c.sleep(1 * time.Millisecond)

		ctsStatus, _ := c.port.GetCTS()

		// Return the CTS line to its default state.
		c.lastError = c.runCommand(cmdDiagnostics, 0, nil)

		if ctsStatus != (a&1 != 0) {
			_ = c.port.Close()
			c.open = false
			c.lastError = DiagnosticCTSFailure
			return c.lastError
		}
		c.sleep(1 * time.Millisecond)
	}
	return DiagnosticOK
}
