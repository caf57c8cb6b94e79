package drawbridge

import "time"

// ReadCurrentTrack captures a little over one revolution of the track under
// the head into trackData, which must be exactly RawTrackDataLengthDD or
// RawTrackDataLengthHD bytes and match the current density mode. HD capture
// runs the continuous streaming protocol; DD uses the simpler terminated
// read. Either way trackData receives the unpacked raw MFM bit stream.
func (c *Client) ReadCurrentTrack(trackData []byte, readFromIndexPulse bool) Diagnostic {
	c.lastCommand = LastCommandReadTrack

	dataLength := len(trackData)
	if dataLength == RawTrackDataLengthDD && c.isHDMode {
		c.lastError = DiagnosticMediaTypeMismatch
		return c.lastError
	}
	if dataLength == RawTrackDataLengthHD && !c.isHDMode {
		c.lastError = DiagnosticMediaTypeMismatch
		return c.lastError
	}

	packed := make([]byte, dataLength)

	if c.isHDMode {
		if diag := c.readTrackStream(packed, dataLength); diag != DiagnosticOK {
			return diag
		}
	} else {
		if diag := c.readTrackTerminated(packed, dataLength, readFromIndexPulse); diag != DiagnosticOK {
			return diag
		}
	}

	unpack(packed, trackData)

	c.lastError = DiagnosticOK
	return c.lastError
}

// readTrackStream runs the firmware's continuous capture mode. The stream
// only stops when the host sends the abort character, after which the
// firmware echoes an "XYZ" trailer we hunt for with a sliding window.
func (c *Client) readTrackStream(packed []byte, dataLength int) Diagnostic {
	c.lastCommand = LastCommandReadTrackStream

	if c.mode != modeReadEnabled {
		c.lastError = DiagnosticError
		return c.lastError
	}

	if diag := c.runCommand(cmdReadTrackStream, 0, nil); diag != DiagnosticOK {
		// One retry; the first attempt may have hit stale buffer data.
		if diag = c.runCommand(cmdReadTrackStream, 0, nil); diag != DiagnosticOK {
			return diag
		}
	}

	readFail := 0
	tempReadBuffer := make([]byte, 64)
	slidingWindow := make([]byte, 5)
	timeout := false
	writePosition := 0

	c.isStreaming.Store(true)
	c.abortStreaming.Store(false)
	c.abortSignalled.Store(false)
	c.mode = modeStreaming
	defer func() { c.mode = modeReadEnabled }()

	c.applyCommTimeouts(true)

	for c.isStreaming.Load() {
		// Pull up to a full buffer per poll; the short read deadline
		// bounds the wait when less is pending. Once the abort is in
		// flight we go byte-at-a-time to not overshoot the trailer.
		bytesAvailable := c.port.BytesWaiting()
		if bytesAvailable < 1 || bytesAvailable > len(tempReadBuffer) {
			bytesAvailable = len(tempReadBuffer)
		}
		if c.abortSignalled.Load() {
			bytesAvailable = 1
		}
		bytesRead, _ := c.port.Read(tempReadBuffer[:bytesAvailable])

		for a := 0; a < bytesRead; a++ {
			if c.abortSignalled.Load() {
				copy(slidingWindow, slidingWindow[1:])
				slidingWindow[4] = tempReadBuffer[a]

				if slidingWindow[0] == 'X' && slidingWindow[1] == 'Y' &&
					slidingWindow[2] == 'Z' && slidingWindow[3] == cmdAbortChar &&
					slidingWindow[4] == '1' {
					c.isStreaming.Store(false)
					c.port.Purge()
					if timeout {
						c.lastError = DiagnosticNoDiskInDrive
					} else {
						c.lastError = DiagnosticOK
					}
					c.applyCommTimeouts(false)
					bytesRead = 0
				}
			} else {
				// Repack the firmware's 2-bit flux codes into the
				// format unpack expects. Code 3 is a runt pulse the
				// firmware should never produce; fold it into the
				// shortest cell.
				var outputByte byte
				for i := 6; i >= 0; i -= 2 {
					t := tempReadBuffer[a] >> uint(i) & 0x03
					if t == 3 {
						t = 0
					}
					outputByte = outputByte<<2 | (t + 1)
				}
				packed[writePosition] = outputByte
				writePosition++
				if writePosition >= dataLength {
					c.AbortReadStreaming()
				}
			}
		}

		if bytesRead < 1 {
			readFail++
			if readFail > 30 {
				// Stalled. Force the abort byte out, give up and
				// recheck whether the disk was pulled mid-read.
				c.abortStreaming.Store(false)
				c.AbortReadStreaming()
				c.lastError = DiagnosticReadResponseFailed
				c.isStreaming.Store(false)
				c.applyCommTimeouts(false)
				c.CheckForDisk(true)
				return DiagnosticReadResponseFailed
			}
			c.sleep(1 * time.Millisecond)
		}
	}
	return c.lastError
}

// readTrackTerminated is the pre-streaming capture: the firmware sends
// packed flux bytes until it terminates the stream with a zero byte.
func (c *Client) readTrackTerminated(packed []byte, dataLength int, readFromIndexPulse bool) Diagnostic {
	if diag := c.runCommand(cmdReadTrack, 0, nil); diag != DiagnosticOK {
		// Drain whatever the device was mid-way through, then retry.
		c.deviceRead(packed, false)
		if diag = c.runCommand(cmdReadTrack, 0, nil); diag != DiagnosticOK {
			return diag
		}
	}

	signalPulse := byte(0)
	if readFromIndexPulse {
		signalPulse = 1
	}
	if n, err := c.port.Write([]byte{signalPulse}); err != nil || n != 1 {
		c.lastError = DiagnosticSendParameterFailed
		return c.lastError
	}

	bytePos := 0
	readFail := 0
	value := make([]byte, 1)
	for {
		if c.deviceRead(value, true) {
			if value[0] == 0 {
				break
			}
			if bytePos < dataLength {
				packed[bytePos] = value[0]
				bytePos++
			}
		} else {
			readFail++
			if readFail > 4 {
				c.lastError = DiagnosticReadResponseFailed
				return c.lastError
			}
		}
	}
	return DiagnosticOK
}

// AbortReadStreaming asks the firmware to stop a streaming read. Safe to
// call from another goroutine and idempotent; the abort byte is sent at
// most once per stream.
func (c *Client) AbortReadStreaming() bool {
	if !c.isStreaming.Load() {
		return true
	}

	// Only one caller gets to send the abort byte.
	if c.abortStreaming.CompareAndSwap(false, true) {
		c.abortSignalled.Store(true)
		if n, err := c.port.Write([]byte{cmdAbortChar}); err != nil || n != 1 {
			return false
		}
	}
	return true
}
