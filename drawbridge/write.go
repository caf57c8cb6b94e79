package drawbridge

// WriteCurrentTrackPrecomp writes a raw MFM track to the surface under the
// head, re-encoding the bit stream into the firmware's packed flux format.
// In DD mode each nybble carries a precompensation hint and a cell length;
// precomp nudges bit cells that sit between asymmetric neighbours so the
// magnetic transitions land where they should. HD mode uses a denser packing
// with no precomp.
func (c *Client) WriteCurrentTrackPrecomp(mfmData []byte, writeFromIndexPulse, usePrecomp bool) Diagnostic {
	c.lastCommand = LastCommandWriteTrack

	// Writing requires EnableWriting first (or the full control mod).
	if !c.inWriteMode {
		c.lastError = DiagnosticWriteProtected
		return c.lastError
	}

	if c.isHDMode {
		return c.writeCurrentTrackHD(mfmData, writeFromIndexPulse)
	}

	numBytes := len(mfmData)
	// Worst case is every cell being a 01 pair, plus a little padding.
	outputBuffer := make([]byte, 0, numBytes*4+16)

	pos := 0
	bit := 7
	sequence := byte(0xAA) // seed with 10101010 so the window starts sane
	lastCount := 2

	for pos < numBytes {
		var output byte

		for i := 0; i < 2; i++ {
			count := 0

			// Measure the zero run up to the next 1 bit.
			for {
				b := readBit(mfmData, &pos, &bit)
				sequence = sequence<<1&0x7F | byte(b)
				count++
				if sequence&0x08 != 0 || pos >= numBytes+8 {
					break
				}
			}

			// A run under 2 would mean a 11 pair, over 5 is longer than
			// any cell the firmware can time.
			if count < 2 {
				count = 2
			}
			if count > 5 {
				count = 5
			}

			precomp := byte(precompNone)
			if usePrecomp {
				// Look at the two cells either side of the one being
				// written (bit 3 of the window is the actual bit).
				switch sequence & 0x3E {
				case 0x28: // xx10100x
					precomp = precompEarly
				case 0x0A: // xx00101x
					precomp = precompLate
				}
			}

			output |= (byte(lastCount-2) | precomp) << uint(i*4)
			lastCount = count
		}

		outputBuffer = append(outputBuffer, output)
	}

	return c.internalWriteTrack(outputBuffer, writeFromIndexPulse, true)
}

// writeCurrentTrackHD packs four cells per byte with a shuffled group order
// matched to how the firmware unpacks them, terminated by a zero byte.
func (c *Client) writeCurrentTrackHD(mfmData []byte, writeFromIndexPulse bool) Diagnostic {
	c.lastCommand = LastCommandWriteTrack

	numBytes := len(mfmData)
	outputBuffer := make([]byte, 0, numBytes*4+16)

	pos := 0
	bit := 7
	sequence := byte(0xAA)

	for pos < numBytes {
		var output byte

		for i := 0; i < 4; i++ {
			count := 0

			for {
				b := readBit(mfmData, &pos, &bit)
				sequence = sequence<<1&0x7F | byte(b)
				count++
				if sequence&0x08 != 0 || pos >= numBytes+8 {
					break
				}
			}

			if count < 2 {
				count = 2
			}
			if count > 4 {
				count = 4
			}
			switch i {
			case 1, 3:
				output |= byte(count-1) << uint(i*2)
			case 0:
				output |= byte(count-1) << 4
			case 2:
				output |= byte(count - 1)
			}
		}

		outputBuffer = append(outputBuffer, output)
	}

	// Zero terminates the stream.
	outputBuffer = append(outputBuffer, 0)

	return c.internalWriteTrack(outputBuffer, writeFromIndexPulse, false)
}

// internalWriteTrack runs the write handshake and ships the packed data.
// DD sends a 16-bit big-endian length up front; HD data is zero terminated
// so no length is needed.
func (c *Client) internalWriteTrack(data []byte, writeFromIndexPulse, usePrecomp bool) Diagnostic {
	c.lastCommand = LastCommandWriteTrack

	command := byte(cmdWriteTrack)
	if !c.isHDMode && usePrecomp {
		command = cmdWriteTrackPrecomp
	}
	if diag := c.runCommand(command, 0, nil); diag != DiagnosticOK {
		return diag
	}

	status := make([]byte, 1)
	if !c.deviceRead(status, true) {
		c.lastError = DiagnosticReadResponseFailed
		return c.lastError
	}
	// 'N' means no writing, the disk is protected.
	if status[0] == 'N' {
		c.lastError = DiagnosticWriteProtected
		return c.lastError
	}
	if status[0] != 'Y' {
		c.lastError = DiagnosticStatusError
		return c.lastError
	}

	if !c.isHDMode {
		numBytes := len(data)
		length := []byte{byte(numBytes >> 8), byte(numBytes & 0xFF)}
		if n, err := c.port.Write(length); err != nil || n != 2 {
			c.lastError = DiagnosticSendParameterFailed
			return c.lastError
		}
	}

	// Index-pulse synchronized writing is slower and only needed for
	// copy-protected formats.
	pulse := byte(0)
	if writeFromIndexPulse {
		pulse = 1
	}
	if n, err := c.port.Write([]byte{pulse}); err != nil || n != 1 {
		c.lastError = DiagnosticSendParameterFailed
		return c.lastError
	}

	if !c.deviceRead(status, true) {
		c.lastError = DiagnosticReadResponseFailed
		return c.lastError
	}
	if status[0] != '!' {
		c.lastError = DiagnosticStatusError
		return c.lastError
	}

	if n, err := c.port.Write(data); err != nil || n != len(data) {
		c.lastError = DiagnosticSendDataFailed
		return c.lastError
	}

	if !c.deviceRead(status, true) {
		c.lastError = DiagnosticTrackWriteResponseError
		return c.lastError
	}

	// '1' means the firmware kept up with every bit.
	switch status[0] {
	case '1':
		c.lastError = DiagnosticOK
	case 'X':
		c.lastError = DiagnosticWriteTimeout
	case 'Y':
		c.lastError = DiagnosticFramingError
	case 'Z':
		c.lastError = DiagnosticSerialOverrun
	default:
		c.lastError = DiagnosticStatusError
	}
	return c.lastError
}
