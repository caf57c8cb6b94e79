package drawbridge

// The firmware exchanges track data as packed flux codes: four 2-bit groups
// per byte, each naming an MFM bit-cell sequence. These helpers expand the
// packed form into a raw bit stream and walk a raw stream MSB-first while
// re-encoding for the write path.

// packBit appends a single bit to output, filling each byte MSB-first.
// Writes past the end of output are dropped.
func packBit(output []byte, pos, bit *int, value byte) {
	if *pos >= len(output) {
		return
	}
	output[*pos] = output[*pos]<<1 | value
	*bit++
	if *bit >= 8 {
		*pos++
		*bit = 0
	}
}

// unpack expands packed flux codes into raw MFM bits. Code 0 is invalid on
// the wire but still accounts for four zero bits so the stream stays in
// step.
func unpack(data, output []byte) {
	for i := range output {
		output[i] = 0
	}
	pos := 0
	bit := 0
	index := 0
	for pos < len(output) {
		for b := 6; b >= 0; b -= 2 {
			switch (data[index] >> b) & 3 {
			case 0:
				packBit(output, &pos, &bit, 0)
				packBit(output, &pos, &bit, 0)
				packBit(output, &pos, &bit, 0)
				packBit(output, &pos, &bit, 0)
			case 1: // 01
				packBit(output, &pos, &bit, 0)
				packBit(output, &pos, &bit, 1)
			case 2: // 001
				packBit(output, &pos, &bit, 0)
				packBit(output, &pos, &bit, 0)
				packBit(output, &pos, &bit, 1)
			case 3: // 0001
				packBit(output, &pos, &bit, 0)
				packBit(output, &pos, &bit, 0)
				packBit(output, &pos, &bit, 0)
				packBit(output, &pos, &bit, 1)
			}
		}
		index++
		if index >= len(data) {
			return
		}
	}
}

// readBit walks buffer MSB-first. Past the end it synthesizes alternating
// bits so the re-encoder can pad out the final flux codes cleanly.
func readBit(buffer []byte, pos, bit *int) int {
	if *pos >= len(buffer) {
		*bit--
		if *bit < 0 {
			*bit = 7
			*pos++
		}
		if *bit&1 != 0 {
			return 0
		}
		return 1
	}
	ret := int(buffer[*pos]>>uint(*bit)) & 1
	*bit--
	if *bit < 0 {
		*bit = 7
		*pos++
	}
	return ret
}
