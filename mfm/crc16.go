package mfm

// crc16CCITTByte folds one byte into a CRC16-CCITT checksum
// (polynomial 0x1021, MSB first).
func crc16CCITTByte(crc uint16, b byte) uint16 {
	crc ^= uint16(b) << 8
	for i := 0; i < 8; i++ {
		if crc&0x8000 != 0 {
			crc = crc<<1 ^ 0x1021
		} else {
			crc <<= 1
		}
	}
	return crc
}

// crc16CCITT folds a byte slice into a CRC16-CCITT checksum.
func crc16CCITT(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc = crc16CCITTByte(crc, b)
	}
	return crc
}
