package mfm

// IBM PC track decoder. The input is a raw bit capture spanning slightly
// more than one disk revolution; the output is every sector that could be
// recovered, keyed by zero-based sector number.

// 64-bit sync patterns as they appear in the raw bit stream, clock bits
// included. The A1/C2 markers carry deliberate clocking violations so they
// can never occur inside ordinary data.
const (
	syncTrackHeader  uint64 = 0x5224522452245552 // C2 C2 C2 FC
	syncSectorHeader uint64 = 0x4489448944895554 // A1 A1 A1 FE
	syncSectorData   uint64 = 0x4489448944895545 // A1 A1 A1 FB
)

// Sectors per track for the two standard 3.5" PC formats, used when the
// caller has no better idea how many sectors to expect.
const (
	SectorsPerTrackDD = 9
	SectorsPerTrackHD = 18
)

// FillerErrors is the error count given to placeholder sectors that were
// expected on the track but never found.
const FillerErrors = 0xFFFF

// sectorSize is the payload size of standard PC sectors (size code 2).
const sectorSize = 512

// DecodedSector is one recovered sector. NumErrors counts header field
// mismatches plus one for a failed data CRC; zero means a perfect read.
type DecodedSector struct {
	Data      []byte
	NumErrors int
}

// DecodedTrack is the result of decoding one track surface.
type DecodedTrack struct {
	Sectors           map[int]DecodedSector // keyed by zero-based sector number
	SectorsWithErrors int
}

// extractDecoded reads output bytes' worth of data bits starting at bitPos
// in the capture, stripping the interleaved clock bits. The capture is
// treated as circular.
func extractDecoded(track []byte, bitLength, bitPos int, output []byte) {
	realBitPos := (bitPos + 1) % bitLength // +1 skips the first clock bit
	for i := range output {
		var b byte
		for bit := 0; bit <= 7; bit++ {
			b <<= 1
			bytePos := realBitPos >> 3
			if track[bytePos]&(1<<uint(7-(realBitPos&7))) != 0 {
				b |= 1
			}
			realBitPos = (realBitPos + 2) % bitLength
		}
		output[i] = b
	}
}

// FindSectorsIBMPC scans a raw MFM capture for IBM PC format sectors.
//
// A 64-bit shift register is fed one capture bit at a time and compared
// against the three sync patterns. A sector-header match yields the ID
// fields; the data mark that follows yields the payload. Duplicate copies
// of a sector (the capture covers more than one revolution) are collapsed
// keeping the copy with fewer errors.
//
// When expectedSectors is non-zero, missing sectors are filled in as
// zeroed placeholders carrying FillerErrors; when zero, the standard
// DD/HD count is assumed and nothing is back-filled. The second return
// value reports nonstandard inter-sector gap timing, a strong hint the
// disk was written by a different platform.
func FindSectorsIBMPC(track []byte, bitLength int, isHD bool, cylinder, head, expectedSectors int) (DecodedTrack, bool) {
	decodedTrack := DecodedTrack{Sectors: make(map[int]DecodedSector)}

	var decoded uint64
	var header [10]byte // A1 A1 A1 FE, cylinder, head, sector, size, crc16

	headerFound := false
	headerErrors := FillerErrors
	lastSectorNumber := -1
	lastSizeCode := 2 // default 512 bytes

	expected := expectedSectors
	if expected == 0 {
		if isHD {
			expected = SectorsPerTrackHD
		} else {
			expected = SectorsPerTrackDD
		}
	}

	wantHead := 0
	if head == 1 {
		wantHead = 1
	}

	sectorEndPoint := 0
	gapTotal := 0
	numGaps := 0

	for bit := 0; bit < bitLength; bit++ {
		decoded <<= 1
		if track[bit>>3]&(1<<uint(7-(bit&7))) != 0 {
			decoded |= 1
		}

		switch decoded {
		case syncSectorHeader:
			if sectorEndPoint != 0 {
				// Track the gap back to the previous sector. The 24
				// bytes are the sync run before the marker; a PC disk
				// should average around 84.
				markerStart := bit + 1 - 64
				gap := (markerStart-sectorEndPoint)/16 - 12*2
				if gap < 0 {
					gap = 0
				}
				if gap > 200 {
					gap = 200
				}
				gapTotal += gap
				numGaps++
			}

			extractDecoded(track, bitLength, bit+1-64, header[:])
			// CRC covers the raw header bytes, before any repair below.
			crc := crc16CCITT(0xFFFF, header[:8])
			headerErrors = 0
			headerFound = true

			if header[6] < 1 {
				header[6] = 1
				headerErrors++
			}
			if crc != uint16(header[8])<<8|uint16(header[9]) {
				headerErrors++
			}
			if headerErrors == 0 {
				lastSizeCode = int(header[7])
			}
			if int(header[4]) != cylinder {
				headerErrors++
			}
			if int(header[5]) != wantHead {
				headerErrors++
			}

			lastSectorNumber = int(header[6])

		case syncSectorData:
			if !headerFound {
				// The header was unreadable or missing entirely; guess
				// one from the last sector seen and flag it heavily.
				lastSectorNumber++
				header = [10]byte{}
				header[4] = byte(cylinder)
				header[5] = byte(wantHead)
				header[6] = byte(lastSectorNumber)
				header[7] = byte(lastSizeCode)
				headerErrors = 0xF0
				headerFound = true
			}

			sizeCode := int(header[7])
			if sizeCode > 7 {
				sizeCode = 7 // corrupt size code, cap the allocation
			}
			dataSize := 1 << (7 + sizeCode)

			bitStart := bit + 1 - 64
			dataMark := make([]byte, 4)
			extractDecoded(track, bitLength, bitStart, dataMark)
			bitStart += 4 * 8 * 2
			data := make([]byte, dataSize)
			extractDecoded(track, bitLength, bitStart, data)
			bitStart += dataSize * 8 * 2
			crcBytes := make([]byte, 2)
			extractDecoded(track, bitLength, bitStart, crcBytes)

			crc := crc16CCITT(0xFFFF, dataMark)
			crc = crc16CCITT(crc, data)

			numErrors := headerErrors
			if crc != uint16(crcBytes[0])<<8|uint16(crcBytes[1]) {
				numErrors++
			}

			key := int(header[6]) - 1
			existing, ok := decodedTrack.Sectors[key]
			if !ok {
				// Anything above 22 sectors is implausible on a 3.5"
				// disk and almost certainly a misread number.
				if header[6] <= 22 {
					decodedTrack.Sectors[key] = DecodedSector{Data: data, NumErrors: numErrors}
				}
			} else if existing.NumErrors > numErrors {
				decodedTrack.Sectors[key] = DecodedSector{Data: data, NumErrors: numErrors}
			}

			headerErrors = FillerErrors
			headerFound = false
			sectorEndPoint = bitStart + 4*8

		case syncTrackHeader:
			headerFound = false
			headerErrors = FillerErrors
			lastSectorNumber = -1
		}
	}

	nonstandardTimings := false
	if numGaps > 0 {
		nonstandardTimings = gapTotal/numGaps < 70
	}

	dataSize := 1 << (7 + lastSizeCode)

	for sec := 0; sec < expected; sec++ {
		existing, ok := decodedTrack.Sectors[sec]
		if !ok {
			if expectedSectors > 0 {
				decodedTrack.Sectors[sec] = DecodedSector{
					Data:      make([]byte, dataSize),
					NumErrors: FillerErrors,
				}
				decodedTrack.SectorsWithErrors++
			}
		} else if existing.NumErrors != 0 {
			decodedTrack.SectorsWithErrors++
		}
	}

	return decodedTrack, nonstandardTimings
}
