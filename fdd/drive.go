// Package fdd adapts a DrawBridge bridge into an addressable floppy drive:
// geometry detection, per-track capture caching and sector-level reads
// served from the MFM decoder.
package fdd

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/sergev/drawbridge/drawbridge"
	"github.com/sergev/drawbridge/mfm"
)

const (
	// SectorSize is the only sector payload size standard PC media uses.
	SectorSize = 512

	numTracks = 80
	numHeads  = 2

	defaultReadRetries = 3
)

// Drive is one physical floppy drive reached through a DrawBridge session.
// It is read-only: the bridge hardware supports writing but this adapter
// never arms it.
type Drive struct {
	bridge     *drawbridge.Client
	maxRetries int

	track        int
	tracks       int
	heads        int
	sectors      int
	diskInserted bool
	isHD         bool

	diskFlags  uint16
	trackFlags uint16
	gap2Size   uint8
	gap3Size   uint8
	dataRate   uint8

	// Raw capture and decode results per surface; both invalidated when
	// the head moves.
	trackData      [numHeads][]byte
	trackDataValid [numHeads]bool
	decodedTrack   [numHeads]mfm.DecodedTrack
	decodedValid   [numHeads]bool
	cachedTrack    int

	// Last sector selected through the FDC contract.
	currentSector      []byte
	currentSectorCHR   [3]uint8
	currentSectorValid bool
}

// NewDrive wraps an open bridge session. retries is the per-surface capture
// budget; anything below 1 selects the default. Detect must be called before
// any sector access.
func NewDrive(bridge *drawbridge.Client, retries int) *Drive {
	if retries < 1 {
		retries = defaultReadRetries
	}
	return &Drive{
		bridge:      bridge,
		maxRetries:  retries,
		track:       -1,
		cachedTrack: -1,
	}
}

// Detect probes for a disk and measures its density, then derives the
// geometry and the format flag words from it.
func (d *Drive) Detect() error {
	if diag := d.bridge.CheckForDisk(true); diag != drawbridge.DiagnosticOK {
		d.diskInserted = false
		return fmt.Errorf("no disk detected: %s", diag)
	}
	d.diskInserted = true

	isHD, diag := d.bridge.CheckDiskCapacity()
	if diag != drawbridge.DiagnosticOK {
		log.Debugf("fdd: density detection failed (%s), assuming DD", diag)
		isHD = false
	}
	d.isHD = isHD

	// Make the firmware sample at the rate the media needs.
	if diag := d.bridge.SetDiskCapacity(isHD); diag != drawbridge.DiagnosticOK {
		return fmt.Errorf("failed to set %s sampling mode: %s", densityName(isHD), diag)
	}

	d.tracks = numTracks
	d.heads = numHeads
	if isHD {
		d.sectors = mfm.SectorsPerTrackHD
	} else {
		d.sectors = mfm.SectorsPerTrackDD
	}
	d.diskFlags = 0x08 // double sided

	d.calculateGapSizes()

	log.Debugf("fdd: detected %s disk, %d/%d/%d", densityName(isHD),
		d.tracks, d.heads, d.sectors)
	return nil
}

func densityName(isHD bool) string {
	if isHD {
		return "HD"
	}
	return "DD"
}

// Per-size-code sector count ceilings for each data rate column, matching
// the standard FDC format tables. Only the 512-byte row matters here.
var maximumSectors512 = [6]uint8{7, 10, 12, 17, 22, 41}

var (
	rates = [6]uint8{2, 2, 1, 4, 0, 3}
	holes = [6]uint8{0, 0, 0, 1, 1, 2}
)

// calculateGapSizes picks the data rate, media hole class and inter-sector
// gap sizes from the sector count, and folds them into the flag words the
// FDC track engine consumes.
func (d *Drive) calculateGapSizes() {
	tempRate := uint8(0xFF)
	for i := 0; i < len(maximumSectors512); i++ {
		if d.sectors <= int(maximumSectors512[i]) {
			tempRate = rates[i]
			d.dataRate = tempRate
			d.diskFlags |= uint16(holes[i]) << 1
			break
		}
	}

	if tempRate == 0xFF {
		log.Debug("fdd: unknown format, using default gap sizes")
		d.gap2Size = 22
		d.gap3Size = 108
		d.dataRate = 0
		return
	}

	// ED media needs a longer gap2 for the head to settle.
	if tempRate == 3 {
		d.gap2Size = 41
	} else {
		d.gap2Size = 22
	}
	d.gap3Size = gap3Size(tempRate, d.sectors)

	d.trackFlags = 0x08            // MFM encoding
	d.trackFlags |= uint16(tempRate & 3) // data rate
	if tempRate&4 != 0 {
		d.trackFlags |= 0x20 // 300 RPM at 250 kbps
	}

	// Extra bit cells flag, required for DOS compatibility.
	d.diskFlags |= 0x80
}

// gap3Size returns the inter-sector gap for 512-byte sectors at the given
// data rate.
func gap3Size(rate uint8, sectors int) uint8 {
	switch rate {
	case 0: // 500 kbps
		switch {
		case sectors >= 18:
			return 108
		default:
			return 84
		}
	case 3: // 1000 kbps
		return 84
	default: // 250/300 kbps
		if sectors > 9 {
			return 34
		}
		return 80
	}
}

// Geometry returns tracks, heads and sectors per track.
func (d *Drive) Geometry() (int, int, int) {
	return d.tracks, d.heads, d.sectors
}

// IsHD reports the detected media density.
func (d *Drive) IsHD() bool {
	return d.isHD
}

// DiskInserted reports whether Detect found a disk.
func (d *Drive) DiskInserted() bool {
	return d.diskInserted
}

// DiskFlags returns the disk flag word: bit 3 double sided, bits 1-2 the
// media hole class, bit 7 extra bit cells.
func (d *Drive) DiskFlags() uint16 {
	return d.diskFlags
}

// TrackFlags returns the track flag word: MFM encoding plus the data rate.
func (d *Drive) TrackFlags() uint16 {
	return d.trackFlags
}

// GapSizes returns the gap2 and gap3 byte counts for this format.
func (d *Drive) GapSizes() (uint8, uint8) {
	return d.gap2Size, d.gap3Size
}

// SideFlags returns the side flag word derived from the data rate, with
// the MFM encoding bit always set.
func (d *Drive) SideFlags() uint16 {
	var flags uint16
	switch d.dataRate {
	case 0: // 500 kbps (HD)
		flags = 0
	case 1: // 300 kbps
		flags = 1
	case 2: // 250 kbps (DD)
		flags = 2
	case 3: // 1000 kbps (ED)
		flags = 3
	default: // special rates behave like DD
		flags = 2
	}
	return flags | 0x08
}

// Seek moves the head and pre-captures both surfaces of the new track so
// subsequent sector reads come straight from cache. The motor is only spun
// up for the duration of the capture. An unreadable surface is logged and
// tolerated; the sector reads will serve degraded data for it.
func (d *Drive) Seek(track int) error {
	if track < 0 || track >= d.tracks {
		return fmt.Errorf("track %d out of range (max %d)", track, d.tracks-1)
	}

	if diag := d.bridge.EnableReading(true, false, false); diag != drawbridge.DiagnosticOK {
		return fmt.Errorf("failed to start drive motor: %s", diag)
	}
	defer d.bridge.EnableReading(false, false, false)

	for head := 0; head < d.heads; head++ {
		if err := d.ensureTrackCached(track, head); err != nil {
			log.Debugf("fdd: %v", err)
		}
	}
	return nil
}

// ensureTrackCached captures the raw bit stream for one surface unless the
// cache already holds it. Assumes the drive motor is running.
func (d *Drive) ensureTrackCached(track, head int) error {
	if d.track != track {
		if diag := d.bridge.SelectTrack(track); diag != drawbridge.DiagnosticOK {
			return fmt.Errorf("failed to seek to track %d: %s", track, diag)
		}
		d.track = track
		d.invalidateCache()
	}

	surface := drawbridge.SurfaceLower
	if head == 1 {
		surface = drawbridge.SurfaceUpper
	}
	if diag := d.bridge.SelectSurface(surface); diag != drawbridge.DiagnosticOK {
		return fmt.Errorf("failed to select head %d: %s", head, diag)
	}

	if d.trackDataValid[head] && d.cachedTrack == track {
		return nil
	}

	dataLength := drawbridge.RawTrackDataLengthDD
	if d.isHD {
		dataLength = drawbridge.RawTrackDataLengthHD
	}
	if len(d.trackData[head]) != dataLength {
		d.trackData[head] = make([]byte, dataLength)
	}

	var diag drawbridge.Diagnostic
	for attempt := 0; attempt < d.maxRetries; attempt++ {
		diag = d.bridge.ReadCurrentTrack(d.trackData[head], true)
		if diag == drawbridge.DiagnosticOK {
			break
		}
		log.Debugf("fdd: track %d head %d read attempt %d failed: %s",
			track, head, attempt+1, diag)

		if attempt < d.maxRetries-1 {
			// Recalibrate: a long seek away and back re-settles the
			// head positioner.
			calibrationTrack := track + 30
			if track >= 40 {
				calibrationTrack = track - 30
			}
			d.bridge.SelectTrack(calibrationTrack)
			d.bridge.SelectTrack(track)
		}
	}
	if diag != drawbridge.DiagnosticOK {
		return fmt.Errorf("failed to read track %d head %d: %s", track, head, diag)
	}

	d.trackDataValid[head] = true
	d.decodedValid[head] = false
	d.cachedTrack = track
	return nil
}

func (d *Drive) invalidateCache() {
	for h := 0; h < numHeads; h++ {
		d.trackDataValid[h] = false
		d.decodedValid[h] = false
	}
}

// ReadSector serves one 512-byte sector (1-based sector numbers). Device
// trouble never propagates upward: a surface the bridge could not capture is
// served as zeroed data, and a sector the decoder could not recover comes
// back as an 0xAA fill pattern with the sector address stamped in the first
// four bytes, so disk dumps always run to completion and the damage is
// obvious. Errors are reserved for caller mistakes: bad addresses, wrong
// buffer size, no disk.
func (d *Drive) ReadSector(track, head, sector int, buffer []byte) error {
	if len(buffer) != SectorSize {
		return fmt.Errorf("sector buffer must be %d bytes", SectorSize)
	}
	if track < 0 || track >= d.tracks || head < 0 || head >= d.heads ||
		sector < 1 || sector > d.sectors {
		return fmt.Errorf("sector address %d/%d/%d out of range", track, head, sector)
	}
	if !d.diskInserted {
		return fmt.Errorf("no disk in drive")
	}

	if err := d.ensureTrackCached(track, head); err != nil {
		log.Debugf("fdd: serving zeroed data: %v", err)
		for i := range buffer {
			buffer[i] = 0
		}
		return nil
	}

	if !d.decodedValid[head] {
		dataLength := len(d.trackData[head])
		decoded, nonstandard := mfm.FindSectorsIBMPC(d.trackData[head],
			dataLength*8, d.isHD, track, head, d.sectors)
		if nonstandard {
			log.Debugf("fdd: track %d head %d has nonstandard gap timing", track, head)
		}
		d.decodedTrack[head] = decoded
		d.decodedValid[head] = true
	}

	// The decoder keys sectors from zero.
	sec, ok := d.decodedTrack[head].Sectors[sector-1]
	if ok && sec.NumErrors < mfm.FillerErrors {
		n := copy(buffer, sec.Data)
		for i := n; i < SectorSize; i++ {
			buffer[i] = 0
		}
		if sec.NumErrors > 0 {
			log.Debugf("fdd: sector %d/%d/%d recovered with %d errors",
				track, head, sector, sec.NumErrors)
		}
		return nil
	}

	log.Debugf("fdd: sector %d/%d/%d missing, serving fill pattern", track, head, sector)
	for i := range buffer {
		buffer[i] = 0xAA
	}
	buffer[0] = byte(track)
	buffer[1] = byte(head)
	buffer[2] = byte(sector)
	buffer[3] = 2 // size code for 512 bytes
	return nil
}

// SetSector selects the sector subsequent ReadByte calls serve, reading it
// from the device if it is not the one already buffered. This is the entry
// point for an external FDC track engine.
func (d *Drive) SetSector(c, h, r uint8) error {
	if int(c) >= d.tracks || int(h) >= d.heads || r < 1 || int(r) > d.sectors {
		return fmt.Errorf("sector address %d/%d/%d out of range", c, h, r)
	}

	if d.currentSectorValid && d.currentSectorCHR == [3]uint8{c, h, r} {
		return nil
	}

	if d.currentSector == nil {
		d.currentSector = make([]byte, SectorSize)
	}
	if err := d.ReadSector(int(c), int(h), int(r), d.currentSector); err != nil {
		d.currentSectorValid = false
		return err
	}
	d.currentSectorCHR = [3]uint8{c, h, r}
	d.currentSectorValid = true
	return nil
}

// ReadByte returns one byte of the currently selected sector, or zero when
// nothing valid is selected.
func (d *Drive) ReadByte(pos uint16) uint8 {
	if !d.currentSectorValid || int(pos) >= SectorSize {
		return 0
	}
	return d.currentSector[pos]
}

// WriteByte is accepted and discarded; the adapter is read-only.
func (d *Drive) WriteByte(pos uint16, data uint8) {
}

// Writeback flushes pending writes. There are never any.
func (d *Drive) Writeback() {
}

// FormatSupported reports whether the drive can format media. It cannot.
func (d *Drive) FormatSupported() bool {
	return false
}

// Close powers the drive down. The bridge session stays open; the caller
// owns it.
func (d *Drive) Close() {
	d.bridge.EnableReading(false, false, false)
}
