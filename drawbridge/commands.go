package drawbridge

// Single-character command alphabet understood by the DrawBridge firmware.
const (
	cmdVersion       = '?'
	cmdRewind        = '.'
	cmdGotoTrack     = '#'
	cmdHead0         = '['
	cmdHead1         = ']'
	cmdReadTrack     = '<'
	cmdEnable        = '+'
	cmdDisable       = '-'
	cmdWriteTrack    = '>'
	cmdEnableWrite   = '~'
	cmdDiagnostics   = '&'
	cmdEraseTrack    = 'X'
	cmdSwitchToDD    = 'D' // requires firmware 1.6
	cmdSwitchToHD    = 'H' // requires firmware 1.6
	cmdReset         = 'R'
	cmdAbortChar     = 'x'

	// Firmware 1.8
	cmdReadTrackStream    = '{'
	cmdWriteTrackPrecomp  = '}'
	cmdCheckDiskExists    = '^'
	cmdIsWriteProtected   = '$'
	cmdEnableNoWait       = '*'
	cmdDoNoClickSeek      = 'O'

	// Firmware 1.9
	cmdCheckDensity  = 'T'
	cmdTestRPM       = 'P'
	cmdCheckFeatures = '@'
)

// Device feature flags reported by cmdCheckFeatures (deviceFlags1).
const (
	FlagsHighPrecisionSupport = 1 << 0
	FlagsDiskChangeSupport    = 1 << 1
	FlagsPlusMode             = 1 << 2
	FlagsDensityDetectEnabled = 1 << 3
	FlagsSlowSeekingMode      = 1 << 4
	FlagsIndexAlignMode       = 1 << 5
	FlagsFluxRead             = 1 << 6
	FlagsFirmwareBeta         = 1 << 7
)

// Raw track capture sizes. The firmware samples a bit over one full
// revolution; HD media carries exactly twice the DD bit budget.
const (
	RawTrackDataLengthDD = 0x1900*2 + 0x440
	RawTrackDataLengthHD = 2 * RawTrackDataLengthDD
)

// The serial baud rate the firmware runs at. Fixed.
const BaudRate = 2000000

// MaxTrack is the highest track the head can physically reach.
const MaxTrack = 83

// Precompensation hints applied while re-encoding a track for writing.
const (
	precompNone  = 0x00
	precompEarly = 0x04
	precompLate  = 0x08
)

// FirmwareVersion is populated once during the handshake and read-only
// afterward. DeviceFlags and BuildNumber are only reported by firmware 1.9
// and later.
type FirmwareVersion struct {
	Major          int
	Minor          int
	FullControlMod bool
	DeviceFlags1   byte
	DeviceFlags2   byte
	BuildNumber    byte
}

// DiskSurface selects which side of the disk the head reads.
type DiskSurface int

const (
	SurfaceUpper DiskSurface = iota
	SurfaceLower
)
