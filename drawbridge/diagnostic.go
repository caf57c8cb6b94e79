package drawbridge

// Diagnostic is the tagged result code returned by every engine operation.
// Operations never panic; callers branch on the tag.
type Diagnostic int

const (
	DiagnosticOK Diagnostic = iota

	// Results from OpenPort
	DiagnosticPortInUse
	DiagnosticPortNotFound
	DiagnosticPortError
	DiagnosticAccessDenied
	DiagnosticComportConfigError
	DiagnosticBaudRateNotSupported
	DiagnosticErrorReadingVersion
	DiagnosticMalformedVersion
	DiagnosticOldFirmware

	// Results from command exchanges
	DiagnosticSendFailed
	DiagnosticSendParameterFailed
	DiagnosticReadResponseFailed
	DiagnosticWriteTimeout
	DiagnosticSerialOverrun
	DiagnosticFramingError
	DiagnosticError

	// Device state results
	DiagnosticTrackRangeError
	DiagnosticSelectTrackError
	DiagnosticWriteProtected
	DiagnosticStatusError
	DiagnosticSendDataFailed
	DiagnosticTrackWriteResponseError
	DiagnosticNoDiskInDrive
	DiagnosticCTSFailure
	DiagnosticRewindFailure
	DiagnosticMediaTypeMismatch
)

// String returns a human readable explanation of the diagnostic code.
func (d Diagnostic) String() string {
	switch d {
	case DiagnosticOK:
		return "last command completed successfully"
	case DiagnosticPortInUse:
		return "the specified port is currently in use by another application"
	case DiagnosticPortNotFound:
		return "the specified port was not found"
	case DiagnosticPortError:
		return "an unknown error occurred attempting to open access to the specified port"
	case DiagnosticAccessDenied:
		return "the operating system denied access to the specified port"
	case DiagnosticComportConfigError:
		return "unable to configure the port"
	case DiagnosticBaudRateNotSupported:
		return "the port does not support the 2M baud rate required by this application"
	case DiagnosticErrorReadingVersion:
		return "an error occurred attempting to read the firmware version from the device"
	case DiagnosticMalformedVersion:
		return "the device returned an unexpected string when its version was requested"
	case DiagnosticOldFirmware:
		return "the device is running an older version of the firmware; please re-upload"
	case DiagnosticSendFailed:
		return "failed to send the command to the device"
	case DiagnosticSendParameterFailed:
		return "failed to send the command parameter to the device"
	case DiagnosticReadResponseFailed:
		return "failed to read a response from the device"
	case DiagnosticWriteTimeout:
		return "the device timed out while receiving track data"
	case DiagnosticSerialOverrun:
		return "the device reported a serial overrun while receiving track data"
	case DiagnosticFramingError:
		return "the device reported a framing error while receiving track data"
	case DiagnosticError:
		return "the device reported an error"
	case DiagnosticTrackRangeError:
		return "the requested track is out of range"
	case DiagnosticSelectTrackError:
		return "the device failed to move the head to the requested track"
	case DiagnosticWriteProtected:
		return "the disk is write protected"
	case DiagnosticStatusError:
		return "the device returned an unexpected status byte"
	case DiagnosticSendDataFailed:
		return "failed to send track data to the device"
	case DiagnosticTrackWriteResponseError:
		return "no response received after sending track data"
	case DiagnosticNoDiskInDrive:
		return "there is no disk in the drive"
	case DiagnosticCTSFailure:
		return "the CTS line did not respond as expected"
	case DiagnosticRewindFailure:
		return "the drive failed to rewind to track 0"
	case DiagnosticMediaTypeMismatch:
		return "the buffer size does not match the current disk density mode"
	default:
		return "unknown error"
	}
}

// LastCommand identifies the most recent operation, for diagnostics.
type LastCommand int

const (
	LastCommandOpenPort LastCommand = iota
	LastCommandGetVersion
	LastCommandEnableWrite
	LastCommandRewind
	LastCommandDisableMotor
	LastCommandEnableMotor
	LastCommandGotoTrack
	LastCommandSelectSurface
	LastCommandReadTrack
	LastCommandWriteTrack
	LastCommandRunDiagnostics
	LastCommandSwitchDiskMode
	LastCommandReadTrackStream
	LastCommandCheckDiskInDrive
	LastCommandCheckDiskWriteProtected
	LastCommandEraseTrack
	LastCommandNoClickCheck
	LastCommandCheckDensity
	LastCommandMeasureRPM
)

func (c LastCommand) String() string {
	switch c {
	case LastCommandOpenPort:
		return "OpenPort"
	case LastCommandGetVersion:
		return "GetVersion"
	case LastCommandEnableWrite:
		return "EnableWrite"
	case LastCommandRewind:
		return "Rewind"
	case LastCommandDisableMotor:
		return "DisableMotor"
	case LastCommandEnableMotor:
		return "EnableMotor"
	case LastCommandGotoTrack:
		return "GotoTrack"
	case LastCommandSelectSurface:
		return "SelectSurface"
	case LastCommandReadTrack:
		return "ReadTrack"
	case LastCommandWriteTrack:
		return "WriteTrack"
	case LastCommandRunDiagnostics:
		return "RunDiagnostics"
	case LastCommandSwitchDiskMode:
		return "SwitchDiskMode"
	case LastCommandReadTrackStream:
		return "ReadTrackStream"
	case LastCommandCheckDiskInDrive:
		return "CheckDiskInDrive"
	case LastCommandCheckDiskWriteProtected:
		return "CheckDiskWriteProtected"
	case LastCommandEraseTrack:
		return "EraseTrack"
	case LastCommandNoClickCheck:
		return "NoClickCheck"
	case LastCommandCheckDensity:
		return "CheckDensity"
	case LastCommandMeasureRPM:
		return "MeasureRPM"
	default:
		return "Unknown"
	}
}
