package protocol

// Command is an output report as written to the control channel. Byte 0 is a
// placeholder: Encode always replaces it with OutputHeader.
type Command []byte

// Output report IDs.
const (
	cmdLight        = 0x11
	cmdReporting    = 0x12
	cmdStatus       = 0x15
	cmdWriteMemory  = 0x16
	cmdReadMemory   = 0x17
	modeContinuous  = 0x04
	lightOn         = 0x10
	registerSpace   = 0x04
	extensionRegHi  = 0xa4
	calibrationAddr = 0x24
	calibrationLen  = 0x18
)

// CalibrationSize is the number of calibration bytes requested by
// ReadCalibration: three reference points for four sensors, two bytes each.
const CalibrationSize = calibrationLen

// Encode returns the wire bytes for cmd with the output header applied.
// cmd itself is not modified.
func Encode(cmd Command) ([]byte, error) {
	if len(cmd) == 0 {
		return nil, ErrEmptyCommand
	}
	buf := make([]byte, len(cmd))
	copy(buf, cmd)
	buf[0] = OutputHeader
	return buf, nil
}

// SetLight switches the power-button LED.
func SetLight(on bool) Command {
	val := byte(0x00)
	if on {
		val = lightOn
	}
	return Command{0x00, cmdLight, val}
}

// EnableReporting puts the board into continuous reporting of core buttons
// plus eight extension bytes.
func EnableReporting() Command {
	return Command{0x00, cmdReporting, modeContinuous, byte(ReportExtension)}
}

// RequestStatus asks for a status report.
func RequestStatus() Command {
	return Command{0x00, cmdStatus, 0x00}
}

// RegisterExtension writes the extension register at 0xa40040 to enable the
// board's load-cell extension.
func RegisterExtension() Command {
	return Command{0x00, cmdWriteMemory, registerSpace, extensionRegHi, 0x00, 0x40, 0x00}
}

// ReadCalibration reads CalibrationSize bytes from 0xa40024. The board
// answers with a 16-byte ReadDataFrame followed by an 8-byte one.
func ReadCalibration() Command {
	return Command{0x00, cmdReadMemory, registerSpace, extensionRegHi, 0x00, calibrationAddr, 0x00, calibrationLen}
}
