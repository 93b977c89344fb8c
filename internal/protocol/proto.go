// Package protocol implements the balance board's HID-over-L2CAP wire format:
// output report encoding for the control channel and input report decoding
// for the interrupt channel.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// OutputHeader is the HID transaction byte (SET_REPORT | OUTPUT) that starts
// every frame written to the control channel.
const OutputHeader = 0x52

// ReportType identifies an input report. It is the second byte of every frame
// received on the interrupt channel; the first is the 0xA1 DATA|INPUT header.
type ReportType byte

const (
	ReportStatus    ReportType = 0x20
	ReportReadData  ReportType = 0x21
	ReportExtension ReportType = 0x32
)

// String returns a short name used in logs and metric labels.
func (t ReportType) String() string {
	switch t {
	case ReportStatus:
		return "status"
	case ReportReadData:
		return "read_data"
	case ReportExtension:
		return "extension"
	default:
		return "ack"
	}
}

// Report offsets within a raw interrupt-channel frame.
const (
	typeOffset    = 1
	buttonsOffset = 2
	// status: battery level
	batteryOffset = 7
	// read data: size/error nibbles, big-endian address offset, data
	sizeOffset    = 4
	addressOffset = 5
	dataOffset    = 7
	// extension: four big-endian sensor words after the buttons
	sensorOffset = 4
)

// MaxReadSize is the largest payload a single read-data report carries.
const MaxReadSize = 16

var (
	// ErrDecode is wrapped by every decoding failure. Frames that fail to
	// decode are dropped by the caller.
	ErrDecode = errors.New("protocol: decode")
	// ErrShortFrame reports a frame too short for its report type.
	ErrShortFrame = fmt.Errorf("%w: short frame", ErrDecode)
	// ErrEmptyCommand is returned by Encode for a zero-length command.
	ErrEmptyCommand = errors.New("protocol: empty command")
)

// Frame is a decoded input report: one of *StatusFrame, *ReadDataFrame,
// *MassFrame or *AckFrame.
type Frame interface {
	Type() ReportType
}

// StatusFrame is pushed by the board on connect, on extension changes and in
// reply to RequestStatus. The board drops out of continuous reporting after
// sending one.
type StatusFrame struct {
	Buttons Buttons
	Battery byte
}

func (*StatusFrame) Type() ReportType { return ReportStatus }

// ReadDataFrame answers a register read. Size is in bytes (1-16); a read
// longer than MaxReadSize is split over several frames.
type ReadDataFrame struct {
	Buttons Buttons
	Size    int
	Err     byte
	Offset  uint16
	Payload []byte
}

func (*ReadDataFrame) Type() ReportType { return ReportReadData }

// Final reports whether this is the last chunk of a read.
func (f *ReadDataFrame) Final() bool { return f.Size < MaxReadSize }

// Sensor positions in the order the board reports them. The same order indexes
// the calibration registers.
const (
	SensorTopRight = iota
	SensorBottomRight
	SensorTopLeft
	SensorBottomLeft
	NumSensors
)

// MassFrame is an extension report carrying the four raw load-cell readings.
type MassFrame struct {
	Buttons Buttons
	Raw     [NumSensors]uint16
}

func (*MassFrame) Type() ReportType { return ReportExtension }

// AckFrame is any other report, typically the acknowledgement of a write.
type AckFrame struct {
	Report ReportType
	Data   []byte
}

func (f *AckFrame) Type() ReportType { return f.Report }

// Decode classifies a raw interrupt-channel frame by its report type.
func Decode(raw []byte) (Frame, error) {
	if len(raw) <= typeOffset {
		return nil, fmt.Errorf("%w: %d bytes, no report type", ErrShortFrame, len(raw))
	}
	typ := ReportType(raw[typeOffset])

	switch typ {
	case ReportStatus:
		if len(raw) <= batteryOffset {
			return nil, shortFrame(typ, len(raw), batteryOffset+1)
		}
		return &StatusFrame{
			Buttons: buttonsAt(raw),
			Battery: raw[batteryOffset],
		}, nil

	case ReportReadData:
		if len(raw) < dataOffset {
			return nil, shortFrame(typ, len(raw), dataOffset)
		}
		size := int(raw[sizeOffset]>>4) + 1
		if len(raw) < dataOffset+size {
			return nil, shortFrame(typ, len(raw), dataOffset+size)
		}
		payload := make([]byte, size)
		copy(payload, raw[dataOffset:dataOffset+size])
		return &ReadDataFrame{
			Buttons: buttonsAt(raw),
			Size:    size,
			Err:     raw[sizeOffset] & 0x0f,
			Offset:  binary.BigEndian.Uint16(raw[addressOffset:]),
			Payload: payload,
		}, nil

	case ReportExtension:
		if len(raw) < sensorOffset+2*NumSensors {
			return nil, shortFrame(typ, len(raw), sensorOffset+2*NumSensors)
		}
		f := &MassFrame{Buttons: buttonsAt(raw)}
		for i := range f.Raw {
			f.Raw[i] = binary.BigEndian.Uint16(raw[sensorOffset+2*i:])
		}
		return f, nil

	default:
		data := make([]byte, len(raw)-typeOffset-1)
		copy(data, raw[typeOffset+1:])
		return &AckFrame{Report: typ, Data: data}, nil
	}
}

func buttonsAt(raw []byte) Buttons {
	if len(raw) < buttonsOffset+2 {
		return 0
	}
	return Buttons(binary.BigEndian.Uint16(raw[buttonsOffset:]))
}

func shortFrame(typ ReportType, got, want int) error {
	return fmt.Errorf("%w: %s report has %d bytes, need %d", ErrShortFrame, typ, got, want)
}
