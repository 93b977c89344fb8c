package board

import (
	"fmt"
	"time"

	"github.com/colspan/wiiboard-simple/internal/calibration"
)

// Status is the session's connection state.
type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
	Disconnecting
)

func (s Status) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// EventType identifies an Event.
type EventType int

const (
	EventConnected EventType = iota
	EventDisconnected
	EventButtonPressed
	EventButtonReleased
	EventMass
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventButtonPressed:
		return "button_pressed"
	case EventButtonReleased:
		return "button_released"
	case EventMass:
		return "mass"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is emitted on the channel returned by Session.Events, in the order
// the board reported it.
type Event struct {
	Type EventType
	Mass MassEvent // set for EventMass
}

// MassEvent is one calibrated mass report, in kilograms.
type MassEvent struct {
	TopLeft     float64
	TopRight    float64
	BottomLeft  float64
	BottomRight float64
	Total       float64
	ButtonDown  bool
	Time        time.Time

	// FailedPads lists pads with degenerate calibration. They read 0 and
	// add nothing to Total.
	FailedPads []calibration.Pad
}

func newMassEvent(topLeft, topRight, bottomLeft, bottomRight float64) MassEvent {
	return MassEvent{
		TopLeft:     topLeft,
		TopRight:    topRight,
		BottomLeft:  bottomLeft,
		BottomRight: bottomRight,
		Total:       topLeft + topRight + bottomLeft + bottomRight,
	}
}

// Left is the weight on the left half of the board.
func (e MassEvent) Left() float64 { return e.TopLeft + e.BottomLeft }

// Right is the weight on the right half of the board.
func (e MassEvent) Right() float64 { return e.TopRight + e.BottomRight }
