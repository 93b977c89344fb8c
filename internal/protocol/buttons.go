package protocol

// ButtonDownMask is the button word reported while the front button is held.
const ButtonDownMask = 0x0008

// Buttons is the 16-bit core button word that leads every input report.
type Buttons uint16

// Down reports whether the front button is pressed. Only an exact match counts.
func (b Buttons) Down() bool { return b == ButtonDownMask }

// ButtonTracker turns the level-triggered button word into press and release
// edges. The zero value starts with the button up.
type ButtonTracker struct {
	down bool
}

// Update records the current level and returns which edge, if any, it crossed.
func (t *ButtonTracker) Update(b Buttons) (pressed, released bool) {
	switch down := b.Down(); {
	case down && !t.down:
		t.down = true
		return true, false
	case !down && t.down:
		t.down = false
		return false, true
	}
	return false, false
}

// IsDown returns the last recorded level.
func (t *ButtonTracker) IsDown() bool { return t.down }
