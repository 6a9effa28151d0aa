package framepars

import (
	"fmt"

	"github.jpl.nasa.gov/bdube/golab-elphel/camerr"
	"github.jpl.nasa.gov/bdube/golab-elphel/driver"
)

// State classifies a frame against the rings
type State int

const (
	// Fresh frames are in the frame ring with every field available
	Fresh State = iota

	// Pending frames have not been committed yet
	Pending

	// Retired frames rotated into the past ring; only the preserved subset is available
	Retired

	// Expired frames are gone from both rings
	Expired
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Pending:
		return "pending"
	case Retired:
		return "retired"
	case Expired:
		return "expired"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Err returns the error matching a state that holds no value
func (s State) Err() error {
	switch s {
	case Pending:
		return camerr.ErrPending
	case Expired:
		return camerr.ErrExpired
	}
	return nil
}

// retries bounds how often a read restarts when the driver overwrites the
// slot under it
const retries = 3

// History is the frame tagged view of the frame ring and the past ring of
// one camera.  It never writes.
type History struct {
	mem    driver.ParamMemory
	layout driver.Layout
}

// NewHistory wraps a parameter memory
func NewHistory(mem driver.ParamMemory) *History {
	return &History{mem: mem, layout: mem.Layout()}
}

func (h *History) frameSlot(frame uint32) int {
	return int(frame & uint32(h.layout.FrameRing-1))
}

func (h *History) pastSlot(frame uint32) int {
	return int(frame & uint32(h.layout.PastRing-1))
}

// Preserved is true if frame record word index survives retirement
func (h *History) Preserved(index int) bool {
	return index >= h.layout.SaveFrom && index < h.layout.SaveFrom+h.layout.SaveNum
}

// Get classifies frame on port.  A Retired result means the past ring holds
// the frame, not that any particular word is available.
func (h *History) Get(port int, frame uint32) (State, error) {
	tag, err := h.mem.FrameWord(port, h.frameSlot(frame), driver.PFrame)
	if err != nil {
		return Expired, err
	}
	switch {
	case tag == frame:
		return Fresh, nil
	case tag < frame:
		return Pending, nil
	}
	ptag, err := h.mem.PastWord(port, h.pastSlot(frame), driver.PFrame-h.layout.SaveFrom)
	if err != nil {
		return Expired, err
	}
	if ptag == frame {
		return Retired, nil
	}
	return Expired, nil
}

// Word reads frame record word index of frame.  The returned state is Fresh or
// Retired on success; for Pending and Expired the error is the matching
// sentinel.  Values are read before the tag is confirmed, so a value is only
// returned if the slot still belonged to frame after it was read.
func (h *History) Word(port int, frame uint32, index int) (uint32, State, error) {
	if index < 0 || index >= h.layout.FramePars {
		return 0, Expired, fmt.Errorf("%w: frame word %d", camerr.ErrInvalidAddress, index)
	}
	slot := h.frameSlot(frame)
	for i := 0; i < retries; i++ {
		tag, err := h.mem.FrameWord(port, slot, driver.PFrame)
		if err != nil {
			return 0, Expired, err
		}
		if tag < frame {
			return 0, Pending, camerr.ErrPending
		}
		if tag > frame {
			break
		}
		v, err := h.mem.FrameWord(port, slot, index)
		if err != nil {
			return 0, Expired, err
		}
		tag, err = h.mem.FrameWord(port, slot, driver.PFrame)
		if err != nil {
			return 0, Expired, err
		}
		if tag == frame {
			return v, Fresh, nil
		}
		// the slot moved on while we read it, the frame is in the past ring now
	}
	return h.past(port, frame, index)
}

func (h *History) past(port int, frame uint32, index int) (uint32, State, error) {
	if !h.Preserved(index) {
		return 0, Expired, fmt.Errorf("%w: word %d is not preserved after retirement", camerr.ErrExpired, index)
	}
	slot := h.pastSlot(frame)
	tagIdx := driver.PFrame - h.layout.SaveFrom
	v, err := h.mem.PastWord(port, slot, index-h.layout.SaveFrom)
	if err != nil {
		return 0, Expired, err
	}
	tag, err := h.mem.PastWord(port, slot, tagIdx)
	if err != nil {
		return 0, Expired, err
	}
	if tag != frame {
		return 0, Expired, camerr.ErrExpired
	}
	return v, Retired, nil
}
