/*Package driver describes the external collaborators of the parameter store and
the gamma and histogram cache engines.

The driver owns the frame ring, the retired ("past") ring, the global parameter
table and both caches.  Clients only ever read them, or submit requests through
the narrow channels described here:

	ParamMemory     mapped read access to the rings, read/write of globals
	Committer       atomic, frame tagged write batches
	FrameClock      blocking waits on the frame counter
	GammaChannel    submit a query, read the cursor, read a slot
	HistogramHandle the four step histogram query on one (port, sub-channel)

Package sim provides an in-memory implementation, package remote carries any
implementation over a telegram link.
*/
package driver

import (
	"context"
	"fmt"

	"github.jpl.nasa.gov/bdube/golab-elphel/camerr"
)

// Layout holds the sizes of the driver's shared structures.  Every field is
// part of the contract with the driver; a client built with a different
// layout reads garbage.
type Layout struct {
	// Ports is the number of independent sensor ports
	Ports int `yaml:"Ports"`

	// SubChannels is the number of sensors multiplexed behind one port
	SubChannels int `yaml:"SubChannels"`

	// FrameRing is the number of slots (N) of the frame parameter ring
	FrameRing int `yaml:"FrameRing"`

	// PastRing is the number of slots (M) of the retired parameter ring
	PastRing int `yaml:"PastRing"`

	// FramePars is the number of 32 bit words in one frame record
	FramePars int `yaml:"FramePars"`

	// GlobalsBase is the first base index of the global parameters
	GlobalsBase int `yaml:"GlobalsBase"`

	// NumGlobals is the size of the per-port global table
	NumGlobals int `yaml:"NumGlobals"`

	// SaveFrom is the first frame record word preserved in a retired record
	SaveFrom int `yaml:"SaveFrom"`

	// SaveNum is the number of words preserved in a retired record
	SaveNum int `yaml:"SaveNum"`

	// DefaultAhead is how far ahead of the current frame a write lands by default
	DefaultAhead int `yaml:"DefaultAhead"`

	// GammaSlots is the number of gamma cache slots, slot 0 is never used
	GammaSlots int `yaml:"GammaSlots"`

	// HistogramSlots is the number of histogram records kept per (port, sub-channel)
	HistogramSlots int `yaml:"HistogramSlots"`
}

// DefaultLayout returns the layout of a four port camera
func DefaultLayout() Layout {
	return Layout{
		Ports:          4,
		SubChannels:    3,
		FrameRing:      16,
		PastRing:       2048,
		FramePars:      1024,
		GlobalsBase:    0x2000,
		NumGlobals:     1024,
		SaveFrom:       128,
		SaveNum:        32,
		DefaultAhead:   3,
		GammaSlots:     64,
		HistogramSlots: 8,
	}
}

// Validate checks the layout is self consistent
func (l Layout) Validate() error {
	pow2 := func(n int) bool { return n > 0 && n&(n-1) == 0 }
	switch {
	case l.Ports < 1 || l.SubChannels < 1:
		return fmt.Errorf("%w: layout needs at least one port and sub-channel", camerr.ErrInvalidArgument)
	case !pow2(l.FrameRing) || !pow2(l.PastRing):
		return fmt.Errorf("%w: ring sizes must be powers of two, got %d and %d", camerr.ErrInvalidArgument, l.FrameRing, l.PastRing)
	case l.FramePars > l.GlobalsBase || l.GlobalsBase+l.NumGlobals > CommandBase:
		return fmt.Errorf("%w: frame parameters, globals and commands overlap", camerr.ErrInvalidArgument)
	case PFrame < l.SaveFrom || PFrame >= l.SaveFrom+l.SaveNum || l.SaveFrom+l.SaveNum > l.FramePars:
		return fmt.Errorf("%w: frame tag %d is not in the preserved range [%d, %d)", camerr.ErrInvalidArgument, PFrame, l.SaveFrom, l.SaveFrom+l.SaveNum)
	case l.DefaultAhead < 0 || l.DefaultAhead > l.FrameRing-2:
		return fmt.Errorf("%w: default lookahead %d does not fit a ring of %d", camerr.ErrInvalidArgument, l.DefaultAhead, l.FrameRing)
	case l.GammaSlots < 2 || l.HistogramSlots < 1:
		return fmt.Errorf("%w: cache sizes too small", camerr.ErrInvalidArgument)
	}
	return nil
}

// CheckPort returns ErrInvalidArgument if port is out of range
func (l Layout) CheckPort(port int) error {
	if port < 0 || port >= l.Ports {
		return fmt.Errorf("%w: port %d not in [0, %d)", camerr.ErrInvalidArgument, port, l.Ports)
	}
	return nil
}

// CheckSub returns ErrInvalidArgument if port or sub is out of range
func (l Layout) CheckSub(port, sub int) error {
	if err := l.CheckPort(port); err != nil {
		return err
	}
	if sub < 0 || sub >= l.SubChannels {
		return fmt.Errorf("%w: sub-channel %d not in [0, %d)", camerr.ErrInvalidArgument, sub, l.SubChannels)
	}
	return nil
}

// ParamMemory is the mapped view of the parameter rings and the global table.
// Slots are ring indices, i.e. frame mod FrameRing or frame mod PastRing.
// Past words are indexed relative to Layout.SaveFrom.
type ParamMemory interface {
	Layout() Layout
	FrameWord(port, slot, index int) (uint32, error)
	PastWord(port, slot, index int) (uint32, error)
	Global(port, index int) (uint32, error)
	SetGlobal(port, index int, v uint32) error

	// FrameRecord copies a whole frame record
	FrameRecord(port, slot int) ([]uint32, error)

	// GlobalRecord copies the whole global table
	GlobalRecord(port int) ([]uint32, error)
}

// Committer accepts write batches
type Committer interface {
	// Commit applies b atomically and returns the frame it was committed against
	Commit(port int, b Batch) (uint32, error)
}

// FrameClock exposes the blocking side of the frame counter
type FrameClock interface {
	// WaitFrame blocks until the frame counter of port reaches frame and
	// returns the counter value at wake up
	WaitFrame(ctx context.Context, port int, frame uint32) (uint32, error)

	// ResetFrames reinitializes every frame record and global of port
	ResetFrames(port int) error
}

// GammaOpener hands out gamma query channels.  Each channel has its own cursor.
type GammaOpener interface {
	OpenGamma() (GammaChannel, error)
}

// HistogramOpener hands out histogram query handles
type HistogramOpener interface {
	OpenHistogram() (HistogramHandle, error)
}

// Device is everything a camera driver provides
type Device interface {
	ParamMemory
	Committer
	FrameClock
	GammaOpener
	HistogramOpener
}
