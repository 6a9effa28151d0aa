/*Package gamma builds, caches and evaluates the tone curves of the camera.

Tables live in a cache owned by the driver.  They are added as prototypes at a
scale of 1.0 under a 16 bit hash, and looked up by (hash16, scale); the cache
derives scaled variants on demand.  Looking up a table is a two step protocol
on one driver channel: submit a query, then read the slot the cursor moved to.
Engine serializes those sequences with a single mutex.

Forward and Reverse evaluate the table that was in effect for a given frame,
as recorded in that frame's GTAB_* parameters.
*/
package gamma

import (
	"fmt"
	"sync"

	"github.jpl.nasa.gov/bdube/golab-elphel/camerr"
	"github.jpl.nasa.gov/bdube/golab-elphel/driver"
	"github.jpl.nasa.gov/bdube/golab-elphel/framepars"
	"github.jpl.nasa.gov/bdube/golab-elphel/mathx"
)

// Engine talks to the gamma cache of one camera
type Engine struct {
	mu    sync.Mutex
	ch    driver.GammaChannel
	store *framepars.Store
}

// New returns an engine using cache channel ch.  store is used to find the
// tables applied to a frame and may be nil if Forward and Reverse are not used.
func New(ch driver.GammaChannel, store *framepars.Store) *Engine {
	return &Engine{ch: ch, store: store}
}

// Close closes the cache channel
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch.Close()
}

func (e *Engine) submit(hash16 uint16, t *[Len]uint16) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch.Submit(driver.GammaRequest{Scale: driver.GammaScale1, Hash16: hash16, Table: t})
}

// Add computes the table for (gamma, black), submits it and returns its hash16.
// Adding a table that is already cached is harmless.
func (e *Engine) Add(gamma, black float64) (uint16, error) {
	t, h := Calc(gamma, black)
	if err := e.submit(h, &t); err != nil {
		return 0, err
	}
	return h, nil
}

// AddCustom submits a table of 257 fractions of full scale under hash16.
// Hashes with a zero upper byte collide with those made by Add.
func (e *Engine) AddCustom(hash16 uint16, f []float64) (uint16, error) {
	t, err := FromFractions(f)
	if err != nil {
		return 0, err
	}
	return e.AddCustomRaw(hash16, t[:])
}

// AddCustomValues is AddCustom for loosely typed input, see FromValues
func (e *Engine) AddCustomValues(hash16 uint16, vals []interface{}) (uint16, error) {
	t, err := FromValues(vals)
	if err != nil {
		return 0, err
	}
	return e.AddCustomRaw(hash16, t[:])
}

// AddCustomRaw submits a table already in 16 bit fixed point
func (e *Engine) AddCustomRaw(hash16 uint16, raw []uint16) (uint16, error) {
	if len(raw) != Len {
		return 0, fmt.Errorf("%w: table has %d elements, needs %d", camerr.ErrInvalidArgument, len(raw), Len)
	}
	var t [Len]uint16
	copy(t[:], raw)
	if err := e.submit(hash16, &t); err != nil {
		return 0, err
	}
	return hash16, nil
}

// lookup runs the query protocol and returns the slot, or ErrCacheMiss.
// The caller holds the lock.
func (e *Engine) lookup(req driver.GammaRequest) (driver.GammaSlot, error) {
	if err := e.ch.Submit(req); err != nil {
		return driver.GammaSlot{}, err
	}
	idx, err := e.ch.Cursor()
	if err != nil {
		return driver.GammaSlot{}, err
	}
	if idx == 0 {
		return driver.GammaSlot{}, fmt.Errorf("%w: gamma table %04x at scale %04x", camerr.ErrCacheMiss, req.Hash16, req.Scale)
	}
	s, err := e.ch.Slot(idx)
	if err != nil {
		return driver.GammaSlot{}, err
	}
	ok, err := e.ch.IsCurrent()
	if err != nil {
		return driver.GammaSlot{}, err
	}
	if !ok {
		return driver.GammaSlot{}, fmt.Errorf("%w: gamma slot %d was overwritten while reading", camerr.ErrCacheMiss, idx)
	}
	return s, nil
}

// GetFixed returns table hash16 at a fixed point scale (0x400 is 1.0)
func (e *Engine) GetFixed(hash16, scale uint16) (Table, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.lookup(driver.GammaRequest{Scale: scale, Hash16: hash16})
	if err != nil {
		return Table{}, err
	}
	return Table{Hash32: driver.Hash32(hash16, scale), Direct: s.Direct}, nil
}

// Get returns table hash16 scaled by scale.  Scale changes the amplitude of
// the curve, not its domain.
func (e *Engine) Get(hash16 uint16, scale float64) (Table, error) {
	return e.GetFixed(hash16, Scale(scale))
}

// GetIndex returns the cache slot holding (hash16, scale), 0 on a miss
func (e *Engine) GetIndex(hash16 uint16, scale float64) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ch.Submit(driver.GammaRequest{Scale: Scale(scale), Hash16: hash16}); err != nil {
		return 0, err
	}
	return e.ch.Cursor()
}

// RawSlot copies cache slot index as is
func (e *Engine) RawSlot(index int) (driver.GammaSlot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= e.ch.Slots() {
		return driver.GammaSlot{}, fmt.Errorf("%w: gamma slot %d not in [0, %d)", camerr.ErrInvalidArgument, index, e.ch.Slots())
	}
	return e.ch.Slot(index)
}

// applied returns the table (with its reverse seeds if asked) used for color
// on frame.  Frame defaults to the one before the current frame, the frame
// whose histogram is available.
func (e *Engine) applied(port, sub, color int, frame uint32, needReverse bool) (driver.GammaSlot, error) {
	if e.store == nil {
		return driver.GammaSlot{}, fmt.Errorf("%w: no parameter store", camerr.ErrInvalidArgument)
	}
	l := e.store.Layout()
	if err := l.CheckSub(port, sub); err != nil {
		return driver.GammaSlot{}, err
	}
	if color < driver.ColorR || color > driver.ColorB {
		return driver.GammaSlot{}, fmt.Errorf("%w: color %d", camerr.ErrInvalidArgument, color)
	}
	if frame == framepars.Latest {
		this, err := e.store.ThisFrame(port)
		if err != nil {
			return driver.GammaSlot{}, err
		}
		frame = this - 1
	}
	// tables are per port, every sub-channel shares them
	hash32, err := e.store.FrameParam(port, driver.PGtabR+color, frame)
	if err != nil {
		return driver.GammaSlot{}, err
	}
	req := driver.GammaRequest{Scale: uint16(hash32), Hash16: uint16(hash32 >> 16)}
	if needReverse {
		req.Mode = driver.GammaModeNeedReverse
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lookup(req)
}

func level16(level float64) (int, error) {
	if level < 0 {
		return 0, fmt.Errorf("%w: level %v is negative", camerr.ErrInvalidArgument, level)
	}
	return mathx.Unit(level), nil
}

// Forward maps a sensor level in [0, 1) through the table applied to color on
// frame (framepars.Latest for the previous frame) and returns the output level.
func (e *Engine) Forward(port, sub, color int, level float64, frame uint32) (float64, error) {
	l, err := level16(level)
	if err != nil {
		return 0, err
	}
	s, err := e.applied(port, sub, color, frame, false)
	if err != nil {
		return 0, err
	}
	return forward(&s.Direct, l), nil
}

// Reverse is the inverse of Forward: it returns the sensor level that the
// table applied to color on frame maps to level.
func (e *Engine) Reverse(port, sub, color int, level float64, frame uint32) (float64, error) {
	if _, err := level16(level); err != nil {
		return 0, err
	}
	s, err := e.applied(port, sub, color, frame, true)
	if err != nil {
		return 0, err
	}
	return reverse(&s.Direct, &s.Reverse, level*(1<<16)), nil
}

// Forward evaluates t at level without going through the cache
func (t Table) Forward(level float64) float64 {
	return forward(&t.Direct, mathx.Unit(level))
}
