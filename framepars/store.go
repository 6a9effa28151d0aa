/*Package framepars addresses, reads and writes the frame parameters of a camera.

Parameters live in three places owned by the driver: a ring of frame records
indexed by frame mod N, a smaller ring of retired records indexed by
frame mod M that only keeps a subset of each record, and a per-port global
table.  Reads go through the rings directly.  Writes to frame parameters are
never applied in place: they are packed into one batch tagged with a target
frame and committed atomically by the driver.

A typical session:

	s := framepars.NewStore(dev, dev, dev, framepars.NewResolver())
	f, err := s.WriteNamed(0, map[string]uint32{"EXPOS": 1000, "QUALITY": 90}, framepars.Default, 0)
	...
	err = s.WaitFrame(ctx, 0, f)
	v, err := s.ReadNamed(0, "EXPOS", f)
*/
package framepars

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.jpl.nasa.gov/bdube/golab-elphel/camerr"
	"github.jpl.nasa.gov/bdube/golab-elphel/driver"
)

const (
	// Latest asks for the current frame when reading
	Latest uint32 = 0xffffffff

	// Default asks for the current frame plus the default lookahead when writing
	Default = Latest
)

// Write is one (address, value) pair
type Write struct {
	Addr  Address
	Value uint32
}

// Store reads and writes frame parameters of one camera
type Store struct {
	mem    driver.ParamMemory
	commit driver.Committer
	clock  driver.FrameClock
	layout driver.Layout
	hist   *History

	// resolver is used by the *Named methods
	resolver atomic.Pointer[Resolver]
}

// NewStore returns a store over the driver's memory, commit channel and frame clock.
// r may be nil, in which case the built-in name tables are used.
func NewStore(mem driver.ParamMemory, c driver.Committer, clock driver.FrameClock, r *Resolver) *Store {
	if r == nil {
		r = NewResolver()
	}
	l := mem.Layout()
	r.Layout = l
	s := &Store{mem: mem, commit: c, clock: clock, layout: l, hist: NewHistory(mem)}
	s.resolver.Store(r)
	return s
}

// Resolver returns the resolver used by the *Named methods
func (s *Store) Resolver() *Resolver {
	return s.resolver.Load()
}

// SetResolver swaps the resolver, e.g. after the name table was reloaded.
// Calls in flight finish with the old one.
func (s *Store) SetResolver(r *Resolver) {
	r.Layout = s.layout
	s.resolver.Store(r)
}

// Layout returns the layout of the underlying driver
func (s *Store) Layout() driver.Layout {
	return s.layout
}

// History returns the frame tagged view used by the store
func (s *Store) History() *History {
	return s.hist
}

// NumPorts is the number of sensor ports
func (s *Store) NumPorts() int {
	return s.layout.Ports
}

// ThisFrame returns the current frame number of port
func (s *Store) ThisFrame(port int) (uint32, error) {
	if err := s.layout.CheckPort(port); err != nil {
		return 0, err
	}
	return s.mem.Global(port, driver.GThisFrame)
}

// CompressedFrame returns the number of the last frame the compressor finished
func (s *Store) CompressedFrame(port int) (uint32, error) {
	if err := s.layout.CheckPort(port); err != nil {
		return 0, err
	}
	return s.mem.Global(port, driver.GCompressorFrame)
}

// FrameState classifies frame on port against the rings: fresh, pending,
// retired (only the preserved subset left) or expired
func (s *Store) FrameState(port int, frame uint32) (State, error) {
	if err := s.layout.CheckPort(port); err != nil {
		return Expired, err
	}
	frame, err := s.resolveFrame(port, frame)
	if err != nil {
		return Expired, err
	}
	return s.hist.Get(port, frame)
}

func (s *Store) resolveFrame(port int, frame uint32) (uint32, error) {
	if frame != Latest {
		return frame, nil
	}
	return s.mem.Global(port, driver.GThisFrame)
}

func (s *Store) globalIndex(a Address) int {
	return a.Base() - s.layout.GlobalsBase
}

// Read returns the value of addr for frame on port.  Global parameters ignore frame.
// For frame parameters the error is camerr.ErrPending if frame was not committed
// yet and camerr.ErrExpired if it left both rings.
func (s *Store) Read(port int, addr Address, frame uint32) (uint32, error) {
	if err := s.layout.CheckPort(port); err != nil {
		return 0, err
	}
	switch {
	case IsGlobal(s.layout, addr):
		w, err := s.mem.Global(port, s.globalIndex(addr))
		if err != nil {
			return 0, err
		}
		return addr.Field(w), nil
	case IsFrame(s.layout, addr):
	default:
		return 0, fmt.Errorf("%w: %v is not readable", camerr.ErrInvalidAddress, addr)
	}
	frame, err := s.resolveFrame(port, frame)
	if err != nil {
		return 0, err
	}
	w, _, err := s.hist.Word(port, frame, addr.Base())
	if err != nil {
		return 0, err
	}
	return addr.Field(w), nil
}

// FrameParam reads frame record word index for frame, falling back to the
// retired record.  It is what tone curve evaluation uses to find the tables
// that were actually applied to a frame.
func (s *Store) FrameParam(port, index int, frame uint32) (uint32, error) {
	if err := s.layout.CheckPort(port); err != nil {
		return 0, err
	}
	v, _, err := s.hist.Word(port, frame, index)
	return v, err
}

// ReadNamed resolves name and reads it
func (s *Store) ReadNamed(port int, name string, frame uint32) (uint32, error) {
	a, err := s.Resolver().Resolve(name)
	if err != nil {
		return 0, err
	}
	return s.Read(port, a, frame)
}

// ReadMany reads several named parameters of one frame.  Names that do not
// resolve or whose value is unavailable are reported in skipped, keyed by name.
func (s *Store) ReadMany(port int, names []string, frame uint32) (values map[string]uint32, skipped map[string]error, err error) {
	if err = s.layout.CheckPort(port); err != nil {
		return nil, nil, err
	}
	if frame, err = s.resolveFrame(port, frame); err != nil {
		return nil, nil, err
	}
	r := s.Resolver()
	values = make(map[string]uint32, len(names))
	skipped = map[string]error{}
	for _, n := range names {
		a, err := r.Resolve(n)
		if err != nil {
			skipped[n] = err
			continue
		}
		v, err := s.Read(port, a, frame)
		if err != nil {
			skipped[n] = err
			continue
		}
		values[n] = v
	}
	return values, skipped, nil
}

// Write applies writes on port.  Full word writes to globals take effect
// immediately, once frame is known to be writable; a batch the driver then
// rejects does not undo them.  Everything else is committed in one batch against frame (or
// the current frame plus the default lookahead when frame is Default).  flags
// may be given shifted into the upper half word or not.  The returned frame is
// the one the batch was committed against.
func (s *Store) Write(port int, writes []Write, frame uint32, flags uint32) (uint32, error) {
	if err := s.layout.CheckPort(port); err != nil {
		return 0, err
	}
	for _, w := range writes {
		if !w.Addr.IsCommand() && !IsGlobal(s.layout, w.Addr) && !IsFrame(s.layout, w.Addr) {
			return 0, fmt.Errorf("%w: %v is not writable", camerr.ErrInvalidAddress, w.Addr)
		}
	}
	this, err := s.mem.Global(port, driver.GThisFrame)
	if err != nil {
		return 0, err
	}
	if frame == Default {
		frame = this + uint32(s.layout.DefaultAhead)
	} else if frame < this {
		return 0, fmt.Errorf("%w: frame %d is before the current frame %d", camerr.ErrExpired, frame, this)
	}
	if last := this + uint32(s.layout.FrameRing) - 2; frame > last {
		return 0, fmt.Errorf("%w: frame %d is past the last writable frame %d", camerr.ErrInvalidArgument, frame, last)
	}
	flags = driver.NormalizeFlags(flags)

	batch := driver.Batch{Frame: frame}
	for _, w := range writes {
		if IsGlobal(s.layout, w.Addr) && !w.Addr.HasField() {
			if err := s.mem.SetGlobal(port, s.globalIndex(w.Addr), w.Value); err != nil {
				return 0, err
			}
			continue
		}
		a := uint32(w.Addr)&^driver.FlagMask | flags
		batch.Pairs = append(batch.Pairs, driver.Pair{Addr: a, Data: w.Value})
	}
	if len(batch.Pairs) == 0 {
		return frame, nil
	}
	return s.commit.Commit(port, batch)
}

// WriteValue writes one parameter
func (s *Store) WriteValue(port int, addr Address, v uint32, frame uint32, flags uint32) (uint32, error) {
	return s.Write(port, []Write{{Addr: addr, Value: v}}, frame, flags)
}

// WriteNamed resolves every name and writes all values in one call.  Names
// that do not resolve are skipped and returned.
func (s *Store) WriteNamed(port int, values map[string]uint32, frame uint32, flags uint32) (uint32, []string, error) {
	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	sort.Strings(names)
	var (
		writes  []Write
		skipped []string
		r       = s.Resolver()
	)
	for _, n := range names {
		a, err := r.Resolve(n)
		if err != nil {
			skipped = append(skipped, n)
			continue
		}
		writes = append(writes, Write{Addr: a, Value: values[n]})
	}
	f, err := s.Write(port, writes, frame, flags)
	return f, skipped, err
}

// WaitFrame blocks until port reaches frame
func (s *Store) WaitFrame(ctx context.Context, port int, frame uint32) (uint32, error) {
	if err := s.layout.CheckPort(port); err != nil {
		return 0, err
	}
	if frame > driver.FrameMax {
		return 0, fmt.Errorf("%w: frame %d beyond %d", camerr.ErrInvalidArgument, frame, driver.FrameMax)
	}
	return s.clock.WaitFrame(ctx, port, frame)
}

// SkipFrames blocks until n more frames have passed on port
func (s *Store) SkipFrames(ctx context.Context, port int, n uint32) (uint32, error) {
	this, err := s.ThisFrame(port)
	if err != nil {
		return 0, err
	}
	return s.WaitFrame(ctx, port, this+n)
}

// CompressorRun starts continuous compression at frame
func (s *Store) CompressorRun(port int, frame uint32) (uint32, error) {
	return s.WriteValue(port, driver.PCompressorRun, driver.CompressorRunCont, frame, driver.FlagForceNewProc)
}

// CompressorStop stops compression at frame
func (s *Store) CompressorStop(port int, frame uint32) (uint32, error) {
	return s.WriteValue(port, driver.PCompressorRun, driver.CompressorRunStop, frame, driver.FlagForceNewProc)
}

// CompressorReset is CompressorStop
func (s *Store) CompressorReset(port int, frame uint32) (uint32, error) {
	return s.CompressorStop(port, frame)
}

// CompressorSingle compresses just frame
func (s *Store) CompressorSingle(port int, frame uint32) (uint32, error) {
	return s.WriteValue(port, driver.PCompressorRun, driver.CompressorRunSingle, frame, driver.FlagJustThis)
}

// ResetSensor reinitializes every record of port and asks for a new sensor detection
func (s *Store) ResetSensor(port int) error {
	if err := s.layout.CheckPort(port); err != nil {
		return err
	}
	if err := s.clock.ResetFrames(port); err != nil {
		return err
	}
	_, err := s.WriteValue(port, driver.PSensor, 0, Default, driver.FlagForceNewProc)
	return err
}

// State codes
const (
	StateIdle             = 0x0
	StateSensorRunning    = 0x7
	StateCompressorCont   = 0x8
	StateCompressorSingle = 0xa
)

// State summarizes what the sensor and compressor of port are doing in the current frame
func (s *Store) State(port int) (int, error) {
	this, err := s.ThisFrame(port)
	if err != nil {
		return 0, err
	}
	slot := int(this & uint32(s.layout.FrameRing-1))
	comp, err := s.mem.FrameWord(port, slot, driver.PCompressorRun)
	if err != nil {
		return 0, err
	}
	sens, err := s.mem.FrameWord(port, slot, driver.PSensorRun)
	if err != nil {
		return 0, err
	}
	switch {
	case comp == driver.CompressorRunCont:
		return StateCompressorCont, nil
	case comp == driver.CompressorRunSingle:
		return StateCompressorSingle, nil
	case sens == driver.SensorRunCont:
		return StateSensorRunning, nil
	}
	return StateIdle, nil
}

// RawGlobals selects the global table in RawFrame
const RawGlobals = -2

// RawFrame copies frame ring slot index of port, or the global table for RawGlobals
func (s *Store) RawFrame(port, index int) ([]uint32, error) {
	if err := s.layout.CheckPort(port); err != nil {
		return nil, err
	}
	if index == RawGlobals {
		return s.mem.GlobalRecord(port)
	}
	if index < 0 || index >= s.layout.FrameRing {
		return nil, fmt.Errorf("%w: ring slot %d", camerr.ErrInvalidArgument, index)
	}
	return s.mem.FrameRecord(port, index)
}
