// Package histogram retrieves per-frame histograms from the driver's cache and
// evaluates their cumulative and percentile curves.
//
// The histogram of a frame is ready once the next frame started, so frames
// default to the one before the current frame.  Retrieval blocks until the
// requested groups are computed or the frame ages out of the cache.
package histogram

import (
	"context"
	"fmt"
	"sync"

	"github.jpl.nasa.gov/bdube/golab-elphel/camerr"
	"github.jpl.nasa.gov/bdube/golab-elphel/driver"
	"github.jpl.nasa.gov/bdube/golab-elphel/framepars"
	"github.jpl.nasa.gov/bdube/golab-elphel/mathx"
)

type key struct{ port, sub int }

// handle is one driver query channel with the lock that keeps its four step
// protocol in one piece
type handle struct {
	sync.Mutex
	h driver.HistogramHandle
}

// Engine queries the histogram cache of one camera.  Each (port,
// sub-channel) gets its own driver handle, opened on first use.
type Engine struct {
	opener driver.HistogramOpener
	store  *framepars.Store

	mu      sync.Mutex
	handles map[key]*handle
}

// New returns an engine opening handles from o.  store supplies the layout and
// the current frame.
func New(o driver.HistogramOpener, store *framepars.Store) *Engine {
	return &Engine{opener: o, store: store, handles: map[key]*handle{}}
}

// Close closes every handle the engine opened
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var first error
	for k, h := range e.handles {
		h.Lock()
		if err := h.h.Close(); err != nil && first == nil {
			first = err
		}
		h.Unlock()
		delete(e.handles, k)
	}
	return first
}

func (e *Engine) handle(port, sub int) (*handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := key{port, sub}
	if h, ok := e.handles[k]; ok {
		return h, nil
	}
	dh, err := e.opener.OpenHistogram()
	if err != nil {
		return nil, err
	}
	h := &handle{h: dh}
	e.handles[k] = h
	return h, nil
}

func (e *Engine) frame(port int, frame uint32) (uint32, error) {
	if frame != framepars.Latest {
		return frame, nil
	}
	this, err := e.store.ThisFrame(port)
	if err != nil {
		return 0, err
	}
	return this - 1, nil
}

// request runs the retrieval protocol and checks the record it got still
// belongs to frame and holds every needed group
func (e *Engine) request(ctx context.Context, port, sub int, needed uint32, mode driver.WaitMode, frame uint32) (driver.HistogramRecord, error) {
	var rec driver.HistogramRecord
	if err := e.store.Layout().CheckSub(port, sub); err != nil {
		return rec, err
	}
	needed &= driver.HistAll
	frame, err := e.frame(port, frame)
	if err != nil {
		return rec, err
	}
	h, err := e.handle(port, sub)
	if err != nil {
		return rec, err
	}
	h.Lock()
	defer h.Unlock()

	total, err := h.h.SelectChannel(port, sub)
	if err != nil {
		return rec, err
	}
	if err = h.h.SetWaitMode(mode); err != nil {
		return rec, err
	}
	if err = h.h.SetNeeded(needed &^ driver.HistRaw); err != nil {
		return rec, err
	}
	idx, err := h.h.RequestFrame(ctx, frame)
	if err != nil {
		return rec, err
	}
	if idx < 0 || idx >= total {
		return rec, fmt.Errorf("%w: histogram index %d not in [0, %d)", camerr.ErrChannelFailure, idx, total)
	}
	if rec, err = h.h.Record(idx); err != nil {
		return rec, err
	}
	if rec.Frame != frame {
		return rec, fmt.Errorf("%w: frame changed while reading histograms, requested %d got %d", camerr.ErrCacheMiss, frame, rec.Frame)
	}
	if needed&rec.Valid != needed {
		return rec, fmt.Errorf("%w: frame %d needed %03x valid %03x", camerr.ErrCacheMiss, frame, needed, rec.Valid)
	}
	return rec, nil
}

// GetRaw returns the whole histogram record of frame on (port, sub),
// waiting for every color and for the groups in needed
func (e *Engine) GetRaw(ctx context.Context, port, sub int, needed uint32, frame uint32) (driver.HistogramRecord, error) {
	return e.request(ctx, port, sub, needed, driver.WaitAll, frame)
}

// Get is GetRaw returning only the tables in needed, concatenated in the
// order raw r, g, gb, b, then cumulative, then percentile
func (e *Engine) Get(ctx context.Context, port, sub int, needed uint32, frame uint32) ([]uint32, error) {
	rec, err := e.GetRaw(ctx, port, sub, needed, frame)
	if err != nil {
		return nil, err
	}
	return Flatten(&rec, needed), nil
}

// Flatten concatenates the tables of rec selected by needed
func Flatten(rec *driver.HistogramRecord, needed uint32) []uint32 {
	var out []uint32
	for c := 0; c < 4; c++ {
		if needed&(1<<uint(c)) != 0 {
			out = append(out, rec.Hist[c][:]...)
		}
	}
	for c := 0; c < 4; c++ {
		if needed&(0x10<<uint(c)) != 0 {
			out = append(out, rec.Cumul[c][:]...)
		}
	}
	for c := 0; c < 4; c++ {
		if needed&(0x100<<uint(c)) != 0 {
			for _, v := range rec.Percentile[c] {
				out = append(out, uint32(v))
			}
		}
	}
	return out
}

func checkColor(color int) error {
	if color < driver.ColorR || color > driver.ColorB {
		return fmt.Errorf("%w: color %d", camerr.ErrInvalidArgument, color)
	}
	return nil
}

// single color queries on the luma channel only wait for luma
func waitMode(color int) driver.WaitMode {
	if color == driver.ColorY {
		return driver.WaitLuma
	}
	return driver.WaitAll
}

// CumulativeFraction returns the fraction of pixels of color below level on frame
func (e *Engine) CumulativeFraction(ctx context.Context, port, sub, color int, level float64, frame uint32) (float64, error) {
	if err := checkColor(color); err != nil {
		return 0, err
	}
	if level < 0 {
		return 0, fmt.Errorf("%w: level %v is negative", camerr.ErrInvalidArgument, level)
	}
	rec, err := e.request(ctx, port, sub, 0x10<<uint(color), waitMode(color), frame)
	if err != nil {
		return 0, err
	}
	return CumulativeFraction(&rec.Cumul[color], level), nil
}

// Percentile returns the level below which fraction of the pixels of color are, on frame
func (e *Engine) Percentile(ctx context.Context, port, sub, color int, fraction float64, frame uint32) (float64, error) {
	if err := checkColor(color); err != nil {
		return 0, err
	}
	if fraction < 0 {
		return 0, fmt.Errorf("%w: fraction %v is negative", camerr.ErrInvalidArgument, fraction)
	}
	rec, err := e.request(ctx, port, sub, (0x10|0x100)<<uint(color), waitMode(color), frame)
	if err != nil {
		return 0, err
	}
	return Percentile(&rec.Cumul[color], &rec.Percentile[color], fraction), nil
}

// CumulativeFraction evaluates a cumulative histogram at level.  The curve is
// piecewise linear through (0, 0) and ((b+1)/256, cum[b]/total).
func CumulativeFraction(cum *[256]uint32, level float64) float64 {
	total := cum[255]
	if total == 0 {
		return 0
	}
	l := mathx.Unit(level)
	idx, lo := l>>8, uint64(l&0xff)
	var h uint64
	if idx > 0 {
		h = uint64(cum[idx-1])
	}
	h += ((uint64(cum[idx]) - h) * lo) >> 8
	return float64(h) / float64(total)
}

// Percentile inverts CumulativeFraction, starting from the percentile seed
// for fraction and walking the cumulative histogram to the bin that brackets
// it.  Seeds may round up, so the walk starts one bin lower.
func Percentile(cum *[256]uint32, seed *[256]uint8, fraction float64) float64 {
	total := int64(cum[255])
	if total == 0 {
		return 0
	}
	p := mathx.ClampInt(int(float64(total)*fraction), 0, int(total-1))
	prev := func(b int) int {
		if b == 0 {
			return 0
		}
		return int(cum[b-1])
	}
	b := int(seed[mathx.ClampInt(int(fraction*256), 0, 255)])
	if b > 0 {
		b--
	}
	for b > 0 && prev(b) > p {
		b--
	}
	for b < 255 && int(cum[b]) <= p {
		b++
	}
	l := b << 8
	if d := int(cum[b]) - prev(b); d > 0 {
		l += ((p - prev(b)) << 8) / d
	}
	return float64(mathx.ClampInt(l, 0, 0xffff)) / (1 << 16)
}

// Snapshot is a set of histogram tables of one frame, one 256 wide row per table
type Snapshot struct {
	Port   int
	Sub    int
	Frame  uint32
	Needed uint32
	Tables []uint32
}

// Rows is the number of tables in the snapshot
func (s Snapshot) Rows() int {
	return len(s.Tables) / 256
}

// Snapshot retrieves the tables in needed for frame and labels them
func (e *Engine) Snapshot(ctx context.Context, port, sub int, needed uint32, frame uint32) (Snapshot, error) {
	frame, err := e.frame(port, frame)
	if err != nil {
		return Snapshot{}, err
	}
	rec, err := e.GetRaw(ctx, port, sub, needed, frame)
	if err != nil {
		return Snapshot{}, err
	}
	needed &= driver.HistAll
	return Snapshot{Port: port, Sub: sub, Frame: rec.Frame, Needed: needed, Tables: Flatten(&rec, needed)}, nil
}
