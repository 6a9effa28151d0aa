package driver

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.jpl.nasa.gov/bdube/golab-elphel/camerr"
)

// FlagMask covers the administrative flag bits of an address
const FlagMask = 0xfc000000

// NormalizeFlags accepts flags both shifted into the upper half word and not
func NormalizeFlags(flags uint32) uint32 {
	flags |= flags << 16
	return flags & FlagMask
}

// Pair is one (address|flags, data) write
type Pair struct {
	Addr uint32
	Data uint32
}

// Batch is an ordered set of writes tagged with one target frame
type Batch struct {
	Frame uint32
	Pairs []Pair
}

// Words renders the batch the way the driver consumes it:
// [CmdSetFrame, frame, addr0, data0, addr1, data1...]
func (b Batch) Words() []uint32 {
	out := make([]uint32, 0, 2+2*len(b.Pairs))
	out = append(out, CmdSetFrame, b.Frame)
	for _, p := range b.Pairs {
		out = append(out, p.Addr, p.Data)
	}
	return out
}

// ParseBatch is the inverse of Batch.Words.  Set-frame directives inside the
// stream split it into several batches.
func ParseBatch(words []uint32) ([]Batch, error) {
	if len(words)%2 != 0 {
		return nil, fmt.Errorf("%w: odd batch length %d", camerr.ErrInvalidArgument, len(words))
	}
	var (
		out []Batch
		cur *Batch
	)
	for i := 0; i < len(words); i += 2 {
		a, d := words[i], words[i+1]
		if a&0xffff == CmdSetFrame {
			out = append(out, Batch{Frame: d})
			cur = &out[len(out)-1]
			continue
		}
		if cur == nil {
			return nil, fmt.Errorf("%w: batch does not start with a set-frame directive", camerr.ErrInvalidArgument)
		}
		cur.Pairs = append(cur.Pairs, Pair{Addr: a, Data: d})
	}
	return out, nil
}

// MarshalBinary encodes the batch words little endian
func (b Batch) MarshalBinary() ([]byte, error) {
	w := b.Words()
	buf := make([]byte, 4*len(w))
	for i, v := range w {
		binary.LittleEndian.PutUint32(buf[4*i:], v)
	}
	return buf, nil
}

// UnmarshalBinary decodes a single batch
func (b *Batch) UnmarshalBinary(buf []byte) error {
	if len(buf)%4 != 0 {
		return fmt.Errorf("%w: batch buffer length %d", camerr.ErrInvalidArgument, len(buf))
	}
	w := make([]uint32, len(buf)/4)
	for i := range w {
		w[i] = binary.LittleEndian.Uint32(buf[4*i:])
	}
	bs, err := ParseBatch(w)
	if err != nil {
		return err
	}
	if len(bs) != 1 {
		return fmt.Errorf("%w: expected one batch, got %d", camerr.ErrInvalidArgument, len(bs))
	}
	*b = bs[0]
	return nil
}

// GammaScale1 is a scale of 1.0 in the fixed point scale format
const GammaScale1 = 0x400

// Gamma request modes
const (
	GammaModeNotNice     = 1
	GammaModeNeedReverse = 2
	GammaModeHardware    = 4
)

// GammaTableLen is the number of samples of a gamma table
const GammaTableLen = 257

// GammaRequest is the record written to the gamma cache channel.  Table is
// set when a prototype table is being added, nil for queries.
type GammaRequest struct {
	Scale  uint16
	Hash16 uint16
	Mode   byte
	Color  byte
	Table  *[GammaTableLen]uint16
}

// Hash32 is the cache key of a (table, scale) pair
func Hash32(hash16, scale uint16) uint32 {
	return uint32(scale) | uint32(hash16)<<16
}

// GammaSlot is one cache slot
type GammaSlot struct {
	Hash32  uint32
	Valid   bool
	Direct  [GammaTableLen]uint16
	Reverse [256]uint8
	// HasReverse is false until a query asked for the reverse table
	HasReverse bool
}

// GammaChannel is one open gamma cache query channel.  Submit, Cursor, Slot
// and IsCurrent form a protocol: callers must serialize whole sequences.
type GammaChannel interface {
	// Submit writes a request.  A query moves the cursor to the matching slot
	// (building it from the prototype if needed) or to 0 on a miss.
	Submit(GammaRequest) error

	// Cursor is the slot the last query resolved to, 0 on a miss
	Cursor() (int, error)

	// Slot copies a cache slot
	Slot(index int) (GammaSlot, error)

	// IsCurrent reports whether the cursor slot still holds the queried table
	IsCurrent() (bool, error)

	// Slots is the size of the cache
	Slots() int

	Close() error
}

// Histogram validity and needed-mask groups.  Each group has one bit per
// color in color order.
const (
	HistRaw        = 0x00f
	HistCumulative = 0x0f0
	HistPercentile = 0xf00
	HistAll        = 0xfff
)

// Colors, in histogram and gamma table order
const (
	ColorR  = 0
	ColorG  = 1
	ColorGB = 2
	ColorB  = 3

	// ColorY is the luma proxy channel
	ColorY = ColorG
)

// HistogramRecord is one frame's histograms on one (port, sub-channel)
type HistogramRecord struct {
	Frame      uint32
	Valid      uint32
	Hist       [4][256]uint32
	Cumul      [4][256]uint32
	Percentile [4][256]uint8
}

// WaitMode selects what RequestFrame waits for
type WaitMode int

const (
	// WaitAll waits for all colors
	WaitAll WaitMode = iota

	// WaitLuma waits for the luma (G) channel only
	WaitLuma
)

// HistogramHandle is one open histogram query channel.  The four step
// sequence SelectChannel, WaitMode, SetNeeded, RequestFrame must not be
// interleaved with another sequence on the same handle.
type HistogramHandle interface {
	// SelectChannel selects port/sub-channel and returns the number of cache entries
	SelectChannel(port, sub int) (int, error)

	SetWaitMode(WaitMode) error

	// SetNeeded states which groups must be computed.  Raw groups are computed
	// by hardware and are masked out by the driver.
	SetNeeded(mask uint32) error

	// RequestFrame blocks until the histogram of frame satisfies the needed
	// mask and returns its cache index.  It fails if the frame aged out.
	RequestFrame(ctx context.Context, frame uint32) (int, error)

	// Record copies a cache entry of the selected channel
	Record(index int) (HistogramRecord, error)

	Close() error
}
