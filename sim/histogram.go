package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"syscall"

	"github.jpl.nasa.gov/bdube/golab-elphel/camerr"
	"github.jpl.nasa.gov/bdube/golab-elphel/driver"
)

// pixelsPerColor is the size of the synthetic image, per color
const pixelsPerColor = 4096

// histRing keeps the last few histogram records of one (port, sub-channel)
type histRing struct {
	recs   []driver.HistogramRecord
	filled []bool
}

func newHistRing(n int) *histRing {
	return &histRing{recs: make([]driver.HistogramRecord, n), filled: make([]bool, n)}
}

func (r *histRing) slot(frame uint32) int {
	return int(frame % uint32(len(r.recs)))
}

func (r *histRing) put(rec driver.HistogramRecord) {
	i := r.slot(rec.Frame)
	r.recs[i] = rec
	r.filled[i] = true
}

// gains in histogram color order
var colorGain = [4]int{driver.PGainR, driver.PGainG, driver.PGainGB, driver.PGainB}

// synthesize produces the raw histograms of a frame: a bell shaped
// distribution whose center follows exposure times gain, with a small per
// frame jitter.  Every bin holds at least one pixel.
func synthesize(frame, expos uint32, rec []uint32) driver.HistogramRecord {
	h := driver.HistogramRecord{Frame: frame, Valid: driver.HistRaw}
	for c := 0; c < 4; c++ {
		gain := float64(rec[colorGain[c]]) / 0x10000
		mu := float64(expos)/100*gain + float64(int(frame*7+uint32(c)*13)%11-5)
		mu = math.Max(8, math.Min(247, mu))
		sigma := 20 + 3*float64(c)
		for b := 0; b < 256; b++ {
			d := (float64(b) - mu) / sigma
			pdf := math.Exp(-d*d/2) / (sigma * math.Sqrt(2*math.Pi))
			h.Hist[c][b] = uint32(pixelsPerColor*pdf) + 1
		}
	}
	return h
}

// cumulate fills the cumulative histogram of color c
func cumulate(h *driver.HistogramRecord, c int) {
	var sum uint32
	for b := 0; b < 256; b++ {
		sum += h.Hist[c][b]
		h.Cumul[c][b] = sum
	}
	h.Valid |= 0x10 << uint(c)
}

// percentiles fills the percentile seeds of color c: the first bin whose
// cumulative count exceeds k/256 of all pixels
func percentiles(h *driver.HistogramRecord, c int) {
	total := uint64(h.Cumul[c][255])
	b := 0
	for k := 0; k < 256; k++ {
		p := uint64(k) * total / 256
		for b < 255 && uint64(h.Cumul[c][b]) <= p {
			b++
		}
		h.Percentile[c][k] = uint8(b)
	}
	h.Valid |= 0x100 << uint(c)
}

// histHandle is one open histogram query channel
type histHandle struct {
	cam    *Camera
	port   int
	sub    int
	mode   driver.WaitMode
	needed uint32
	closed bool
}

func (h *histHandle) SelectChannel(port, sub int) (int, error) {
	if h.closed {
		return 0, camerr.Channel("hist select", int(syscall.EBADF), errors.New("handle closed"))
	}
	if err := h.cam.layout.CheckSub(port, sub); err != nil {
		return 0, err
	}
	h.port, h.sub = port, sub
	return h.cam.layout.HistogramSlots, nil
}

func (h *histHandle) SetWaitMode(m driver.WaitMode) error {
	h.mode = m
	return nil
}

func (h *histHandle) SetNeeded(mask uint32) error {
	// raw histograms are always there
	h.needed = mask & (driver.HistCumulative | driver.HistPercentile)
	return nil
}

func (h *histHandle) RequestFrame(ctx context.Context, frame uint32) (int, error) {
	if h.port < 0 {
		return 0, camerr.Channel("hist request", int(syscall.EINVAL), errors.New("no channel selected"))
	}
	// the histogram of a frame is ready once the next one started
	if _, err := h.cam.WaitFrame(ctx, h.port, frame+1); err != nil {
		return 0, err
	}
	c := h.cam
	c.Lock()
	defer c.Unlock()
	ring := c.hist[h.port][h.sub]
	i := ring.slot(frame)
	rec := &ring.recs[i]
	if !ring.filled[i] || rec.Frame != frame {
		return 0, fmt.Errorf("%w: histogram of frame %d is no longer cached", camerr.ErrCacheMiss, frame)
	}
	for col := 0; col < 4; col++ {
		cum := h.needed&(0x10<<uint(col)) != 0
		perc := h.needed&(0x100<<uint(col)) != 0
		if (cum || perc) && rec.Valid&(0x10<<uint(col)) == 0 {
			cumulate(rec, col)
		}
		if perc && rec.Valid&(0x100<<uint(col)) == 0 {
			percentiles(rec, col)
		}
	}
	return i, nil
}

func (h *histHandle) Record(index int) (driver.HistogramRecord, error) {
	c := h.cam
	c.Lock()
	defer c.Unlock()
	if h.port < 0 {
		return driver.HistogramRecord{}, camerr.Channel("hist record", int(syscall.EINVAL), errors.New("no channel selected"))
	}
	ring := c.hist[h.port][h.sub]
	if index < 0 || index >= len(ring.recs) {
		return driver.HistogramRecord{}, camerr.Channel("hist record", int(syscall.EINVAL), errors.New("no such entry"))
	}
	return ring.recs[index], nil
}

func (h *histHandle) Close() error {
	h.closed = true
	return nil
}
