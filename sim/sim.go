// Package sim is an in-memory camera driver.  It keeps the frame ring, the
// retired ring, the global tables and both caches the way the hardware driver
// does, and advances the frame counter on demand or on a timer.
package sim

import (
	"context"
	"errors"
	"log"
	"sync"
	"syscall"
	"time"

	"github.jpl.nasa.gov/bdube/golab-elphel/camerr"
	"github.jpl.nasa.gov/bdube/golab-elphel/driver"
	"github.jpl.nasa.gov/bdube/golab-elphel/framepars"
	"golang.org/x/time/rate"
)

// unset is the tag of a retired slot that never held a frame
const unset = 0xffffffff

type port struct {
	frames  [][]uint32
	past    [][]uint32
	globals []uint32
}

// Camera is a simulated camera.  It satisfies driver.Device.
type Camera struct {
	sync.Mutex
	layout driver.Layout
	index  framepars.ChannelIndex
	ports  []*port

	// tick is closed and replaced on every frame
	tick chan struct{}

	gamma *gammaCache
	hist  [][]*histRing
}

// New creates a camera with layout l.  Banks of idx are used to give every
// sub-channel its own exposure; idx may be nil.
func New(l driver.Layout, idx framepars.ChannelIndex) (*Camera, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	c := &Camera{
		layout: l,
		index:  idx,
		tick:   make(chan struct{}),
		gamma:  newGammaCache(l.GammaSlots),
	}
	c.ports = make([]*port, l.Ports)
	c.hist = make([][]*histRing, l.Ports)
	for i := range c.ports {
		c.ports[i] = c.newPort()
		c.hist[i] = make([]*histRing, l.SubChannels)
		for j := range c.hist[i] {
			c.hist[i][j] = newHistRing(l.HistogramSlots)
		}
	}
	return c, nil
}

// NewDefault creates a camera with the default layout and channel banks
func NewDefault() *Camera {
	c, err := New(driver.DefaultLayout(), framepars.DefaultChannelIndex())
	if err != nil {
		panic(err) // the default layout is valid
	}
	return c
}

// initial record values
var defaults = map[int]uint32{
	driver.PSensor:     0x34,
	driver.PSensorRun:  driver.SensorRunCont,
	driver.PBayer:      0,
	driver.PColor:      1,
	driver.PWOIWidth:   2592,
	driver.PWOIHeight:  1936,
	driver.PQuality:    80,
	driver.PFP1000SLim: 15000,
	driver.PExpos:      10000,
	driver.PGainR:      0x10000,
	driver.PGainG:      0x10000,
	driver.PGainB:      0x10000,
	driver.PGainGB:     0x10000,
	driver.PGtabR:      driver.Hash32(0x0a39, driver.GammaScale1),
	driver.PGtabG:      driver.Hash32(0x0a39, driver.GammaScale1),
	driver.PGtabGB:     driver.Hash32(0x0a39, driver.GammaScale1),
	driver.PGtabB:      driver.Hash32(0x0a39, driver.GammaScale1),
}

func (c *Camera) newPort() *port {
	l := c.layout
	p := &port{
		frames:  make([][]uint32, l.FrameRing),
		past:    make([][]uint32, l.PastRing),
		globals: make([]uint32, l.NumGlobals),
	}
	c.initPort(p, 1)
	return p
}

// initPort fills the ring for a current frame of this
func (c *Camera) initPort(p *port, this uint32) {
	l := c.layout
	for i := range p.past {
		p.past[i] = make([]uint32, l.SaveNum)
		p.past[i][driver.PFrame-l.SaveFrom] = unset
	}
	for i := range p.globals {
		p.globals[i] = 0
	}
	p.globals[driver.GThisFrame] = this
	p.globals[driver.GSubChannels] = uint32(l.SubChannels)
	for f := this - 1; f <= this+uint32(l.FrameRing)-2; f++ {
		rec := make([]uint32, l.FramePars)
		for k, v := range defaults {
			rec[k] = v
		}
		rec[driver.PFrame] = f
		p.frames[c.frameSlot(f)] = rec
	}
}

func (c *Camera) frameSlot(f uint32) int {
	return int(f & uint32(c.layout.FrameRing-1))
}

func (c *Camera) pastSlot(f uint32) int {
	return int(f & uint32(c.layout.PastRing-1))
}

// Layout satisfies driver.ParamMemory
func (c *Camera) Layout() driver.Layout {
	return c.layout
}

// ChannelIndex returns the sub-channel banks the camera was built with
func (c *Camera) ChannelIndex() framepars.ChannelIndex {
	return c.index
}

func (c *Camera) port(n int) (*port, error) {
	if err := c.layout.CheckPort(n); err != nil {
		return nil, err
	}
	return c.ports[n], nil
}

func checkIndex(i, n int) error {
	if i < 0 || i >= n {
		return camerr.Channel("mmap", int(syscall.EFAULT), errors.New("index outside the mapped structure"))
	}
	return nil
}

// FrameWord satisfies driver.ParamMemory
func (c *Camera) FrameWord(port, slot, index int) (uint32, error) {
	c.Lock()
	defer c.Unlock()
	p, err := c.port(port)
	if err != nil {
		return 0, err
	}
	if err = checkIndex(slot, c.layout.FrameRing); err != nil {
		return 0, err
	}
	if err = checkIndex(index, c.layout.FramePars); err != nil {
		return 0, err
	}
	return p.frames[slot][index], nil
}

// PastWord satisfies driver.ParamMemory
func (c *Camera) PastWord(port, slot, index int) (uint32, error) {
	c.Lock()
	defer c.Unlock()
	p, err := c.port(port)
	if err != nil {
		return 0, err
	}
	if err = checkIndex(slot, c.layout.PastRing); err != nil {
		return 0, err
	}
	if err = checkIndex(index, c.layout.SaveNum); err != nil {
		return 0, err
	}
	return p.past[slot][index], nil
}

// Global satisfies driver.ParamMemory
func (c *Camera) Global(port, index int) (uint32, error) {
	c.Lock()
	defer c.Unlock()
	p, err := c.port(port)
	if err != nil {
		return 0, err
	}
	if err = checkIndex(index, c.layout.NumGlobals); err != nil {
		return 0, err
	}
	return p.globals[index], nil
}

// SetGlobal satisfies driver.ParamMemory.  The frame counter is read only.
func (c *Camera) SetGlobal(port, index int, v uint32) error {
	c.Lock()
	defer c.Unlock()
	p, err := c.port(port)
	if err != nil {
		return err
	}
	if err = checkIndex(index, c.layout.NumGlobals); err != nil {
		return err
	}
	if index == driver.GThisFrame {
		return camerr.Channel("global write", int(syscall.EPERM), errors.New("the frame counter is read only"))
	}
	p.globals[index] = v
	return nil
}

// FrameRecord satisfies driver.ParamMemory
func (c *Camera) FrameRecord(port, slot int) ([]uint32, error) {
	c.Lock()
	defer c.Unlock()
	p, err := c.port(port)
	if err != nil {
		return nil, err
	}
	if err = checkIndex(slot, c.layout.FrameRing); err != nil {
		return nil, err
	}
	return append([]uint32(nil), p.frames[slot]...), nil
}

// GlobalRecord satisfies driver.ParamMemory
func (c *Camera) GlobalRecord(port int) ([]uint32, error) {
	c.Lock()
	defer c.Unlock()
	p, err := c.port(port)
	if err != nil {
		return nil, err
	}
	return append([]uint32(nil), p.globals...), nil
}

// ThisFrame returns the current frame of port 0
func (c *Camera) ThisFrame() uint32 {
	c.Lock()
	defer c.Unlock()
	return c.ports[0].globals[driver.GThisFrame]
}

// Commit satisfies driver.Committer.  The whole batch is validated before any
// of it is applied.  A frame parameter write lands in its target frame and in
// every later frame already in the ring, unless it carries FlagJustThis.
func (c *Camera) Commit(portN int, b driver.Batch) (uint32, error) {
	c.Lock()
	defer c.Unlock()
	p, err := c.port(portN)
	if err != nil {
		return 0, err
	}
	this := p.globals[driver.GThisFrame]
	last := this + uint32(c.layout.FrameRing) - 2

	type op struct {
		addr  framepars.Address
		data  uint32
		frame uint32
	}
	ops := make([]op, 0, len(b.Pairs))
	target := b.Frame
	check := func(f uint32) error {
		if f < this {
			return camerr.Channel("commit", int(syscall.EINVAL), errors.New("target frame already retired"))
		}
		if f > last {
			return camerr.Channel("commit", int(syscall.ERANGE), errors.New("target frame too far ahead"))
		}
		return nil
	}
	if err = check(target); err != nil {
		return 0, err
	}
	for _, pr := range b.Pairs {
		a := framepars.Address(pr.Addr)
		switch {
		case a.Base() == driver.CmdSetFrame:
			target = pr.Data
		case a.Base() == driver.CmdSetFrameRel:
			target = this + pr.Data
		case a.IsCommand():
			return 0, camerr.Channel("commit", int(syscall.EINVAL), errors.New("unknown directive"))
		case a.Base() == driver.PFrame:
			return 0, camerr.Channel("commit", int(syscall.EPERM), errors.New("the frame tag is read only"))
		case framepars.IsGlobal(c.layout, a):
			if a.Base()-c.layout.GlobalsBase == driver.GThisFrame {
				return 0, camerr.Channel("commit", int(syscall.EPERM), errors.New("the frame counter is read only"))
			}
			ops = append(ops, op{addr: a, data: pr.Data, frame: target})
		case framepars.IsFrame(c.layout, a):
			ops = append(ops, op{addr: a, data: pr.Data, frame: target})
		default:
			return 0, camerr.Channel("commit", int(syscall.EINVAL), errors.New("address outside the parameter space"))
		}
		if err = check(target); err != nil {
			return 0, err
		}
	}
	for _, o := range ops {
		if framepars.IsGlobal(c.layout, o.addr) {
			i := o.addr.Base() - c.layout.GlobalsBase
			p.globals[i] = o.addr.Merge(p.globals[i], o.data)
			continue
		}
		end := last
		if o.addr.Flags()&driver.FlagJustThis != 0 {
			end = o.frame
		}
		for f := o.frame; f <= end; f++ {
			rec := p.frames[c.frameSlot(f)]
			rec[o.addr.Base()] = o.addr.Merge(rec[o.addr.Base()], o.data)
		}
	}
	return b.Frame, nil
}

// Advance moves every port to the next frame: the oldest frame in the ring is
// retired into the past ring, its slot is reused for a new lookahead frame,
// and the histograms of the frame that just finished are produced.
func (c *Camera) Advance() {
	c.Lock()
	defer c.Unlock()
	l := c.layout
	now := time.Now()
	for pn, p := range c.ports {
		this := p.globals[driver.GThisFrame]
		done := this // frame that just finished
		old := this - 1
		oldRec := p.frames[c.frameSlot(old)]
		copy(p.past[c.pastSlot(old)], oldRec[l.SaveFrom:l.SaveFrom+l.SaveNum])

		newest := p.frames[c.frameSlot(this+uint32(l.FrameRing)-2)]
		fresh := append([]uint32(nil), newest...)
		fresh[driver.PFrame] = this + uint32(l.FrameRing) - 1
		// single frame compression does not carry forward
		if fresh[driver.PCompressorRun] == driver.CompressorRunSingle {
			fresh[driver.PCompressorRun] = driver.CompressorRunStop
		}
		p.frames[c.frameSlot(old)] = fresh

		doneRec := p.frames[c.frameSlot(done)]
		if doneRec[driver.PCompressorRun] != driver.CompressorRunStop {
			p.globals[driver.GCompressorFrame] = done
		}
		for sub, ring := range c.hist[pn] {
			ring.put(synthesize(done, c.exposure(doneRec, sub), doneRec))
		}
		p.globals[driver.GThisFrame] = this + 1
		p.globals[driver.GSeconds] = uint32(now.Unix())
		p.globals[driver.GMicroseconds] = uint32(now.Nanosecond() / 1000)
	}
	close(c.tick)
	c.tick = make(chan struct{})
}

// exposure returns the exposure of sub-channel sub, from its bank if it has one
func (c *Camera) exposure(rec []uint32, sub int) uint32 {
	if c.index != nil {
		if bank := c.index.Bank(driver.PExpos); bank != 0 && rec[bank+sub] != 0 {
			return rec[bank+sub]
		}
	}
	return rec[driver.PExpos]
}

// WaitFrame satisfies driver.FrameClock
func (c *Camera) WaitFrame(ctx context.Context, portN int, frame uint32) (uint32, error) {
	for {
		c.Lock()
		p, err := c.port(portN)
		if err != nil {
			c.Unlock()
			return 0, err
		}
		this := p.globals[driver.GThisFrame]
		tick := c.tick
		c.Unlock()
		if this >= frame {
			return this, nil
		}
		select {
		case <-ctx.Done():
			return this, camerr.Channel("frame wait", int(syscall.EINTR), ctx.Err())
		case <-tick:
		}
	}
}

// ResetFrames satisfies driver.FrameClock
func (c *Camera) ResetFrames(portN int) error {
	c.Lock()
	defer c.Unlock()
	p, err := c.port(portN)
	if err != nil {
		return err
	}
	c.initPort(p, p.globals[driver.GThisFrame])
	return nil
}

// Run advances the frame counter at fps frames per second until ctx is done
func (c *Camera) Run(ctx context.Context, fps float64) error {
	lim := rate.NewLimiter(rate.Limit(fps), 1)
	log.Printf("simulated camera running at %.1f fps\n", fps)
	for {
		if err := lim.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		c.Advance()
	}
}

// OpenGamma satisfies driver.GammaOpener
func (c *Camera) OpenGamma() (driver.GammaChannel, error) {
	return &gammaChannel{cache: c.gamma}, nil
}

// OpenHistogram satisfies driver.HistogramOpener
func (c *Camera) OpenHistogram() (driver.HistogramHandle, error) {
	return &histHandle{cam: c, port: -1}, nil
}
