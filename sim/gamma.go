package sim

import (
	"errors"
	"sync"
	"syscall"

	"github.jpl.nasa.gov/bdube/golab-elphel/camerr"
	"github.jpl.nasa.gov/bdube/golab-elphel/driver"
)

// gammaCache is content addressed by hash32.  Prototypes are the tables added
// with a scale of 1.0; scaled tables and reverse seeds are derived from them
// on demand.  The least recently used slot is evicted when the cache is full.
type gammaCache struct {
	sync.Mutex
	slots []driver.GammaSlot
	used  []uint64
	stamp uint64
}

func newGammaCache(n int) *gammaCache {
	return &gammaCache{slots: make([]driver.GammaSlot, n), used: make([]uint64, n)}
}

func (g *gammaCache) touch(i int) {
	g.stamp++
	g.used[i] = g.stamp
}

func (g *gammaCache) find(hash32 uint32) int {
	for i := 1; i < len(g.slots); i++ {
		if g.slots[i].Valid && g.slots[i].Hash32 == hash32 {
			return i
		}
	}
	return 0
}

// victim returns a free slot, or the least recently used one other than keep
func (g *gammaCache) victim(keep int) int {
	best := 0
	for i := 1; i < len(g.slots); i++ {
		if i == keep {
			continue
		}
		if !g.slots[i].Valid {
			return i
		}
		if best == 0 || g.used[i] < g.used[best] {
			best = i
		}
	}
	return best
}

// add stores a prototype, dropping every table derived from an older
// prototype with the same hash16
func (g *gammaCache) add(hash16 uint16, t *[driver.GammaTableLen]uint16) int {
	for i := 1; i < len(g.slots); i++ {
		if g.slots[i].Valid && uint16(g.slots[i].Hash32>>16) == hash16 {
			g.slots[i].Valid = false
		}
	}
	i := g.victim(0)
	g.slots[i] = driver.GammaSlot{Hash32: driver.Hash32(hash16, driver.GammaScale1), Valid: true, Direct: *t}
	g.touch(i)
	return i
}

func reverseSeed(t *[driver.GammaTableLen]uint16) [256]uint8 {
	var r [256]uint8
	i := 0
	for k := 0; k < 256; k++ {
		for i < 255 && int(t[i]) < k<<8 {
			i++
		}
		r[k] = uint8(i)
	}
	return r
}

// query returns the slot holding (hash16, scale), building it from the
// prototype if needed, or 0 if the prototype is not cached
func (g *gammaCache) query(req driver.GammaRequest) int {
	h := driver.Hash32(req.Hash16, req.Scale)
	i := g.find(h)
	if i == 0 {
		p := g.find(driver.Hash32(req.Hash16, driver.GammaScale1))
		if p == 0 {
			return 0
		}
		proto := g.slots[p].Direct
		g.touch(p)
		i = g.victim(p)
		s := driver.GammaSlot{Hash32: h, Valid: true}
		for k, v := range proto {
			x := (uint32(v)*uint32(req.Scale) + driver.GammaScale1/2) / driver.GammaScale1
			if x > 0xffff {
				x = 0xffff
			}
			s.Direct[k] = uint16(x)
		}
		g.slots[i] = s
	}
	if req.Mode&driver.GammaModeNeedReverse != 0 && !g.slots[i].HasReverse {
		g.slots[i].Reverse = reverseSeed(&g.slots[i].Direct)
		g.slots[i].HasReverse = true
	}
	g.touch(i)
	return i
}

func (g *gammaCache) flush() {
	g.Lock()
	defer g.Unlock()
	for i := range g.slots {
		g.slots[i].Valid = false
	}
}

// FlushGamma empties the gamma cache
func (c *Camera) FlushGamma() {
	c.gamma.flush()
}

// gammaChannel is one open gamma query channel with its own cursor
type gammaChannel struct {
	cache  *gammaCache
	cursor int
	hash32 uint32
	closed bool
}

func (ch *gammaChannel) Submit(req driver.GammaRequest) error {
	if ch.closed {
		return camerr.Channel("gamma submit", int(syscall.EBADF), errors.New("channel closed"))
	}
	g := ch.cache
	g.Lock()
	defer g.Unlock()
	if req.Table != nil {
		ch.cursor = g.add(req.Hash16, req.Table)
		ch.hash32 = driver.Hash32(req.Hash16, driver.GammaScale1)
		return nil
	}
	ch.cursor = g.query(req)
	ch.hash32 = driver.Hash32(req.Hash16, req.Scale)
	return nil
}

func (ch *gammaChannel) Cursor() (int, error) {
	return ch.cursor, nil
}

func (ch *gammaChannel) Slot(index int) (driver.GammaSlot, error) {
	g := ch.cache
	g.Lock()
	defer g.Unlock()
	if index < 0 || index >= len(g.slots) {
		return driver.GammaSlot{}, camerr.Channel("gamma slot", int(syscall.EINVAL), errors.New("no such slot"))
	}
	return g.slots[index], nil
}

func (ch *gammaChannel) IsCurrent() (bool, error) {
	g := ch.cache
	g.Lock()
	defer g.Unlock()
	if ch.cursor <= 0 || ch.cursor >= len(g.slots) {
		return false, nil
	}
	s := g.slots[ch.cursor]
	return s.Valid && s.Hash32 == ch.hash32, nil
}

func (ch *gammaChannel) Slots() int {
	return len(ch.cache.slots)
}

func (ch *gammaChannel) Close() error {
	ch.closed = true
	return nil
}
