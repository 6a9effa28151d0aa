package framepars_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.jpl.nasa.gov/bdube/golab-elphel/camerr"
	"github.jpl.nasa.gov/bdube/golab-elphel/driver"
	"github.jpl.nasa.gov/bdube/golab-elphel/framepars"
	"github.jpl.nasa.gov/bdube/golab-elphel/sim"
)

// fakeMem is a driver whose rings are set up by hand
type fakeMem struct {
	l       driver.Layout
	frames  [][]uint32
	past    [][]uint32
	globals []uint32
	commits []driver.Batch
}

func newFakeMem() *fakeMem {
	l := driver.DefaultLayout()
	l.Ports = 1
	m := &fakeMem{l: l, globals: make([]uint32, l.NumGlobals)}
	m.frames = make([][]uint32, l.FrameRing)
	for i := range m.frames {
		m.frames[i] = make([]uint32, l.FramePars)
	}
	m.past = make([][]uint32, l.PastRing)
	for i := range m.past {
		m.past[i] = make([]uint32, l.SaveNum)
	}
	return m
}

// tag puts frame f in its frame ring slot
func (m *fakeMem) tag(f uint32) []uint32 {
	rec := m.frames[int(f)%m.l.FrameRing]
	rec[driver.PFrame] = f
	return rec
}

// retire copies the preserved part of frame f into the past ring
func (m *fakeMem) retire(f uint32) {
	rec := m.frames[int(f)%m.l.FrameRing]
	copy(m.past[int(f)%m.l.PastRing], rec[m.l.SaveFrom:m.l.SaveFrom+m.l.SaveNum])
}

func (m *fakeMem) Layout() driver.Layout { return m.l }
func (m *fakeMem) FrameWord(port, slot, index int) (uint32, error) {
	return m.frames[slot][index], nil
}
func (m *fakeMem) PastWord(port, slot, index int) (uint32, error) {
	return m.past[slot][index], nil
}
func (m *fakeMem) Global(port, index int) (uint32, error) { return m.globals[index], nil }
func (m *fakeMem) SetGlobal(port, index int, v uint32) error {
	m.globals[index] = v
	return nil
}
func (m *fakeMem) FrameRecord(port, slot int) ([]uint32, error) { return m.frames[slot], nil }
func (m *fakeMem) GlobalRecord(port int) ([]uint32, error)      { return m.globals, nil }
func (m *fakeMem) Commit(port int, b driver.Batch) (uint32, error) {
	m.commits = append(m.commits, b)
	return b.Frame, nil
}
func (m *fakeMem) WaitFrame(ctx context.Context, port int, frame uint32) (uint32, error) {
	return frame, nil
}
func (m *fakeMem) ResetFrames(port int) error { return nil }

func newFakeStore() (*fakeMem, *framepars.Store) {
	m := newFakeMem()
	return m, framepars.NewStore(m, m, m, nil)
}

func TestReadHit(t *testing.T) {
	m, s := newFakeStore()
	m.tag(100)[driver.PExpos] = 5000
	v, err := s.Read(0, driver.PExpos, 100)
	if err != nil {
		t.Fatal(err)
	}
	if v != 5000 {
		t.Errorf("expected 5000 got %d", v)
	}
}

func TestReadPending(t *testing.T) {
	m, s := newFakeStore()
	m.tag(100)
	m.tag(101 - uint32(m.l.FrameRing)) // slot of 101 still holds an older frame
	_, err := s.Read(0, driver.PExpos, 101)
	if !errors.Is(err, camerr.ErrPending) {
		t.Errorf("expected ErrPending, got %v", err)
	}
	st, _ := s.FrameState(0, 101)
	if st != framepars.Pending {
		t.Errorf("expected Pending state, got %v", st)
	}
	if _, err := s.FrameState(5, 101); !errors.Is(err, camerr.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for a bad port, got %v", err)
	}
}

func TestReadExpiredWithoutRetirement(t *testing.T) {
	m, s := newFakeStore()
	m.tag(100 + uint32(m.l.FrameRing)) // ring moved past 100, nothing retired
	_, err := s.Read(0, driver.PExpos, 100)
	if !errors.Is(err, camerr.ErrExpired) {
		t.Errorf("expected ErrExpired, got %v", err)
	}
}

func TestReadRetired(t *testing.T) {
	m, s := newFakeStore()
	rec := m.tag(100)
	rec[driver.PExpos] = 777
	rec[driver.PQuality] = 90
	m.retire(100)
	m.tag(100 + uint32(m.l.FrameRing))

	v, err := s.Read(0, driver.PExpos, 100)
	if err != nil {
		t.Fatal(err)
	}
	if v != 777 {
		t.Errorf("expected the retired value 777, got %d", v)
	}
	_, st, _ := s.History().Word(0, 100, driver.PExpos)
	if st != framepars.Retired {
		t.Errorf("expected Retired, got %v", st)
	}
	// QUALITY is not preserved after retirement
	_, err = s.Read(0, driver.PQuality, 100)
	if !errors.Is(err, camerr.ErrExpired) {
		t.Errorf("expected ErrExpired for an unpreserved word, got %v", err)
	}
}

func TestReadGlobalBitField(t *testing.T) {
	m, s := newFakeStore()
	m.globals[driver.GDebug] = 0x00ab0000
	a, err := s.Resolver().Resolve("DEBUG__0816")
	if err != nil {
		t.Fatal(err)
	}
	v, err := s.Read(0, a, framepars.Latest)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0xab {
		t.Errorf("expected ab got %x", v)
	}
}

func TestReadLatestUsesThisFrame(t *testing.T) {
	m, s := newFakeStore()
	m.globals[driver.GThisFrame] = 42
	m.tag(42)[driver.PQuality] = 70
	v, err := s.ReadNamed(0, "QUALITY", framepars.Latest)
	if err != nil || v != 70 {
		t.Errorf("expected 70, got %d %v", v, err)
	}
}

func TestReadBadPort(t *testing.T) {
	_, s := newFakeStore()
	if _, err := s.Read(3, driver.PExpos, 1); !errors.Is(err, camerr.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestWritePartitions(t *testing.T) {
	m, s := newFakeStore()
	m.globals[driver.GThisFrame] = 10
	dbg := framepars.Address(m.l.GlobalsBase + driver.GDebug)
	bf, _ := framepars.BitField(4, 0)
	temp := framepars.Address(m.l.GlobalsBase+driver.GTemperature) | bf
	f, err := s.Write(0, []framepars.Write{
		{Addr: dbg, Value: 3},
		{Addr: temp, Value: 2},
		{Addr: driver.PExpos, Value: 900},
	}, framepars.Default, driver.FlagForceNew>>16)
	if err != nil {
		t.Fatal(err)
	}
	if f != 10+uint32(m.l.DefaultAhead) {
		t.Errorf("expected the default lookahead frame %d, got %d", 10+m.l.DefaultAhead, f)
	}
	if m.globals[driver.GDebug] != 3 {
		t.Errorf("full word global write should land immediately")
	}
	exp := []driver.Batch{{Frame: f, Pairs: []driver.Pair{
		{Addr: uint32(temp) | driver.FlagForceNew, Data: 2},
		{Addr: driver.PExpos | driver.FlagForceNew, Data: 900},
	}}}
	if diff := cmp.Diff(exp, m.commits); diff != "" {
		t.Errorf("commit mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteGlobalsOnlySkipsCommit(t *testing.T) {
	m, s := newFakeStore()
	_, err := s.WriteValue(0, framepars.Address(m.l.GlobalsBase+driver.GDebug), 1, framepars.Default, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.commits) != 0 {
		t.Errorf("expected no commit, got %d", len(m.commits))
	}
}

func TestWriteRetiredFrame(t *testing.T) {
	m, s := newFakeStore()
	m.globals[driver.GThisFrame] = 50
	_, err := s.WriteValue(0, driver.PExpos, 1, 49, 0)
	if !errors.Is(err, camerr.ErrExpired) {
		t.Errorf("expected ErrExpired, got %v", err)
	}
	if len(m.commits) != 0 {
		t.Error("nothing should be submitted for a retired frame")
	}
}

func TestWriteTooFarAheadLeavesGlobals(t *testing.T) {
	m, s := newFakeStore()
	m.globals[driver.GThisFrame] = 50
	far := 50 + uint32(m.l.FrameRing)
	_, err := s.Write(0, []framepars.Write{
		{Addr: framepars.Address(m.l.GlobalsBase + driver.GDebug), Value: 7},
		{Addr: driver.PExpos, Value: 1},
	}, far, 0)
	if !errors.Is(err, camerr.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
	if m.globals[driver.GDebug] != 0 {
		t.Errorf("global written although the batch was refused")
	}
	if len(m.commits) != 0 {
		t.Error("nothing should be submitted past the ring")
	}
}

func TestWriteRejectsBadAddressBeforeSubmitting(t *testing.T) {
	m, s := newFakeStore()
	_, err := s.Write(0, []framepars.Write{
		{Addr: driver.PExpos, Value: 1},
		{Addr: framepars.Address(m.l.FramePars + 5), Value: 1},
	}, framepars.Default, 0)
	if !errors.Is(err, camerr.ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress, got %v", err)
	}
	if len(m.commits) != 0 {
		t.Error("nothing should be submitted when validation fails")
	}
}

func TestWriteNamedSkipsUnknown(t *testing.T) {
	m, s := newFakeStore()
	_, skipped, err := s.WriteNamed(0, map[string]uint32{"EXPOS": 1, "BOGUS": 2}, framepars.Default, 0)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"BOGUS"}, skipped); diff != "" {
		t.Errorf("skipped mismatch (-want +got):\n%s", diff)
	}
	if len(m.commits) != 1 || len(m.commits[0].Pairs) != 1 {
		t.Errorf("expected one commit with one pair, got %+v", m.commits)
	}
}

func TestWriteThenReadAtomically(t *testing.T) {
	cam := sim.NewDefault()
	s := framepars.NewStore(cam, cam, cam, nil)
	this, _ := s.ThisFrame(0)
	f := this + 2
	before, _ := s.Read(0, driver.PQuality, f)
	got, err := s.Write(0, []framepars.Write{
		{Addr: driver.PExpos, Value: 1234},
		{Addr: driver.PQuality, Value: 55},
	}, f, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got != f {
		t.Errorf("expected commit against %d, got %d", f, got)
	}
	for cam.ThisFrame() < f {
		cam.Advance()
	}
	e, err1 := s.Read(0, driver.PExpos, f)
	q, err2 := s.Read(0, driver.PQuality, f)
	if err1 != nil || err2 != nil {
		t.Fatal(err1, err2)
	}
	if e != 1234 || q != 55 {
		t.Errorf("expected 1234 and 55, got %d and %d", e, q)
	}
	// the frame before the target is untouched
	prev, _ := s.Read(0, driver.PQuality, f-1)
	if prev != before {
		t.Errorf("frame %d should keep %d, got %d", f-1, before, prev)
	}
}

func TestReadAfterRetirementOnSimulator(t *testing.T) {
	cam := sim.NewDefault()
	s := framepars.NewStore(cam, cam, cam, nil)
	this, _ := s.ThisFrame(0)
	if _, err := s.WriteValue(0, driver.PExpos, 4321, this, 0); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < cam.Layout().FrameRing+2; i++ {
		cam.Advance()
	}
	v, err := s.Read(0, driver.PExpos, this)
	if err != nil {
		t.Fatal(err)
	}
	if v != 4321 {
		t.Errorf("expected 4321 from the retired ring, got %d", v)
	}
	if _, err = s.Read(0, driver.PQuality, this); !errors.Is(err, camerr.ErrExpired) {
		t.Errorf("expected ErrExpired, got %v", err)
	}
}

func TestReadMany(t *testing.T) {
	cam := sim.NewDefault()
	s := framepars.NewStore(cam, cam, cam, nil)
	vals, skipped, err := s.ReadMany(0, []string{"EXPOS", "QUALITY", "NOPE"}, framepars.Latest)
	if err != nil {
		t.Fatal(err)
	}
	if len(vals) != 2 || len(skipped) != 1 {
		t.Errorf("expected two values and one skipped name, got %v %v", vals, skipped)
	}
	if !errors.Is(skipped["NOPE"], camerr.ErrNotFound) {
		t.Errorf("expected NOPE to be not found, got %v", skipped["NOPE"])
	}
}

func TestSkipFrames(t *testing.T) {
	cam := sim.NewDefault()
	s := framepars.NewStore(cam, cam, cam, nil)
	start, _ := s.ThisFrame(0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() {
		for i := 0; i < 3; i++ {
			time.Sleep(5 * time.Millisecond)
			cam.Advance()
		}
	}()
	f, err := s.SkipFrames(ctx, 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if f < start+2 {
		t.Errorf("expected to wake at or after %d, got %d", start+2, f)
	}
}

func TestWaitFrameCancel(t *testing.T) {
	cam := sim.NewDefault()
	s := framepars.NewStore(cam, cam, cam, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := s.WaitFrame(ctx, 0, 1000)
	if !errors.Is(err, camerr.ErrChannelFailure) {
		t.Errorf("expected a channel failure on timeout, got %v", err)
	}
}

func TestCompressorAndState(t *testing.T) {
	cam := sim.NewDefault()
	s := framepars.NewStore(cam, cam, cam, nil)
	st, _ := s.State(0)
	if st != framepars.StateSensorRunning {
		t.Errorf("expected sensor running state, got %x", st)
	}
	this, _ := s.ThisFrame(0)
	if _, err := s.CompressorRun(0, this); err != nil {
		t.Fatal(err)
	}
	st, _ = s.State(0)
	if st != framepars.StateCompressorCont {
		t.Errorf("expected continuous compression state, got %x", st)
	}
	cam.Advance()
	cf, _ := s.CompressedFrame(0)
	if cf != this {
		t.Errorf("expected compressed frame %d, got %d", this, cf)
	}
}

func TestRawFrame(t *testing.T) {
	cam := sim.NewDefault()
	s := framepars.NewStore(cam, cam, cam, nil)
	g, err := s.RawFrame(0, framepars.RawGlobals)
	if err != nil {
		t.Fatal(err)
	}
	if len(g) != cam.Layout().NumGlobals {
		t.Errorf("expected %d globals, got %d", cam.Layout().NumGlobals, len(g))
	}
	if _, err = s.RawFrame(0, -1); !errors.Is(err, camerr.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestSetResolver(t *testing.T) {
	m, s := newFakeStore()
	m.tag(100)[driver.PExpos] = 5000
	if _, err := s.ReadNamed(0, "SHUTTER", 100); !errors.Is(err, camerr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before the table changes, got %v", err)
	}
	r := framepars.NewResolver()
	r.Names["SHUTTER"] = driver.PExpos
	s.SetResolver(r)
	v, err := s.ReadNamed(0, "SHUTTER", 100)
	if err != nil {
		t.Fatal(err)
	}
	if v != 5000 {
		t.Errorf("expected 5000 got %d", v)
	}
}
