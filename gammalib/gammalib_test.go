package gammalib_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.jpl.nasa.gov/bdube/golab-elphel/camerr"
	"github.jpl.nasa.gov/bdube/golab-elphel/framepars"
	"github.jpl.nasa.gov/bdube/golab-elphel/gamma"
	"github.jpl.nasa.gov/bdube/golab-elphel/gammalib"
	"github.jpl.nasa.gov/bdube/golab-elphel/sim"
)

func open(t *testing.T) *gammalib.Library {
	t.Helper()
	lib, err := gammalib.Open(filepath.Join(t.TempDir(), "gamma.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { lib.Close() })
	return lib
}

func ramp(step int) []uint16 {
	t := make([]uint16, gamma.Len)
	for i := range t {
		t[i] = uint16(i * step)
	}
	return t
}

func TestSaveGet(t *testing.T) {
	lib := open(t)
	if _, err := lib.Save(0xff01, "ramp", ramp(100)); err != nil {
		t.Fatal(err)
	}
	e, err := lib.Get(0xff01)
	if err != nil {
		t.Fatal(err)
	}
	v, err := e.Values()
	if err != nil {
		t.Fatal(err)
	}
	if e.Name != "ramp" || v[10] != 1000 {
		t.Errorf("unexpected entry %q with v[10]=%d", e.Name, v[10])
	}
	if _, err = lib.Get(0xff02); !errors.Is(err, camerr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDuplicate(t *testing.T) {
	lib := open(t)
	lib.Save(0xff01, "a", ramp(100))
	e, err := lib.Save(0xff02, "b", ramp(100))
	if !errors.Is(err, gammalib.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if e.Hash16 != 0xff01 {
		t.Errorf("expected the existing entry ff01, got %04x", e.Hash16)
	}
	// saving again under the same hash replaces it
	if _, err = lib.Save(0xff01, "a2", ramp(100)); err != nil {
		t.Errorf("resaving the same table failed: %v", err)
	}
	if _, err = lib.Save(0xff01, "a3", ramp(200)); err != nil {
		t.Fatal(err)
	}
	e, _ = lib.Get(0xff01)
	if e.Name != "a3" {
		t.Errorf("expected the entry to be replaced, got %q", e.Name)
	}
}

func TestListDelete(t *testing.T) {
	lib := open(t)
	for i, h := range []uint16{0xff03, 0xff01, 0xff02} {
		if _, err := lib.Save(h, "", ramp(i+1)); err != nil {
			t.Fatal(err)
		}
	}
	es, err := lib.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(es) != 3 || es[0].Hash16 != 0xff01 || es[2].Hash16 != 0xff03 {
		t.Errorf("unexpected listing %v", es)
	}
	if err = lib.Delete(0xff02); err != nil {
		t.Fatal(err)
	}
	if err = lib.Delete(0xff02); !errors.Is(err, camerr.ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestSaveRejectsShortTable(t *testing.T) {
	lib := open(t)
	if _, err := lib.Save(1, "", make([]uint16, 10)); !errors.Is(err, camerr.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestReplay(t *testing.T) {
	lib := open(t)
	lib.Save(0xff01, "", ramp(100))
	lib.Save(0xff02, "", ramp(200))

	cam := sim.NewDefault()
	ch, _ := cam.OpenGamma()
	e := gamma.New(ch, framepars.NewStore(cam, cam, cam, nil))
	defer e.Close()
	n, err := lib.Replay(e)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 tables replayed, got %d", n)
	}
	tab, err := e.Get(0xff02, 1)
	if err != nil {
		t.Fatal(err)
	}
	if tab.Direct[3] != 600 {
		t.Errorf("expected 600 got %d", tab.Direct[3])
	}
}

func TestMemory(t *testing.T) {
	lib, err := gammalib.Open(":memory:", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer lib.Close()
	if _, err = lib.Save(0xff01, "", ramp(3)); err != nil {
		t.Fatal(err)
	}
	if _, err = lib.Get(0xff01); err != nil {
		t.Error(err)
	}
}
