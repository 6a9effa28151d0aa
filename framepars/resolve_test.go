package framepars_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.jpl.nasa.gov/bdube/golab-elphel/camerr"
	"github.jpl.nasa.gov/bdube/golab-elphel/driver"
	"github.jpl.nasa.gov/bdube/golab-elphel/framepars"
)

func ExampleResolver_Resolve() {
	r := framepars.NewResolver()
	a, _ := r.Resolve("GAINR__B")
	fmt.Println(a.Base())
	b, _ := r.Resolve("EXPOS__0816")
	fmt.Println(b.Base(), b.Width(), b.Offset())
	// Output:
	// 385
	// 129 8 16
}

func TestResolveExact(t *testing.T) {
	r := framepars.NewResolver()
	a, err := r.Resolve("EXPOS")
	if err != nil {
		t.Fatal(err)
	}
	if a != driver.PExpos {
		t.Errorf("expected %d got %v", driver.PExpos, a)
	}
}

func TestResolveChannelWithBank(t *testing.T) {
	r := framepars.NewResolver()
	for i, suffix := range []string{"A", "B", "C"} {
		a, err := r.Resolve("GAINR__" + suffix)
		if err != nil {
			t.Fatal(err)
		}
		if a.Base() != driver.PMultiGainR+i {
			t.Errorf("GAINR__%s: expected %d got %d", suffix, driver.PMultiGainR+i, a.Base())
		}
	}
	a, err := r.Resolve("GAINR__b")
	if err != nil || a.Base() != driver.PMultiGainR+1 {
		t.Errorf("strict lookup with a bank should succeed, got %v %v", a, err)
	}
}

func TestResolveChannelWithoutBank(t *testing.T) {
	r := framepars.NewResolver()
	a, err := r.Resolve("QUALITY__B")
	if err != nil {
		t.Fatal(err)
	}
	if a != driver.PQuality {
		t.Errorf("fallback lookup should return the plain address, got %v", a)
	}
	_, err = r.Resolve("QUALITY__b")
	if !errors.Is(err, camerr.ErrInvalidChannel) {
		t.Errorf("strict lookup without a bank should fail with ErrInvalidChannel, got %v", err)
	}
}

func TestResolveChannelOutOfRange(t *testing.T) {
	r := framepars.NewResolver()
	r.Layout.SubChannels = 2
	_, err := r.Resolve("GAINR__C")
	if !errors.Is(err, camerr.ErrInvalidChannel) {
		t.Errorf("expected ErrInvalidChannel, got %v", err)
	}
}

func TestResolveOnlyABCAreChannels(t *testing.T) {
	r := framepars.NewResolver()
	for _, n := range []string{"GAINR__D", "QUALITY__Q", "QUALITY__z"} {
		if _, err := r.Resolve(n); !errors.Is(err, camerr.ErrNotFound) {
			t.Errorf("%s: expected ErrNotFound, got %v", n, err)
		}
	}
}

func TestResolveChannelOverflow(t *testing.T) {
	r := framepars.NewResolver()
	r.Index = framepars.ChannelIndex{driver.PQuality: r.Layout.FramePars - 1}
	_, err := r.Resolve("QUALITY__C")
	if !errors.Is(err, camerr.ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestResolveBitFieldReplacesModifier(t *testing.T) {
	r := framepars.NewResolver()
	a, err := r.Resolve("GTAB_R_BLACK__0816")
	if err != nil {
		t.Fatal(err)
	}
	if a.Base() != driver.PGtabR || a.Width() != 8 || a.Offset() != 16 {
		t.Errorf("expected base %d width 8 offset 16, got %d %d %d", driver.PGtabR, a.Base(), a.Width(), a.Offset())
	}
}

func TestResolveBitFieldRange(t *testing.T) {
	r := framepars.NewResolver()
	if _, err := r.Resolve("EXPOS__3204"); !errors.Is(err, camerr.ErrInvalidArgument) {
		t.Errorf("expected width 32 to be rejected, got %v", err)
	}
	if _, err := r.Resolve("EXPOS__2016"); !errors.Is(err, camerr.ErrInvalidArgument) {
		t.Errorf("expected a field past bit 31 to be rejected, got %v", err)
	}
}

func TestResolveNumberFamily(t *testing.T) {
	r := framepars.NewResolver()
	a, err := r.Resolve("GTAB_R3")
	if err != nil {
		t.Fatal(err)
	}
	if a != driver.PGtabB {
		t.Errorf("expected GTAB_R3 == GTAB_B (%d), got %v", driver.PGtabB, a)
	}
	a, err = r.Resolve("MULTI_GAINR2__0800")
	if err != nil {
		t.Fatal(err)
	}
	if a.Base() != driver.PMultiGainR+2 || a.Width() != 8 {
		t.Errorf("number and bit-field should combine, got %v", a)
	}
}

func TestResolveNotFound(t *testing.T) {
	r := framepars.NewResolver()
	for _, n := range []string{"NOPE", "NOPE3", "NOPE__A", "NOPE__0816", ""} {
		if _, err := r.Resolve(n); !errors.Is(err, camerr.ErrNotFound) {
			t.Errorf("%q: expected ErrNotFound, got %v", n, err)
		}
	}
}

func TestAddressFieldMerge(t *testing.T) {
	bf, err := framepars.BitField(8, 16)
	if err != nil {
		t.Fatal(err)
	}
	a := framepars.Address(driver.PExpos) | bf
	w := a.Merge(0x11223344, 0xab)
	if w != 0x11ab3344 {
		t.Errorf("merge: expected 11ab3344 got %08x", w)
	}
	if f := a.Field(w); f != 0xab {
		t.Errorf("field: expected ab got %x", f)
	}
}

func TestIsGlobalIsFrame(t *testing.T) {
	l := driver.DefaultLayout()
	r := framepars.NewResolver()
	tf, _ := r.Resolve("THIS_FRAME")
	if !framepars.IsGlobal(l, tf) || framepars.IsFrame(l, tf) {
		t.Error("THIS_FRAME should be global only")
	}
	ex, _ := r.Resolve("EXPOS")
	if framepars.IsGlobal(l, ex) || !framepars.IsFrame(l, ex) {
		t.Error("EXPOS should be a frame parameter only")
	}
	sf, _ := r.Resolve("SETFRAME")
	if framepars.IsGlobal(l, sf) || framepars.IsFrame(l, sf) || !sf.IsCommand() {
		t.Error("SETFRAME should be a command")
	}
}

func TestResolverName(t *testing.T) {
	r := framepars.NewResolver()
	a, _ := r.Resolve("EXPOS__0816")
	if n := r.Name(a); n != "EXPOS__0816" {
		t.Errorf("expected EXPOS__0816, got %s", n)
	}
}

func TestLoadNames(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "names.yml")
	yml := "names:\n  SHUTTER: 200\nchannels:\n  200: 500\n"
	if err := os.WriteFile(fn, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}
	names, idx, err := framepars.LoadNames(fn)
	if err != nil {
		t.Fatal(err)
	}
	r := &framepars.Resolver{Names: names, Index: idx, Layout: driver.DefaultLayout()}
	a, err := r.Resolve("SHUTTER__C")
	if err != nil {
		t.Fatal(err)
	}
	if a.Base() != 502 {
		t.Errorf("expected 502, got %d", a.Base())
	}
	if _, err = r.Resolve("EXPOS"); err != nil {
		t.Errorf("built-in names should survive loading a file: %v", err)
	}
}
