package gamma

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.jpl.nasa.gov/bdube/golab-elphel/camerr"
	"github.jpl.nasa.gov/bdube/golab-elphel/mathx"
)

func TestQuantize(t *testing.T) {
	cases := []struct {
		gamma, black   float64
		igamma, iblack int
		hash           uint16
	}{
		{0.45, 0.1, 45, 26, 0x1a2d},
		{1, 0, 100, 0, 0x0064},
		{0.57, 10, 57, 10, 0x0a39},
		{3, 255, 255, 254, 0xfeff},
		{-1, -1, 0, 0, 0},
	}
	for _, c := range cases {
		ig, ib, h := Quantize(c.gamma, c.black)
		if ig != c.igamma || ib != c.iblack || h != c.hash {
			t.Errorf("Quantize(%v, %v): expected %d %d %04x got %d %d %04x", c.gamma, c.black, c.igamma, c.iblack, c.hash, ig, ib, h)
		}
	}
}

func TestCalcIdentity(t *testing.T) {
	tab, h := Calc(1, 0)
	if h != 100 {
		t.Errorf("expected hash 100 got %d", h)
	}
	for i, v := range tab {
		exp := mathx.Half(65535 * float64(i) / 256)
		if int(v) != exp {
			t.Errorf("index %d: expected %d got %d", i, exp, v)
		}
	}
	if tab[0] != 0 || tab[256] != 0xffff {
		t.Errorf("end points %d %d", tab[0], tab[256])
	}
}

func TestCalcMonotoneAndBounded(t *testing.T) {
	for _, g := range []float64{0, 0.13, 0.45, 1, 1.7, 2.55} {
		for _, b := range []float64{0, 0.05, 0.5, 200} {
			tab, _ := Calc(g, b)
			for i := 1; i < Len; i++ {
				if tab[i] < tab[i-1] {
					t.Fatalf("gamma %v black %v: table decreases at %d", g, b, i)
				}
			}
			if tab[256] != 0xffff {
				t.Errorf("gamma %v black %v: expected full scale at 256, got %d", g, b, tab[256])
			}
		}
	}
}

func TestCalcBlack(t *testing.T) {
	tab, _ := Calc(0.5, 0.25)
	for i := 0; i <= 64; i++ {
		if tab[i] != 0 {
			t.Errorf("expected zero below black at %d, got %d", i, tab[i])
		}
	}
	if tab[65] == 0 {
		t.Error("expected a positive value above black")
	}
}

func TestFromValues(t *testing.T) {
	vals := make([]interface{}, Len)
	for i := range vals {
		if i%2 == 0 {
			vals[i] = float64(i) / 256
		} else {
			vals[i] = 255
		}
	}
	tab, err := FromValues(vals)
	if err != nil {
		t.Fatal(err)
	}
	if tab[1] != 0xffff {
		t.Errorf("integer 255 should be full scale, got %d", tab[1])
	}
	if tab[128] != 0x8000 {
		t.Errorf("expected %x got %x", 0x8000, tab[128])
	}

	vals[3] = "x"
	_, err = FromValues(vals)
	if !errors.Is(err, camerr.ErrInvalidArgument) || !strings.Contains(err.Error(), "element 3") {
		t.Errorf("expected an error naming element 3, got %v", err)
	}
	if _, err = FromValues(vals[:256]); !errors.Is(err, camerr.ErrInvalidArgument) {
		t.Errorf("expected a length error, got %v", err)
	}
}

func TestFromFractionsSaturates(t *testing.T) {
	f := make([]float64, Len)
	f[0], f[1] = -1, 2
	tab, err := FromFractions(f)
	if err != nil {
		t.Fatal(err)
	}
	if tab[0] != 0 || tab[1] != 0xffff {
		t.Errorf("expected 0 and ffff, got %d %d", tab[0], tab[1])
	}
}

// seeds the same way the cache does
func seeds(tab *[Len]uint16) [256]uint8 {
	var r [256]uint8
	i := 0
	for k := 0; k < 256; k++ {
		for i < 255 && int(tab[i]) < k<<8 {
			i++
		}
		r[k] = uint8(i)
	}
	return r
}

// roundTrip sweeps the levels where the table is strictly increasing; a flat
// run below the black level has no inverse.
func roundTrip(t *testing.T, g, b float64) {
	t.Helper()
	tab, _ := Calc(g, b)
	seed := seeds(&tab)
	worst := 0.
	for l := 256; l < 65280; l += 37 {
		x := float64(l) / 65536
		if hi := l >> 8; tab[hi] == tab[hi+1] {
			continue
		}
		y := forward(&tab, mathx.Unit(x))
		back := reverse(&tab, &seed, y*65536)
		worst = math.Max(worst, math.Abs(back-x))
	}
	if worst > 1./65536 {
		t.Errorf("gamma %v black %v: round trip off by %v LSB", g, b, worst*65536)
	}
}

func TestForwardReverseIdentity(t *testing.T) {
	roundTrip(t, 1, 0)
}

func TestForwardReverseGamma(t *testing.T) {
	roundTrip(t, 0.45, 0)
	roundTrip(t, 2.2, 0)
}

func TestForwardReverseBlack(t *testing.T) {
	roundTrip(t, 0.57, 10)
	roundTrip(t, 2.2, 0.1)
}

func TestReverseBetweenSamples(t *testing.T) {
	tab, _ := Calc(2.2, 0)
	seed := seeds(&tab)
	// halfway up the first rising step of the table
	s := 0
	for tab[s+1] == tab[s] {
		s++
	}
	mid := (float64(tab[s]) + float64(tab[s+1])) / 2
	exp := (float64(s) + 0.5) / 256
	if got := reverse(&tab, &seed, mid); math.Abs(got-exp) > 1e-9 {
		t.Errorf("expected %v got %v", exp, got)
	}
}

func TestForwardEnds(t *testing.T) {
	tab, _ := Calc(1, 0)
	if v := forward(&tab, 0); v != 0 {
		t.Errorf("expected 0 got %v", v)
	}
	if v := forward(&tab, 0xffff); v < 0.998 || v >= 1 {
		t.Errorf("expected just below 1, got %v", v)
	}
	seed := seeds(&tab)
	if v := reverse(&tab, &seed, 0xffff); v >= 1 || v < 0.998 {
		t.Errorf("expected the top of the table to reverse just below 1, got %v", v)
	}
}
