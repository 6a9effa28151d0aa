package gamma

import (
	"fmt"
	"math"

	"github.jpl.nasa.gov/bdube/golab-elphel/camerr"
	"github.jpl.nasa.gov/bdube/golab-elphel/driver"
	"github.jpl.nasa.gov/bdube/golab-elphel/mathx"
)

// Len is the number of samples in a table
const Len = driver.GammaTableLen

// limits of the effective gamma
const (
	minGamma = 0.13
	maxGamma = 10.
)

// Quantize converts (gamma, black) to their integer encodings and the hash16
// naming the table.  gamma is kept in hundredths, 0..255.  black is in 256ths
// of full scale, 0..254; a black of 1 or more is taken as already in 256ths.
// A black of 255 is left for custom tables.
func Quantize(gamma, black float64) (igamma, iblack int, hash16 uint16) {
	igamma = mathx.ClampInt(mathx.Half(100*gamma), 0, 255)
	if black >= 1 {
		iblack = int(black)
	} else {
		iblack = mathx.Half(256 * black)
	}
	iblack = mathx.ClampInt(iblack, 0, 254)
	return igamma, iblack, uint16(igamma | iblack<<8)
}

// Calc builds the table for (gamma, black).  The returned table is
// non-decreasing, zero up to the black level and 0xffff at index 256.
func Calc(gamma, black float64) ([Len]uint16, uint16) {
	igamma, iblack, hash16 := Quantize(gamma, black)
	return calc(0.01*float64(igamma), iblack), hash16
}

func calc(g float64, black256 int) [Len]uint16 {
	var t [Len]uint16
	g = mathx.Clamp(g, minGamma, maxGamma)
	k := 1 / float64(256-black256)
	for i := range t {
		x := k * float64(i-black256)
		if x < 0 {
			x = 0
		}
		v := mathx.Half(65535 * math.Pow(x, g))
		t[i] = uint16(mathx.ClampInt(v, 0, 0xffff))
	}
	return t
}

// FromFractions quantizes a table given in the 0..1 domain.  Values outside
// the domain saturate.
func FromFractions(f []float64) ([Len]uint16, error) {
	var t [Len]uint16
	if len(f) != Len {
		return t, fmt.Errorf("%w: table has %d elements, needs %d", camerr.ErrInvalidArgument, len(f), Len)
	}
	for i, v := range f {
		t[i] = uint16(mathx.Half(65535 * mathx.Clamp(v, 0, 1)))
	}
	return t, nil
}

// FromValues quantizes a table of loosely typed numbers, such as decoded
// JSON.  Floating point elements are fractions of full scale.  Integer
// elements are 8 bit levels and are divided by 255.  Any other element type
// is rejected, naming its index.
func FromValues(vals []interface{}) ([Len]uint16, error) {
	var t [Len]uint16
	if len(vals) != Len {
		return t, fmt.Errorf("%w: table has %d elements, needs %d", camerr.ErrInvalidArgument, len(vals), Len)
	}
	f := make([]float64, Len)
	for i, v := range vals {
		switch x := v.(type) {
		case float64:
			f[i] = x
		case float32:
			f[i] = float64(x)
		case int:
			f[i] = float64(x) / 255
		case int64:
			f[i] = float64(x) / 255
		case uint8:
			f[i] = float64(x) / 255
		default:
			return t, fmt.Errorf("%w: element %d is a %T, not a number", camerr.ErrInvalidArgument, i, v)
		}
	}
	return FromFractions(f)
}

// Table is a gamma table read back from the cache
type Table struct {
	Hash32 uint32      `json:"hash32"`
	Direct [Len]uint16 `json:"direct"`
}

// Hash16 is the table part of the key
func (t Table) Hash16() uint16 {
	return uint16(t.Hash32 >> 16)
}

// Scale is the fixed point scale part of the key
func (t Table) Scale() uint16 {
	return uint16(t.Hash32)
}

// Fractions returns the table in the 0..1 domain
func (t Table) Fractions() []float64 {
	out := make([]float64, Len)
	for i, v := range t.Direct {
		out[i] = float64(v) / 65535
	}
	return out
}

// Scale converts a floating point scale to the fixed point format where
// 0x400 is 1.0
func Scale(s float64) uint16 {
	return uint16(mathx.ClampInt(mathx.Half(driver.GammaScale1*s), 0, 0xffff))
}

// forward interpolates table t at the 16 bit level L, returning 0..1
func forward(t *[Len]uint16, level int) float64 {
	hi, lo := level>>8, level&0xff
	a, b := int64(t[hi]), int64(t[hi+1])
	return float64(a<<8+(b-a)*int64(lo)) / (1 << 24)
}

// reverse finds the input whose output is level, given in 16 bit units but
// not quantized.  The bracket is found from the seed for the upper byte of
// level; seeds round up, so the walk starts one below and corrects in both
// directions.  The position inside the bracket uses the full level.
func reverse(t *[Len]uint16, seed *[256]uint8, level float64) float64 {
	level = mathx.Clamp(level, 0, 0xffff)
	s := int(seed[int(level)>>8])
	if s > 0 {
		s--
	}
	for s > 0 && float64(t[s]) > level {
		s--
	}
	s++
	for s < 256 && float64(t[s]) <= level {
		s++
	}
	s--
	full := float64(s << 8)
	if d := float64(t[s+1]) - float64(t[s]); d > 0 {
		full += (level - float64(t[s])) * 256 / d
	}
	return mathx.Clamp(full, 0, 0xffff) / (1 << 16)
}
