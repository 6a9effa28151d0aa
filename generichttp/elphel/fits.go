package elphel

import (
	"fmt"
	"io"
	"time"

	"github.com/astrogo/fitsio"
	"github.jpl.nasa.gov/bdube/golab-elphel/driver"
	"github.jpl.nasa.gov/bdube/golab-elphel/gamma"
	"github.jpl.nasa.gov/bdube/golab-elphel/histogram"
)

var colorNames = [4]string{"R", "G", "GB", "B"}

// rowLabels names the tables of a snapshot in the order histogram.Flatten
// concatenates them
func rowLabels(needed uint32) []string {
	var out []string
	for g, kind := range []string{"HIST", "CUMUL", "PCTL"} {
		for c := 0; c < 4; c++ {
			if needed&(1<<uint(4*g+c)) != 0 {
				out = append(out, kind+"_"+colorNames[c])
			}
		}
	}
	return out
}

func writeImage(w io.Writer, bitpix int, dims []int, metadata []fitsio.Card, data interface{}) error {
	metadata = append(metadata, fitsio.Card{Name: "DATE", Value: time.Now().UTC().Format("2006-01-02T15:04:05")})
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(bitpix, dims)
	defer im.Close()
	err = im.Header().Append(metadata...)
	if err != nil {
		return err
	}
	err = im.Write(data)
	if err != nil {
		return err
	}
	return fits.Write(im)
}

// WriteHistogramFits streams a snapshot as a 256 wide image with one row per
// table.  Counts are unsigned, stored with BZERO 2^31.
func WriteHistogramFits(w io.Writer, s histogram.Snapshot) error {
	rows := s.Rows()
	if rows == 0 {
		return fmt.Errorf("empty snapshot")
	}
	metadata := []fitsio.Card{
		{Name: "BZERO", Value: 2147483648},
		{Name: "BSCALE", Value: 1.0},
		{Name: "PORT", Value: s.Port, Comment: "sensor port"},
		{Name: "SUBCHAN", Value: s.Sub, Comment: "sub-channel"},
		{Name: "FRAME", Value: int(s.Frame), Comment: "frame number"},
		{Name: "NEEDED", Value: fmt.Sprintf("0x%03x", s.Needed), Comment: "tables present"},
	}
	for i, l := range rowLabels(s.Needed) {
		metadata = append(metadata, fitsio.Card{Name: fmt.Sprintf("ROW%d", i+1), Value: l})
	}
	ints := make([]int32, len(s.Tables))
	for i, v := range s.Tables {
		ints[i] = int32(v ^ 0x80000000)
	}
	return writeImage(w, 32, []int{256, rows}, metadata, ints)
}

// WriteGammaFits streams a gamma table as a 257 element 16 bit image
func WriteGammaFits(w io.Writer, t gamma.Table) error {
	metadata := []fitsio.Card{
		{Name: "BZERO", Value: 32768},
		{Name: "BSCALE", Value: 1.0},
		{Name: "HASH16", Value: fmt.Sprintf("%04x", t.Hash16()), Comment: "table hash"},
		{Name: "SCALE", Value: float64(t.Scale()) / driver.GammaScale1, Comment: "table scale"},
	}
	ints := make([]int16, gamma.Len)
	for i, v := range t.Direct {
		ints[i] = int16(v ^ 0x8000)
	}
	return writeImage(w, 16, []int{gamma.Len}, metadata, ints)
}
