package framepars

import (
	"fmt"
	"os"
	"sort"

	"github.com/go-yaml/yaml"
	"github.jpl.nasa.gov/bdube/golab-elphel/driver"
)

// Names maps symbolic parameter names to composite addresses
type Names map[string]Address

// Lookup returns the address of name and whether it exists
func (n Names) Lookup(name string) (Address, bool) {
	a, ok := n[name]
	return a, ok
}

// Name is the reverse lookup of an exact address, preferring the shortest name
func (n Names) Name(a Address) (string, bool) {
	best := ""
	for k, v := range n {
		if v == a && (best == "" || len(k) < len(best) || (len(k) == len(best) && k < best)) {
			best = k
		}
	}
	return best, best != ""
}

// Sorted returns the names in lexical order
func (n Names) Sorted() []string {
	out := make([]string, 0, len(n))
	for k := range n {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DefaultNames returns the built-in name table for a camera with the default layout
func DefaultNames() Names {
	g := func(i int) Address { return Address(driver.DefaultLayout().GlobalsBase + i) }
	byte3, _ := BitField(8, 24)
	return Names{
		"SENSOR":         driver.PSensor,
		"SENSOR_RUN":     driver.PSensorRun,
		"COMPRESSOR_RUN": driver.PCompressorRun,
		"BAYER":          driver.PBayer,
		"TRIG":           driver.PTrig,
		"COLOR":          driver.PColor,
		"WOI_LEFT":       driver.PWOILeft,
		"WOI_TOP":        driver.PWOITop,
		"WOI_WIDTH":      driver.PWOIWidth,
		"WOI_HEIGHT":     driver.PWOIHeight,
		"QUALITY":        driver.PQuality,
		"FP1000SLIM":     driver.PFP1000SLim,
		"AUTOEXP_ON":     driver.PAutoExpOn,
		"DAEMON_EN":      driver.PDaemonEn,
		"FRAME":          driver.PFrame,
		"EXPOS":          driver.PExpos,
		"GAINR":          driver.PGainR,
		"GAING":          driver.PGainG,
		"GAINB":          driver.PGainB,
		"GAINGB":         driver.PGainGB,
		"GTAB_R":         driver.PGtabR,
		"GTAB_G":         driver.PGtabG,
		"GTAB_GB":        driver.PGtabGB,
		"GTAB_B":         driver.PGtabB,
		"FRAME_TIME":     driver.PFrameTim,
		// gamma hash of the red table, top byte of P_GTAB_R
		"GTAB_R_BLACK": driver.PGtabR | byte3,

		"MULTI_GAINR":  driver.PMultiGainR,
		"MULTI_GAING":  driver.PMultiGainG,
		"MULTI_GAINB":  driver.PMultiGainB,
		"MULTI_GAINGB": driver.PMultiGainGB,
		"MULTI_EXPOS":  driver.PMultiExpos,
		"MULTI_WOI":    driver.PMultiWOI,

		"THIS_FRAME":       g(driver.GThisFrame),
		"COMPRESSOR_FRAME": g(driver.GCompressorFrame),
		"SECONDS":          g(driver.GSeconds),
		"MICROSECONDS":     g(driver.GMicroseconds),
		"DEBUG":            g(driver.GDebug),
		"TEMPERATURE":      g(driver.GTemperature),
		"SUBCHANNELS":      g(driver.GSubChannels),

		"SETFRAME":    driver.CmdSetFrame,
		"SETFRAMEREL": driver.CmdSetFrameRel,
	}
}

// ChannelIndex maps a channel agnostic base index to the first index of its
// per sub-channel bank.  A missing entry or 0 means no per-channel variants.
type ChannelIndex map[int]int

// Bank returns the bank of base, 0 if none
func (c ChannelIndex) Bank(base int) int {
	return c[base]
}

// DefaultChannelIndex returns the banks matching DefaultNames
func DefaultChannelIndex() ChannelIndex {
	return ChannelIndex{
		driver.PGainR:   driver.PMultiGainR,
		driver.PGainG:   driver.PMultiGainG,
		driver.PGainB:   driver.PMultiGainB,
		driver.PGainGB:  driver.PMultiGainGB,
		driver.PExpos:   driver.PMultiExpos,
		driver.PWOILeft: driver.PMultiWOI,
	}
}

// nameFile is the on-disk format of a name table
type nameFile struct {
	Names    map[string]uint32 `yaml:"names"`
	Channels map[int]int       `yaml:"channels"`
}

// LoadNames reads a YAML name table of the form
//
//	names:
//	  EXPOS: 129
//	channels:
//	  129: 400
//
// Entries extend (and override) the built-in tables.
func LoadNames(path string) (Names, ChannelIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	nf := nameFile{}
	if err = yaml.NewDecoder(f).Decode(&nf); err != nil {
		return nil, nil, fmt.Errorf("decoding name table %s: %w", path, err)
	}
	names := DefaultNames()
	for k, v := range nf.Names {
		names[k] = Address(v)
	}
	idx := DefaultChannelIndex()
	for k, v := range nf.Channels {
		idx[k] = v
	}
	return names, idx, nil
}
