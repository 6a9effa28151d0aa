/*Package camera describes a standard set of interfaces for control of an Elphel camera

ParameterStore covers the frame parameters, ToneCurves the gamma tables and
Histograms the per frame statistics.  Camera bundles one of each over a driver.
*/
package camera

import (
	"context"

	"github.jpl.nasa.gov/bdube/golab-elphel/driver"
	"github.jpl.nasa.gov/bdube/golab-elphel/framepars"
	"github.jpl.nasa.gov/bdube/golab-elphel/gamma"
	"github.jpl.nasa.gov/bdube/golab-elphel/histogram"
)

// ParameterStore reads and writes frame parameters by name
type ParameterStore interface {
	// NumPorts is the number of sensor ports
	NumPorts() int

	// ReadNamed reads one parameter of frame
	ReadNamed(port int, name string, frame uint32) (uint32, error)

	// ReadMany reads several parameters of frame, skipping the names that do not resolve
	ReadMany(port int, names []string, frame uint32) (map[string]uint32, map[string]error, error)

	// WriteNamed writes parameters atomically and returns the frame they apply from
	WriteNamed(port int, values map[string]uint32, frame uint32, flags uint32) (uint32, []string, error)

	// ThisFrame is the current frame number
	ThisFrame(port int) (uint32, error)

	// CompressedFrame is the last frame the compressor finished
	CompressedFrame(port int) (uint32, error)

	// WaitFrame blocks until the frame counter reaches frame
	WaitFrame(ctx context.Context, port int, frame uint32) (uint32, error)

	// SkipFrames blocks for n frames
	SkipFrames(ctx context.Context, port int, n uint32) (uint32, error)

	// FrameState tells whether frame is fresh, pending, retired or expired
	FrameState(port int, frame uint32) (framepars.State, error)

	// State is the combined sensor and compressor state code
	State(port int) (int, error)

	// RawFrame copies a whole frame record, or the globals for index -2
	RawFrame(port, index int) ([]uint32, error)

	CompressorRun(port int, frame uint32) (uint32, error)
	CompressorStop(port int, frame uint32) (uint32, error)
	CompressorSingle(port int, frame uint32) (uint32, error)

	// ResetSensor reinitializes the records of port
	ResetSensor(port int) error
}

// ToneCurves manages the gamma tables
type ToneCurves interface {
	// Add computes and caches the table for (gamma, black) and returns its hash
	Add(gamma, black float64) (uint16, error)

	// AddCustomValues caches a table given as 257 numbers
	AddCustomValues(hash16 uint16, vals []interface{}) (uint16, error)

	// AddCustomRaw caches a table in 16 bit fixed point
	AddCustomRaw(hash16 uint16, raw []uint16) (uint16, error)

	// Get returns a cached table at a scale
	Get(hash16 uint16, scale float64) (gamma.Table, error)

	// GetIndex returns the cache slot of a table, 0 if not cached
	GetIndex(hash16 uint16, scale float64) (int, error)

	// Forward maps a sensor level through the table applied to a frame
	Forward(port, sub, color int, level float64, frame uint32) (float64, error)

	// Reverse maps an output level back to a sensor level
	Reverse(port, sub, color int, level float64, frame uint32) (float64, error)
}

// Histograms retrieves frame histograms
type Histograms interface {
	// Get returns the tables in needed, concatenated
	Get(ctx context.Context, port, sub int, needed uint32, frame uint32) ([]uint32, error)

	// Snapshot is Get with the labels needed to save the tables
	Snapshot(ctx context.Context, port, sub int, needed uint32, frame uint32) (histogram.Snapshot, error)

	// CumulativeFraction is the fraction of pixels below level
	CumulativeFraction(ctx context.Context, port, sub, color int, level float64, frame uint32) (float64, error)

	// Percentile is the level below which fraction of the pixels are
	Percentile(ctx context.Context, port, sub, color int, fraction float64, frame uint32) (float64, error)
}

// Camera bundles the engines of one camera
type Camera struct {
	Store *framepars.Store
	Gamma *gamma.Engine
	Hist  *histogram.Engine
}

// Open builds the engines over dev.  r may be nil for the built-in names.
func Open(dev driver.Device, r *framepars.Resolver) (*Camera, error) {
	ch, err := dev.OpenGamma()
	if err != nil {
		return nil, err
	}
	s := framepars.NewStore(dev, dev, dev, r)
	return &Camera{
		Store: s,
		Gamma: gamma.New(ch, s),
		Hist:  histogram.New(dev, s),
	}, nil
}

// Close releases the cache channels
func (c *Camera) Close() error {
	err := c.Hist.Close()
	if err2 := c.Gamma.Close(); err == nil {
		err = err2
	}
	return err
}

var (
	_ ParameterStore = (*framepars.Store)(nil)
	_ ToneCurves     = (*gamma.Engine)(nil)
	_ Histograms     = (*histogram.Engine)(nil)
)
