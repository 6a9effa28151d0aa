/*Package elphel provides an HTTP interface to an Elphel camera.

Per port routes live under /{port}: frame parameters by name, the frame
counters and waits, the compressor, the tone curves applied to a frame and
the histograms.  The gamma cache and the table library are shared by all
ports and live at the root.

Frames are given with the frame query parameter, a number or "latest".
Errors are mapped to status codes by generichttp.StatusOf.
*/
package elphel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"go/types"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.jpl.nasa.gov/bdube/golab-elphel/camera"
	"github.jpl.nasa.gov/bdube/golab-elphel/camerr"
	"github.jpl.nasa.gov/bdube/golab-elphel/driver"
	"github.jpl.nasa.gov/bdube/golab-elphel/gammalib"
	"github.jpl.nasa.gov/bdube/golab-elphel/generichttp"
	"github.jpl.nasa.gov/bdube/golab-elphel/imgrec"
	"github.jpl.nasa.gov/bdube/golab-elphel/util"
)

// DefaultWaitTimeout bounds blocking requests without a timeout query parameter
const DefaultWaitTimeout = 30 * time.Second

// ParValue is one named parameter value
type ParValue struct {
	Name  string `json:"name"`
	Value uint32 `json:"value"`
}

// ParValues is the reply to a batch read
type ParValues struct {
	Values  map[string]uint32 `json:"values"`
	Skipped map[string]string `json:"skipped,omitempty"`
}

// WriteRequest is the body of a batch write
type WriteRequest struct {
	Values map[string]uint32 `json:"values"`
}

// WriteReply gives the frame a write applies from and the names it skipped
type WriteReply struct {
	Frame   uint32   `json:"frame"`
	Skipped []string `json:"skipped,omitempty"`
}

// FrameReply holds frame counters
type FrameReply struct {
	This       uint32 `json:"this"`
	Compressed uint32 `json:"compressed,omitempty"`
}

// FrameStateReply classifies one frame against the rings
type FrameStateReply struct {
	Frame uint32 `json:"frame"`
	State string `json:"state"`
}

// WaitRequest is the body of a frame wait.  Exactly one of Frame and Skip
// should be set; Skip wins if both are.
type WaitRequest struct {
	Frame uint32 `json:"frame"`
	Skip  uint32 `json:"skip"`
}

// GammaRequest is the body of a request to compute a table
type GammaRequest struct {
	Gamma float64 `json:"gamma"`
	Black float64 `json:"black"`
}

// HashReply carries a table hash, hex formatted
type HashReply struct {
	Hash16 string `json:"hash16"`
}

// CustomTable is the body of a custom table upload.  One of Fractions
// (0..1), Levels (0..255) or Raw (16 bit fixed point) gives the 257 values.
type CustomTable struct {
	Fractions []float64 `json:"fractions,omitempty"`
	Levels    []int     `json:"levels,omitempty"`
	Raw       []uint16  `json:"raw,omitempty"`

	// Name and Save store the table in the library as well
	Name string `json:"name,omitempty"`
	Save bool   `json:"save,omitempty"`
}

// HistReply is a JSON histogram snapshot
type HistReply struct {
	Port   int      `json:"port"`
	Sub    int      `json:"sub"`
	Frame  uint32   `json:"frame"`
	Needed uint32   `json:"needed"`
	Rows   []string `json:"rows"`
	Tables []uint32 `json:"tables"`
}

// LibraryEntry describes a saved table
type LibraryEntry struct {
	Hash16  string    `json:"hash16"`
	Name    string    `json:"name"`
	Created time.Time `json:"created"`
}

// HTTPCamera wraps the engines of a camera in an HTTP route table
type HTTPCamera struct {
	Store camera.ParameterStore
	Gamma camera.ToneCurves
	Hist  camera.Histograms

	// Lib is the table library, may be nil
	Lib *gammalib.Library

	// Rec records histograms and tables as FITS when enabled, may be nil
	Rec *imgrec.Recorder

	RouteTable generichttp.RouteTable
}

// NewHTTPCamera returns a new HTTP wrapper around c.  lib and rec may be nil.
func NewHTTPCamera(c *camera.Camera, lib *gammalib.Library, rec *imgrec.Recorder) HTTPCamera {
	h := HTTPCamera{Store: c.Store, Gamma: c.Gamma, Hist: c.Hist, Lib: lib, Rec: rec}
	rt := generichttp.RouteTable{
		// parameters
		{Method: http.MethodGet, Path: "/{port:[0-9]+}/pars"}:         h.ReadMany,
		{Method: http.MethodPost, Path: "/{port:[0-9]+}/pars"}:        h.WriteMany,
		{Method: http.MethodGet, Path: "/{port:[0-9]+}/pars/{name}"}:  h.ReadPar,
		{Method: http.MethodPost, Path: "/{port:[0-9]+}/pars/{name}"}: h.WritePar,
		{Method: http.MethodGet, Path: "/{port:[0-9]+}/raw/{index}"}:  h.RawFrame,

		// frames and state
		{Method: http.MethodGet, Path: "/{port:[0-9]+}/frame"}:       h.Frame,
		{Method: http.MethodPost, Path: "/{port:[0-9]+}/frame/wait"}: h.WaitFrame,
		{Method: http.MethodGet, Path: "/{port:[0-9]+}/frame/state"}: h.FrameState,
		{Method: http.MethodGet, Path: "/{port:[0-9]+}/state"}:       h.State,
		{Method: http.MethodPost, Path: "/{port:[0-9]+}/compressor"}: h.Compressor,
		{Method: http.MethodPost, Path: "/{port:[0-9]+}/reset"}:      h.Reset,

		// tone curves
		{Method: http.MethodPost, Path: "/gamma"}:                                          h.AddGamma,
		{Method: http.MethodGet, Path: "/gamma/{hash}"}:                                    h.GetGamma,
		{Method: http.MethodPost, Path: "/gamma/custom/{hash}"}:                            h.AddCustom,
		{Method: http.MethodGet, Path: "/{port:[0-9]+}/gamma/{sub}/{color}/{direction}"}: h.GammaLevel,

		// histograms
		{Method: http.MethodGet, Path: "/{port:[0-9]+}/histogram/{sub}"}:                h.Histogram,
		{Method: http.MethodGet, Path: "/{port:[0-9]+}/histogram/{sub}/{color}/{stat}"}: h.HistogramStat,
	}
	if lib != nil {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/gamma/library"}] = h.ListLibrary
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/gamma/library/{hash}"}] = h.SaveLibrary
		rt[generichttp.MethodPath{Method: http.MethodDelete, Path: "/gamma/library/{hash}"}] = h.DeleteLibrary
	}
	h.RouteTable = rt
	if rec != nil {
		imgrec.NewHTTPWrapper(rec).Inject(h)
	}
	return h
}

// RT satisfies generichttp.HTTPer
func (h HTTPCamera) RT() generichttp.RouteTable {
	return h.RouteTable
}

func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{camerr.ErrInvalidArgument}, args...)...)
}

func (h HTTPCamera) port(r *http.Request) (int, error) {
	s := chi.URLParam(r, "port")
	p, err := strconv.Atoi(s)
	if err != nil || p < 0 || p >= h.Store.NumPorts() {
		return 0, badRequest("port %q", s)
	}
	return p, nil
}

func intParam(r *http.Request, key string) (int, error) {
	s := chi.URLParam(r, key)
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, badRequest("%s %q", key, s)
	}
	return i, nil
}

func frameQuery(r *http.Request) (uint32, error) {
	f, err := util.ParseFrame(r.URL.Query().Get("frame"))
	if err != nil {
		return 0, badRequest("%v", err)
	}
	return f, nil
}

func floatQuery(r *http.Request, key string) (float64, error) {
	s := r.URL.Query().Get(key)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, badRequest("%s %q", key, s)
	}
	return f, nil
}

func hashParam(r *http.Request) (uint16, error) {
	h, err := util.ParseHash16(chi.URLParam(r, "hash"))
	if err != nil {
		return 0, badRequest("%v", err)
	}
	return h, nil
}

// waitContext bounds a blocking request by the timeout query parameter
func waitContext(r *http.Request) (context.Context, context.CancelFunc, error) {
	d := DefaultWaitTimeout
	if s := r.URL.Query().Get("timeout"); s != "" {
		var err error
		d, err = time.ParseDuration(s)
		if err != nil || d <= 0 {
			return nil, nil, badRequest("timeout %q", s)
		}
	}
	ctx, cancel := context.WithTimeout(r.Context(), d)
	return ctx, cancel, nil
}

// ReadPar replies with one parameter of a frame
func (h HTTPCamera) ReadPar(w http.ResponseWriter, r *http.Request) {
	port, err := h.port(r)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	frame, err := frameQuery(r)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	name := chi.URLParam(r, "name")
	v, err := h.Store.ReadNamed(port, name, frame)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	generichttp.RespondJSON(w, ParValue{Name: name, Value: v})
}

// ReadMany replies with the parameters named by the comma separated names
// query parameter.  Names that do not resolve are reported, not fatal.
func (h HTTPCamera) ReadMany(w http.ResponseWriter, r *http.Request) {
	port, err := h.port(r)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	frame, err := frameQuery(r)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	q := r.URL.Query().Get("names")
	if q == "" {
		generichttp.Error(w, badRequest("no names given"))
		return
	}
	vals, skipped, err := h.Store.ReadMany(port, strings.Split(q, ","), frame)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	out := ParValues{Values: vals}
	if len(skipped) > 0 {
		out.Skipped = make(map[string]string, len(skipped))
		for k, e := range skipped {
			out.Skipped[k] = e.Error()
		}
	}
	generichttp.RespondJSON(w, out)
}

func writeFlags(r *http.Request) (uint32, error) {
	s := r.URL.Query().Get("flags")
	if s == "" {
		return 0, nil
	}
	u, err := util.ParseUint(s, 32)
	if err != nil {
		return 0, badRequest("flags %q", s)
	}
	return uint32(u), nil
}

func (h HTTPCamera) write(w http.ResponseWriter, r *http.Request, values map[string]uint32) {
	port, err := h.port(r)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	frame, err := frameQuery(r)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	flags, err := writeFlags(r)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	f, skipped, err := h.Store.WriteNamed(port, values, frame, flags)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	generichttp.RespondJSON(w, WriteReply{Frame: f, Skipped: skipped})
}

// WritePar writes one parameter, json {'int': value}
func (h HTTPCamera) WritePar(w http.ResponseWriter, r *http.Request) {
	v := generichttp.IntT{}
	if err := generichttp.DecodeJSON(r, &v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if v.Int < 0 || v.Int > 0xffffffff {
		generichttp.Error(w, badRequest("value %d does not fit 32 bits", v.Int))
		return
	}
	h.write(w, r, map[string]uint32{chi.URLParam(r, "name"): uint32(v.Int)})
}

// WriteMany writes a batch of parameters to the same frame
func (h HTTPCamera) WriteMany(w http.ResponseWriter, r *http.Request) {
	req := WriteRequest{}
	if err := generichttp.DecodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Values) == 0 {
		generichttp.Error(w, badRequest("no values given"))
		return
	}
	h.write(w, r, req.Values)
}

// RawFrame replies with a whole frame record, or the globals for index -2
func (h HTTPCamera) RawFrame(w http.ResponseWriter, r *http.Request) {
	port, err := h.port(r)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	idx, err := intParam(r, "index")
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	words, err := h.Store.RawFrame(port, idx)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	generichttp.RespondJSON(w, words)
}

// Frame replies with the current and last compressed frame
func (h HTTPCamera) Frame(w http.ResponseWriter, r *http.Request) {
	port, err := h.port(r)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	this, err := h.Store.ThisFrame(port)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	comp, err := h.Store.CompressedFrame(port)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	generichttp.RespondJSON(w, FrameReply{This: this, Compressed: comp})
}

// FrameState replies with whether the frame is fresh, pending, retired or expired
func (h HTTPCamera) FrameState(w http.ResponseWriter, r *http.Request) {
	port, err := h.port(r)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	frame, err := frameQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if frame == util.Latest {
		if frame, err = h.Store.ThisFrame(port); err != nil {
			generichttp.Error(w, err)
			return
		}
	}
	st, err := h.Store.FrameState(port, frame)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	generichttp.RespondJSON(w, FrameStateReply{Frame: frame, State: st.String()})
}

// WaitFrame blocks until a frame is reached or a number of frames passed
func (h HTTPCamera) WaitFrame(w http.ResponseWriter, r *http.Request) {
	port, err := h.port(r)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	req := WaitRequest{}
	if err = generichttp.DecodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx, cancel, err := waitContext(r)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	defer cancel()
	var f uint32
	if req.Skip > 0 {
		f, err = h.Store.SkipFrames(ctx, port, req.Skip)
	} else {
		f, err = h.Store.WaitFrame(ctx, port, req.Frame)
	}
	if err != nil {
		if ctx.Err() != nil {
			http.Error(w, err.Error(), http.StatusGatewayTimeout)
			return
		}
		generichttp.Error(w, err)
		return
	}
	generichttp.RespondJSON(w, FrameReply{This: f})
}

// State replies with the combined sensor and compressor state code
func (h HTTPCamera) State(w http.ResponseWriter, r *http.Request) {
	port, err := h.port(r)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	generichttp.GetInt(func() (int, error) { return h.Store.State(port) })(w, r)
}

// Compressor runs, stops or single shots the compressor, json {'str': "run"|"stop"|"single"}
func (h HTTPCamera) Compressor(w http.ResponseWriter, r *http.Request) {
	port, err := h.port(r)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	frame, err := frameQuery(r)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	s := generichttp.StrT{}
	if err = generichttp.DecodeJSON(r, &s); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var f uint32
	switch strings.ToLower(s.Str) {
	case "run":
		f, err = h.Store.CompressorRun(port, frame)
	case "stop":
		f, err = h.Store.CompressorStop(port, frame)
	case "single":
		f, err = h.Store.CompressorSingle(port, frame)
	default:
		err = badRequest("compressor command %q, allowed are run, stop, single", s.Str)
	}
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	generichttp.RespondJSON(w, WriteReply{Frame: f})
}

// Reset reinitializes the sensor of a port
func (h HTTPCamera) Reset(w http.ResponseWriter, r *http.Request) {
	port, err := h.port(r)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	if err = h.Store.ResetSensor(port); err != nil {
		generichttp.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func hashReply(w http.ResponseWriter, h uint16) {
	generichttp.RespondJSON(w, HashReply{Hash16: fmt.Sprintf("%04x", h)})
}

// AddGamma computes and caches the table for (gamma, black)
func (h HTTPCamera) AddGamma(w http.ResponseWriter, r *http.Request) {
	req := GammaRequest{}
	if err := generichttp.DecodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Gamma <= 0 {
		generichttp.Error(w, badRequest("gamma %v must be positive", req.Gamma))
		return
	}
	hash, err := h.Gamma.Add(req.Gamma, req.Black)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	hashReply(w, hash)
}

// AddCustom caches a custom table under the hash of the path, and saves it
// in the library if asked
func (h HTTPCamera) AddCustom(w http.ResponseWriter, r *http.Request) {
	hash, err := hashParam(r)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	req := CustomTable{}
	if err = generichttp.DecodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	switch {
	case req.Raw != nil:
		hash, err = h.Gamma.AddCustomRaw(hash, req.Raw)
	case req.Levels != nil:
		vals := make([]interface{}, len(req.Levels))
		for i, v := range req.Levels {
			vals[i] = v
		}
		hash, err = h.Gamma.AddCustomValues(hash, vals)
	case req.Fractions != nil:
		vals := make([]interface{}, len(req.Fractions))
		for i, v := range req.Fractions {
			vals[i] = v
		}
		hash, err = h.Gamma.AddCustomValues(hash, vals)
	default:
		err = badRequest("no table given")
	}
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	if req.Save {
		if err = h.save(hash, req.Name); err != nil {
			generichttp.Error(w, err)
			return
		}
	}
	hashReply(w, hash)
}

func (h HTTPCamera) save(hash uint16, name string) error {
	if h.Lib == nil {
		return fmt.Errorf("%w: no table library configured", camerr.ErrNotFound)
	}
	t, err := h.Gamma.Get(hash, 1)
	if err != nil {
		return err
	}
	_, err = h.Lib.Save(hash, name, t.Direct[:])
	return err
}

func wantFits(r *http.Request) bool {
	return strings.EqualFold(r.URL.Query().Get("fmt"), "fits")
}

// respondFits encodes with enc, records the file if the recorder is
// enabled, and replies with it
func (h HTTPCamera) respondFits(w http.ResponseWriter, enc func(io.Writer) error) {
	buf := bytes.Buffer{}
	if err := enc(&buf); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.record(func(w io.Writer) error {
		_, err := w.Write(buf.Bytes())
		return err
	})
	w.Header().Set("Content-Type", "image/fits")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (h HTTPCamera) record(enc func(io.Writer) error) {
	if h.Rec == nil || !h.Rec.IsEnabled() {
		return
	}
	if _, err := h.Rec.Record(enc); err != nil {
		log.Println("recording snapshot failed:", err)
	}
}

// GetGamma replies with a cached table at the scale query parameter (default 1)
func (h HTTPCamera) GetGamma(w http.ResponseWriter, r *http.Request) {
	hash, err := hashParam(r)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	scale := 1.0
	if r.URL.Query().Get("scale") != "" {
		if scale, err = floatQuery(r, "scale"); err != nil {
			generichttp.Error(w, err)
			return
		}
	}
	t, err := h.Gamma.Get(hash, scale)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	if wantFits(r) {
		h.respondFits(w, func(w io.Writer) error { return WriteGammaFits(w, t) })
		return
	}
	generichttp.RespondJSON(w, t)
}

// GammaLevel maps the level query parameter through the table applied to
// a frame, forward (sensor to output) or reverse
func (h HTTPCamera) GammaLevel(w http.ResponseWriter, r *http.Request) {
	port, err := h.port(r)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	sub, err := intParam(r, "sub")
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	color, err := intParam(r, "color")
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	frame, err := frameQuery(r)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	level, err := floatQuery(r, "level")
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	var fcn func(port, sub, color int, level float64, frame uint32) (float64, error)
	switch chi.URLParam(r, "direction") {
	case "forward":
		fcn = h.Gamma.Forward
	case "reverse":
		fcn = h.Gamma.Reverse
	default:
		http.NotFound(w, r)
		return
	}
	out, err := fcn(port, sub, color, level, frame)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	hp := generichttp.HumanPayload{T: types.Float64, Float: out}
	hp.EncodeAndRespond(w, r)
}

// Histogram replies with the tables selected by the needed query parameter
// (default all), as JSON or FITS (fmt=fits)
func (h HTTPCamera) Histogram(w http.ResponseWriter, r *http.Request) {
	port, err := h.port(r)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	sub, err := intParam(r, "sub")
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	frame, err := frameQuery(r)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	needed := uint32(driver.HistAll)
	if s := r.URL.Query().Get("needed"); s != "" {
		u, err := util.ParseUint(s, 32)
		if err != nil {
			generichttp.Error(w, badRequest("needed %q", s))
			return
		}
		needed = uint32(u)
	}
	ctx, cancel, err := waitContext(r)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	defer cancel()
	snap, err := h.Hist.Snapshot(ctx, port, sub, needed, frame)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	if wantFits(r) {
		h.respondFits(w, func(w io.Writer) error { return WriteHistogramFits(w, snap) })
		return
	}
	h.record(func(w io.Writer) error { return WriteHistogramFits(w, snap) })
	generichttp.RespondJSON(w, HistReply{
		Port:   snap.Port,
		Sub:    snap.Sub,
		Frame:  snap.Frame,
		Needed: snap.Needed,
		Rows:   rowLabels(snap.Needed),
		Tables: snap.Tables,
	})
}

// HistogramStat replies with the cumulative fraction of pixels below level x,
// or the level below which a fraction x of the pixels are
func (h HTTPCamera) HistogramStat(w http.ResponseWriter, r *http.Request) {
	port, err := h.port(r)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	sub, err := intParam(r, "sub")
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	color, err := intParam(r, "color")
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	frame, err := frameQuery(r)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	x, err := floatQuery(r, "x")
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	var fcn func(ctx context.Context, port, sub, color int, x float64, frame uint32) (float64, error)
	switch chi.URLParam(r, "stat") {
	case "cumulative":
		fcn = h.Hist.CumulativeFraction
	case "percentile":
		fcn = h.Hist.Percentile
	default:
		http.NotFound(w, r)
		return
	}
	ctx, cancel, err := waitContext(r)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	defer cancel()
	out, err := fcn(ctx, port, sub, color, x, frame)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	hp := generichttp.HumanPayload{T: types.Float64, Float: out}
	hp.EncodeAndRespond(w, r)
}

// ListLibrary replies with the saved tables
func (h HTTPCamera) ListLibrary(w http.ResponseWriter, r *http.Request) {
	es, err := h.Lib.List()
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	out := make([]LibraryEntry, len(es))
	for i, e := range es {
		out[i] = LibraryEntry{Hash16: fmt.Sprintf("%04x", e.Hash16), Name: e.Name, Created: e.CreatedAt}
	}
	generichttp.RespondJSON(w, out)
}

// SaveLibrary saves the cached table of the path hash, json {'str': name}.
// Saving a table already in the library under another hash is a conflict.
func (h HTTPCamera) SaveLibrary(w http.ResponseWriter, r *http.Request) {
	hash, err := hashParam(r)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	s := generichttp.StrT{}
	if err = generichttp.DecodeJSON(r, &s); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = h.save(hash, s.Str)
	switch {
	case errors.Is(err, gammalib.ErrDuplicate):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		generichttp.Error(w, err)
	default:
		hashReply(w, hash)
	}
}

// DeleteLibrary removes a table from the library.  The cache is untouched.
func (h HTTPCamera) DeleteLibrary(w http.ResponseWriter, r *http.Request) {
	hash, err := hashParam(r)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	if err = h.Lib.Delete(hash); err != nil {
		generichttp.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

var _ generichttp.HTTPer = HTTPCamera{}
