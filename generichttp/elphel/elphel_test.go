package elphel_test

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/google/go-cmp/cmp"
	"github.com/sugawarayuuta/sonnet"
	"github.jpl.nasa.gov/bdube/golab-elphel/camera"
	"github.jpl.nasa.gov/bdube/golab-elphel/gamma"
	"github.jpl.nasa.gov/bdube/golab-elphel/gammalib"
	"github.jpl.nasa.gov/bdube/golab-elphel/generichttp"
	"github.jpl.nasa.gov/bdube/golab-elphel/generichttp/elphel"
	"github.jpl.nasa.gov/bdube/golab-elphel/imgrec"
	"github.jpl.nasa.gov/bdube/golab-elphel/sim"
)

type fixture struct {
	cam *sim.Camera
	h   elphel.HTTPCamera
	mux http.Handler
}

func setup(t *testing.T) fixture {
	t.Helper()
	cam := sim.NewDefault()
	c, err := camera.Open(cam, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	lib, err := gammalib.Open(filepath.Join(t.TempDir(), "gamma.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { lib.Close() })
	rec := imgrec.New(t.TempDir(), "elphel")
	h := elphel.NewHTTPCamera(c, lib, rec)
	r := chi.NewRouter()
	h.RT().Bind(r)
	cam.Advance()
	cam.Advance()
	return fixture{cam: cam, h: h, mux: r}
}

func (f fixture) do(t *testing.T, method, path, body string, out interface{}) int {
	t.Helper()
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
	if out != nil && w.Code == http.StatusOK {
		if err := sonnet.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decoding %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w.Code
}

func (f fixture) advanceTo(frame uint32) {
	for f.cam.ThisFrame() < frame {
		f.cam.Advance()
	}
}

func TestWriteThenRead(t *testing.T) {
	f := setup(t)
	var wr elphel.WriteReply
	if c := f.do(t, http.MethodPost, "/0/pars/QUALITY", `{"int":77}`, &wr); c != http.StatusOK {
		t.Fatalf("write: status %d", c)
	}
	f.advanceTo(wr.Frame)
	var pv elphel.ParValue
	if c := f.do(t, http.MethodGet, fmt.Sprintf("/0/pars/QUALITY?frame=%d", wr.Frame), "", &pv); c != http.StatusOK {
		t.Fatalf("read: status %d", c)
	}
	if pv.Value != 77 {
		t.Errorf("expected 77 got %d", pv.Value)
	}
}

func TestBatchWriteRead(t *testing.T) {
	f := setup(t)
	var wr elphel.WriteReply
	body := `{"values":{"EXPOS":1500,"GAINR":3,"NOPE":1}}`
	if c := f.do(t, http.MethodPost, "/0/pars", body, &wr); c != http.StatusOK {
		t.Fatalf("write: status %d", c)
	}
	if diff := cmp.Diff([]string{"NOPE"}, wr.Skipped); diff != "" {
		t.Errorf("skipped (-want +got):\n%s", diff)
	}
	f.advanceTo(wr.Frame)
	var pv elphel.ParValues
	path := fmt.Sprintf("/0/pars?names=EXPOS,GAINR,NOPE&frame=%d", wr.Frame)
	if c := f.do(t, http.MethodGet, path, "", &pv); c != http.StatusOK {
		t.Fatalf("read: status %d", c)
	}
	if diff := cmp.Diff(map[string]uint32{"EXPOS": 1500, "GAINR": 3}, pv.Values); diff != "" {
		t.Errorf("values (-want +got):\n%s", diff)
	}
	if _, ok := pv.Skipped["NOPE"]; !ok {
		t.Errorf("expected NOPE to be reported, got %v", pv.Skipped)
	}
}

func TestErrorCodes(t *testing.T) {
	f := setup(t)
	cases := []struct {
		method, path, body string
		code               int
	}{
		{http.MethodGet, "/0/pars/NOT_A_PARAMETER", "", http.StatusNotFound},
		{http.MethodGet, "/9/pars/EXPOS", "", http.StatusBadRequest},
		{http.MethodGet, "/0/pars/EXPOS?frame=abc", "", http.StatusBadRequest},
		{http.MethodGet, "/0/pars/EXPOS?frame=0x7fff0000", "", http.StatusTooEarly},
		{http.MethodGet, "/gamma/beef", "", http.StatusNotFound},
		{http.MethodPost, "/0/compressor", `{"str":"explode"}`, http.StatusBadRequest},
		{http.MethodPost, "/gamma", `{"gamma":0}`, http.StatusBadRequest},
		{http.MethodPost, "/gamma/custom/ff01", `{"raw":[1,2,3]}`, http.StatusBadRequest},
	}
	for _, c := range cases {
		if got := f.do(t, c.method, c.path, c.body, nil); got != c.code {
			t.Errorf("%s %s: expected %d got %d", c.method, c.path, c.code, got)
		}
	}
}

func TestFrameAndWait(t *testing.T) {
	f := setup(t)
	var fr elphel.FrameReply
	if c := f.do(t, http.MethodGet, "/0/frame", "", &fr); c != http.StatusOK {
		t.Fatalf("status %d", c)
	}
	if fr.This != f.cam.ThisFrame() {
		t.Errorf("expected frame %d got %d", f.cam.ThisFrame(), fr.This)
	}
	// a frame already passed returns at once
	var wr elphel.FrameReply
	if c := f.do(t, http.MethodPost, "/0/frame/wait", fmt.Sprintf(`{"frame":%d}`, fr.This), &wr); c != http.StatusOK {
		t.Fatalf("wait: status %d", c)
	}
	if wr.This < fr.This {
		t.Errorf("wait returned frame %d before %d", wr.This, fr.This)
	}
	c := f.do(t, http.MethodPost, "/0/frame/wait?timeout=20ms", fmt.Sprintf(`{"frame":%d}`, fr.This+100), nil)
	if c != http.StatusGatewayTimeout {
		t.Errorf("expected a timeout, got %d", c)
	}
}

func TestFrameState(t *testing.T) {
	f := setup(t)
	this := f.cam.ThisFrame()
	state := func(q string) string {
		t.Helper()
		var sr elphel.FrameStateReply
		if c := f.do(t, http.MethodGet, "/0/frame/state?frame="+q, "", &sr); c != http.StatusOK {
			t.Fatalf("frame %q: status %d", q, c)
		}
		return sr.State
	}
	if st := state(""); st != "fresh" {
		t.Errorf("latest frame: expected fresh got %s", st)
	}
	if st := state(fmt.Sprint(this + 1000)); st != "pending" {
		t.Errorf("far frame: expected pending got %s", st)
	}
	f.advanceTo(this + 20)
	if st := state(fmt.Sprint(this)); st != "retired" {
		t.Errorf("old frame: expected retired got %s", st)
	}
}

func TestGammaRoutes(t *testing.T) {
	f := setup(t)
	var hr elphel.HashReply
	if c := f.do(t, http.MethodPost, "/gamma", `{"gamma":0.57,"black":10}`, &hr); c != http.StatusOK {
		t.Fatalf("add: status %d", c)
	}
	_, h := gamma.Calc(0.57, 10)
	if hr.Hash16 != fmt.Sprintf("%04x", h) {
		t.Errorf("expected hash %04x got %s", h, hr.Hash16)
	}
	var tab gamma.Table
	if c := f.do(t, http.MethodGet, "/gamma/"+hr.Hash16, "", &tab); c != http.StatusOK {
		t.Fatalf("get: status %d", c)
	}
	exp, _ := gamma.Calc(0.57, 10)
	if diff := cmp.Diff(exp, tab.Direct); diff != "" {
		t.Errorf("table (-want +got):\n%s", diff)
	}

	// once the frames carry it, levels map through it
	for i := 0; i < 4; i++ {
		f.cam.Advance()
	}
	var fwd, rev generichttp.FloatT
	if c := f.do(t, http.MethodGet, "/0/gamma/0/1/forward?level=0.5", "", &fwd); c != http.StatusOK {
		t.Fatalf("forward: status %d", c)
	}
	if c := f.do(t, http.MethodGet, fmt.Sprintf("/0/gamma/0/1/reverse?level=%v", fwd.F64), "", &rev); c != http.StatusOK {
		t.Fatalf("reverse: status %d", c)
	}
	if d := rev.F64 - 0.5; d > 2./256 || d < -2./256 {
		t.Errorf("round trip of 0.5 gave %v", rev.F64)
	}
}

func TestCustomTableAndLibrary(t *testing.T) {
	f := setup(t)
	levels := make([]string, gamma.Len)
	for i := range levels {
		levels[i] = fmt.Sprint(i * 255 / 256)
	}
	body := `{"levels":[` + strings.Join(levels, ",") + `],"name":"linear","save":true}`
	var hr elphel.HashReply
	if c := f.do(t, http.MethodPost, "/gamma/custom/ff01", body, &hr); c != http.StatusOK {
		t.Fatalf("custom: status %d", c)
	}
	var es []elphel.LibraryEntry
	if c := f.do(t, http.MethodGet, "/gamma/library", "", &es); c != http.StatusOK {
		t.Fatalf("library: status %d", c)
	}
	if len(es) != 1 || es[0].Hash16 != "ff01" || es[0].Name != "linear" {
		t.Errorf("unexpected library %v", es)
	}
	// the same table under another hash is a conflict
	f.do(t, http.MethodPost, "/gamma/custom/ff02", `{"levels":[`+strings.Join(levels, ",")+`]}`, nil)
	if c := f.do(t, http.MethodPost, "/gamma/library/ff02", `{"str":"copy"}`, nil); c != http.StatusConflict {
		t.Errorf("expected 409 got %d", c)
	}
	if c := f.do(t, http.MethodDelete, "/gamma/library/ff01", "", nil); c != http.StatusOK {
		t.Errorf("delete: status %d", c)
	}
	if c := f.do(t, http.MethodDelete, "/gamma/library/ff01", "", nil); c != http.StatusNotFound {
		t.Errorf("second delete: expected 404 got %d", c)
	}
}

func TestHistogramRoutes(t *testing.T) {
	f := setup(t)
	var hr elphel.HistReply
	if c := f.do(t, http.MethodGet, "/0/histogram/0?needed=0x022", "", &hr); c != http.StatusOK {
		t.Fatalf("histogram: status %d", c)
	}
	if diff := cmp.Diff([]string{"HIST_G", "CUMUL_G"}, hr.Rows); diff != "" {
		t.Errorf("rows (-want +got):\n%s", diff)
	}
	if len(hr.Tables) != 512 {
		t.Errorf("expected two tables, got %d values", len(hr.Tables))
	}
	if hr.Frame != f.cam.ThisFrame()-1 {
		t.Errorf("expected the last finished frame %d, got %d", f.cam.ThisFrame()-1, hr.Frame)
	}

	var cf, pc generichttp.FloatT
	if c := f.do(t, http.MethodGet, "/0/histogram/0/1/percentile?x=0.5", "", &pc); c != http.StatusOK {
		t.Fatalf("percentile: status %d", c)
	}
	if c := f.do(t, http.MethodGet, fmt.Sprintf("/0/histogram/0/1/cumulative?x=%v", pc.F64), "", &cf); c != http.StatusOK {
		t.Fatalf("cumulative: status %d", c)
	}
	if d := cf.F64 - 0.5; d > 0.05 || d < -0.05 {
		t.Errorf("the median level %v holds a fraction %v", pc.F64, cf.F64)
	}
}

func TestHistogramFitsIsRecorded(t *testing.T) {
	f := setup(t)
	f.h.Rec.SetEnabled(true)
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/0/histogram/0?needed=0x00f&fmt=fits", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("SIMPLE  =")) {
		t.Errorf("the reply is not a FITS file: %q", w.Body.Bytes()[:16])
	}
	files, err := f.h.Rec.Files()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Errorf("expected one recorded file, got %v", files)
	}
}

func TestCompressorAndState(t *testing.T) {
	f := setup(t)
	var wr elphel.WriteReply
	if c := f.do(t, http.MethodPost, "/0/compressor", `{"str":"run"}`, &wr); c != http.StatusOK {
		t.Fatalf("compressor: status %d", c)
	}
	f.advanceTo(wr.Frame + 1)
	var st generichttp.IntT
	if c := f.do(t, http.MethodGet, "/0/state", "", &st); c != http.StatusOK {
		t.Fatalf("state: status %d", c)
	}
	var raw []uint32
	if c := f.do(t, http.MethodGet, "/0/raw/-2", "", &raw); c != http.StatusOK {
		t.Fatalf("raw: status %d", c)
	}
	if len(raw) == 0 {
		t.Error("no globals returned")
	}
}
