package imgrec

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/google/go-cmp/cmp"
	"github.jpl.nasa.gov/bdube/golab-elphel/generichttp"
)

func fixed(r *Recorder) {
	r.now = func() time.Time { return time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC) }
}

func writeStr(s string) func(io.Writer) error {
	return func(w io.Writer) error {
		_, err := io.WriteString(w, s)
		return err
	}
}

func TestRecordIncrements(t *testing.T) {
	r := New(t.TempDir(), "hist")
	fixed(r)
	var names []string
	for _, s := range []string{"a", "b", "c"} {
		fn, err := r.Record(writeStr(s))
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, fn)
	}
	exp := []string{"2026-03-04/hist000001.fits", "2026-03-04/hist000002.fits", "2026-03-04/hist000003.fits"}
	if diff := cmp.Diff(exp, names); diff != "" {
		t.Errorf("names (-want +got):\n%s", diff)
	}
	buf, err := os.ReadFile(filepath.Join(r.Root, names[1]))
	if err != nil {
		t.Fatal(err)
	}
	if string(buf) != "b" {
		t.Errorf("expected b got %q", buf)
	}
	files, err := r.Files()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(exp, files); diff != "" {
		t.Errorf("files (-want +got):\n%s", diff)
	}
}

func TestRecordFailureRemovesFile(t *testing.T) {
	r := New(t.TempDir(), "g")
	fixed(r)
	_, err := r.Record(func(io.Writer) error { return errors.New("boom") })
	if err == nil {
		t.Fatal("expected the write error")
	}
	files, _ := r.Files()
	if len(files) != 0 {
		t.Errorf("expected no files, got %v", files)
	}
}

type table generichttp.RouteTable

func (t table) RT() generichttp.RouteTable { return generichttp.RouteTable(t) }

func TestHTTPWrapper(t *testing.T) {
	r := New(t.TempDir(), "h")
	fixed(r)
	rt := table{}
	NewHTTPWrapper(r).Inject(rt)
	mux := chi.NewRouter()
	rt.RT().Bind(mux)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
		return w
	}
	if w := do(http.MethodPost, "/autowrite/prefix", `{"str":"snap"}`); w.Code != http.StatusOK {
		t.Fatalf("setting the prefix: %d %s", w.Code, w.Body.String())
	}
	if w := do(http.MethodPost, "/autowrite/prefix", `{"str":"a/b"}`); w.Code == http.StatusOK {
		t.Error("a prefix with a separator was accepted")
	}
	if w := do(http.MethodPost, "/autowrite/enabled", `{"bool":true}`); w.Code != http.StatusOK || !r.IsEnabled() {
		t.Error("enabling the recorder failed")
	}
	fn, err := r.Record(writeStr("SIMPLE"))
	if err != nil {
		t.Fatal(err)
	}
	w := do(http.MethodGet, "/autowrite/files", "")
	if body := strings.TrimSpace(w.Body.String()); body != `["`+fn+`"]` {
		t.Errorf("unexpected listing %s", body)
	}
	w = do(http.MethodGet, "/autowrite/files/"+fn, "")
	if w.Code != http.StatusOK || w.Body.String() != "SIMPLE" {
		t.Errorf("downloading %s: %d %q", fn, w.Code, w.Body.String())
	}
}
