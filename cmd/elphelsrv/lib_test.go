package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sugawarayuuta/sonnet"
	"github.jpl.nasa.gov/bdube/golab-elphel/camera"
	"github.jpl.nasa.gov/bdube/golab-elphel/generichttp/elphel"
	"github.jpl.nasa.gov/bdube/golab-elphel/sim"
)

func testMux(t *testing.T, stem string) http.Handler {
	t.Helper()
	cam := sim.NewDefault()
	c, err := camera.Open(cam, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	cam.Advance()
	return BuildMux(config{Root: stem}, elphel.NewHTTPCamera(c, nil, nil))
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
	return w
}

func TestEndpoints(t *testing.T) {
	mux := testMux(t, "cam/east")
	w := do(mux, http.MethodGet, "/cam/east/endpoints", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	graph := map[string][]string{}
	if err := sonnet.Unmarshal(w.Body.Bytes(), &graph); err != nil {
		t.Fatal(err)
	}
	eps := graph["/cam/east"]
	found := false
	for _, e := range eps {
		if e == "POST /lock" {
			found = true
		}
	}
	if !found {
		t.Errorf("the lock route is not listed in %v", eps)
	}
}

func TestLockedWritesAreRefused(t *testing.T) {
	mux := testMux(t, "/")
	if w := do(mux, http.MethodPost, "/lock", `{"bool":true}`); w.Code != http.StatusOK {
		t.Fatalf("locking: %d", w.Code)
	}
	if w := do(mux, http.MethodPost, "/0/pars/QUALITY", `{"int":50}`); w.Code != http.StatusLocked {
		t.Errorf("expected 423 got %d", w.Code)
	}
	if w := do(mux, http.MethodGet, "/0/pars/QUALITY", ""); w.Code != http.StatusOK {
		t.Errorf("reads should pass the lock, got %d", w.Code)
	}
}

func TestResolverFromFile(t *testing.T) {
	if _, err := resolver("does-not-exist.yml"); err == nil {
		t.Error("expected an error for a missing name table")
	}
	r, err := resolver("")
	if err != nil {
		t.Fatal(err)
	}
	if _, err = r.Resolve("EXPOS"); err != nil {
		t.Error(err)
	}
}
