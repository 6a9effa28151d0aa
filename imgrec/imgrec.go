// Package imgrec contains a recorder used to automatically save FITS snapshots to disk.
package imgrec

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.jpl.nasa.gov/bdube/golab-elphel/generichttp"
	"github.jpl.nasa.gov/bdube/golab-elphel/server"
)

// Recorder records snapshots with incrementing filenames in yyyy-mm-dd subfolders.
// It is safe for concurrent use once constructed.
type Recorder struct {
	mu sync.Mutex

	// Root is the root path
	Root string

	// Prefix is the prefix for the filenames
	Prefix string

	// Enabled is a flag unused by this struct that allows consumers to disable its use in their code
	Enabled bool

	// now is replaced in tests
	now func() time.Time
}

// New returns a disabled recorder writing under root
func New(root, prefix string) *Recorder {
	return &Recorder{Root: root, Prefix: prefix, now: time.Now}
}

func (r *Recorder) timeFldr() string {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	y, m, d := now().Date()
	return fmt.Sprintf("%04d-%02d-%02d", y, m, d)
}

// next scans the folder of today for the highest counter with the current prefix
func (r *Recorder) next(dn string) (int, error) {
	files, err := os.ReadDir(dn)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, file := range files {
		// skip directories, non-fits, and wrong prefix
		if file.IsDir() {
			continue
		}
		fn := file.Name()
		if !strings.HasSuffix(fn, ".fits") || !strings.HasPrefix(fn, r.Prefix) {
			continue
		}
		bit := strings.TrimSuffix(strings.TrimPrefix(fn, r.Prefix), ".fits")
		n, err := strconv.Atoi(bit)
		if err != nil {
			continue
		}
		if count < n {
			count = n
		}
	}
	return count + 1, nil
}

// Record creates the next file and calls write with it.  The name of the
// file relative to Root is returned.  A file write fails on is removed.
func (r *Recorder) Record(write func(io.Writer) error) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub := r.timeFldr()
	fldr := filepath.Join(r.Root, sub)
	if err := os.MkdirAll(fldr, 0777); err != nil {
		return "", err
	}
	n, err := r.next(fldr)
	if err != nil {
		return "", err
	}
	fn := fmt.Sprintf("%s%06d.fits", r.Prefix, n)
	path := filepath.Join(fldr, fn)
	fid, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0666)
	if err != nil {
		return "", err
	}
	err = write(fid)
	if err2 := fid.Close(); err == nil {
		err = err2
	}
	if err != nil {
		os.Remove(path)
		return "", err
	}
	return filepath.ToSlash(filepath.Join(sub, fn)), nil
}

// Files lists the recorded files relative to Root, oldest folder first
func (r *Recorder) Files() ([]string, error) {
	r.mu.Lock()
	root, prefix := r.Root, r.Prefix
	r.mu.Unlock()
	var out []string
	fldrs, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, err
	}
	for _, fldr := range fldrs {
		if !fldr.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(root, fldr.Name()))
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			fn := f.Name()
			if !f.IsDir() && strings.HasPrefix(fn, prefix) && strings.HasSuffix(fn, ".fits") {
				out = append(out, fldr.Name()+"/"+fn)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// SetRoot changes the root folder, creating it
func (r *Recorder) SetRoot(root string) error {
	if err := os.MkdirAll(root, 0777); err != nil {
		return err
	}
	r.mu.Lock()
	r.Root = root
	r.mu.Unlock()
	return nil
}

// GetRoot returns the root folder
func (r *Recorder) GetRoot() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Root
}

// SetPrefix changes the filename prefix
func (r *Recorder) SetPrefix(p string) error {
	if strings.ContainsAny(p, `/\`) {
		return fmt.Errorf("prefix %q contains a path separator", p)
	}
	r.mu.Lock()
	r.Prefix = p
	r.mu.Unlock()
	return nil
}

// GetPrefix returns the filename prefix
func (r *Recorder) GetPrefix() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Prefix
}

// SetEnabled sets Enabled
func (r *Recorder) SetEnabled(b bool) {
	r.mu.Lock()
	r.Enabled = b
	r.mu.Unlock()
}

// IsEnabled returns Enabled
func (r *Recorder) IsEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Enabled
}

// HTTPWrapper is an HTTP wrapper around a recorder that allows the folder and prefix to be changed on the fly
//
// it does not implement generichttp.HTTPer, offering an Inject method allowing it to be injected
// into another HTTPer
type HTTPWrapper struct {
	*Recorder
}

// NewHTTPWrapper returns an HTTP wrapper around a recorder
func NewHTTPWrapper(r *Recorder) HTTPWrapper {
	return HTTPWrapper{r}
}

// ListFiles replies with the recorded files as a JSON array
func (h HTTPWrapper) ListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.Recorder.Files()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.RespondJSON(w, files)
}

// GetFile serves one recorded file
func (h HTTPWrapper) GetFile(w http.ResponseWriter, r *http.Request) {
	server.ReplyWithFile(w, r, chi.URLParam(r, "*"), h.Recorder.GetRoot())
}

// Inject adds GET and POST routes for /autowrite/root, /autowrite/prefix and
// /autowrite/enabled, and GET routes for /autowrite/files, to the HTTPer
func (h HTTPWrapper) Inject(other generichttp.HTTPer) {
	rec := h.Recorder
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/root"}] = generichttp.SetString(rec.SetRoot)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/root"}] = generichttp.GetString(func() (string, error) { return rec.GetRoot(), nil })
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/prefix"}] = generichttp.SetString(rec.SetPrefix)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/prefix"}] = generichttp.GetString(func() (string, error) { return rec.GetPrefix(), nil })
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/enabled"}] = generichttp.SetBool(func(b bool) error { rec.SetEnabled(b); return nil })
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/enabled"}] = generichttp.GetBool(func() (bool, error) { return rec.IsEnabled(), nil })
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/files"}] = h.ListFiles
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/files/*"}] = h.GetFile
}
