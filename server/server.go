// Package server contains misc server utilities.
package server

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// ReplyWithFile replies to the client request by serving the file fn
// found in fldr.  fn may name a subfolder of fldr but not leave it.
func ReplyWithFile(w http.ResponseWriter, r *http.Request, fn string, fldr string) {
	clean := filepath.Clean("/" + fn)
	if strings.Contains(fn, "..") || clean == "/" {
		http.Error(w, fmt.Sprintf("invalid file name %q", fn), http.StatusBadRequest)
		return
	}
	filePath, err := filepath.Abs(filepath.Join(fldr, clean))
	if err != nil {
		fstr := fmt.Sprintf("unable to compute abspath of file %s %s %s", fldr, fn, err)
		log.Println(fstr)
		http.Error(w, fstr, http.StatusInternalServerError)
		return
	}

	f, err := os.Open(filePath)
	if err != nil {
		fstr := fmt.Sprintf("source file missing %s", filePath)
		http.Error(w, fstr, http.StatusNotFound)
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		fstr := fmt.Sprintf("error retrieving source file stats %s", err)
		log.Println(fstr)
		http.Error(w, fstr, http.StatusNotFound)
		return
	}
	if stat.IsDir() {
		http.Error(w, fmt.Sprintf("%s is a folder", fn), http.StatusBadRequest)
		return
	}
	http.ServeContent(w, r, filepath.Base(filePath), stat.ModTime(), f)
}
