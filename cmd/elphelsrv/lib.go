package main

import (
	"net/http"

	"github.jpl.nasa.gov/bdube/golab-elphel/generichttp"
	"github.jpl.nasa.gov/bdube/golab-elphel/server/middleware/locker"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
)

// BuildMux binds the routes of the camera under c.Root, behind a lock, and
// adds an /endpoints route listing them
func BuildMux(c config, httper generichttp.HTTPer) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	root.Use(middleware.Recoverer)

	// prepare the URL, "cam/east" => "/cam/east"
	hndlS := generichttp.SubMuxSanitize(c.Root)

	// add a lock interface
	lock := locker.New()
	locker.Inject(httper, lock)

	supergraph := map[string][]string{hndlS: httper.RT().Endpoints()}

	r := chi.NewRouter()
	r.Use(lock.Check)
	httper.RT().Bind(r)
	r.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		generichttp.RespondJSON(w, supergraph)
	})
	root.Mount(hndlS, r)
	return root
}
