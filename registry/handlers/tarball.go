package handlers

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/packdock/packdock/internal/dcontext"
)

func (app *App) getTarball(w http.ResponseWriter, r *http.Request) {
	name := packageName(r)
	filename := mux.Vars(r)["filename"]

	rc, err := app.store.GetTarball(r.Context(), name, filename)
	if err != nil {
		handleError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, rc); err != nil && !isDisconnect(r) {
		// Headers are long gone; all that is left is the log.
		dcontext.GetLogger(r.Context()).Errorf("streaming tarball %s: %v", filename, err)
	}
}

func (app *App) deleteTarball(w http.ResponseWriter, r *http.Request) {
	name := packageName(r)
	vars := mux.Vars(r)
	if err := app.store.RemoveTarball(r.Context(), name, vars["filename"], vars["rev"]); err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, okResponse{OK: "tarball removed", Success: true})
}
