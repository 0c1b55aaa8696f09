package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/packdock/packdock/registry/api/errcode"
	"github.com/packdock/packdock/registry/federation"
)

func (app *App) listDistTags(w http.ResponseWriter, r *http.Request) {
	name := packageName(r)
	manifest, err := app.store.GetPackage(r.Context(), name, federation.GetOptions{UplinksLook: true})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, manifest.DistTags)
}

// replaceDistTags handles PUT/POST of a whole dist-tags map.
func (app *App) replaceDistTags(w http.ResponseWriter, r *http.Request) {
	name := packageName(r)
	var tags map[string]string
	if err := readJSON(r, &tags); err != nil {
		handleError(w, r, err)
		return
	}
	if err := app.store.MergeTags(r.Context(), name, tags); err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, okResponse{OK: "tags updated", Success: true})
}

// putDistTag points one tag at the version given as a JSON string body.
func (app *App) putDistTag(w http.ResponseWriter, r *http.Request) {
	name := packageName(r)
	tag := mux.Vars(r)["tag"]
	version, err := readTagBody(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if err := app.store.MergeTags(r.Context(), name, map[string]string{tag: version}); err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, okResponse{OK: "tags updated", Success: true})
}

func (app *App) deleteDistTag(w http.ResponseWriter, r *http.Request) {
	name := packageName(r)
	tag := mux.Vars(r)["tag"]
	// An empty version removes the tag.
	if err := app.store.MergeTags(r.Context(), name, map[string]string{tag: ""}); err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, okResponse{OK: "tag removed", Success: true})
}

// putTag implements the legacy PUT /{pkg}/{tag} with the version as a
// quoted or raw string body.
func (app *App) putTag(w http.ResponseWriter, r *http.Request) {
	name := packageName(r)
	tag := mux.Vars(r)["tag"]
	version, err := readTagBody(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if err := app.store.MergeTags(r.Context(), name, map[string]string{tag: version}); err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, okResponse{OK: "tags updated", Success: true})
}

func readTagBody(r *http.Request) (string, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		return "", err
	}
	version := strings.TrimSpace(string(body))
	version = strings.Trim(version, `"`)
	if version == "" {
		return "", errcode.ErrorCodeBadRequest.WithMessage("version body expected")
	}
	return version, nil
}
