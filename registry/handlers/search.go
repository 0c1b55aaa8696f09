package handlers

import (
	"net/http"

	"github.com/packdock/packdock/registry/federation"
)

// searchResult mirrors the public registry's /-/v1/search response shape.
type searchResult struct {
	Objects []searchObject `json:"objects"`
	Total   int            `json:"total"`
	Time    string         `json:"time,omitempty"`
}

type searchObject struct {
	Package federation.SearchPackageBody `json:"package"`
}

func (app *App) search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("text")

	result := searchResult{Objects: []searchObject{}}
	err := app.store.Search(r.Context(), query, func(body federation.SearchPackageBody) error {
		result.Objects = append(result.Objects, searchObject{Package: body})
		return nil
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	result.Total = len(result.Objects)
	writeJSON(w, http.StatusOK, result)
}
