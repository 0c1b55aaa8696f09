package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"

	"github.com/packdock/packdock/internal/dcontext"
	"github.com/packdock/packdock/registry/api/errcode"
)

// maxBodySize bounds incoming JSON bodies. Publishes carry the tarball
// base64-encoded inline, so the cap is generous.
const maxBodySize = 512 << 20

func packageName(r *http.Request) string {
	name := mux.Vars(r)["package"]
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	return name
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// okResponse is the body npm expects from successful mutations.
type okResponse struct {
	OK      string `json:"ok"`
	ID      string `json:"id,omitempty"`
	Rev     string `json:"rev,omitempty"`
	Success bool   `json:"success,omitempty"`
}

func readJSON(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errcode.ErrorCodeBadRequest.WithMessage("malformed json request body")
	}
	return nil
}

// handleError renders err as an npm error envelope and logs server-side
// failures.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := errcode.FromError(err)
	if apiErr.Code.Descriptor().HTTPStatusCode >= http.StatusInternalServerError {
		dcontext.GetLogger(r.Context()).Errorf("request failed: %v", err)
	}
	_ = errcode.ServeJSON(w, err)
}

// isDisconnect reports whether the client went away, which is a clean
// termination rather than a server-side failure.
func isDisconnect(r *http.Request) bool {
	return r.Context().Err() != nil
}
