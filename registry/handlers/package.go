package handlers

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/packdock/packdock"
	"github.com/packdock/packdock/internal/dcontext"
	"github.com/packdock/packdock/registry/api/errcode"
	"github.com/packdock/packdock/registry/federation"
)

func (app *App) ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{})
}

func (app *App) getPackage(w http.ResponseWriter, r *http.Request) {
	name := packageName(r)
	manifest, err := app.store.GetPackageManifest(r.Context(), name, federation.GetOptions{
		UplinksLook: true,
		Request:     app.requestOptions(r),
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, manifest)
}

func (app *App) getVersion(w http.ResponseWriter, r *http.Request) {
	name := packageName(r)
	version := mux.Vars(r)["version"]
	ver, err := app.store.GetPackageByVersion(r.Context(), name, version, federation.GetOptions{
		UplinksLook: true,
		Request:     app.requestOptions(r),
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ver)
}

// publishRequest is the body npm sends on PUT /{pkg}: a manifest carrying
// the versions being published plus their tarballs base64-encoded inline.
type publishRequest struct {
	packdock.Manifest
	Attachments map[string]inlineAttachment `json:"_attachments"`
}

type inlineAttachment struct {
	ContentType string `json:"content_type,omitempty"`
	Data        string `json:"data"`
	Length      int64  `json:"length,omitempty"`
}

// publish handles both publishes (body carries _attachments) and npm
// deprecate/owner updates, which arrive as the same PUT without
// attachments but with a _rev.
func (app *App) publish(w http.ResponseWriter, r *http.Request) {
	name := packageName(r)
	var incoming publishRequest
	if err := readJSON(r, &incoming); err != nil {
		handleError(w, r, err)
		return
	}
	if incoming.Name != "" && incoming.Name != name {
		handleError(w, r, errcode.ErrorCodeBadRequest.WithMessage("package name does not match url"))
		return
	}

	if len(incoming.Attachments) == 0 {
		if incoming.Rev != "" {
			app.applyChange(w, r, name, &incoming.Manifest, incoming.Rev)
			return
		}
		handleError(w, r, errcode.ErrorCodeBadData.WithMessage("nothing to publish"))
		return
	}

	if len(incoming.Versions) != 1 || len(incoming.Attachments) != 1 {
		handleError(w, r, errcode.ErrorCodeBadData.WithMessage("exactly one version and one attachment expected"))
		return
	}

	var version string
	var ver packdock.Version
	for v, data := range incoming.Versions {
		version, ver = v, data
	}

	var filename string
	var attachment inlineAttachment
	for f, data := range incoming.Attachments {
		filename, attachment = f, data
	}

	payload, err := base64.StdEncoding.DecodeString(attachment.Data)
	if err != nil {
		handleError(w, r, errcode.ErrorCodeBadData.WithMessage("attachment is not valid base64"))
		return
	}
	if attachment.Length > 0 && int64(len(payload)) != attachment.Length {
		handleError(w, r, errcode.ErrorCodeBadData.WithMessage(
			fmt.Sprintf("attachment length mismatch: announced %d, got %d", attachment.Length, len(payload))))
		return
	}

	// The recorded checksum is always computed from the uploaded bytes. A
	// client-announced shasum is only ever a cross-check.
	sum := sha1.Sum(payload)
	shasum := hex.EncodeToString(sum[:])
	if ver.Dist.Shasum != "" && ver.Dist.Shasum != shasum {
		handleError(w, r, errcode.ErrorCodeBadData.WithMessage(
			fmt.Sprintf("shasum mismatch for %s: announced %s, got %s", filename, ver.Dist.Shasum, shasum)))
		return
	}
	ver.Dist.Shasum = shasum

	fw, err := app.store.AddTarball(r.Context(), name, filename)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if _, err := fw.Write(payload); err == nil {
		err = fw.Commit(r.Context())
	}
	fw.Close()
	if err != nil {
		handleError(w, r, err)
		return
	}

	tag := ""
	for t, v := range incoming.DistTags {
		if v == version {
			tag = t
			break
		}
	}

	if err := app.store.AddVersion(r.Context(), name, version, ver, tag); err != nil {
		// The version did not go in; drop the orphaned tarball.
		if delErr := app.store.Local().Driver().DeleteTarball(r.Context(), name, filename); delErr != nil {
			dcontext.GetLogger(r.Context()).Warnf("leaving orphaned tarball %s: %v", filename, delErr)
		}
		handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, okResponse{OK: "created new package", Success: true})
}

// changePackage handles PUT /{pkg}/-rev/{rev}: unpublish of single
// versions, deprecation and owner changes.
func (app *App) changePackage(w http.ResponseWriter, r *http.Request) {
	name := packageName(r)
	var incoming packdock.Manifest
	if err := readJSON(r, &incoming); err != nil {
		handleError(w, r, err)
		return
	}
	app.applyChange(w, r, name, &incoming, mux.Vars(r)["rev"])
}

func (app *App) applyChange(w http.ResponseWriter, r *http.Request, name string, incoming *packdock.Manifest, rev string) {
	if err := app.store.ChangePackage(r.Context(), name, incoming, rev); err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, okResponse{OK: "package changed", Success: true})
}

func (app *App) removePackage(w http.ResponseWriter, r *http.Request) {
	name := packageName(r)
	if err := app.store.RemovePackage(r.Context(), name); err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, okResponse{OK: "package removed", Success: true})
}
