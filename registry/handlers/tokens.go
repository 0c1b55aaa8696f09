package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/opencontainers/go-digest"

	"github.com/packdock/packdock"
	"github.com/packdock/packdock/registry/api/errcode"
	storagedriver "github.com/packdock/packdock/registry/storage/driver"
)

// tokenUser resolves the acting user. There is no auth layer in front of
// the engine, so the caller identifies itself via a header; deployments
// front this with their own authentication proxy.
func tokenUser(r *http.Request) string {
	if user := r.Header.Get("X-Packdock-User"); user != "" {
		return user
	}
	return "anonymous"
}

func (app *App) requireTokenStore(w http.ResponseWriter, r *http.Request) (storagedriver.TokenStore, bool) {
	if app.tokens == nil {
		handleError(w, r, fmt.Errorf("token storage: %w", packdock.ErrUnsupported))
		return nil, false
	}
	return app.tokens, true
}

type tokenListResponse struct {
	Objects []storagedriver.Token `json:"objects"`
	Total   int                   `json:"total"`
}

func (app *App) listTokens(w http.ResponseWriter, r *http.Request) {
	store, ok := app.requireTokenStore(w, r)
	if !ok {
		return
	}
	tokens, err := store.ReadTokens(r.Context(), tokenUser(r))
	if err != nil {
		handleError(w, r, err)
		return
	}
	// The secret never leaves the server once created.
	for i := range tokens {
		tokens[i].Token = ""
	}
	writeJSON(w, http.StatusOK, tokenListResponse{Objects: tokens, Total: len(tokens)})
}

type createTokenRequest struct {
	Readonly bool `json:"readonly"`
}

func (app *App) createToken(w http.ResponseWriter, r *http.Request) {
	store, ok := app.requireTokenStore(w, r)
	if !ok {
		return
	}
	var req createTokenRequest
	if err := readJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		handleError(w, r, err)
		return
	}
	value := hex.EncodeToString(secret)

	token := storagedriver.Token{
		User:     tokenUser(r),
		// The key is the digest of the secret: it identifies the token
		// in listings and deletes without storing anything sensitive.
		Key:      digest.FromString(value).Encoded(),
		Token:    value,
		Readonly: req.Readonly,
		Created:  time.Now().UnixMilli(),
	}
	if err := store.SaveToken(r.Context(), token); err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, token)
}

func (app *App) deleteToken(w http.ResponseWriter, r *http.Request) {
	store, ok := app.requireTokenStore(w, r)
	if !ok {
		return
	}
	key := mux.Vars(r)["key"]
	if key == "" {
		handleError(w, r, errcode.ErrorCodeBadRequest.WithMessage("token key expected"))
		return
	}
	if err := store.DeleteToken(r.Context(), tokenUser(r), key); err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: "token removed", Success: true})
}
