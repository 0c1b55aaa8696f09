package errcode

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/packdock/packdock"
)

// envelope is the error body npm clients understand.
type envelope struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// FromError maps an error from the engine onto an API error. Errors that
// already carry a code pass through; typed engine errors translate to
// their registered code; everything else is an internal error.
func FromError(err error) Error {
	var coded Error
	if errors.As(err, &coded) {
		return coded
	}
	var code ErrorCode
	if errors.As(err, &code) {
		return code.WithMessage(code.Message())
	}

	var (
		pkgUnknown    packdock.ErrPackageUnknown
		verUnknown    packdock.ErrVersionUnknown
		tarUnknown    packdock.ErrTarballUnknown
		tagUnknown    packdock.ErrTagUnknown
		verExists     packdock.ErrVersionExists
		revMismatch   packdock.ErrRevisionMismatch
		shaMismatch   packdock.ErrShasumMismatch
		badManifest   packdock.ErrManifestInvalid
		nameInvalid   packdock.ErrNameInvalid
		shortTransfer packdock.ErrContentMismatch
	)
	switch {
	case errors.As(err, &pkgUnknown):
		return ErrorCodePackageUnknown.WithMessage(ErrorCodePackageUnknown.Message())
	case errors.As(err, &verUnknown):
		return ErrorCodeVersionUnknown.WithArgs(verUnknown.Version)
	case errors.As(err, &tarUnknown):
		return ErrorCodeTarballUnknown.WithMessage(ErrorCodeTarballUnknown.Message())
	case errors.As(err, &tagUnknown):
		return ErrorCodeTagUnknown.WithArgs(tagUnknown.Tag)
	case errors.As(err, &verExists):
		return ErrorCodeVersionExists.WithMessage(ErrorCodeVersionExists.Message())
	case errors.As(err, &revMismatch):
		return ErrorCodeRevisionMismatch.WithMessage(ErrorCodeRevisionMismatch.Message())
	case errors.As(err, &shaMismatch):
		return ErrorCodeBadData.WithMessage(shaMismatch.Error())
	case errors.As(err, &badManifest):
		return ErrorCodeBadData.WithMessage(badManifest.Error())
	case errors.As(err, &nameInvalid):
		return ErrorCodeNameInvalid.WithMessage(nameInvalid.Error())
	case errors.As(err, &shortTransfer):
		return ErrorCodeContentMismatch.WithMessage(ErrorCodeContentMismatch.Message())
	case errors.Is(err, packdock.ErrUplinkOffline):
		return ErrorCodeUplinkOffline.WithMessage(ErrorCodeUplinkOffline.Message())
	case errors.Is(err, packdock.ErrUnsupported):
		return ErrorCodeUnsupported.WithMessage(ErrorCodeUnsupported.Message())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorCodeUnknown.WithMessage("request cancelled")
	}
	return ErrorCodeUnknown.WithMessage(ErrorCodeUnknown.Message())
}

// ServeJSON writes err as an npm error envelope with the status registered
// for its code.
func ServeJSON(w http.ResponseWriter, err error) error {
	apiErr := FromError(err)
	sc := apiErr.Code.Descriptor().HTTPStatusCode
	if sc == 0 {
		sc = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(sc)
	return json.NewEncoder(w).Encode(envelope{Error: apiErr.Message})
}
