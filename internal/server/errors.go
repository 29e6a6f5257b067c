package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/apparentlymart/ocipfs-registry/internal/ipfs"
	"github.com/apparentlymart/ocipfs-registry/internal/ocidist"
)

// registryErrors is the JSON body of a failed registry API response.
type registryErrors struct {
	Errors []registryError `json:"errors"`
}

type registryError struct {
	Code    errorCode `json:"code"`
	Message string    `json:"message"`
	Detail  any       `json:"detail,omitempty"`
}

// errorCode is one of the error codes from the distribution API, which
// registry clients typically show to their users.
type errorCode string

const (
	codeBlobUnknown     errorCode = "BLOB_UNKNOWN"
	codeManifestInvalid errorCode = "MANIFEST_INVALID"
	codeNameInvalid     errorCode = "NAME_INVALID"
	codeNameUnknown     errorCode = "NAME_UNKNOWN"
	codeUnsupported     errorCode = "UNSUPPORTED"
	codeUnknown         errorCode = "UNKNOWN"
)

// classifyError chooses the response status and error code for an error
// returned while handling a request.
func classifyError(err error) (int, errorCode) {
	var pathErr ocidist.PathError
	var fetchErr *ipfs.FetchError
	var manifestErr ocidist.ManifestError

	switch {
	case errors.As(err, &pathErr):
		return http.StatusBadRequest, codeNameInvalid
	case errors.As(err, &manifestErr):
		return http.StatusBadRequest, codeManifestInvalid
	case errors.Is(err, ocidist.ErrUnknownManifest):
		return http.StatusNotFound, codeBlobUnknown
	case errors.As(err, &fetchErr):
		switch fetchErr.Kind {
		case ipfs.FetchDecode:
			return http.StatusBadRequest, codeManifestInvalid
		case ipfs.FetchTimeout:
			return http.StatusGatewayTimeout, codeUnknown
		case ipfs.FetchStatus:
			if fetchErr.StatusCode == http.StatusNotFound {
				return http.StatusNotFound, codeNameUnknown
			}
			return http.StatusBadGateway, codeUnknown
		default:
			return http.StatusBadGateway, codeUnknown
		}
	default:
		return http.StatusInternalServerError, codeUnknown
	}
}

// statusClientClosedRequest is recorded for requests whose client went away
// before a response could be written. It is never sent.
const statusClientClosedRequest = 499

// writeError reports err to the client, unless the client has already gone
// away.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		if sw, ok := w.(*statusWriter); ok {
			sw.setStatusCode(statusClientClosedRequest)
		}
		return
	}
	status, code := classifyError(err)
	writeErrorStatus(w, status, code, err.Error())
}

func writeErrorStatus(w http.ResponseWriter, status int, code errorCode, msg string) {
	body, err := json.Marshal(registryErrors{
		Errors: []registryError{{Code: code, Message: msg}},
	})
	if err != nil {
		// Should never happen because the body contains only strings.
		panic(err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	w.Write(body)
}
