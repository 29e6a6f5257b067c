package ipfs

import (
	"fmt"

	"github.com/apparentlymart/ocipfs-registry/internal/ocidist"
)

// FetchErrorKind classifies a failure to fetch a pointer document.
type FetchErrorKind int

const (
	// FetchTransport means the request didn't produce a response at all.
	FetchTransport FetchErrorKind = iota + 1

	// FetchTimeout means the request exceeded the client's timeout.
	FetchTimeout

	// FetchStatus means the gateway responded with a non-success status.
	FetchStatus

	// FetchDecode means the response body is not a valid pointer document.
	FetchDecode
)

func (k FetchErrorKind) String() string {
	switch k {
	case FetchTransport:
		return "transport"
	case FetchTimeout:
		return "timeout"
	case FetchStatus:
		return "status"
	case FetchDecode:
		return "decode"
	default:
		return fmt.Sprintf("FetchErrorKind(%d)", int(k))
	}
}

// FetchError is returned by [Client.FetchLayerManifest].
type FetchError struct {
	ContentID ocidist.ContentID
	Kind      FetchErrorKind

	// StatusCode is the gateway's response status for [FetchStatus] errors.
	StatusCode int

	Wrapped error
}

func (err *FetchError) Error() string {
	switch err.Kind {
	case FetchDecode:
		return fmt.Sprintf("invalid pointer document %s: %s", err.ContentID, err.Wrapped)
	case FetchTimeout:
		return fmt.Sprintf("timed out fetching %s: %s", err.ContentID, err.Wrapped)
	default:
		return fmt.Sprintf("failed to fetch %s: %s", err.ContentID, err.Wrapped)
	}
}

func (err *FetchError) Unwrap() error {
	return err.Wrapped
}
