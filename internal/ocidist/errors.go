package ocidist

import (
	"fmt"
)

type staticError string

func (err staticError) Error() string {
	return string(err)
}

const ErrMissingCID = staticError("missing " + AnnotationLayerCID + " annotation")
const ErrMissingTarDigest = staticError("missing " + AnnotationLayerFSDigest + " annotation")

// ErrInvalidCID is returned when the layer CID annotation is present but
// could not be used to build a gateway URL that stays under /ipfs/.
const ErrInvalidCID = staticError("invalid " + AnnotationLayerCID + " annotation")

// ErrUnknownManifest is returned when a blob digest matches neither the layer
// of a pointer document nor the configuration derived from it.
const ErrUnknownManifest = staticError("digest matches neither the layer nor the image configuration")

// PathErrorReason describes what was wrong with a request path.
type PathErrorReason int

const (
	PathNoLastSegment PathErrorReason = iota + 1
	PathNoOperation
	PathNoContentID
	PathBadUTF8
	PathInvalidSegment
	PathUnknownOperation
)

func (r PathErrorReason) String() string {
	switch r {
	case PathNoLastSegment:
		return "no last segment"
	case PathNoOperation:
		return "no operation"
	case PathNoContentID:
		return "no content identifier"
	case PathBadUTF8:
		return "segment is not valid UTF-8"
	case PathInvalidSegment:
		return "invalid path segment"
	case PathUnknownOperation:
		return "unknown operation"
	default:
		return fmt.Sprintf("PathErrorReason(%d)", int(r))
	}
}

// PathError is returned by [ParseLayerPath] for a request path that doesn't
// name a manifest or blob.
type PathError struct {
	Reason PathErrorReason

	// Segment is the offending path segment, if there is one.
	Segment string
}

func (err PathError) Error() string {
	if err.Segment != "" {
		return fmt.Sprintf("invalid path: %s %q", err.Reason, err.Segment)
	}
	return fmt.Sprintf("invalid path: %s", err.Reason)
}

// ManifestError is returned when a pointer document is well-formed but lacks
// something required to serve it. Wrapped is one of [ErrMissingCID],
// [ErrInvalidCID] or [ErrMissingTarDigest].
type ManifestError struct {
	Wrapped error
}

func (err ManifestError) Error() string {
	return fmt.Sprintf("invalid pointer document: %s", err.Wrapped)
}

func (err ManifestError) Unwrap() error {
	return err.Wrapped
}
