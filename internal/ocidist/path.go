package ocidist

import (
	"net/url"
	"strings"
	"unicode/utf8"
)

// ContentID identifies a document on the content network.
//
// Although not enforceable by the Go compiler, a valid ContentID consists of
// one or more non-empty slash-separated segments, none of which is "." or
// "..". [ParseLayerPath] only ever returns valid values.
type ContentID string

func (cid ContentID) String() string {
	return string(cid)
}

// EscapedSegments returns the slash-separated segments of the content
// identifier, each escaped for use as a URL path segment.
func (cid ContentID) EscapedSegments() []string {
	parts := strings.Split(string(cid), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return parts
}

// validSegments reports whether every slash-separated segment of cid is
// non-empty and is neither "." nor "..".
func (cid ContentID) validSegments() bool {
	for _, seg := range strings.Split(string(cid), "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}

// Operation names as they appear in request paths.
const (
	OpManifests = "manifests"
	OpBlobs     = "blobs"
)

// Route is the result of parsing a request path with [ParseLayerPath]. It is
// always either a [ManifestRoute] or a [BlobRoute].
type Route interface {
	route()
}

// ManifestRoute is a request for the image manifest of a content identifier.
type ManifestRoute struct {
	ContentID ContentID
	Tag       string
}

// BlobRoute is a request for one of the blobs referenced by the image
// manifest of a content identifier.
type BlobRoute struct {
	ContentID ContentID
	Digest    string
}

func (ManifestRoute) route() {}
func (BlobRoute) route()     {}

// ParseLayerPath parses the portion of a request path that follows the
// "layer/" prefix, in the form:
//
//	<content-id-path>/<operation>/<last-segment>
//
// The given path must still be in its escaped form, as returned by
// [url.URL.EscapedPath], so that escaped slashes inside a segment aren't
// mistaken for separators. The content identifier may itself span several
// segments.
//
// Any problem with the path is reported as a [PathError].
func ParseLayerPath(escaped string) (Route, error) {
	segs := strings.Split(escaped, "/")

	last, err := decodeSegment(segs[len(segs)-1], PathNoLastSegment)
	if err != nil {
		return nil, err
	}
	if len(segs) < 2 || segs[len(segs)-2] == "" {
		return nil, PathError{Reason: PathNoOperation}
	}
	op, err := decodeSegment(segs[len(segs)-2], PathNoOperation)
	if err != nil {
		return nil, err
	}
	if len(segs) < 3 {
		return nil, PathError{Reason: PathNoContentID}
	}

	cidSegs := segs[:len(segs)-2]
	for i, raw := range cidSegs {
		seg, err := decodeSegment(raw, PathInvalidSegment)
		if err != nil {
			return nil, err
		}
		if seg == "." || seg == ".." {
			return nil, PathError{Reason: PathInvalidSegment, Segment: seg}
		}
		cidSegs[i] = seg
	}
	cid := ContentID(strings.Join(cidSegs, "/"))

	switch op {
	case OpManifests:
		return ManifestRoute{ContentID: cid, Tag: last}, nil
	case OpBlobs:
		return BlobRoute{ContentID: cid, Digest: last}, nil
	default:
		return nil, PathError{Reason: PathUnknownOperation, Segment: op}
	}
}

// decodeSegment unescapes a single path segment, reporting an empty segment
// with the given reason.
func decodeSegment(raw string, emptyReason PathErrorReason) (string, error) {
	if raw == "" {
		return "", PathError{Reason: emptyReason}
	}
	seg, err := url.PathUnescape(raw)
	if err != nil {
		return "", PathError{Reason: PathInvalidSegment, Segment: raw}
	}
	if !utf8.ValidString(seg) {
		return "", PathError{Reason: PathBadUTF8}
	}
	if seg == "" || strings.Contains(seg, "/") {
		return "", PathError{Reason: PathInvalidSegment, Segment: raw}
	}
	return seg, nil
}
