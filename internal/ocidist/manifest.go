package ocidist

import (
	"encoding/json"
	"fmt"

	"github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

// Annotation keys that a pointer document's layer descriptor must carry.
const (
	// AnnotationLayerCID locates the raw layer tarball on the content network.
	AnnotationLayerCID = "io.ocipfs.layer.ipfs.cid"

	// AnnotationLayerFSDigest is the digest of the decompressed filesystem
	// contents of the layer, which becomes the image's only diff_id.
	AnnotationLayerFSDigest = "io.ocipfs.layer.fs.digest"
)

// Fixed values for every image configuration we synthesize.
const (
	ConfigArchitecture = "amd64"
	ConfigOS           = "linux"
	RootFSTypeLayers   = "layers"
)

// LayerManifest is the compact pointer document stored on the content network
// which describes a single image layer.
//
// Use [ParseLayerManifest] to decode one, which also checks the parts of the
// document shape that encoding/json can't check on its own.
type LayerManifest struct {
	MediaType string        `json:"mediaType"`
	Layer     v1.Descriptor `json:"layer"`
}

// ImageConfig is the subset of the OCI image configuration that we generate
// for a pointer document.
//
// The field order and JSON names of this type are part of the wire contract:
// the config digest is computed over its serialization, so changing either
// would change the digest of every image served.
type ImageConfig struct {
	Architecture string    `json:"architecture"`
	OS           string    `json:"os"`
	RootFS       v1.RootFS `json:"rootfs"`
}

// ParseLayerManifest decodes the JSON form of a pointer document.
func ParseLayerManifest(src []byte) (*LayerManifest, error) {
	ret := &LayerManifest{}
	err := json.Unmarshal(src, ret)
	if err != nil {
		return nil, err
	}
	if ret.Layer.Digest == "" {
		return nil, fmt.Errorf("pointer document has no layer digest")
	}
	if ret.Layer.Size < 0 {
		return nil, fmt.Errorf("pointer document has negative layer size %d", ret.Layer.Size)
	}
	return ret, nil
}

// LayerCID returns the content identifier of the raw layer tarball, or a
// [ManifestError] wrapping [ErrMissingCID] if the pointer document doesn't
// say where it is.
//
// A value with empty, "." or ".." segments would lead outside of the
// gateway's /ipfs/ path, and is reported as [ErrInvalidCID] instead.
func (lm *LayerManifest) LayerCID() (ContentID, error) {
	cid := ContentID(lm.Layer.Annotations[AnnotationLayerCID])
	if cid == "" {
		return "", ManifestError{Wrapped: ErrMissingCID}
	}
	if !cid.validSegments() {
		return "", ManifestError{Wrapped: ErrInvalidCID}
	}
	return cid, nil
}

// DeriveConfig builds the image configuration implied by the given pointer
// document.
//
// The result depends only on the document's filesystem digest annotation, so
// two documents with the same annotation always produce configurations that
// serialize identically.
func DeriveConfig(lm *LayerManifest) (*ImageConfig, error) {
	fsDigest := lm.Layer.Annotations[AnnotationLayerFSDigest]
	if fsDigest == "" {
		return nil, ManifestError{Wrapped: ErrMissingTarDigest}
	}
	return &ImageConfig{
		Architecture: ConfigArchitecture,
		OS:           ConfigOS,
		RootFS: v1.RootFS{
			Type:    RootFSTypeLayers,
			DiffIDs: []digest.Digest{digest.Digest(fsDigest)},
		},
	}, nil
}

// NewImageManifest assembles the single-layer image manifest for a pointer
// document whose derived configuration has the given digest.
//
// The layer descriptor is copied through from the pointer document as-is,
// including its annotations.
func NewImageManifest(lm *LayerManifest, configDigest Digest) *v1.Manifest {
	return &v1.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: v1.MediaTypeImageManifest,
		Config: v1.Descriptor{
			MediaType: v1.MediaTypeImageConfig,
			Digest:    configDigest.Digest,
			Size:      configDigest.Size,
		},
		Layers: []v1.Descriptor{lm.Layer},
	}
}
