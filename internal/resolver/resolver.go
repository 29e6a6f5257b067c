// Package resolver answers registry manifest and blob requests for content
// identifiers by fetching their pointer documents from the content network
// and deriving everything else from them.
//
// Nothing is cached: every call fetches the pointer document again.
package resolver

import (
	"context"
	"fmt"
	"net/url"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/apparentlymart/ocipfs-registry/internal/logging"
	"github.com/apparentlymart/ocipfs-registry/internal/ocidist"
)

// Gateway is the part of the content network that the resolver relies on.
// [*ipfs.Client] is the real implementation.
type Gateway interface {
	FetchLayerManifest(ctx context.Context, cid ocidist.ContentID) (*ocidist.LayerManifest, error)
	ContentURL(cid ocidist.ContentID) *url.URL
}

type Resolver struct {
	gateway Gateway
}

func New(gateway Gateway) *Resolver {
	return &Resolver{gateway: gateway}
}

// Manifest returns the image manifest for the given content identifier.
//
// The tag is accepted only for compatibility with the registry path
// structure: every tag of a content identifier names the same manifest.
func (r *Resolver) Manifest(ctx context.Context, cid ocidist.ContentID, tag string) (*v1.Manifest, error) {
	lm, err := r.gateway.FetchLayerManifest(ctx, cid)
	if err != nil {
		return nil, err
	}
	_, cfgDigest, err := deriveConfig(lm)
	if err != nil {
		return nil, err
	}
	logging.ContextLogger(ctx).Debug(
		"resolved manifest",
		"cid", cid.String(),
		"tag", tag,
		"layer", lm.Layer.Digest.String(),
		"config", cfgDigest.String(),
	)
	return ocidist.NewImageManifest(lm, cfgDigest), nil
}

// BlobResult is the result of [Resolver.Blob]. It is always either a
// [BlobRedirect] or a [BlobConfig].
type BlobResult interface {
	blobResult()
}

// BlobRedirect means that the blob is the layer tarball, which the client
// should fetch from URL.
type BlobRedirect struct {
	URL *url.URL
}

// BlobConfig means that the blob is the image configuration, which is
// served directly.
type BlobConfig struct {
	Config *ocidist.ImageConfig
	Digest ocidist.Digest
}

func (BlobRedirect) blobResult() {}
func (BlobConfig) blobResult()   {}

// Blob returns the blob with the given digest from the image manifest of the
// given content identifier.
//
// An image manifest refers to exactly two blobs: the layer named by the
// pointer document and the configuration derived from it. Any other digest
// returns [ocidist.ErrUnknownManifest].
func (r *Resolver) Blob(ctx context.Context, cid ocidist.ContentID, dgst string) (BlobResult, error) {
	lm, err := r.gateway.FetchLayerManifest(ctx, cid)
	if err != nil {
		return nil, err
	}

	if dgst == lm.Layer.Digest.String() {
		layerCID, err := lm.LayerCID()
		if err != nil {
			return nil, err
		}
		u := r.gateway.ContentURL(layerCID)
		logging.ContextLogger(ctx).Debug("redirecting to layer", "cid", cid.String(), "digest", dgst, "url", u.String())
		return BlobRedirect{URL: u}, nil
	}

	cfg, cfgDigest, err := deriveConfig(lm)
	if err != nil {
		return nil, err
	}
	if dgst != cfgDigest.String() {
		return nil, fmt.Errorf("blob %s of %s: %w", dgst, cid, ocidist.ErrUnknownManifest)
	}
	return BlobConfig{Config: cfg, Digest: cfgDigest}, nil
}

func deriveConfig(lm *ocidist.LayerManifest) (*ocidist.ImageConfig, ocidist.Digest, error) {
	cfg, err := ocidist.DeriveConfig(lm)
	if err != nil {
		return nil, ocidist.Digest{}, err
	}
	d, err := ocidist.ComputeDigest(cfg)
	if err != nil {
		return nil, ocidist.Digest{}, err
	}
	return cfg, d, nil
}
