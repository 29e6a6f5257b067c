package server

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/apparentlymart/ocipfs-registry/internal/logging"
	"github.com/apparentlymart/ocipfs-registry/internal/ocidist"
	"github.com/apparentlymart/ocipfs-registry/internal/resolver"
)

// NewHandler returns the handler for the registry API, which serves paths
// under /v2/ and responds 404 Not Found to everything else.
//
// Request paths are used as received, without the cleaning [http.ServeMux]
// would apply: "." and ".." segments are rejected, not resolved.
func NewHandler(res *resolver.Resolver) http.Handler {
	return registryHandler(res)
}

// registryHandler serves the read-only subset of the distribution API that
// registry clients need in order to pull an image:
//
//	GET /v2/
//	GET /v2/layer/{content-id...}/manifests/{tag}
//	GET /v2/layer/{content-id...}/blobs/{digest}
//
// HEAD is accepted wherever GET is.
func registryHandler(res *resolver.Resolver) http.HandlerFunc {
	const prefix = "/v2/"

	return func(resp http.ResponseWriter, req *http.Request) {
		w := &statusWriter{W: resp, Start: time.Now(), R: req, Op: "invalid"}
		ctx := req.Context()
		logger, done := logging.ContextLoggerRequest(ctx, "%s %s", req.Method, req.URL)
		defer done()

		rest, ok := strings.CutPrefix(req.URL.EscapedPath(), prefix)
		if !ok {
			http.NotFound(w, req)
			return
		}

		w.Header().Set("Docker-Distribution-API-Version", "registry/2.0")

		if req.Method != http.MethodGet && req.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			writeErrorStatus(w, http.StatusMethodNotAllowed, codeUnsupported, "this registry is read-only")
			return
		}

		if rest == "" {
			// This is the API version check, which clients use to detect
			// that this is a registry at all.
			w.Op = "ping"
			w.WriteHeader(http.StatusOK)
			return
		}
		layerPath, ok := strings.CutPrefix(rest, "layer/")
		if !ok {
			writeErrorStatus(w, http.StatusNotFound, codeNameUnknown, "repository names must start with \"layer/\"")
			return
		}

		route, err := ocidist.ParseLayerPath(layerPath)
		if err != nil {
			logger.Info("rejected request path", "err", err)
			writeError(ctx, w, err)
			return
		}

		switch route := route.(type) {
		case ocidist.ManifestRoute:
			w.Op = ocidist.OpManifests
			serveManifest(ctx, logger, w, res, route)
		case ocidist.BlobRoute:
			w.Op = ocidist.OpBlobs
			serveBlob(ctx, logger, w, req, res, route)
		default:
			// Should not get here because ParseLayerPath only returns the
			// route types above.
			panic(fmt.Sprintf("unsupported route type %T", route))
		}
	}
}

func serveManifest(ctx context.Context, logger *slog.Logger, w http.ResponseWriter, res *resolver.Resolver, route ocidist.ManifestRoute) {
	manifest, err := res.Manifest(ctx, route.ContentID, route.Tag)
	if err != nil {
		logger.Warn("failed to resolve manifest", "cid", route.ContentID.String(), "err", err)
		writeError(ctx, w, err)
		return
	}
	serveCanonical(ctx, logger, w, v1.MediaTypeImageManifest, manifest)
}

func serveBlob(ctx context.Context, logger *slog.Logger, w http.ResponseWriter, req *http.Request, res *resolver.Resolver, route ocidist.BlobRoute) {
	result, err := res.Blob(ctx, route.ContentID, route.Digest)
	if err != nil {
		metricBlob.WithLabelValues("error").Inc()
		logger.Warn("failed to resolve blob", "cid", route.ContentID.String(), "digest", route.Digest, "err", err)
		writeError(ctx, w, err)
		return
	}

	switch result := result.(type) {
	case resolver.BlobRedirect:
		metricBlob.WithLabelValues("redirect").Inc()
		http.Redirect(w, req, result.URL.String(), http.StatusFound)
	case resolver.BlobConfig:
		metricBlob.WithLabelValues("config").Inc()
		serveCanonical(ctx, logger, w, v1.MediaTypeImageConfig, result.Config)
	default:
		// Should not get here because Blob only returns the result types
		// above.
		panic(fmt.Sprintf("unsupported blob result type %T", result))
	}
}

// serveCanonical responds with the canonical serialization of v, which is
// the same serialization its digest was computed over.
func serveCanonical(ctx context.Context, logger *slog.Logger, w http.ResponseWriter, mediaType string, v any) {
	var buf bytes.Buffer
	d, err := ocidist.WriteCanonical(&buf, v)
	if err != nil {
		logger.Error("failed to serialize response", "err", err)
		writeError(ctx, w, err)
		return
	}

	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("Content-Length", strconv.FormatInt(d.Size, 10))
	w.Header().Set("Docker-Content-Digest", d.String())
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
