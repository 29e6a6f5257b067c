package ipfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/apparentlymart/ocipfs-registry/internal/logging"
	"github.com/apparentlymart/ocipfs-registry/internal/ocidist"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MaxPointerDocumentSize is the largest pointer document the client will
// accept from the gateway. Real pointer documents are a few hundred bytes.
const MaxPointerDocumentSize = 4 << 20

var metricFetch = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "ocipfs_gateway_fetch_duration_seconds",
		Help:    "Pointer document fetches from the content network gateway, by result, in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	},
	[]string{
		"result", // ok, transport, timeout, status, decode
	},
)

// Client fetches pointer documents from a content network gateway, and
// builds the URLs that registry clients are redirected to for layer content.
//
// This is not a general-purpose gateway client. It only knows about the
// "/ipfs/<content-id>" path form.
type Client struct {
	baseURL     *url.URL
	redirectURL *url.URL
	timeout     time.Duration
	prepareReq  []func(req *http.Request) error
	rawClient   *http.Client
}

// NewClient constructs and returns a new [Client] that will fetch from a
// gateway at the given base URL.
//
// The given URL must use either the "http" or "https" scheme, or this function
// will panic. Use [AssertValidGatewayURL] to test whether a user-provided URL
// would be accepted by this function without panicking.
//
// Redirects for layer content initially use the same base URL. Call
// [Client.SetRedirectURL] to send registry clients elsewhere.
func NewClient(baseURL *url.URL) *Client {
	if err := AssertValidGatewayURL(baseURL); err != nil {
		panic(err.Error())
	}
	return &Client{
		baseURL:     baseURL,
		redirectURL: baseURL,
		rawClient:   http.DefaultClient,
	}
}

// NewClientWithRoundTripper constructs and returns a new [Client], with the
// same rules as [NewClient] but with a custom HTTP round-tripper
// implementation.
func NewClientWithRoundTripper(baseURL *url.URL, rt http.RoundTripper) *Client {
	client := NewClient(baseURL)
	client.rawClient = &http.Client{
		Transport: rt,
	}
	return client
}

// AssertValidGatewayURL checks whether the given URL is acceptable to pass
// to [NewClient], returning an error describing a problem if not.
func AssertValidGatewayURL(baseURL *url.URL) error {
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return fmt.Errorf("must use scheme \"https\" or \"http\", not %q", baseURL.Scheme)
	}
	if baseURL.User != nil {
		return fmt.Errorf("must not include a user information portion")
	}
	if baseURL.Host == "" {
		return fmt.Errorf("must include a host")
	}
	return nil
}

// SetRedirectURL changes the base URL used by [Client.ContentURL]. It must
// pass [AssertValidGatewayURL], or this method will panic.
//
// This must not be called concurrently with any other method of the same
// client object.
func (c *Client) SetRedirectURL(u *url.URL) {
	if err := AssertValidGatewayURL(u); err != nil {
		panic(err.Error())
	}
	c.redirectURL = u
}

// SetTimeout bounds the duration of each pointer document fetch. Zero means
// that only the caller's context limits a fetch.
//
// This must not be called concurrently with any other method of the same
// client object.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// AddPrepareRequest provides a function that the client will call just before
// making any HTTP request, giving an opportunity to add headers such as
// User-Agent.
//
// This must not be called concurrently with any other method of the same
// client object. Typically it would be called only during the initial setup of
// the client.
func (c *Client) AddPrepareRequest(cb func(req *http.Request) error) {
	c.prepareReq = append(c.prepareReq, cb)
}

// CheckGateway makes a request to the gateway's base URL to find out early
// whether it is reachable at all.
//
// A nil result does not guarantee that later fetches will succeed.
func (c *Client) CheckGateway(ctx context.Context) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	req, err := c.newRequest(ctx, http.MethodHead)
	if err != nil {
		return fmt.Errorf("failed to prepare request: %w", err)
	}
	resp, err := c.rawClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	resp.Body.Close()
	return nil
}

// FetchLayerManifest retrieves and decodes the pointer document with the
// given content identifier.
//
// Any failure is returned as a [*FetchError].
func (c *Client) FetchLayerManifest(ctx context.Context, cid ocidist.ContentID) (*ocidist.LayerManifest, error) {
	start := time.Now()
	lm, err := c.fetchLayerManifest(ctx, cid)
	result := "ok"
	if fetchErr, ok := err.(*FetchError); ok {
		result = fetchErr.Kind.String()
	}
	metricFetch.WithLabelValues(result).Observe(time.Since(start).Seconds())
	return lm, err
}

func (c *Client) fetchLayerManifest(ctx context.Context, cid ocidist.ContentID) (*ocidist.LayerManifest, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := c.newRequest(ctx, http.MethodGet, c.contentPath(cid)...)
	if err != nil {
		return nil, &FetchError{ContentID: cid, Kind: FetchTransport, Wrapped: err}
	}
	req.Header.Set("Accept", "application/json")

	logger := logging.ContextLogger(ctx)
	logger.Debug("downloading pointer document", "url", req.URL.String())

	resp, err := c.rawClient.Do(req)
	if err != nil {
		return nil, &FetchError{ContentID: cid, Kind: transportKind(ctx, err), Wrapped: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{
			ContentID:  cid,
			Kind:       FetchStatus,
			StatusCode: resp.StatusCode,
			Wrapped:    fmt.Errorf("gateway returned %s", resp.Status),
		}
	}

	src, err := io.ReadAll(io.LimitReader(resp.Body, MaxPointerDocumentSize+1))
	if err != nil {
		return nil, &FetchError{ContentID: cid, Kind: transportKind(ctx, err), Wrapped: err}
	}
	if len(src) > MaxPointerDocumentSize {
		return nil, &FetchError{
			ContentID: cid,
			Kind:      FetchDecode,
			Wrapped:   fmt.Errorf("document is larger than %d bytes", MaxPointerDocumentSize),
		}
	}
	logger.Debug("downloaded pointer document", "url", req.URL.String(), "size", len(src))

	lm, err := ocidist.ParseLayerManifest(src)
	if err != nil {
		return nil, &FetchError{ContentID: cid, Kind: FetchDecode, Wrapped: err}
	}
	return lm, nil
}

// ContentURL returns the URL where the content with the given identifier can
// be retrieved directly from the gateway.
func (c *Client) ContentURL(cid ocidist.ContentID) *url.URL {
	return c.redirectURL.JoinPath(c.contentPath(cid)...)
}

func (c *Client) contentPath(cid ocidist.ContentID) []string {
	return append([]string{"ipfs"}, cid.EscapedSegments()...)
}

func (c *Client) newRequest(ctx context.Context, method string, urlParts ...string) (*http.Request, error) {
	u := c.baseURL.JoinPath(urlParts...)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, err
	}
	for _, cb := range c.prepareReq {
		err := cb(req)
		if err != nil {
			return nil, err
		}
	}
	return req, nil
}

// transportKind distinguishes our own timeout from other transport failures,
// including cancellation by the caller.
func transportKind(ctx context.Context, err error) FetchErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return FetchTimeout
	}
	return FetchTransport
}
