package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/printy-garments/api/internal/platform/auth"
)

const (
	defaultSignedURLExpiry     = 15 * time.Minute
	defaultDownloadExpiry      = 5 * time.Minute
	maxDownloadSignedURLExpiry = 15 * time.Minute
)

const (
	httpMethodPut  = "PUT"
	httpMethodPost = "POST"
	httpMethodGet  = "GET"
	httpMethodHead = "HEAD"
)

var (
	errNoSigner       = errors.New("storage: signer is required")
	errInvalidBucket  = errors.New("storage: bucket name is required")
	errInvalidObject  = errors.New("storage: object name is required")
	errInvalidOptions = errors.New("storage: either upload or download options must be provided")
	errBothIntents    = errors.New("storage: upload and download options cannot be used together")

	errExpiryTooLong    = errors.New("storage: expiry exceeds permitted maximum")
	errMethodNotAllowed = errors.New("storage: HTTP method not allowed for intent")

	errContentTypeMissing = errors.New("storage: content type is required for uploads")
	errContentTypeDenied  = errors.New("storage: content type not allowed")
	errMD5Required        = errors.New("storage: content MD5 is required for uploads")
	errMD5Invalid         = errors.New("storage: content MD5 must be base64 encoded")
)

// Client mints signed Cloud Storage URLs. Design uploads and payment proof
// downloads go through here so the API never proxies file bytes itself.
type Client struct {
	signer Signer
	scheme storage.SigningScheme
	now    func() time.Time
}

// ClientOption customises the signed URL client.
type ClientOption func(*Client)

// NewClient builds a signed URL client around the signer loaded at startup.
func NewClient(signer Signer, opts ...ClientOption) (*Client, error) {
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errNoSigner
	}

	client := &Client{signer: signer, scheme: storage.SigningSchemeV4, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// WithSigningScheme overrides the signing scheme (defaults to V4).
func WithSigningScheme(scheme storage.SigningScheme) ClientOption {
	return func(c *Client) {
		if scheme == 0 {
			return
		}
		c.scheme = scheme
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.now = clock
		}
	}
}

// SignedURLOptions select either an upload or a download intent. Exactly one
// of the two must be set.
type SignedURLOptions struct {
	Upload   *UploadOptions
	Download *DownloadOptions
	Query    map[string]string
}

// UploadOptions constrain what the browser may PUT with the minted URL:
// content type, size ceiling and an optional MD5 commitment.
type UploadOptions struct {
	Method    string
	ExpiresIn time.Duration

	ContentType         string
	AllowedContentTypes []string
	MaxSize             int64

	ContentMD5 string
	RequireMD5 bool

	AdditionalHeaders map[string]string
}

// DownloadOptions validate ownership before minting a short-lived download
// URL, and shape the response headers Cloud Storage will serve.
type DownloadOptions struct {
	Method    string
	ExpiresIn time.Duration

	Disposition  string
	CacheControl string
	ResponseType string

	OwnerID        string
	Identity       *auth.Identity
	AllowAnonymous bool
}

// SignedURLResult carries the minted URL plus the headers the client must
// echo for the signature to match.
type SignedURLResult struct {
	URL       string
	Method    string
	Headers   map[string]string
	ExpiresAt time.Time
}

// SignedURL mints a signed URL for the object according to the options.
func (c *Client) SignedURL(ctx context.Context, bucket, object string, opts SignedURLOptions) (SignedURLResult, error) {
	if c == nil || c.signer.Email() == "" {
		return SignedURLResult{}, errNoSigner
	}
	if ctx == nil {
		return SignedURLResult{}, errors.New("storage: context is required")
	}
	if bucket = strings.TrimSpace(bucket); bucket == "" {
		return SignedURLResult{}, errInvalidBucket
	}
	if object = strings.TrimSpace(object); object == "" {
		return SignedURLResult{}, errInvalidObject
	}

	switch {
	case opts.Upload == nil && opts.Download == nil:
		return SignedURLResult{}, errInvalidOptions
	case opts.Upload != nil && opts.Download != nil:
		return SignedURLResult{}, errBothIntents
	case opts.Upload != nil:
		return c.signUpload(ctx, bucket, object, opts.Upload, opts.Query)
	default:
		return c.signDownload(ctx, bucket, object, opts.Download, opts.Query)
	}
}

func (c *Client) signUpload(ctx context.Context, bucket, object string, upload *UploadOptions, query map[string]string) (SignedURLResult, error) {
	method, err := uploadMethod(upload.Method)
	if err != nil {
		return SignedURLResult{}, err
	}

	contentType := strings.TrimSpace(upload.ContentType)
	switch {
	case contentType == "":
		return SignedURLResult{}, errContentTypeMissing
	case len(upload.AllowedContentTypes) > 0 && !matchesContentType(contentType, upload.AllowedContentTypes):
		return SignedURLResult{}, errContentTypeDenied
	}

	md5 := strings.TrimSpace(upload.ContentMD5)
	if upload.RequireMD5 && md5 == "" {
		return SignedURLResult{}, errMD5Required
	}
	if md5 != "" {
		if _, err := base64.StdEncoding.DecodeString(md5); err != nil {
			return SignedURLResult{}, errMD5Invalid
		}
	}

	headers := map[string]string{"Content-Type": contentType}
	if md5 != "" {
		headers["Content-MD5"] = md5
	}

	var extHeaders []string
	if upload.MaxSize > 0 {
		rangeValue := fmt.Sprintf("0,%d", upload.MaxSize)
		extHeaders = append(extHeaders, "x-goog-content-length-range:"+rangeValue)
		headers["x-goog-content-length-range"] = rangeValue
	}
	for _, key := range sortedKeys(upload.AdditionalHeaders) {
		value := strings.TrimSpace(upload.AdditionalHeaders[key])
		if value == "" {
			continue
		}
		extHeaders = append(extHeaders, strings.ToLower(strings.TrimSpace(key))+":"+value)
		headers[key] = value
	}

	expiresAt := c.now().Add(positiveOr(upload.ExpiresIn, defaultSignedURLExpiry))
	urlOpts := storage.SignedURLOptions{
		GoogleAccessID: c.signer.Email(),
		Scheme:         c.scheme,
		Method:         method,
		ContentType:    contentType,
		MD5:            md5,
		Headers:        extHeaders,
		Expires:        expiresAt,
		SignBytes: func(payload []byte) ([]byte, error) {
			return c.signer.SignBytes(ctx, payload)
		},
	}
	if len(query) > 0 {
		urlOpts.QueryParameters = sortedQuery(query)
	}

	signedURL, err := storage.SignedURL(bucket, object, &urlOpts)
	if err != nil {
		return SignedURLResult{}, fmt.Errorf("storage: sign upload url: %w", err)
	}
	return SignedURLResult{URL: signedURL, Method: method, ExpiresAt: expiresAt, Headers: headers}, nil
}

func (c *Client) signDownload(ctx context.Context, bucket, object string, download *DownloadOptions, query map[string]string) (SignedURLResult, error) {
	method := strings.ToUpper(strings.TrimSpace(download.Method))
	if method == "" {
		method = httpMethodGet
	}
	if method != httpMethodGet && method != httpMethodHead {
		return SignedURLResult{}, errMethodNotAllowed
	}

	expiry := positiveOr(download.ExpiresIn, defaultDownloadExpiry)
	if expiry > maxDownloadSignedURLExpiry {
		return SignedURLResult{}, errExpiryTooLong
	}

	if err := AuthorizeDownload(download.Identity, download.OwnerID, download.AllowAnonymous); err != nil {
		return SignedURLResult{}, err
	}

	// Response shaping params become part of the signature, so callers cannot
	// rewrite the disposition after the URL is handed out.
	shaped := map[string]string{}
	if download.Disposition != "" {
		shaped["response-content-disposition"] = download.Disposition
	}
	if download.CacheControl != "" {
		shaped["response-cache-control"] = download.CacheControl
	}
	if download.ResponseType != "" {
		shaped["response-content-type"] = download.ResponseType
	}
	for key, value := range query {
		if _, taken := shaped[key]; !taken {
			shaped[key] = value
		}
	}

	expiresAt := c.now().Add(expiry)
	urlOpts := storage.SignedURLOptions{
		GoogleAccessID: c.signer.Email(),
		Scheme:         c.scheme,
		Method:         method,
		Expires:        expiresAt,
		SignBytes: func(payload []byte) ([]byte, error) {
			return c.signer.SignBytes(ctx, payload)
		},
	}
	if len(shaped) > 0 {
		urlOpts.QueryParameters = sortedQuery(shaped)
	}

	signedURL, err := storage.SignedURL(bucket, object, &urlOpts)
	if err != nil {
		return SignedURLResult{}, fmt.Errorf("storage: sign download url: %w", err)
	}
	return SignedURLResult{URL: signedURL, Method: method, ExpiresAt: expiresAt}, nil
}

func uploadMethod(method string) (string, error) {
	switch method = strings.ToUpper(strings.TrimSpace(method)); method {
	case "":
		return httpMethodPut, nil
	case httpMethodPut, httpMethodPost:
		return method, nil
	default:
		return "", errMethodNotAllowed
	}
}

// matchesContentType understands exact matches, the "*" wildcard and
// prefix patterns such as "image/*".
func matchesContentType(contentType string, allowed []string) bool {
	got := strings.ToLower(strings.TrimSpace(contentType))
	for _, pattern := range allowed {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		switch {
		case pattern == "":
		case pattern == "*":
			return true
		case strings.HasSuffix(pattern, "/*"):
			if strings.HasPrefix(got, strings.TrimSuffix(pattern, "/*")+"/") {
				return true
			}
		case got == pattern:
			return true
		}
	}
	return false
}

func positiveOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedQuery(values map[string]string) url.Values {
	out := make(url.Values, len(values))
	for _, key := range sortedKeys(values) {
		out.Add(key, values[key])
	}
	return out
}
