// Package s3 stores attachment binaries in an S3-compatible bucket using SigV4-signed requests.
package s3

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/vdavid/vrelay/internal/storage"
)

var (
	// ErrUploadFailed is returned when the bucket rejects an object.
	ErrUploadFailed   = errors.New("object upload failed")
	ErrDownloadFailed = errors.New("object download failed")
)

// emptyPayloadHash is the SHA-256 of an empty body.
const emptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// HTTPDoer abstracts HTTP client operations for dependency inversion.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the bucket coordinates and credentials.
type Config struct {
	Endpoint        string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// PublicBaseURL, when set, prefixes returned object URLs instead of the endpoint.
	PublicBaseURL string
}

// Client implements storage.Bucket.
type Client struct {
	cfg         Config
	httpClient  HTTPDoer
	credentials aws.CredentialsProvider
	signer      *v4.Signer
	maxRetries  int
	baseDelay   time.Duration
	sleepFunc   func(time.Duration)
	now         func() time.Time
}

var _ storage.Bucket = (*Client)(nil)

// NewClient creates a client with static credentials.
func NewClient(cfg Config, httpClient HTTPDoer) *Client {
	cfg.Endpoint = strings.TrimSuffix(cfg.Endpoint, "/")
	cfg.PublicBaseURL = strings.TrimSuffix(cfg.PublicBaseURL, "/")
	return &Client{
		cfg:         cfg,
		httpClient:  httpClient,
		credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		signer:      v4.NewSigner(),
		maxRetries:  2,
		baseDelay:   200 * time.Millisecond,
		sleepFunc:   time.Sleep,
		now:         time.Now,
	}
}

func (c *Client) putURL(key string) string {
	return c.cfg.Endpoint + "/" + c.cfg.Bucket + "/" + storage.EscapeKey(key)
}

func (c *Client) publicURL(key string) string {
	if c.cfg.PublicBaseURL == "" {
		return c.putURL(key)
	}
	return c.cfg.PublicBaseURL + "/" + storage.EscapeKey(key)
}

// Store uploads data under a fresh key and returns its public URL.
func (c *Client) Store(ctx context.Context, data []byte, filename, mimeType string) (string, error) {
	if c.cfg.Endpoint == "" || c.cfg.Bucket == "" {
		return "", storage.ErrNotConfigured
	}

	key := storage.ObjectKey(filename, c.now())
	target := c.putURL(key)

	sum := sha256.Sum256(data)
	payloadHash := hex.EncodeToString(sum[:])

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if attempt > 0 && c.sleepFunc != nil && c.baseDelay > 0 {
			c.sleepFunc(c.baseDelay * time.Duration(1<<(attempt-1)))
		}

		retry, err := c.put(ctx, target, data, payloadHash, filename, mimeType)
		if err == nil {
			return c.publicURL(key), nil
		}
		lastErr = err
		if !retry {
			break
		}
	}

	return "", lastErr
}

func (c *Client) put(ctx context.Context, target string, data []byte, payloadHash, filename, mimeType string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(data))
	if err != nil {
		return false, fmt.Errorf("failed to build upload request: %w", err)
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	req.ContentLength = int64(len(data))
	req.Header.Set("Content-Type", mimeType)
	req.Header.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", storage.SanitizeFilename(filename)))
	req.Header.Set("X-Amz-Content-Sha256", payloadHash)

	creds, err := c.credentials.Retrieve(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to retrieve storage credentials: %w", err)
	}
	if err := c.signer.SignHTTP(ctx, creds, req, payloadHash, "s3", c.cfg.Region, c.now()); err != nil {
		return false, fmt.Errorf("failed to sign upload request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return true, fmt.Errorf("failed to upload object: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("%w: status %d", ErrUploadFailed, resp.StatusCode)
	default:
		return false, fmt.Errorf("%w: status %d", ErrUploadFailed, resp.StatusCode)
	}
}

// Fetch downloads an object by a URL previously returned from Store.
func (c *Client) Fetch(ctx context.Context, contentURL string) ([]byte, error) {
	if c.cfg.Endpoint == "" || c.cfg.Bucket == "" {
		return nil, storage.ErrNotConfigured
	}
	key, ok := storage.KeyFromURL(c.cfg.PublicBaseURL, contentURL)
	if !ok {
		key, ok = storage.KeyFromURL(c.cfg.Endpoint+"/"+c.cfg.Bucket, contentURL)
	}
	if !ok {
		return nil, storage.ErrForeignURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.putURL(key), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}
	req.Header.Set("X-Amz-Content-Sha256", emptyPayloadHash)

	creds, err := c.credentials.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve storage credentials: %w", err)
	}
	if err := c.signer.SignHTTP(ctx, creds, req, emptyPayloadHash, "s3", c.cfg.Region, c.now()); err != nil {
		return nil, fmt.Errorf("failed to sign download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download object: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, storage.ErrObjectNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: status %d", ErrDownloadFailed, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}
	return data, nil
}
