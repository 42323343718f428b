// Package s3 stores objects in an S3-compatible bucket through SigV4-signed
// HTTP requests.
package s3

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"k8s.io/utils/clock"

	"comfyrelay/internal/ports"
)

const service = "s3"

// Config selects the bucket and credentials.
type Config struct {
	// Endpoint is the scheme and host, for example
	// https://<account>.r2.cloudflarestorage.com.
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

// StatusError is returned when the store answers with an unexpected status.
type StatusError struct {
	Method     string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("s3 %s: http %d: %s", e.Method, e.StatusCode, e.Body)
}

type Store struct {
	endpoint *url.URL
	bucket   string
	region   string
	creds    aws.Credentials
	signer   *v4.Signer
	client   *http.Client
	clk      clock.PassiveClock
}

// Option customizes a Store.
type Option func(*Store)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) { s.client = c }
}

// WithClock fixes the signing time source.
func WithClock(clk clock.PassiveClock) Option {
	return func(s *Store) { s.clk = clk }
}

func New(cfg Config, opts ...Option) (*Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: endpoint and bucket are required")
	}
	u, err := url.Parse(strings.TrimRight(cfg.Endpoint, "/"))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("s3: invalid endpoint %q", cfg.Endpoint)
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	s := &Store{
		endpoint: u,
		bucket:   cfg.Bucket,
		region:   region,
		creds: aws.Credentials{
			AccessKeyID:     cfg.AccessKey,
			SecretAccessKey: cfg.SecretKey,
		},
		signer: v4.NewSigner(func(o *v4.SignerOptions) {
			// S3 paths are signed as sent, not double-escaped.
			o.DisableURIPathEscaping = true
		}),
		client: &http.Client{Timeout: 5 * time.Minute},
		clk:    clock.RealClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Provider() string { return "s3" }

// ObjectURL returns the URL of key inside the bucket.
func (s *Store) ObjectURL(key string) string {
	u := *s.endpoint
	u.Path = "/" + s.bucket + "/" + strings.TrimLeft(key, "/")
	return u.String()
}

func (s *Store) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	if in.ObjectKey == "" {
		return ports.PutObjectOutput{}, fmt.Errorf("object_key is required")
	}

	payload, err := io.ReadAll(in.Reader)
	if err != nil {
		return ports.PutObjectOutput{}, fmt.Errorf("read payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.ObjectURL(in.ObjectKey), bytes.NewReader(payload))
	if err != nil {
		return ports.PutObjectOutput{}, err
	}
	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)

	if err := s.Sign(ctx, req, payload, s.clk.Now()); err != nil {
		return ports.PutObjectOutput{}, err
	}

	res, err := s.client.Do(req)
	if err != nil {
		return ports.PutObjectOutput{}, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return ports.PutObjectOutput{}, &StatusError{Method: http.MethodPut, StatusCode: res.StatusCode, Body: string(body)}
	}
	_, _ = io.Copy(io.Discard, res.Body)

	return ports.PutObjectOutput{Reference: in.ObjectKey, Size: int64(len(payload))}, nil
}

func (s *Store) GetObject(ctx context.Context, key string) (io.ReadCloser, string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.ObjectURL(key), nil)
	if err != nil {
		return nil, "", 0, err
	}
	if err := s.Sign(ctx, req, nil, s.clk.Now()); err != nil {
		return nil, "", 0, err
	}

	res, err := s.client.Do(req)
	if err != nil {
		return nil, "", 0, err
	}
	if res.StatusCode != http.StatusOK {
		defer res.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, "", 0, &StatusError{Method: http.MethodGet, StatusCode: res.StatusCode, Body: string(body)}
	}
	return res.Body, res.Header.Get("Content-Type"), res.ContentLength, nil
}

func (s *Store) DeleteObject(ctx context.Context, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.ObjectURL(key), nil)
	if err != nil {
		return err
	}
	if err := s.Sign(ctx, req, nil, s.clk.Now()); err != nil {
		return err
	}

	res, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &StatusError{Method: http.MethodDelete, StatusCode: res.StatusCode, Body: string(body)}
	}
	return nil
}

// Sign adds the payload hash, date and Authorization headers to req. The
// result depends only on the request, payload, credentials and signingTime.
func (s *Store) Sign(ctx context.Context, req *http.Request, payload []byte, signingTime time.Time) error {
	sum := sha256.Sum256(payload)
	payloadHash := hex.EncodeToString(sum[:])
	req.Header.Set("X-Amz-Content-Sha256", payloadHash)

	if err := s.signer.SignHTTP(ctx, s.creds, req, payloadHash, service, s.region, signingTime.UTC()); err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	return nil
}
