// Package payloadstore provides the object-store adapter holding job template
// and recipient payloads.
package payloadstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrPayloadNotFound is returned when a pointer does not resolve to an object.
var ErrPayloadNotFound = errors.New("payload not found")

// MinioStoreOptions configures the minio-backed payload store.
type MinioStoreOptions struct {
	EndpointURL     string // Required, e.g. "http://minio:9000"
	AccessKeyID     string // Required
	SecretAccessKey string // Required
	Bucket          string // Required
	Region          string // Optional
	UseSSL          bool   // Overridden to true by an https endpoint
	Logger          *slog.Logger
}

// MinioStore implements core.PayloadStore on S3-compatible object storage.
// The pointer returned by Put is the object key; content is opaque bytes.
type MinioStore struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewMinioStore creates a payload store client from options.
func NewMinioStore(opts MinioStoreOptions) (*MinioStore, error) {
	if opts.EndpointURL == "" {
		return nil, errors.New("endpoint url is required")
	}
	if opts.AccessKeyID == "" || opts.SecretAccessKey == "" {
		return nil, errors.New("credentials are required")
	}
	if opts.Bucket == "" {
		return nil, errors.New("bucket is required")
	}

	u, err := url.Parse(opts.EndpointURL)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint url: %w", err)
	}
	endpoint := u.Host
	if endpoint == "" {
		endpoint = opts.EndpointURL
	}

	useSSL := opts.UseSSL
	if u.Scheme == "https" {
		useSSL = true
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: useSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "payload_store")
	}

	return &MinioStore{
		client: client,
		bucket: opts.Bucket,
		logger: logger,
	}, nil
}

// EnsureBucket creates the configured bucket when it does not exist yet.
// Called once at startup; payload writes assume the bucket is present.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "payload bucket created", "bucket", s.bucket)
	}
	return nil
}

// Put stores a payload under the given key and returns the pointer used to
// retrieve it later.
func (s *MinioStore) Put(ctx context.Context, key string, payload []byte) (string, error) {
	if key == "" {
		return "", errors.New("object key is required")
	}

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("put payload %s: %w", key, err)
	}
	return key, nil
}

// Get resolves a pointer to its stored payload.
func (s *MinioStore) Get(ctx context.Context, ptr string) ([]byte, error) {
	if ptr == "" {
		return nil, errors.New("payload pointer is required")
	}

	obj, err := s.client.GetObject(ctx, s.bucket, ptr, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get payload %s: %w", ptr, err)
	}
	defer func() {
		_ = obj.Close()
	}()

	data, err := io.ReadAll(obj)
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrPayloadNotFound, ptr)
		}
		return nil, fmt.Errorf("read payload %s: %w", ptr, err)
	}
	return data, nil
}

// Health verifies connectivity to the object store.
func (s *MinioStore) Health(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return fmt.Errorf("payload store health: %w", err)
	}
	return nil
}
