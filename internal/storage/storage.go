package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds the configuration for the media store clients.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	UseSSL    bool

	// PublicURL is the externally reachable base for constructing blob URLs.
	PublicURL string
}

// ============================================================================
// Client (minio-go) - bucket management, health probes, object removal
// ============================================================================

// Client provides bucket-level access to the S3-compatible media store.
type Client struct {
	client *minio.Client
	bucket string
}

// New creates a new media store client.
func New(cfg *Config) (*Client, error) {
	// Strip protocol prefix if present (minio-go expects host:port)
	endpoint := cfg.Endpoint
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  miniocreds.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &Client{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.client.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = c.client.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", c.bucket, err)
		}
	}

	return nil
}

// RemoveObject removes an object from the media store.
func (c *Client) RemoveObject(ctx context.Context, key string) error {
	err := c.client.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// Bucket returns the bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

// Ping checks if the media store is accessible by verifying the bucket exists.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.client.BucketExists(ctx, c.bucket)
	return err
}

// ============================================================================
// MediaStore (aws-sdk-go-v2) - image uploads and destroys
// ============================================================================

// UploadResult contains the result of an image upload.
type UploadResult struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// MediaStore uploads user images to S3-compatible storage and destroys them
// by identifier.
type MediaStore struct {
	client    *s3.Client
	bucket    string
	publicURL string
}

// NewMediaStore creates a MediaStore backed by the aws-sdk s3 client.
func NewMediaStore(cfg *Config) (*MediaStore, error) {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  awscreds.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true, // Required for MinIO
	}

	endpoint := cfg.Endpoint
	if endpoint != "" {
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			scheme := "http"
			if cfg.UseSSL {
				scheme = "https"
			}
			endpoint = scheme + "://" + endpoint
		}
		opts.BaseEndpoint = aws.String(endpoint)
	}

	client := s3.New(opts)

	return &MediaStore{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimSuffix(cfg.PublicURL, "/"),
	}, nil
}

// objectKey returns the store key for an image identifier. Keys carry no
// extension so the identifier round-trips through the public URL.
func (m *MediaStore) objectKey(id string) string {
	return fmt.Sprintf("images/%s", id)
}

// Upload stores an image and returns its key and public URL.
func (m *MediaStore) Upload(ctx context.Context, reader io.Reader, size int64, contentType string) (*UploadResult, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := m.objectKey(uuid.New().String())
	_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.bucket),
		Key:           aws.String(key),
		Body:          reader,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload image: %w", err)
	}

	return &UploadResult{
		Key: key,
		URL: fmt.Sprintf("%s/%s/%s", m.publicURL, m.bucket, key),
	}, nil
}

// Destroy removes an image by its identifier (the URL-derived id, not the
// full key).
func (m *MediaStore) Destroy(ctx context.Context, id string) error {
	_, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.objectKey(id)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete image %s: %w", id, err)
	}
	return nil
}

// KeyFromURL derives the store identifier from a blob URL: the last path
// segment with any extension stripped. Returns "" for URLs that carry no
// usable segment.
func KeyFromURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	segment := path.Base(strings.TrimSuffix(rawURL, "/"))
	if segment == "." || segment == "/" {
		return ""
	}

	if ext := path.Ext(segment); ext != "" {
		segment = strings.TrimSuffix(segment, ext)
	}
	return segment
}
