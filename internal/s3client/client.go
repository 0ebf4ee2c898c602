// Package s3client stores user uploads (profile avatars) in S3-compatible
// object storage. Production points at Tigris or AWS; tests and --no-s3 run
// against an in-process gofakes3 server.
package s3client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrObjectNotFound is returned when a requested object does not exist.
var ErrObjectNotFound = errors.New("s3client: object not found")

// Uploaded objects are immutable (keys carry a content hash), so clients may
// cache them for a long time.
const immutableCacheControl = "public, max-age=31536000, immutable"

// Client writes public objects into one bucket.
type Client struct {
	api        *s3.Client
	bucket     string
	publicBase string
}

// Config holds the connection settings, usually taken from the AWS_* env.
type Config struct {
	// Endpoint is the S3 endpoint URL. Empty uses AWS S3.
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	// PublicURL is the base under which objects are publicly readable.
	PublicURL string
	// UsePathStyle is required by gofakes3 and some S3-compatible services.
	UsePathStyle bool
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("s3client: bucket name is required")
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	sdkConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3client: load AWS config: %w", err)
	}

	api := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewFromS3Client(api, cfg.BucketName, cfg.PublicURL), nil
}

// NewFromS3Client wraps an already configured SDK client.
func NewFromS3Client(api *s3.Client, bucket, publicURL string) *Client {
	return &Client{api: api, bucket: bucket, publicBase: strings.TrimRight(publicURL, "/")}
}

// Put stores content under key as a publicly readable object.
func (c *Client) Put(ctx context.Context, key string, content []byte, contentType string) error {
	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(content),
		ContentLength: aws.Int64(int64(len(content))),
		ContentType:   aws.String(contentType),
		CacheControl:  aws.String(immutableCacheControl),
		ACL:           types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return fmt.Errorf("s3client: put %q: %w", key, err)
	}
	return nil
}

// Get returns the object body and its content type.
func (c *Client) Get(ctx context.Context, key string) ([]byte, string, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, "", ErrObjectNotFound
		}
		return nil, "", fmt.Errorf("s3client: get %q: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("s3client: read %q: %w", key, err)
	}
	return data, aws.ToString(out.ContentType), nil
}

// Delete removes key. Missing objects are not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("s3client: delete %q: %w", key, err)
	}
	return nil
}

// Ping checks that the bucket is reachable. Used by the health check.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return fmt.Errorf("s3client: head bucket %q: %w", c.bucket, err)
	}
	return nil
}

// URL returns the public URL of key.
func (c *Client) URL(key string) string {
	return c.publicBase + "/" + strings.TrimPrefix(key, "/")
}

// KeyFromURL is the inverse of URL. It reports false for URLs outside this
// bucket's public base.
func (c *Client) KeyFromURL(u string) (string, bool) {
	prefix := c.publicBase + "/"
	if c.publicBase == "" || !strings.HasPrefix(u, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(u, prefix)
	return key, key != ""
}

func (c *Client) Bucket() string { return c.bucket }

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}
