package s3client

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
)

// StartFake runs an in-memory gofakes3 server with bucket already created.
// The caller must Close the returned server. Objects are served from the
// fake server's own URL, so avatar links work in local development.
func StartFake(ctx context.Context, bucket string) (*Client, *httptest.Server, error) {
	faker := gofakes3.New(s3mem.New())
	ts := httptest.NewServer(faker.Server())

	sdkConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("fake-key", "fake-secret", "")),
	)
	if err != nil {
		ts.Close()
		return nil, nil, fmt.Errorf("s3client: load fake config: %w", err)
	}
	api := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(ts.URL)
		o.UsePathStyle = true
	})
	if _, err := api.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
		ts.Close()
		return nil, nil, fmt.Errorf("s3client: create fake bucket: %w", err)
	}
	return NewFromS3Client(api, bucket, ts.URL+"/"+bucket), ts, nil
}

// TestClient returns a fake-backed client that is torn down with t.
func TestClient(t testing.TB, bucket string) *Client {
	t.Helper()
	c, ts, err := StartFake(context.Background(), bucket)
	if err != nil {
		t.Fatalf("s3client: %v", err)
	}
	t.Cleanup(ts.Close)
	return c
}
