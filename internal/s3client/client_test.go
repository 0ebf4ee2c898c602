package s3client

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"pgregory.net/rapid"
)

func TestClient_PutGetDelete(t *testing.T) {
	c := TestClient(t, "avatars-test")
	ctx := context.Background()

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	body := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
	if err := c.Put(ctx, "avatars/u1/abc.png", body, "image/png"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ct, err := c.Get(ctx, "avatars/u1/abc.png")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, body) || ct != "image/png" {
		t.Fatalf("Get = %x %q", got, ct)
	}

	if err := c.Delete(ctx, "avatars/u1/abc.png"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := c.Get(ctx, "avatars/u1/abc.png"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound after delete, got %v", err)
	}
	if err := c.Delete(ctx, "never/existed.png"); err != nil {
		t.Fatalf("deleting a missing key must succeed: %v", err)
	}
}

func testClient_URLKeyRoundtrip(t *rapid.T) {
	base := "https://" + rapid.StringMatching(`[a-z]{3,10}`).Draw(t, "host") + ".example.com/bucket"
	c := NewFromS3Client(nil, "bucket", base+"/")
	key := rapid.StringMatching(`avatars/[a-z0-9-]{1,20}/[a-f0-9]{8}\.(png|jpg|webp)`).Draw(t, "key")

	u := c.URL(key)
	if u != base+"/"+key {
		t.Fatalf("URL(%q) = %q", key, u)
	}
	back, ok := c.KeyFromURL(u)
	if !ok || back != key {
		t.Fatalf("KeyFromURL(%q) = %q, %v", u, back, ok)
	}
	if _, ok := c.KeyFromURL("https://elsewhere.example.org/" + key); ok {
		t.Fatal("foreign URL mapped to a key")
	}
}

func TestClient_URLKeyRoundtrip(t *testing.T) {
	rapid.Check(t, testClient_URLKeyRoundtrip)
}

func FuzzClient_URLKeyRoundtrip(f *testing.F) {
	f.Add([]byte{0x00})
	f.Fuzz(rapid.MakeFuzz(testClient_URLKeyRoundtrip))
}
