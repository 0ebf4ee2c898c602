package profile

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/kuitang/shastra/internal/auth"
	"github.com/kuitang/shastra/internal/errs"
	"github.com/kuitang/shastra/internal/s3client"
	"github.com/kuitang/shastra/internal/testdb"
)

var (
	pngHeader  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	jpegHeader = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00")
	webpHeader = []byte("RIFF\x24\x00\x00\x00WEBPVP8 ")
)

func newService(t *testing.T) (*Service, *s3client.Client, string) {
	t.Helper()
	store := testdb.New(t)
	objects := s3client.TestClient(t, "avatars")
	svc := NewService(store, objects)
	svc.SetClock(auth.NewFakeClock(time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)))
	return svc, objects, testdb.SeedUser(t, store, "yudhishthira@example.com")
}

func ptr(s string) *string { return &s }

func TestUpdate_PartialAndValidated(t *testing.T) {
	svc, _, userID := newService(t)
	ctx := context.Background()

	p, err := svc.Update(ctx, userID, UpdateInput{FullName: ptr("  Yudhishthira  ")})
	if err != nil || p.FullName != "Yudhishthira" || p.PreferredCategory != "" {
		t.Fatalf("Update name = %+v, %v", p, err)
	}
	p, err = svc.Update(ctx, userID, UpdateInput{PreferredCategory: ptr("mahabharata")})
	if err != nil || p.FullName != "Yudhishthira" || p.PreferredCategory != "mahabharata" {
		t.Fatalf("Update category = %+v, %v", p, err)
	}

	if _, err := svc.Update(ctx, userID, UpdateInput{PreferredCategory: ptr("quran")}); errs.CodeOf(err) != errs.InvalidArgument {
		t.Fatalf("unknown category: %v", err)
	}
	if _, err := svc.Update(ctx, userID, UpdateInput{FullName: ptr(strings.Repeat("ध", MaxNameLength+1))}); errs.CodeOf(err) != errs.InvalidArgument {
		t.Fatalf("long name: %v", err)
	}
	if _, err := svc.Update(ctx, "nobody", UpdateInput{}); errs.CodeOf(err) != errs.NotFound {
		t.Fatalf("missing profile: %v", err)
	}
}

func TestSniffAvatar(t *testing.T) {
	t.Parallel()
	for want, data := range map[string][]byte{"image/png": pngHeader, "image/jpeg": jpegHeader, "image/webp": webpHeader} {
		if got, err := SniffAvatar(data); err != nil || got != want {
			t.Fatalf("SniffAvatar(%q) = %q, %v", want, got, err)
		}
	}
	rejects := [][]byte{
		nil,
		[]byte("GIF89a\x01\x00\x01\x00"),
		[]byte("<svg xmlns='http://www.w3.org/2000/svg'></svg>"),
		append(append([]byte{}, pngHeader...), make([]byte, MaxAvatarBytes)...),
	}
	for _, data := range rejects {
		if _, err := SniffAvatar(data); errs.CodeOf(err) != errs.InvalidArgument {
			t.Fatalf("accepted %d bytes starting %q", len(data), data[:min(len(data), 8)])
		}
	}
}

func testAvatarKey_StableAndScoped(t *rapid.T) {
	userID := rapid.StringMatching(`[a-f0-9]{8}`).Draw(t, "user")
	data := rapid.SliceOfN(rapid.Byte(), 1, 64).Draw(t, "data")
	ct := rapid.SampledFrom([]string{"image/png", "image/jpeg", "image/webp"}).Draw(t, "type")

	k := AvatarKey(userID, data, ct)
	if k != AvatarKey(userID, bytes.Clone(data), ct) {
		t.Fatalf("key not deterministic")
	}
	if !strings.HasPrefix(k, "avatars/"+userID+"/") || !strings.HasSuffix(k, "."+avatarTypes[ct]) {
		t.Fatalf("key %q not scoped to user and type", k)
	}
}

func TestAvatarKey_StableAndScoped(t *testing.T) {
	rapid.Check(t, testAvatarKey_StableAndScoped)
}

func FuzzAvatarKey_StableAndScoped(f *testing.F) {
	f.Add([]byte{0x00})
	f.Fuzz(rapid.MakeFuzz(testAvatarKey_StableAndScoped))
}

func TestUploadAvatar_ReplacesAndRemoves(t *testing.T) {
	svc, objects, userID := newService(t)
	ctx := context.Background()

	first := append(append([]byte{}, pngHeader...), 1, 2, 3)
	p, err := svc.UploadAvatar(ctx, userID, first)
	if err != nil {
		t.Fatalf("UploadAvatar: %v", err)
	}
	firstKey, ok := objects.KeyFromURL(p.AvatarURL)
	if !ok {
		t.Fatalf("avatar url %q is outside the bucket", p.AvatarURL)
	}
	if got, ct, err := objects.Get(ctx, firstKey); err != nil || !bytes.Equal(got, first) || ct != "image/png" {
		t.Fatalf("stored object = %q %q %v", got, ct, err)
	}

	second := append(append([]byte{}, jpegHeader...), 9, 9)
	p, err = svc.UploadAvatar(ctx, userID, second)
	if err != nil || !strings.HasSuffix(p.AvatarURL, ".jpg") {
		t.Fatalf("second upload = %+v, %v", p, err)
	}
	if _, _, err := objects.Get(ctx, firstKey); err != s3client.ErrObjectNotFound {
		t.Fatalf("old avatar should be deleted, got %v", err)
	}

	if _, err := svc.UploadAvatar(ctx, userID, []byte("plain text")); errs.CodeOf(err) != errs.InvalidArgument {
		t.Fatalf("text upload: %v", err)
	}

	p, err = svc.RemoveAvatar(ctx, userID)
	if err != nil || p.AvatarURL != "" {
		t.Fatalf("RemoveAvatar = %+v, %v", p, err)
	}
}

func TestUploadAvatar_NoStorage(t *testing.T) {
	store := testdb.New(t)
	svc := NewService(store, nil)
	userID := testdb.SeedUser(t, store, "bhishma@example.com")
	if _, err := svc.UploadAvatar(context.Background(), userID, pngHeader); errs.CodeOf(err) != errs.Unavailable {
		t.Fatalf("expected Unavailable, got %v", err)
	}
}
