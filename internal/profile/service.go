// Package profile manages user display data and avatar images.
package profile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kuitang/shastra/internal/db"
	"github.com/kuitang/shastra/internal/errs"
	"github.com/kuitang/shastra/internal/plans"
)

const (
	MaxAvatarBytes = 2 << 20
	MaxNameLength  = 100
)

// Avatar image types and the extension their keys carry.
var avatarTypes = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/webp": "webp",
}

// AvatarStore is the object storage behind avatars. *s3client.Client
// implements it.
type AvatarStore interface {
	Put(ctx context.Context, key string, content []byte, contentType string) error
	Delete(ctx context.Context, key string) error
	URL(key string) string
	KeyFromURL(u string) (string, bool)
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Service struct {
	store   *db.Store
	avatars AvatarStore
	clock   Clock
}

func NewService(store *db.Store, avatars AvatarStore) *Service {
	return &Service{store: store, avatars: avatars, clock: realClock{}}
}

// SetClock replaces the clock used by the service. Intended for testing.
func (s *Service) SetClock(c Clock) {
	s.clock = c
}

// UpdateInput carries a partial update. Nil fields are left unchanged.
type UpdateInput struct {
	FullName          *string `json:"full_name"`
	PreferredCategory *string `json:"preferred_category"`
}

func (s *Service) Get(ctx context.Context, userID string) (*db.Profile, error) {
	p, err := s.store.GetProfile(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, errs.New(errs.NotFound, "profile not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

func (s *Service) Update(ctx context.Context, userID string, in UpdateInput) (*db.Profile, error) {
	cur, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	name, category := cur.FullName, cur.PreferredCategory
	if in.FullName != nil {
		name = strings.TrimSpace(*in.FullName)
		if utf8.RuneCountInString(name) > MaxNameLength {
			return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("full_name must be at most %d characters", MaxNameLength))
		}
	}
	if in.PreferredCategory != nil {
		category = strings.TrimSpace(*in.PreferredCategory)
		if category != "" && !plans.IsCategory(category) {
			return nil, errs.New(errs.InvalidArgument, "unknown scripture category")
		}
	}
	if err := s.store.UpdateProfile(ctx, userID, name, category, s.clock.Now().Unix()); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return s.Get(ctx, userID)
}

// SniffAvatar returns the content type of an acceptable avatar image. The
// type is detected from the bytes; the client's declared type is ignored.
func SniffAvatar(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errs.New(errs.InvalidArgument, "avatar is empty")
	}
	if len(data) > MaxAvatarBytes {
		return "", errs.New(errs.InvalidArgument, "avatar must be at most 2 MiB")
	}
	ct := http.DetectContentType(data)
	if _, ok := avatarTypes[ct]; !ok {
		return "", errs.New(errs.InvalidArgument, "avatar must be a PNG, JPEG or WebP image")
	}
	return ct, nil
}

// AvatarKey is content-addressed so a new upload never reuses a cached URL.
func AvatarKey(userID string, data []byte, contentType string) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("avatars/%s/%s.%s", userID, hex.EncodeToString(sum[:8]), avatarTypes[contentType])
}

// UploadAvatar stores the image and points the profile at it. The previous
// avatar object is removed on a best-effort basis.
func (s *Service) UploadAvatar(ctx context.Context, userID string, data []byte) (*db.Profile, error) {
	if s.avatars == nil {
		return nil, errs.New(errs.Unavailable, "avatar storage is not configured")
	}
	ct, err := SniffAvatar(data)
	if err != nil {
		return nil, err
	}
	cur, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	key := AvatarKey(userID, data, ct)
	if err := s.avatars.Put(ctx, key, data, ct); err != nil {
		return nil, errs.Wrap(errs.Unavailable, "failed to store avatar", err)
	}
	url := s.avatars.URL(key)
	if err := s.store.SetAvatarURL(ctx, userID, url, s.clock.Now().Unix()); err != nil {
		return nil, fmt.Errorf("set avatar url: %w", err)
	}
	if cur.AvatarURL != url {
		s.deleteObject(ctx, cur.AvatarURL)
	}
	log.Printf("[PROFILE] User %s uploaded avatar %s (%d bytes)", userID, key, len(data))
	return s.Get(ctx, userID)
}

// RemoveAvatar clears the avatar.
func (s *Service) RemoveAvatar(ctx context.Context, userID string) (*db.Profile, error) {
	cur, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cur.AvatarURL == "" {
		return cur, nil
	}
	if err := s.store.SetAvatarURL(ctx, userID, "", s.clock.Now().Unix()); err != nil {
		return nil, fmt.Errorf("clear avatar url: %w", err)
	}
	s.deleteObject(ctx, cur.AvatarURL)
	return s.Get(ctx, userID)
}

func (s *Service) deleteObject(ctx context.Context, url string) {
	if s.avatars == nil || url == "" {
		return
	}
	key, ok := s.avatars.KeyFromURL(url)
	if !ok {
		return
	}
	if err := s.avatars.Delete(ctx, key); err != nil {
		log.Printf("[PROFILE] Warning: failed to delete old avatar %s: %v", key, err)
	}
}
