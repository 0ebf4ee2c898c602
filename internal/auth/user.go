package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	stdtime "time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"

	"github.com/kuitang/shastra/internal/db"
	"github.com/kuitang/shastra/internal/email"
	"github.com/kuitang/shastra/internal/logutil"
)

// Errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountExists      = errors.New("account already exists")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrEmailNotVerified   = errors.New("email not verified")
)

// Argon2id parameters (OWASP m=19456, t=2, p=1). Parameters are embedded in
// each hash, so older hashes keep verifying if these change.
const (
	argon2Time    = 2
	argon2Memory  = 19 * 1024
	argon2Threads = 1
	argon2KeyLen  = 32
	argon2SaltLen = 16

	minPasswordLength = 8
	maxPasswordLength = 256
	maxNameLength     = 100
)

// Clock abstracts time for testability.
type Clock interface {
	Now() stdtime.Time
}

type realClock struct{}

func (realClock) Now() stdtime.Time { return stdtime.Now() }

// PasswordHasher hashes and verifies passwords. Tests swap in
// PlaintextHasher to skip argon2.
type PasswordHasher interface {
	HashPassword(password string) (string, error)
	VerifyPassword(password, encodedHash string) bool
}

// Argon2Hasher is the production PasswordHasher.
type Argon2Hasher struct{}

func (Argon2Hasher) HashPassword(password string) (string, error) { return HashPassword(password) }

func (Argon2Hasher) VerifyPassword(password, encodedHash string) bool {
	return VerifyPassword(password, encodedHash)
}

// User is the authenticated identity returned to handlers.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	GoogleSub string `json:"-"`
	CreatedAt int64  `json:"created_at"`
}

// UserService handles account creation and credential checks.
type UserService struct {
	store  *db.Store
	hasher PasswordHasher
	emails email.EmailService
	appURL string
	clock  Clock
}

// NewUserService creates a user service. emails may be nil to skip the
// welcome message.
func NewUserService(store *db.Store, emails email.EmailService, appURL string) *UserService {
	return &UserService{
		store:  store,
		hasher: Argon2Hasher{},
		emails: emails,
		appURL: appURL,
		clock:  realClock{},
	}
}

// SetClock replaces the clock used by the service. Intended for testing.
func (s *UserService) SetClock(c Clock) {
	s.clock = c
}

// SetHasher replaces the password hasher. Intended for testing.
func (s *UserService) SetHasher(h PasswordHasher) {
	s.hasher = h
}

// NormalizeEmail lowercases and validates an address.
func NormalizeEmail(addr string) (string, error) {
	addr = strings.ToLower(strings.TrimSpace(addr))
	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Address != addr {
		return "", ErrInvalidEmail
	}
	return addr, nil
}

// ValidatePasswordStrength checks if a password meets minimum requirements.
func ValidatePasswordStrength(password string) error {
	if utf8.RuneCountInString(password) < minPasswordLength || len(password) > maxPasswordLength {
		return ErrWeakPassword
	}
	return nil
}

// Register creates an account with email/password and sends the welcome
// email. Returns ErrAccountExists when the email is taken.
func (s *UserService) Register(ctx context.Context, emailAddr, password, name string) (*User, error) {
	emailAddr, err := NormalizeEmail(emailAddr)
	if err != nil {
		return nil, err
	}
	if err := ValidatePasswordStrength(password); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > maxNameLength {
		name = string([]rune(name)[:maxNameLength])
	}

	hash, err := s.hasher.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.clock.Now().Unix()
	u := db.User{ID: uuid.NewString(), Email: emailAddr, PasswordHash: hash, CreatedAt: now}
	err = s.store.InTx(ctx, func(q *db.Queries) error {
		return q.CreateUser(ctx, u, name)
	})
	if db.IsUniqueViolation(err) {
		return nil, ErrAccountExists
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	log.Printf("[REGISTER] Created user %s (%s)", u.ID, logutil.MaskEmail(emailAddr))
	s.sendWelcome(emailAddr, name)
	return &User{ID: u.ID, Email: u.Email, Name: name, CreatedAt: now}, nil
}

// Login verifies email/password credentials. Unknown emails and accounts
// without a password both return ErrInvalidCredentials.
func (s *UserService) Login(ctx context.Context, emailAddr, password string) (*User, error) {
	emailAddr, err := NormalizeEmail(emailAddr)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	u, err := s.store.GetUserByEmail(ctx, emailAddr)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if u.PasswordHash == "" || !s.hasher.VerifyPassword(password, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	if err := s.store.TouchUserLogin(ctx, u.ID, s.clock.Now().Unix()); err != nil {
		log.Printf("[LOGIN] Failed to record login for %s: %v", u.ID, err)
	}
	return toUser(u), nil
}

// FindOrCreateByGoogle resolves an OIDC identity. A known subject wins; an
// existing account with the same verified email gets the subject linked;
// otherwise a password-less account is created.
func (s *UserService) FindOrCreateByGoogle(ctx context.Context, claims *Claims) (*User, error) {
	if claims == nil || claims.Sub == "" {
		return nil, ErrInvalidCredentials
	}
	if !claims.EmailVerified {
		return nil, ErrEmailNotVerified
	}
	emailAddr, err := NormalizeEmail(claims.Email)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now().Unix()

	u, err := s.store.GetUserByGoogleSub(ctx, claims.Sub)
	if err == nil {
		_ = s.store.TouchUserLogin(ctx, u.ID, now)
		return toUser(u), nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("get user by google sub: %w", err)
	}

	u, err = s.store.GetUserByEmail(ctx, emailAddr)
	switch {
	case err == nil:
		if err := s.store.LinkGoogleSub(ctx, u.ID, claims.Sub); err != nil {
			return nil, fmt.Errorf("link google account: %w", err)
		}
		_ = s.store.TouchUserLogin(ctx, u.ID, now)
		u.GoogleSub = claims.Sub
		log.Printf("[OIDC] Linked Google account to user %s", u.ID)
		return toUser(u), nil
	case !errors.Is(err, db.ErrNotFound):
		return nil, fmt.Errorf("get user by email: %w", err)
	}

	created := db.User{ID: uuid.NewString(), Email: emailAddr, GoogleSub: claims.Sub, CreatedAt: now}
	if err := s.store.InTx(ctx, func(q *db.Queries) error {
		return q.CreateUser(ctx, created, claims.Name)
	}); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	log.Printf("[OIDC] Created user %s (%s)", created.ID, logutil.MaskEmail(emailAddr))
	s.sendWelcome(emailAddr, claims.Name)
	return &User{ID: created.ID, Email: emailAddr, Name: claims.Name, GoogleSub: claims.Sub, CreatedAt: now}, nil
}

// Get returns the user with their profile name.
func (s *UserService) Get(ctx context.Context, userID string) (*User, error) {
	u, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	out := toUser(u)
	if p, err := s.store.GetProfile(ctx, userID); err == nil {
		out.Name = p.FullName
	}
	return out, nil
}

func (s *UserService) sendWelcome(to, name string) {
	if s.emails == nil {
		return
	}
	if err := email.SendWelcome(s.emails, to, name, s.appURL); err != nil {
		log.Printf("[REGISTER] Welcome email to %s failed: %v", logutil.MaskEmail(to), err)
	}
}

func toUser(u *db.User) *User {
	return &User{ID: u.ID, Email: u.Email, GoogleSub: u.GoogleSub, CreatedAt: u.CreatedAt}
}

// HashPassword hashes a password using Argon2id.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	// $argon2id$v=19$m=19456,t=2,p=1$<salt>$<hash>
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argon2Memory, argon2Time, argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash)), nil
}

// VerifyPassword checks if a password matches an encoded Argon2id hash.
func VerifyPassword(password, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != "v=19" {
		return false
	}

	var memory, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}
	if len(hash) == 0 || len(hash) > argon2KeyLen*2 {
		return false
	}

	computed := argon2.IDKey([]byte(password), salt, time, memory, threads, uint32(len(hash)))
	return subtle.ConstantTimeCompare(hash, computed) == 1
}

// GenerateSecureToken returns length random bytes, URL-safe base64 encoded.
func GenerateSecureToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken is the at-rest form of an opaque token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
