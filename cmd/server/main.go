// shastra server: scripture chat, quizzes and subscriptions behind one HTTP
// listener.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kuitang/shastra/internal/admin"
	"github.com/kuitang/shastra/internal/ai"
	"github.com/kuitang/shastra/internal/api"
	"github.com/kuitang/shastra/internal/auth"
	"github.com/kuitang/shastra/internal/billing"
	"github.com/kuitang/shastra/internal/chat"
	"github.com/kuitang/shastra/internal/config"
	"github.com/kuitang/shastra/internal/db"
	"github.com/kuitang/shastra/internal/email"
	"github.com/kuitang/shastra/internal/mcp"
	"github.com/kuitang/shastra/internal/obs"
	"github.com/kuitang/shastra/internal/profile"
	"github.com/kuitang/shastra/internal/quiz"
	"github.com/kuitang/shastra/internal/ratelimit"
	"github.com/kuitang/shastra/internal/s3client"
	"github.com/kuitang/shastra/internal/support"
	"github.com/kuitang/shastra/internal/usage"
)

const (
	sessionCleanupInterval = 15 * time.Minute
	shutdownTimeout        = 10 * time.Second
)

func main() {
	flags := config.ParseFlags()
	cfg := config.MustLoadConfig(flags)

	obs.Init()
	obs.SetLevel(obs.ParseLevel(cfg.LogLevel))
	cfg.PrintStartupSummary(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("[SERVER] %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	go a.cleanupAdminSessions(ctx, sessionCleanupInterval)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// AI calls can take a while.
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[SERVER] Listening on %s", cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Printf("[SERVER] Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// app holds the wired server and everything that must be closed with it.
type app struct {
	handler http.Handler
	store   *db.Store
	limiter *ratelimit.RateLimiter
	admin   *admin.Service
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) cleanupAdminSessions(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.admin.CleanupSessions(ctx)
			if err != nil {
				obs.Pkg("admin").Warn("admin_session_cleanup_failed", "err", err)
				continue
			}
			if n > 0 {
				log.Printf("[ADMIN] Removed %d expired sessions", n)
			}
		}
	}
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}
	fail := func(err error) (*app, error) {
		a.Close()
		return nil, err
	}

	store, err := db.Open(ctx, db.Options{Driver: cfg.DatabaseDriver, DSN: cfg.DatabaseURL, Key: cfg.DatabaseKey})
	if err != nil {
		return fail(fmt.Errorf("open database: %w", err))
	}
	a.store = store
	a.closers = append(a.closers, func() { _ = store.Close() })

	a.limiter = ratelimit.NewRateLimiter(cfg.RateLimitConfig)
	a.closers = append(a.closers, a.limiter.Stop)

	emails := newEmailService(cfg)

	avatars, err := newAvatarStore(ctx, cfg, a)
	if err != nil {
		return fail(err)
	}

	tokens, err := auth.NewTokenIssuer([]byte(cfg.TokenSecret), cfg.BaseURL, cfg.TokenDuration)
	if err != nil {
		return fail(fmt.Errorf("token issuer: %w", err))
	}
	authMiddleware := auth.NewMiddleware(tokens)

	mux := http.NewServeMux()

	var oidcClient auth.OIDCClient
	if cfg.NoOIDC {
		mock := auth.NewLocalMockOIDCProvider(cfg.BaseURL)
		mock.RegisterRoutes(mux)
		oidcClient = mock
	} else {
		google, err := auth.NewGoogleOIDCClient(ctx, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
		if err != nil {
			return fail(fmt.Errorf("google oidc: %w", err))
		}
		oidcClient = google
	}

	model := newAIClient(cfg)
	usageSvc := usage.NewService(store)
	chatSvc := chat.NewService(store, usageSvc, model)
	quizSvc := quiz.NewService(store, usageSvc, model)
	billingSvc := billing.NewService(store, newGateway(cfg), emails, billing.Config{Currency: cfg.BillingCurrency, AppURL: cfg.AppURL})
	profileSvc := profile.NewService(store, avatars)
	supportSvc := support.NewService(store, emails, cfg.SupportEmail)

	a.admin = admin.NewService(store, billingSvc, cfg.AdminSessionDuration)
	if cfg.AdminUsername != "" && cfg.AdminPassword != "" {
		if err := a.admin.Bootstrap(ctx, cfg.AdminUsername, cfg.AdminPassword); err != nil {
			return fail(fmt.Errorf("bootstrap admin: %w", err))
		}
	}

	users := auth.NewUserService(store, emails, cfg.AppURL)
	auth.NewHandler(users, tokens, oidcClient, auth.HandlerConfig{
		GoogleRedirectURL: cfg.GoogleRedirectURL,
		AppURL:            cfg.AppURL,
		SecureCookies:     cfg.RequireSecureCookies(),
	}).RegisterRoutes(mux)

	admin.NewHandler(a.admin, a.limiter, cfg.RequireSecureCookies()).RegisterRoutes(mux)

	api.NewHandler(api.Deps{
		Store:   store,
		Auth:    authMiddleware,
		Limiter: a.limiter,
		Usage:   usageSvc,
		Chat:    chatSvc,
		Quiz:    quizSvc,
		Billing: billingSvc,
		Profile: profileSvc,
		Support: supportSvc,
		Emails:  emails,
		AppURL:  cfg.AppURL,
	}).RegisterRoutes(mux)

	mcpServer := mcp.NewServer(mcp.NewHandler(chatSvc, quizSvc, usageSvc), strings.EqualFold(cfg.LogLevel, "debug"))
	mountMCPRoute(mux, "/mcp", authMiddleware.OptionalAuth(mcp.RequireUser(mcpServer)))

	var h http.Handler = mux
	h = api.CORS(cfg.CORSAllowedOrigins, h)
	h = obs.AccessLogMiddleware("http", h)
	h = obs.RecoverMiddleware(h)
	h = obs.RequestContextMiddleware(h)
	a.handler = h
	return a, nil
}

// mountMCPRoute registers every Streamable HTTP method on pattern.
func mountMCPRoute(mux *http.ServeMux, pattern string, handler http.Handler) {
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions} {
		mux.Handle(method+" "+pattern, handler)
	}
}

func newEmailService(cfg *config.Config) email.EmailService {
	if cfg.NoEmail {
		return email.NewMockEmailService()
	}
	return email.NewResendEmailService(cfg.ResendAPIKey, cfg.ResendFromEmail)
}

func newAIClient(cfg *config.Config) ai.Client {
	if cfg.NoAI {
		return ai.NewMockClient()
	}
	return ai.NewOpenAIClient(ai.OpenAIConfig{APIKey: cfg.OpenAIAPIKey, Model: cfg.OpenAIModel, BaseURL: cfg.OpenAIBaseURL})
}

func newGateway(cfg *config.Config) billing.Gateway {
	switch {
	case cfg.NoPayments:
		return billing.NewMockGateway()
	case cfg.BillingProvider == config.ProviderStripe:
		return billing.NewStripe(billing.StripeConfig{
			SecretKey:      cfg.StripeSecretKey,
			PublishableKey: cfg.StripePublishableKey,
			WebhookSecret:  cfg.StripeWebhookSecret,
		})
	default:
		return billing.NewRazorpay(billing.RazorpayConfig{
			KeyID:         cfg.RazorpayKeyID,
			KeySecret:     cfg.RazorpayKeySecret,
			WebhookSecret: cfg.RazorpayWebhookSecret,
		})
	}
}

// newAvatarStore returns the avatar bucket. Under --no-s3 it runs an
// in-process fake that lives as long as the app. A nil store disables avatar
// uploads.
func newAvatarStore(ctx context.Context, cfg *config.Config, a *app) (profile.AvatarStore, error) {
	if cfg.NoS3 {
		client, ts, err := s3client.StartFake(ctx, "avatars")
		if err != nil {
			return nil, fmt.Errorf("start fake s3: %w", err)
		}
		a.closers = append(a.closers, ts.Close)
		log.Printf("[S3] Using in-memory S3 at %s (--no-s3)", ts.URL)
		return client, nil
	}
	if cfg.AWSBucketName == "" {
		log.Printf("[S3] BUCKET_NAME not set, avatar uploads disabled")
		return nil, nil
	}
	client, err := s3client.New(ctx, s3client.Config{
		Endpoint:        cfg.AWSEndpointS3,
		Region:          cfg.AWSRegion,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		BucketName:      cfg.AWSBucketName,
		PublicURL:       cfg.AWSPublicURL,
		UsePathStyle:    cfg.AWSEndpointS3 != "",
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return client, nil
}
