package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/gurbetci/authcore/core"
	"github.com/gurbetci/authcore/country"
	"github.com/gurbetci/authcore/email"
	"github.com/gurbetci/authcore/flow"
	"github.com/gurbetci/authcore/idp"
	oidckit "github.com/gurbetci/authcore/oidc"
	"github.com/gurbetci/authcore/otp"
	"github.com/gurbetci/authcore/session"
	memorystore "github.com/gurbetci/authcore/storage/memory"
	redisstore "github.com/gurbetci/authcore/storage/redis"
)

type config struct {
	IDPURL        string
	IDPKey        string
	FunctionsURL  string
	EmailEndpoint string
	EmailKey      string
	DBURL         string
	RedisAddr     string
	Verbose       bool
}

func main() {
	cfg := loadConfig()

	cmd := "demo"
	if len(os.Args) > 1 && strings.TrimSpace(os.Args[1]) != "" {
		cmd = strings.TrimSpace(os.Args[1])
	}

	switch cmd {
	case "demo":
		if err := runDemo(cfg); err != nil {
			fatal(err)
		}
	case "purge":
		if err := runPurge(cfg); err != nil {
			fatal(err)
		}
	default:
		fatal(fmt.Errorf("unknown command %q (supported: demo, purge)", cmd))
	}
}

func loadConfig() *config {
	return &config{
		IDPURL:        envOr("AUTHCORE_IDP_URL", ""),
		IDPKey:        firstEnv("AUTHCORE_IDP_KEY", "SUPABASE_ANON_KEY"),
		FunctionsURL:  envOr("AUTHCORE_FUNCTIONS_URL", ""),
		EmailEndpoint: envOr("AUTHCORE_EMAIL_ENDPOINT", ""),
		EmailKey:      envOr("AUTHCORE_EMAIL_KEY", ""),
		DBURL:         firstEnv("DB_URL", "DATABASE_URL"),
		RedisAddr:     envOr("AUTHCORE_REDIS_ADDR", ""),
		Verbose:       envBool("AUTHCORE_VERBOSE", false),
	}
}

// runDemo wires the full stack and walks one email registration end to end.
// With no external services configured everything runs against in-memory
// stores and a stub provider, and codes land in the log.
func runDemo(cfg *config) error {
	ctx := context.Background()

	log, err := buildLogger(cfg.Verbose)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	svc := core.NewService().WithLogger(log)

	var kv core.EphemeralStore
	if cfg.RedisAddr != "" {
		kv = redisstore.NewKVFromAddr(cfg.RedisAddr)
	} else {
		kv = memorystore.NewKV()
	}

	if cfg.DBURL != "" {
		pg, err := pgxpool.New(ctx, cfg.DBURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pg.Close()
		svc.WithPostgres(pg).
			WithCodeStore(otp.NewPostgres(pg)).
			WithCountries(country.NewChecker().WithPostgres(pg))
	} else {
		svc.WithStores(memorystore.NewIdentities(), memorystore.NewProfiles()).
			WithCodeStore(otp.NewMemory()).
			WithCountries(country.NewChecker())
	}

	var provider core.Provider
	if cfg.IDPURL != "" {
		client := idp.NewClient(cfg.IDPURL, cfg.IDPKey).WithLogger(log)
		if cfg.FunctionsURL != "" {
			client.WithFunctionsURL(cfg.FunctionsURL)
		}
		provider = client
	} else {
		log.Info("no provider configured, using accept-all stub")
		provider = acceptAllProvider{}
	}
	svc.WithProvider(provider)

	if cfg.EmailEndpoint != "" {
		svc.WithEmailSender(email.NewSender(cfg.EmailEndpoint, cfg.EmailKey).WithLogger(log))
	}

	machine := flow.NewMachine(svc, kv).WithLogger(log)
	sessions := session.New(svc, provider).WithLogger(log)

	snap := sessions.Restore(ctx)
	log.Info("session restored", zap.Bool("signed_in", snap.SignedIn()))

	demoEmail := envOr("AUTHCORE_DEMO_EMAIL", "demo@example.com")
	inst, err := machine.StartEmailRegistration(ctx, demoEmail, "demo-password-1")
	if err != nil {
		return err
	}
	log.Info("registration started", zap.String("flow", inst.ID), zap.String("state", string(inst.State)))

	// With memory stores the code is retrievable for the walkthrough; in a
	// real deployment it arrives by email.
	if mem, ok := svc.Codes().(*otp.Memory); ok {
		code, found := mem.LatestCode(core.PurposeEmailVerification, core.EmailContact(demoEmail))
		if !found {
			return fmt.Errorf("no code issued for %s", demoEmail)
		}
		inst, err = machine.Verify(ctx, inst.ID, code)
		if err != nil {
			return err
		}
		log.Info("registration verified",
			zap.String("state", string(inst.State)),
			zap.String("route", string(inst.Route)),
			zap.String("via", string(inst.Via)))

		if inst.Route == flow.RouteCompleteProfile {
			profile, err := svc.CompleteProfile(ctx, core.ProfileInput{
				IdentityID: inst.IdentityID,
				UserType:   core.UserTypeIndividual,
				FirstName:  "Demo",
				LastName:   "User",
				Username:   core.GenerateUsername("Demo", "User"),
			})
			if err != nil {
				return err
			}
			log.Info("profile completed", zap.String("username", profile.Username))
		}
	}

	if clientID := envOr("AUTHCORE_GOOGLE_CLIENT_ID", ""); clientID != "" {
		if err := runOAuthDemo(ctx, svc, kv, log, clientID); err != nil {
			return err
		}
	}
	return nil
}

// runOAuthDemo walks the native Google login: first leg prints the
// authorization URL and parks state in the KV; with AUTHCORE_OAUTH_CODE and
// AUTHCORE_OAUTH_STATE set (and a Redis KV so state survives the restart) the
// second leg redeems the code and mirrors the identity.
func runOAuthDemo(ctx context.Context, svc *core.Service, kv core.EphemeralStore, log *zap.Logger, clientID string) error {
	manager := oidckit.NewManager(map[string]oidckit.RPConfig{
		"google": {
			Issuer:       "https://accounts.google.com",
			ClientID:     clientID,
			ClientSecret: envOr("AUTHCORE_GOOGLE_CLIENT_SECRET", ""),
			Scopes:       []string{"openid", "email", "profile"},
		},
	})
	states := oidckit.NewKVStateCache(kv, 10*time.Minute)
	redirect := envOr("AUTHCORE_OAUTH_REDIRECT", "http://localhost:8484/callback")

	if code := envOr("AUTHCORE_OAUTH_CODE", ""); code != "" {
		state := envOr("AUTHCORE_OAUTH_STATE", "")
		pending, ok, err := states.Get(ctx, state)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no pending oauth state %q", state)
		}
		rpClient, err := manager.RelyingParty(ctx, pending.Provider, pending.RedirectURI)
		if err != nil {
			return err
		}
		pid, err := oidckit.Exchange(ctx, rpClient, pending.Provider, code, pending.Verifier, pending.Nonce)
		if err != nil {
			return err
		}
		_ = states.Del(ctx, state)
		id, err := svc.HandleOAuthCallback(ctx, *pid)
		if err != nil {
			return err
		}
		log.Info("oauth identity mirrored", zap.String("id", id.ID), zap.Bool("email_verified", id.EmailVerified))
		return nil
	}

	verifier, challenge, err := oidckit.GeneratePKCE()
	if err != nil {
		return err
	}
	state := uuid.NewString()
	nonce := uuid.NewString()
	authURL, err := manager.Begin(ctx, "google", state, nonce, challenge, redirect)
	if err != nil {
		return err
	}
	if err := states.Put(ctx, state, oidckit.StateData{
		Provider:    "google",
		Verifier:    verifier,
		Nonce:       nonce,
		RedirectURI: redirect,
	}); err != nil {
		return err
	}
	log.Info("open the oauth url, then re-run with AUTHCORE_OAUTH_CODE and AUTHCORE_OAUTH_STATE",
		zap.String("url", authURL), zap.String("state", state))
	return nil
}

// runPurge deletes one-time codes that expired more than the retention
// window ago. Normally scheduled through the river worker; this command is
// the manual escape hatch.
func runPurge(cfg *config) error {
	if cfg.DBURL == "" {
		return fmt.Errorf("DB_URL (or DATABASE_URL) is required for purge")
	}
	ctx := context.Background()
	pg, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	retention := envInt("AUTHCORE_CODE_RETENTION_DAYS", 7)
	cutoff := time.Now().AddDate(0, 0, -retention)
	purged, err := otp.NewPostgres(pg).PurgeExpired(ctx, cutoff)
	if err != nil {
		return err
	}
	fmt.Printf("purged %d expired codes\n", purged)
	return nil
}

func buildLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// acceptAllProvider lets the demo run without a hosted provider. Every
// credential and code is accepted.
type acceptAllProvider struct{}

func (acceptAllProvider) SignUp(_ context.Context, email, _ string) (*core.ProviderIdentity, error) {
	return &core.ProviderIdentity{Subject: "demo-" + email, Email: email}, nil
}

func (acceptAllProvider) PasswordGrant(_ context.Context, email, _ string) (*core.ProviderIdentity, error) {
	return &core.ProviderIdentity{Subject: "demo-" + email, Email: email, EmailConfirmed: true}, nil
}

func (acceptAllProvider) SendOTP(context.Context, string, core.Channel) error { return nil }

func (acceptAllProvider) VerifyOTP(_ context.Context, contact, _ string, channel core.Channel) (*core.ProviderIdentity, error) {
	pid := &core.ProviderIdentity{Subject: "demo-" + contact}
	if channel == core.ChannelSMS {
		pid.Phone = contact
	} else {
		pid.Email = contact
	}
	return pid, nil
}

func (acceptAllProvider) UpdatePasswordByEmail(context.Context, string, string) error { return nil }

func (acceptAllProvider) RestoreSession(context.Context) (*core.ProviderIdentity, error) {
	return nil, nil
}

func (acceptAllProvider) SignOut(context.Context) error { return nil }

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func envBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func fatal(err error) {
	if err == nil {
		os.Exit(0)
	}
	if errors.Is(err, context.Canceled) {
		os.Exit(0)
	}
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
