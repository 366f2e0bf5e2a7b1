package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/crewdeck/crewdeck/internal/config"
	"github.com/crewdeck/crewdeck/internal/docstore"
	"github.com/crewdeck/crewdeck/internal/health"
	"github.com/crewdeck/crewdeck/internal/insights"
	"github.com/crewdeck/crewdeck/internal/invite"
	"github.com/crewdeck/crewdeck/internal/metrics"
	"github.com/crewdeck/crewdeck/internal/mirror"
	"github.com/crewdeck/crewdeck/internal/notify"
	"github.com/crewdeck/crewdeck/internal/oauth"
	"github.com/crewdeck/crewdeck/internal/policy"
	"github.com/crewdeck/crewdeck/internal/server"
	"github.com/crewdeck/crewdeck/internal/session"
	"github.com/crewdeck/crewdeck/internal/snapshot"
	"github.com/crewdeck/crewdeck/pkg/tokenstore"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("listen_addr", cfg.ListenAddr).
		Bool("mail_enabled", cfg.MailEnabled()).
		Bool("slack_enabled", cfg.SlackEnabled()).
		Bool("oauth_enabled", cfg.OAuthEnabled()).
		Msg("starting crewdeck")

	met := metrics.New()
	checker := health.NewChecker(logger)

	// Local mirror: a rebuildable index over the remote documents.
	m, err := mirror.Open(cfg.MirrorDBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open mirror")
	}
	defer m.Close()

	checker.Register("mirror", func(ctx context.Context) health.Status {
		if err := m.DB().PingContext(ctx); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})

	// Installation tokens live next to the mirror so a restart does not
	// burn a fresh token.
	tokens, err := tokenstore.NewSQLiteStore(m.DB())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init token store")
	}

	auth, err := docstore.NewAppAuth(cfg.StoreAppID, cfg.StoreInstallationID, cfg.StorePrivateKeyPath, tokens, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init document store auth")
	}

	docs := docstore.New(auth, cfg.StoreOrg, met, logger)
	checker.Register("docstore", func(ctx context.Context) health.Status {
		if _, err := auth.Client(ctx); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})

	// The mirror is an index, not the truth. MIRROR_REBUILD repopulates it
	// from the remote documents, e.g. after losing the database file.
	if cfg.MirrorRebuild {
		listed, err := docs.List(context.Background())
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to list remote projects for rebuild")
		}
		snapshots := make([]snapshot.ProjectData, 0, len(listed))
		for _, lp := range listed {
			snapshots = append(snapshots, lp.Doc.Data)
		}
		if err := m.Rebuild(snapshots); err != nil {
			logger.Fatal().Err(err).Msg("mirror rebuild failed")
		}
	}

	sessions := session.NewStore(logger, session.WithTTL(cfg.SessionTTL))
	defer sessions.Close()
	issuer := session.NewTokenIssuer(cfg.SessionSecret, "crewdeck")

	var oauthClient *oauth.Client
	if cfg.OAuthEnabled() {
		oauthClient = oauth.NewClient(oauth.Config{
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthClientSecret,
			RedirectURL:  cfg.OAuthRedirectURL,
			TokenURL:     cfg.OAuthTokenURL,
			VerifyURL:    cfg.OAuthVerifyURL,
		}, logger)
	} else {
		logger.Info().Msg("OAuth not configured — email-based login only")
	}

	var notifier invite.Notifier
	if cfg.MailEnabled() {
		notifier = notify.NewMailer(notify.MailConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
			BaseURL:  cfg.BaseURL,
		}, logger)
	} else {
		logger.Info().Msg("SMTP not configured — invitations will not be mailed")
	}

	ops := notify.NewOpsNotifier(cfg.SlackBotToken, cfg.SlackOpsChannel, logger)

	pol := policy.Default()
	if cfg.PolicyPath != "" {
		pol, err = policy.Load(cfg.PolicyPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.PolicyPath).Msg("failed to load policy")
		}
		logger.Info().Str("path", cfg.PolicyPath).Msg("role policy loaded")
	}

	workflow := invite.New(m, docs, notifier, met, logger)
	analyzer := insights.NewClient(logger)

	deps := server.Deps{
		Docs:     docs,
		Mirror:   m,
		Sessions: sessions,
		Issuer:   issuer,
		Invites:  workflow,
		Insights: analyzer,
		Policy:   pol,
		Checker:  checker,
		Metrics:  met,
		Ops:      ops,
	}
	if oauthClient != nil {
		deps.OAuth = oauthClient
	}

	srv := server.New(server.Config{
		ListenAddr:  cfg.ListenAddr,
		CORSOrigins: cfg.CORSOrigins,
		RateLimit: server.RateLimitConfig{
			RPS:   cfg.RateLimitRPS,
			Burst: cfg.RateLimitBurst,
		},
	}, deps, logger)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("api server error")
		}
	}()

	// Prometheus metrics on a side listener, away from the public API.
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", met.Handler())
	metricsServer := &http.Server{
		Addr:         ":9090",
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("api server shutdown error")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown error")
	}

	logger.Info().Msg("crewdeck stopped")
}
