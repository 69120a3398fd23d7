package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/vdavid/vrelay/internal/config"
	"github.com/vdavid/vrelay/internal/db"
	"github.com/vdavid/vrelay/internal/provider"
	"github.com/vdavid/vrelay/internal/provider/mailgun"
	"github.com/vdavid/vrelay/internal/provider/smtprelay"
	"github.com/vdavid/vrelay/internal/server"
	"github.com/vdavid/vrelay/internal/storage"
	"github.com/vdavid/vrelay/internal/storage/s3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		slog.Error("Failed to load config", sloki.WrapError(err))
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		logger.Error("Failed to connect to database", sloki.WrapError(err))
		os.Exit(1)
	}
	defer db.CloseConnection(pool)

	logger.Info("Successfully connected to database")

	httpClient := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport), Timeout: 30 * time.Second}
	services := server.NewServices(cfg, db.NewStore(pool), newProvider(cfg, httpClient, logger), newBucket(cfg, httpClient, logger), logger)

	var wg sync.WaitGroup
	services.StartSweepers(ctx, &wg, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(server.NewServer(cfg, services), "vrelay"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Server shutdown did not complete cleanly", sloki.WrapError(err))
		}
	}()

	logger.Info("vrelay server starting",
		slog.String("address", srv.Addr),
		slog.String("environment", cfg.Environment),
		slog.String("mail_domain", cfg.MailDomain))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server failed", sloki.WrapError(err))
		stop()
	}

	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = tp.Shutdown(shutdownCtx)
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := parseLogLevel(cfg.LogLevel)
	return slog.New(sloki.NewService(sloki.Configuration{
		URL:          cfg.LokiURL,
		Service:      "vrelay",
		ConsoleLevel: level,
		LokiLevel:    level,
		EnableLoki:   cfg.LokiURL != "",
	}))
}

func parseLogLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// newProvider prefers the Mailgun API, then an SMTP relay. Without either, sends fail with
// provider.ErrNotConfigured and mailbox setup skips route provisioning.
func newProvider(cfg *config.Config, httpClient *http.Client, logger *slog.Logger) provider.Provider {
	switch {
	case cfg.MailgunConfigured():
		logger.Info("Using Mailgun provider", slog.String("domain", cfg.MailgunDomain))
		return mailgun.NewClient(mailgun.Config{
			APIKey:     cfg.MailgunAPIKey,
			Domain:     cfg.MailgunDomain,
			APIURL:     cfg.MailgunAPIURL,
			WebhookURL: cfg.MailgunWebhookURL,
		}, httpClient)
	case cfg.SMTPRelayHost != "":
		logger.Info("Using SMTP relay provider", slog.String("host", cfg.SMTPRelayHost))
		return smtprelay.NewRelay(smtprelay.Config{
			Host:       cfg.SMTPRelayHost,
			Port:       cfg.SMTPRelayPort,
			Username:   cfg.SMTPRelayUsername,
			Password:   cfg.SMTPRelayPassword,
			RequireTLS: cfg.Environment == "production",
		})
	default:
		logger.Warn("No mail provider configured, outbound mail is disabled")
		return provider.Unconfigured{}
	}
}

func newBucket(cfg *config.Config, httpClient *http.Client, logger *slog.Logger) storage.Bucket {
	if !cfg.StorageConfigured() {
		logger.Warn("No object storage configured, attachment binaries will not be stored")
		return storage.NopStore{}
	}
	return s3.NewClient(s3.Config{
		Endpoint:        cfg.StorageEndpoint,
		Bucket:          cfg.StorageBucket,
		Region:          cfg.StorageRegion,
		AccessKeyID:     cfg.StorageAccessKeyID,
		SecretAccessKey: cfg.StorageSecretAccessKey,
		PublicBaseURL:   cfg.StoragePublicBaseURL,
	}, httpClient)
}
