package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/vrelay/internal/config"
	"github.com/vdavid/vrelay/internal/db"
	"github.com/vdavid/vrelay/internal/inbound"
	"github.com/vdavid/vrelay/internal/provider/smtprelay"
	"github.com/vdavid/vrelay/internal/server"
	"github.com/vdavid/vrelay/internal/storage"
	"github.com/vdavid/vrelay/internal/testutil"
)

const testUserEmail = "test@example.com"

func main() {
	logger := slog.New(sloki.NewService(sloki.Configuration{
		Service:      "vrelay-test-server",
		ConsoleLevel: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("Test server failed", sloki.WrapError(err))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting test Postgres database...")
	postgresContainer, connStr, err := testutil.StartPostgres(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := postgresContainer.Terminate(context.Background()); err != nil {
			logger.Warn("Failed to terminate Postgres container", sloki.WrapError(err))
		}
	}()

	smtpSink, err := testutil.StartSMTPServer()
	if err != nil {
		return fmt.Errorf("failed to start SMTP sink: %w", err)
	}
	defer func() {
		_ = smtpSink.Close()
	}()
	logger.Info("SMTP sink started", slog.String("address", smtpSink.Address()))

	if err := setupTestEnvironment(smtpSink); err != nil {
		return err
	}
	cfg, err := config.NewConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	pool, err := setupDatabase(ctx, connStr, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	relay := smtprelay.NewRelay(smtprelay.Config{Host: cfg.SMTPRelayHost, Port: cfg.SMTPRelayPort})
	services := server.NewServices(cfg, db.NewStore(pool), relay, storage.NewMemoryStore("http://localhost:"+cfg.Port+"/files"), logger)

	if err := seedTestUser(ctx, cfg, services); err != nil {
		return fmt.Errorf("failed to seed test user: %w", err)
	}

	var wg sync.WaitGroup
	services.StartSweepers(ctx, &wg, cfg)
	defer wg.Wait()

	return serve(ctx, cfg, services, logger)
}

// setupTestEnvironment sets the environment the config and auth layers read in test mode.
func setupTestEnvironment(smtpSink *testutil.TestSMTPServer) error {
	env := map[string]string{
		"VRELAY_ENV":         "test",
		"VRELAY_TEST_MODE":   "true",
		"VRELAY_DB_PASSWORD": "vrelay",
		"SMTP_RELAY_HOST":    smtpSink.Host,
		"SMTP_RELAY_PORT":    strconv.Itoa(smtpSink.Port),
	}
	if os.Getenv("MAIL_DOMAIN") == "" {
		env["MAIL_DOMAIN"] = "vrelay.test"
	}
	for key, value := range env {
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return nil
}

// setupDatabase creates a connection pool and runs migrations.
func setupDatabase(ctx context.Context, connStr string, logger *slog.Logger) (*pgxpool.Pool, error) {
	pool, err := db.NewPool(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if err := testutil.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("Connected to database and ran migrations")
	return pool, nil
}

type seedMessage struct {
	messageID string
	subject   string
	from      string
	body      string
	sentAt    time.Time
}

// seedTestUser gives the test user a mailbox and a few inbound messages, delivered
// through the same path as the provider webhook.
func seedTestUser(ctx context.Context, cfg *config.Config, s *server.Services) error {
	userID, err := s.Store.GetOrCreateUser(ctx, testUserEmail)
	if err != nil {
		return fmt.Errorf("failed to get or create user: %w", err)
	}

	address := "test@" + cfg.MailDomain
	if _, err := s.Provisioner.Provision(ctx, userID, address, "Test User"); err != nil {
		return fmt.Errorf("failed to provision %s: %w", address, err)
	}

	now := time.Now()
	messages := []seedMessage{
		{"<msg1@test>", "Welcome to vrelay", "sender@example.com", "This is a test message.", now.Add(-2 * time.Hour)},
		{"<msg2@test>", "Meeting Tomorrow", "colleague@example.com", "Don't forget about the meeting tomorrow at 2 PM.", now.Add(-1 * time.Hour)},
		{"<msg3@test>", "Special Report Q3", "reports@example.com", "Here is the Q3 report you requested.", now},
	}

	for _, m := range messages {
		raw := fmt.Sprintf("Message-ID: %s\r\nDate: %s\r\nFrom: %s\r\nTo: %s\r\nSubject: %s\r\n"+
			"Content-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
			m.messageID, m.sentAt.Format(time.RFC1123Z), m.from, address, m.subject, m.body)

		normalized, err := s.Normalizer.Normalize(ctx, inbound.NewPayload(map[string]string{
			"recipient":  address,
			"sender":     m.from,
			"subject":    m.subject,
			"Message-Id": m.messageID,
			"body-mime":  raw,
		}))
		if err != nil {
			return fmt.Errorf("failed to normalize %s: %w", m.messageID, err)
		}
		if result := s.Mailbox.Deliver(ctx, normalized); len(result.Created) == 0 {
			return fmt.Errorf("seed message %s was not delivered", m.messageID)
		}
	}

	return nil
}

// serve runs the HTTP server until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, s *server.Services, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.NewServer(cfg, s),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("vrelay test server ready for E2E tests",
		slog.String("address", srv.Addr),
		slog.String("user", testUserEmail),
		slog.String("mailbox", "test@"+cfg.MailDomain))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
