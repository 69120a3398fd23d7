// Package server wires the mailbox pipeline and exposes it over HTTP.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vdavid/vrelay/internal/autolabel"
	"github.com/vdavid/vrelay/internal/config"
	"github.com/vdavid/vrelay/internal/crypto"
	"github.com/vdavid/vrelay/internal/db"
	"github.com/vdavid/vrelay/internal/dedup"
	"github.com/vdavid/vrelay/internal/inbound"
	"github.com/vdavid/vrelay/internal/mailbox"
	"github.com/vdavid/vrelay/internal/outbound"
	"github.com/vdavid/vrelay/internal/provider"
	"github.com/vdavid/vrelay/internal/storage"
	"github.com/vdavid/vrelay/internal/sweeper"
	ws "github.com/vdavid/vrelay/internal/websocket"
)

// WebhookMaxAge bounds how old a signed webhook timestamp may be.
const WebhookMaxAge = 5 * time.Minute

// Services holds the components shared by the HTTP routes and the sweepers.
type Services struct {
	Store        db.Store
	Hub          *ws.Hub
	Normalizer   *inbound.Normalizer
	Mailbox      *mailbox.Service
	Provisioner  *mailbox.Provisioner
	Orchestrator *outbound.Orchestrator
	Retention    *sweeper.RetentionSweeper
	Provider     provider.Provider
	Verifier     *crypto.WebhookVerifier
	Logger       *slog.Logger
}

// NewServices wires the mailbox pipeline on top of a store, a provider and a bucket.
func NewServices(cfg *config.Config, store db.Store, p provider.Provider, bucket storage.Bucket, logger *slog.Logger) *Services {
	hub := ws.NewHub(10, logger)
	guard := dedup.NewGuard(store)
	resolver := mailbox.NewResolver(store)

	return &Services{
		Store:       store,
		Hub:         hub,
		Normalizer:  inbound.NewNormalizer(cfg.MailDomain, bucket, autolabel.NewClassifier(cfg.AutoLabelEnabled), logger),
		Mailbox:     mailbox.NewService(store, guard, resolver, hub, logger),
		Provisioner: mailbox.NewProvisioner(store, p, cfg.MailDomain, logger),
		Orchestrator: outbound.NewOrchestrator(store, guard, resolver, p, bucket, hub, outbound.Options{
			MailDomain:              cfg.MailDomain,
			InternalFallback:        cfg.InternalFallbackEnabled,
			InternalFallbackReplies: cfg.InternalFallbackReplies,
		}, logger),
		Retention: sweeper.NewRetentionSweeper(store, cfg.RetentionSweepInterval, cfg.TrashRetention, logger),
		Provider:  p,
		Verifier:  crypto.NewWebhookVerifier(cfg.MailgunWebhookSigningKey, WebhookMaxAge),
		Logger:    logger,
	}
}

// StartSweepers runs the scheduled-send and retention sweepers until ctx is cancelled.
// wg is released once both have stopped.
func (s *Services) StartSweepers(ctx context.Context, wg *sync.WaitGroup, cfg *config.Config) {
	scheduled := sweeper.NewScheduleSweeper(s.Store, s.Orchestrator, sweeper.ScheduleConfig{
		Interval:       cfg.ScheduleSweepInterval,
		SendsPerSecond: cfg.SendRatePerSecond,
	}, s.Logger)

	wg.Go(func() { scheduled.Run(ctx) })
	wg.Go(func() { s.Retention.Run(ctx) })
}
