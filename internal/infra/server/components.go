package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/gzip"
	ginlogger "github.com/gin-contrib/logger"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"go.elastic.co/apm/module/apmgin"

	opsController "github.com/datalode/ledgersync/internal/api/controllers/ops"
	verificationController "github.com/datalode/ledgersync/internal/api/controllers/verification"
	"github.com/datalode/ledgersync/internal/config"
	"github.com/datalode/ledgersync/internal/domain/dataset"
	"github.com/datalode/ledgersync/internal/domain/ledger"
	"github.com/datalode/ledgersync/internal/domain/ratelimit"
	"github.com/datalode/ledgersync/internal/domain/reconcile"
	"github.com/datalode/ledgersync/internal/domain/stream"
	domainVerification "github.com/datalode/ledgersync/internal/domain/verification"
	apmTracing "github.com/datalode/ledgersync/internal/infra/apm/tracing"
	infraCron "github.com/datalode/ledgersync/internal/infra/cron/maintenance"
	esCommon "github.com/datalode/ledgersync/internal/infra/elasticsearch/common"
	esCursor "github.com/datalode/ledgersync/internal/infra/elasticsearch/cursor"
	esDataset "github.com/datalode/ledgersync/internal/infra/elasticsearch/dataset"
	esLicense "github.com/datalode/ledgersync/internal/infra/elasticsearch/license"
	esReconcile "github.com/datalode/ledgersync/internal/infra/elasticsearch/reconcile"
	esVerification "github.com/datalode/ledgersync/internal/infra/elasticsearch/verification"
	ledgerClient "github.com/datalode/ledgersync/internal/infra/ledger"
	infraRatelimit "github.com/datalode/ledgersync/internal/infra/ratelimit"
	"github.com/datalode/ledgersync/internal/infra/server/binding/validation"
	"github.com/datalode/ledgersync/internal/infra/server/routing"
	infraSync "github.com/datalode/ledgersync/internal/infra/sync"
	"github.com/datalode/ledgersync/internal/infra/verifier"
)

// Components holds everything the server runs: the reconciliation driver,
// the verification worker pool, the maintenance cron, and the HTTP API.
type Components struct {
	conf *config.App

	driver      *infraSync.Driver
	pool        *domainVerification.Pool
	maintenance *infraCron.Scheduler

	ginEngine *gin.Engine
}

func NewComponents(conf *config.App) (*Components, error) {
	esClient, err := esCommon.NewClient(conf.Elasticsearch)
	if err != nil {
		return nil, err
	}

	if err := NewSetup(esClient).Check(context.Background()); err != nil {
		return nil, err
	}

	streams := make([]stream.Name, 0, len(conf.Ledger.Streams))
	for _, s := range conf.Ledger.Streams {
		name, err := stream.NameFromString(s)
		if err != nil {
			return nil, err
		}
		streams = append(streams, *name)
	}

	tracer := apmTracing.NewTracer()

	cursors := esCursor.NewStore(esClient)
	datasets := esDataset.NewStore(esClient)
	licenses := esLicense.NewStore(esClient)
	orphans := esReconcile.NewOrphanStore(esClient)
	jobsService := esVerification.NewService(esClient, esVerification.EsServiceSettings{
		VersionConflictRetryTimes: conf.Verification.VersionConflictRetryTimes,
	})

	fetcher := ledgerClient.NewClient(conf.Ledger)
	engine := reconcile.New(fetcher, cursors, datasets, licenses, orphans, reconcile.Settings{
		BatchSize:           conf.Sync.BatchSize,
		OrphanHorizonCycles: conf.Sync.OrphanHorizonCycles,
	})
	driver := infraSync.NewDriver(engine, tracer, streams, infraSync.Settings{
		Interval:   conf.Sync.Interval,
		BackoffMin: conf.Sync.BackoffMin,
		BackoffMax: conf.Sync.BackoffMax,
	})

	applier := reconcile.NewVerificationApplier(datasets, conf.Verification.VersionConflictRetryTimes)
	pool := domainVerification.NewPool(
		jobsService,
		verifier.NewContentCheckRunner(datasets),
		func(ctx context.Context, content ledger.ContentId, result domainVerification.Result) error {
			return applier.Apply(ctx, content, dataset.VerificationSummary(result))
		},
		tracer,
		domainVerification.PoolSettings{
			Workers:      conf.Verification.Workers,
			ClaimAmount:  conf.Verification.ClaimAmount,
			PollInterval: conf.Verification.PollInterval,
		},
	)

	maintenance := infraCron.NewScheduler(jobsService, orphans, tracer, conf.Verification)
	if err := maintenance.Schedule(); err != nil {
		return nil, err
	}

	limiter := infraRatelimit.NewChecker()
	generalClass := ratelimit.Class{
		Name:   "general",
		Limit:  conf.RateLimits.General.Limit,
		Period: conf.RateLimits.General.Period,
	}
	ingestionClass := ratelimit.Class{
		Name:   "ingestion",
		Limit:  conf.RateLimits.Ingestion.Limit,
		Period: conf.RateLimits.Ingestion.Period,
	}

	validation.SetUpValidators()

	ginEngine := gin.New()
	ginEngine.Use(ginlogger.SetLogger(), gin.Recovery(), gzip.Gzip(gzip.DefaultCompression), apmgin.Middleware(ginEngine))
	ginEngine.NoRoute(routing.NoRoute)
	ginEngine.NoMethod(routing.NoMethod)

	verificationsHandler := routing.VerificationsRoutesHandler{
		AuthSettings: conf.Auth,
		Controller:   verificationController.New(jobsService, conf.Verification),
		Limiter:      limiter,
		GeneralClass: generalClass,
	}
	verificationsHandler.RegisterRoutes(ginEngine)

	opsHandler := routing.OpsRoutesHandler{
		AuthSettings:   conf.Auth,
		Controller:     opsController.New(driver, orphans),
		Limiter:        limiter,
		GeneralClass:   generalClass,
		IngestionClass: ingestionClass,
	}
	opsHandler.RegisterRoutes(ginEngine)

	return &Components{
		conf:        conf,
		driver:      driver,
		pool:        pool,
		maintenance: maintenance,
		ginEngine:   ginEngine,
	}, nil
}

// Run starts everything and blocks until SIGINT/SIGTERM, then shuts the
// pieces down in dependency order: no new cycles, no new claims, drain
// in-flight work up to ShutdownTimeout, then close the HTTP listener.
func (c *Components) Run() {
	c.driver.Start()
	c.pool.Start()
	c.maintenance.Start()

	httpServer := &http.Server{
		Addr:    c.conf.BindAddress,
		Handler: c.ginEngine,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server died unexpectedly")
		}
	}()
	log.Info().Str("bind_address", c.conf.BindAddress).Msg("Server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.conf.ShutdownTimeout)
	defer cancel()

	c.driver.Stop()
	c.maintenance.Stop()
	if err := c.pool.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Verification pool did not drain in time")
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	log.Info().Msg("Server stopped")
}
