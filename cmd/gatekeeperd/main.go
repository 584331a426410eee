package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/crestline/gatekeeper/pkg/api"
	"github.com/crestline/gatekeeper/pkg/audit"
	"github.com/crestline/gatekeeper/pkg/authz"
	"github.com/crestline/gatekeeper/pkg/cache"
	"github.com/crestline/gatekeeper/pkg/config"
	"github.com/crestline/gatekeeper/pkg/entitlements"
	"github.com/crestline/gatekeeper/pkg/hierarchy"
	"github.com/crestline/gatekeeper/pkg/identity"
	"github.com/crestline/gatekeeper/pkg/observability"
	"github.com/crestline/gatekeeper/pkg/storage/postgres"
	"github.com/crestline/gatekeeper/pkg/tenants"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.ParseLogLevel(cfg.LogLevel), os.Stdout)
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	cm, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL:  cfg.Database.URL,
		ReplicaURLs: postgres.ParseReplicaURLs(cfg.Database.ReplicaURLs),
		MaxConns:    cfg.Database.MaxOpenConns,
		MinConns:    cfg.Database.MaxIdleConns,
		Timeout:     10 * time.Second,
		MaxLifetime: time.Hour,
		MaxIdleTime: 10 * time.Minute,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("failed to connect to database")
		os.Exit(1)
	}
	defer cm.Close()
	db := cm.Primary()

	ctx := context.Background()
	for _, component := range []struct {
		name       string
		migrations []postgres.Migration
	}{
		{tenants.MigrationComponent, tenants.Migrations()},
		{identity.MigrationComponent, identity.Migrations()},
		{hierarchy.MigrationComponent, hierarchy.Migrations()},
		{entitlements.MigrationComponent, entitlements.Migrations()},
	} {
		if err := postgres.RunMigrations(ctx, db, component.name, component.migrations); err != nil {
			logger.WithError(err).WithField("component", component.name).Error("migration failed")
			os.Exit(1)
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("redis unreachable, continuing with local cache only")
		}
	}

	auditor, err := audit.NewDBLogger(db, logger, metrics)
	if err != nil {
		logger.WithError(err).Error("failed to initialize audit logger")
		os.Exit(1)
	}
	defer auditor.Close()
	auditStore := audit.NewStore(db)

	decisionCache, err := cache.NewDecisionCache(cfg.Cache.Size, redisClient, cfg.Cache.TTL, logger, metrics)
	if err != nil {
		logger.WithError(err).Error("failed to create decision cache")
		os.Exit(1)
	}

	tenantSvc := tenants.NewPostgresService(db, decisionCache)
	sessionStore := identity.NewStore(db)
	identityResolver := identity.NewResolver(sessionStore, tenantSvc)

	engine := hierarchy.NewEngine(db, auditor, decisionCache, logger, metrics)
	platformStore := hierarchy.NewPlatformStore(db, auditor, decisionCache)

	classifier := authz.NewClassifier(cm.Replica())
	entitlementStore := entitlements.NewPostgresStore(db, auditor, decisionCache)
	resolver := authz.NewResolver(tenantSvc, classifier, entitlementStore, decisionCache, auditor, metrics)

	presets, err := entitlements.NewPresetSource(cfg.Presets.Path, logger)
	if err != nil {
		logger.WithError(err).Error("failed to load industry presets")
		os.Exit(1)
	}
	defer presets.Close()
	pipeline := entitlements.NewPipeline(tenantSvc, entitlementStore, presets)

	server := api.NewServer(api.Deps{
		Tenants:      tenantSvc,
		Engine:       engine,
		Platform:     platformStore,
		Resolver:     resolver,
		Entitlements: entitlementStore,
		Pipeline:     pipeline,
		Sessions:     sessionStore,
		Identity:     identityResolver,
		AuditStore:   auditStore,
		Auditor:      auditor,
		Logger:       logger,
		Metrics:      metrics,
		SessionTTL:   cfg.Sessions.TTL,
		PreviewTTL:   cfg.Sessions.PreviewTTL,
	})

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Sessions.SweepSchedule, func() {
		deleted, err := sessionStore.DeleteExpired(context.Background())
		if err != nil {
			logger.WithError(err).Warn("expired session sweep failed")
			return
		}
		if deleted > 0 {
			logger.WithField("deleted", deleted).Info("swept expired sessions")
		}
	}); err != nil {
		logger.WithError(err).Error("invalid session sweep schedule")
		os.Exit(1)
	}
	if _, err := scheduler.AddFunc("@every 30s", func() {
		metrics.CollectDBStats(db)
	}); err != nil {
		logger.WithError(err).Error("failed to schedule database stats collection")
		os.Exit(1)
	}

	if cfg.Audit.ArchiveEnabled {
		archiver, err := audit.NewS3Archiver(audit.ArchiveConfig{
			Bucket:       cfg.Audit.S3Bucket,
			Region:       cfg.Audit.S3Region,
			Endpoint:     cfg.Audit.S3Endpoint,
			AccessKey:    cfg.Audit.S3AccessKey,
			SecretKey:    cfg.Audit.S3SecretKey,
			UsePathStyle: cfg.Audit.S3UsePathStyle,
		}, auditStore, logger)
		if err != nil {
			logger.WithError(err).Error("failed to initialize audit archiver")
			os.Exit(1)
		}
		if _, err := scheduler.AddFunc(cfg.Audit.ArchiveSchedule, func() {
			yesterday := time.Now().UTC().AddDate(0, 0, -1)
			if _, err := archiver.ArchiveDay(context.Background(), yesterday); err != nil {
				logger.WithError(err).Warn("audit archive failed")
			}
		}); err != nil {
			logger.WithError(err).Error("invalid audit archive schedule")
			os.Exit(1)
		}
	}
	scheduler.Start()

	health := observability.NewHealthChecker(db, redisClient)
	adminRouter := mux.NewRouter()
	adminRouter.HandleFunc("/healthz", health.Liveness).Methods("GET")
	adminRouter.HandleFunc("/readyz", health.Readiness).Methods("GET")
	adminRouter.Handle("/metrics", observability.Handler(registry)).Methods("GET")

	apiServer := &http.Server{Addr: cfg.Server.ListenAddr, Handler: server}
	adminServer := &http.Server{Addr: cfg.Server.AdminAddr, Handler: adminRouter}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.WithField("addr", cfg.Server.ListenAddr).Info("gatekeeper API listening")
		if err := apiServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		logger.WithField("addr", cfg.Server.AdminAddr).Info("admin endpoints listening")
		if err := adminServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.WithField("signal", sig.String()).Info("shutting down")
	case <-groupCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	apiServer.Shutdown(shutdownCtx)
	adminServer.Shutdown(shutdownCtx)
	<-scheduler.Stop().Done()

	if err := group.Wait(); err != nil {
		logger.WithError(err).Error("server exited with error")
		os.Exit(1)
	}
	logger.Info("gatekeeper stopped")
}
