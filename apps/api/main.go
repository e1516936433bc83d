package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	sqlassets "github.com/tradecore-io/tradecore-saas/database"
	tenantshandler "github.com/tradecore-io/tradecore-saas/domains/tenants/be/handler"
	tenantsprov "github.com/tradecore-io/tradecore-saas/domains/tenants/be/provisioning"
	tenantsrepo "github.com/tradecore-io/tradecore-saas/domains/tenants/be/repo"
	tenantsservice "github.com/tradecore-io/tradecore-saas/domains/tenants/be/service"
	platformlogging "github.com/tradecore-io/tradecore-saas/platform/go/logging"
	platformmiddleware "github.com/tradecore-io/tradecore-saas/platform/go/middleware"
	"github.com/tradecore-io/tradecore-saas/platform/go/persistence"
	"github.com/tradecore-io/tradecore-saas/platform/go/secrets"
	"github.com/tradecore-io/tradecore-saas/platform/go/tenant"
	tenantmiddleware "github.com/tradecore-io/tradecore-saas/platform/go/tenant/middleware"
)

type config struct {
	Port                 string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout      time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout       time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel             string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL          string        `env:"DATABASE_URL,required"`
	CredentialKey        string        `env:"CREDENTIAL_KEY"` // hex, 32 bytes; empty disables at-rest encryption
	SchemaTool           string        `env:"SCHEMA_TOOL"`    // external schema-push command; empty selects direct SQL
	SchemaToolArgs       []string      `env:"SCHEMA_TOOL_ARGS" envSeparator:" "`
	SchemaToolTimeout    time.Duration `env:"SCHEMA_TOOL_TIMEOUT" envDefault:"45s"`
	TenantConnectTimeout time.Duration `env:"TENANT_CONNECT_TIMEOUT" envDefault:"5s"`
	TenantCreatePerMin   float64       `env:"TENANT_CREATE_PER_MIN" envDefault:"6"`
}

func main() {
	ctx := context.Background()

	_ = godotenv.Load()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "api-server",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.DatabaseURL})
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	if err := persistence.BootstrapControlPlane(ctx, pool); err != nil {
		logger.Fatal("bootstrap control plane", zap.Error(err))
	}

	adminDSN, err := persistence.ParseDSN(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("parse database url", zap.Error(err))
	}
	adminDSN.ConnectTimeout = cfg.TenantConnectTimeout

	var cipher *secrets.Cipher
	if cfg.CredentialKey != "" {
		cipher, err = secrets.NewCipher(cfg.CredentialKey)
		if err != nil {
			logger.Fatal("init credential cipher", zap.Error(err))
		}
	} else {
		logger.Warn("CREDENTIAL_KEY not set; tenant passwords stored in plaintext")
	}

	credStore := persistence.NewCredentialStore(pool, cipher)
	if err := credStore.EnsureInitialized(ctx); err != nil {
		logger.Fatal("init credential store", zap.Error(err))
	}

	connCache := persistence.NewConnCache(logger.Named("conncache"))
	defer connCache.Shutdown()

	sqlApplier := tenantsprov.NewSQLApplier(sqlassets.TenantSchemaSQL, logger.Named("schema"))
	var applier tenantsprov.SchemaApplier = sqlApplier
	if cfg.SchemaTool != "" {
		applier = tenantsprov.NewFallbackApplier(
			tenantsprov.NewToolApplier(cfg.SchemaTool, cfg.SchemaToolArgs, cfg.SchemaToolTimeout, logger.Named("schema")),
			sqlApplier,
			logger.Named("schema"),
		)
	}

	provisioner := tenantsprov.NewDBProvisioner(tenantsprov.Config{
		ControlPool: pool,
		Credentials: credStore,
		Connections: connCache,
		AdminDSN:    adminDSN,
		Applier:     applier,
		Logger:      logger.Named("provisioner"),
	})

	tenantRepo := tenantsrepo.NewPostgresRepository(pool)
	tenantService := tenantsservice.New(tenantsservice.Config{
		Repo:        tenantRepo,
		Provisioner: provisioner,
		Credentials: credStore,
		Logger:      logger.Named("tenants"),
		CreateRate:  cfg.TenantCreatePerMin / 60,
		CreateBurst: 2,
	})
	tenantHTTPHandler := tenantshandler.New(tenantService, logger)

	resolver := tenant.NewResolver(tenant.ResolverConfig{
		ControlPool: pool,
		Credentials: credStore,
		Connections: connCache,
		Template:    adminDSN,
		Logger:      logger.Named("resolver"),
	})

	rootRouter := chi.NewRouter()
	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(cfg.RequestTimeout),
	)
	rootRouter.Use(platformmiddleware.DefaultCORS())
	rootRouter.Use(platformlogging.RequestLogger(logger))
	rootRouter.Use(tenantmiddleware.WithIdentity(headerIdentity))

	rootRouter.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Health routes are reserved, so the resolver hands back the control
	// plane here; the endpoint verifies it is reachable.
	rootRouter.Get("/health/db", func(w http.ResponseWriter, r *http.Request) {
		if err := resolver.Conn(r.Context()).Ping(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		info := resolver.Info(r.Context())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","controlPlane":` + strconv.FormatBool(info.UsingControlPlane) + `}`))
	})

	rootRouter.Route("/api/v1/admin/tenants", func(r chi.Router) {
		r.Use(tenantmiddleware.ForceControlPlane)
		r.Mount("/", tenantHTTPHandler.Routes())
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      rootRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting api server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// headerIdentity reads the identity resolved by the upstream auth layer.
// Token and session mechanics live entirely outside this service.
func headerIdentity(r *http.Request) (tenant.Identity, bool) {
	userID, err := uuid.Parse(r.Header.Get("X-User-Id"))
	if err != nil {
		return tenant.Identity{}, false
	}
	identity := tenant.Identity{
		UserID: userID,
		Role:   r.Header.Get("X-User-Role"),
	}
	if tid, err := tenant.ParseID(r.Header.Get("X-Tenant-Id")); err == nil {
		identity.TenantID = tid
	}
	return identity, true
}
