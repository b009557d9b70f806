package main

import (
	"context"
	"database/sql"
	"log"
	"net"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/shelterstack/identity-engine/pkg/config"
	"github.com/shelterstack/identity-engine/pkg/database"
	"github.com/shelterstack/identity-engine/pkg/handlers"
	"github.com/shelterstack/identity-engine/pkg/logging"
	"github.com/shelterstack/identity-engine/pkg/metrics"
	"github.com/shelterstack/identity-engine/pkg/middleware"
	"github.com/shelterstack/identity-engine/pkg/models"
	"github.com/shelterstack/identity-engine/pkg/repositories"
	"github.com/shelterstack/identity-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.URL())))

	ctx := context.Background()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// golang-migrate needs a database/sql handle
	sqlDB, err := sql.Open("pgx", cfg.Database.URL())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(sqlDB, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	_ = sqlDB.Close()

	m := metrics.New(prometheus.DefaultRegisterer)

	// Repositories
	entityRepo := repositories.NewEntityRepository(db)
	identifierRepo := repositories.NewIdentifierRepository(db)
	blocklistRepo := repositories.NewBlocklistRepository(db)
	linkRepo := repositories.NewEntityLinkRepository(db)
	searchRepo := repositories.NewSearchRepository(db)
	stagedRepo := repositories.NewStagedRecordRepository(db)

	// Services
	guard := services.NewBlocklistGuard(blocklistRepo,
		time.Duration(cfg.Blocklist.CacheTTLSeconds)*time.Second, logger)
	if cfg.Blocklist.RulesPath != "" {
		n, err := guard.LoadRulesFile(ctx, cfg.Blocklist.RulesPath)
		if err != nil {
			logger.Fatal("Failed to load blocklist rules file",
				zap.String("path", cfg.Blocklist.RulesPath), zap.Error(err))
		}
		logger.Info("Loaded blocklist rules file",
			zap.String("path", cfg.Blocklist.RulesPath), zap.Int("rules", n))
	}

	policy := models.DefaultRankingPolicy()
	if cfg.Search.RankingPolicyPath != "" {
		policy, err = models.LoadRankingPolicy(cfg.Search.RankingPolicyPath)
		if err != nil {
			logger.Fatal("Failed to load ranking policy",
				zap.String("path", cfg.Search.RankingPolicyPath), zap.Error(err))
		}
		logger.Info("Loaded ranking policy", zap.String("path", cfg.Search.RankingPolicyPath))
	}

	identifierService := services.NewIdentifierService(&services.IdentifierServiceDeps{
		Repo:    identifierRepo,
		Guard:   guard,
		Metrics: m,
		Logger:  logger,
	})
	canonicalizer := services.NewCanonicalizer(entityRepo, m, logger)
	classifier := services.NewAccountClassifier(entityRepo, logger)
	ingestService := services.NewIngestService(&services.IngestServiceDeps{
		DB:            db,
		EntityRepo:    entityRepo,
		Identifiers:   identifierService,
		Canonicalizer: canonicalizer,
		Classifier:    classifier,
		Metrics:       m,
		Logger:        logger,
	})
	mergeService := services.NewMergeService(entityRepo, canonicalizer, logger)
	searchService := services.NewSearchService(searchRepo, policy, m, logger)
	rawSearchService := services.NewRawSearchService(stagedRepo, m, logger)
	entityService := services.NewEntityService(&services.EntityServiceDeps{
		EntityRepo:    entityRepo,
		Identifiers:   identifierService,
		Links:         linkRepo,
		Canonicalizer: canonicalizer,
		Logger:        logger,
	})

	mux := http.NewServeMux()

	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewSearchHandler(searchService, rawSearchService, cfg, logger).RegisterRoutes(mux)
	handlers.NewEntityHandler(entityService, mergeService, canonicalizer, logger).RegisterRoutes(mux)
	handlers.NewIngestHandler(ingestService, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	handler := middleware.RequestLogger(logger)(mux)

	addr := net.JoinHostPort(cfg.BindAddr, cfg.Port)
	logger.Info("Starting identity-engine",
		zap.String("addr", addr),
		zap.String("version", cfg.Version))
	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}
