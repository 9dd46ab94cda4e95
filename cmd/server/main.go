package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/flowerwine/filebounty-backend/internal/auth"
	"github.com/flowerwine/filebounty-backend/internal/config"
	"github.com/flowerwine/filebounty-backend/internal/database"
	"github.com/flowerwine/filebounty-backend/internal/handlers"
	"github.com/flowerwine/filebounty-backend/internal/logger"
	"github.com/flowerwine/filebounty-backend/internal/metrics"
	"github.com/flowerwine/filebounty-backend/internal/middleware"
	"github.com/flowerwine/filebounty-backend/internal/realtime"
	"github.com/flowerwine/filebounty-backend/internal/routes"
	"github.com/flowerwine/filebounty-backend/internal/services"
	"github.com/flowerwine/filebounty-backend/pkg/clientip"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load env
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		os.Stderr.WriteString("warning: could not parse .env: " + err.Error() + "\n")
	}

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logger.Init(cfg.Environment)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg); err != nil {
		zap.S().Fatalf("server: %v", err)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policy, err := config.LoadUploadPolicy(cfg.UploadPolicyFile)
	if err != nil {
		return err
	}

	// Connect to PostgreSQL (runs migrations)
	zap.S().Info("Connecting to PostgreSQL...")
	if err := database.ConnectPostgres(ctx, cfg.PostgresURI); err != nil {
		return err
	}
	defer database.DisconnectPostgres()

	// Connect to Redis
	zap.S().Info("Connecting to Redis...")
	if err := database.ConnectRedis(ctx, cfg.RedisURI); err != nil {
		return err
	}
	defer database.DisconnectRedis()

	// Connect to MongoDB
	zap.S().Info("Connecting to MongoDB...")
	if err := database.Connect(ctx, cfg.MongoURI); err != nil {
		return err
	}
	defer database.Disconnect()

	db, rdb := database.PostgresDB, database.RedisClient

	messageStore := services.NewMongoMessageStore(database.DB)
	if err := messageStore.EnsureIndexes(ctx); err != nil {
		zap.S().Warnf("⚠️  failed to ensure MongoDB message indexes: %v", err)
	} else {
		zap.S().Info("✅ MongoDB message indexes ensured")
	}

	storage, err := services.NewStorage(ctx, cfg)
	if err != nil {
		return err
	}
	zap.S().Infof("✅ File storage: %s", storage.Name())

	publicDir := filepath.Join(filepath.Dir(filepath.Clean(cfg.UploadBaseDir)), "public")
	publicStorage, err := services.NewLocalStorage(publicDir)
	if err != nil {
		return err
	}

	var cdn services.ImageUploader
	if cfg.CloudinaryEnabled() {
		cld, err := services.NewCloudinaryService(cfg.CloudinaryName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret)
		if err != nil {
			zap.S().Warnf("⚠️  Cloudinary unavailable, avatars stay on local disk: %v", err)
		} else {
			cdn = cld
			zap.S().Info("✅ Cloudinary service initialized")
		}
	}

	tokens := auth.NewManager(cfg.JWTSecret, cfg.AdminJWTSecret, cfg.JWTExpiry, auth.NewRedisDenylist(rdb))
	resolveUser := func(ctx context.Context, token string) (int64, error) {
		claims, err := tokens.ParseUser(ctx, token)
		if err != nil {
			return 0, err
		}
		return claims.UserID, nil
	}

	points := services.NewPointsService(db)
	captcha := services.NewCaptchaService(rdb)
	users := services.NewUserService(db, points, tokens, captcha)
	tokens.SetActiveCheck(users.Active)
	files := services.NewFileService(db, storage, points)
	avatars := services.NewAvatarService(policy, cdn, publicStorage, cfg.UploadURLPrefix, files, users)
	chunks, err := services.NewChunkUploadService(cfg.ChunkDir, policy, files)
	if err != nil {
		return err
	}
	tus, err := services.NewTusService(cfg.TusDir, routes.TusBasePath, policy, rdb, files, func(ctx context.Context, authorization string) (int64, error) {
		return resolveUser(ctx, auth.BearerToken(authorization))
	})
	if err != nil {
		return err
	}

	broker := realtime.NewBroker(rdb)
	messages := services.NewMessageService(db, messageStore, services.NewConversationCache(rdb), broker)
	ws := realtime.NewHandler(broker, resolveUser, messages, cfg.AllowedOrigins)

	cleanup := services.NewCleanupService(cfg.ChunkDir, time.Duration(policy.Chunk.ExpirationHours)*time.Hour, cfg.TusDir)
	if err := cleanup.Start(); err != nil {
		return err
	}
	zap.S().Info("✅ Upload cleanup scheduled (chunks 02:00, tus 03:00)")

	go broker.Run(ctx)
	go tus.Run(ctx)

	clientip.TrustForwarded = cfg.TrustProxy

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(metrics.InstrumentHandler)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Production: SecurityHeaders → GlobalRateLimit → LoginRateLimit
	// Non-production: Redis-based rate limit only
	if cfg.IsProduction() {
		for _, mw := range middleware.ProductionSecurity(ctx) {
			r.Use(mw)
		}
		zap.S().Info("✅ Production security enabled (security headers, per-IP + login rate limiting)")
	} else {
		r.Use(middleware.NewRedisRateLimiter(rdb).Middleware)
	}

	routes.SetupRoutes(r, routes.Deps{
		Tokens:          tokens,
		Users:           handlers.NewUserHandler(users, captcha),
		Captcha:         handlers.NewCaptchaHandler(captcha),
		Points:          handlers.NewPointsHandler(points, services.NewSignService(db, points).WithCache(services.NewJSONCache(rdb))),
		Bounty:          handlers.NewBountyHandler(services.NewBountyService(db, points)),
		Resources:       handlers.NewResourceHandler(services.NewResourceService(db, points)),
		Files:           handlers.NewFileHandler(files, avatars, chunks, tus, policy.Chunk.MaxChunkSize, policy.Types["avatar"].MaxSize),
		Messages:        handlers.NewMessageHandler(messages),
		AdminAuth:       handlers.NewAdminAuthHandler(services.NewAdminAuthService(db, tokens)),
		Realtime:        ws,
		Tus:             tus.Handler(),
		UploadURLPrefix: cfg.UploadURLPrefix,
		PublicDir:       publicDir,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.S().Infof("🚀 FileBounty backend running on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zap.S().Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	ws.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.S().Warnf("http shutdown: %v", err)
	}
	cleanup.Stop(shutdownCtx)
	zap.S().Info("✅ Server stopped")
	return nil
}
