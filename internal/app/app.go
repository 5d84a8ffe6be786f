package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"rulebook_backend/internal/config"
	"rulebook_backend/internal/controller"
	"rulebook_backend/internal/repository"
	"rulebook_backend/internal/service"
	"rulebook_backend/pkg/configwatcher"
	"rulebook_backend/pkg/database"
	"rulebook_backend/pkg/logger"
	"rulebook_backend/pkg/monitoring"
	"rulebook_backend/pkg/security"
	"rulebook_backend/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gorm.io/gorm"
)

type App struct {
	Config          *config.Config
	ConfigDir       string
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	services        *services
	rateLimiter     *security.RateLimiter
	tracer          *sdktrace.TracerProvider
	configCallbacks []func(*config.Config)
}

type repositories struct {
	user     *repository.UserRepository
	lesson   *repository.LessonRepository
	proposal *repository.ProposalRepository
	tx       *repository.TxManager
}

type services struct {
	auth     *service.AuthService
	user     *service.UserService
	lesson   *service.LessonService
	proposal *service.ProposalService
	storage  *service.StorageService
	hub      *service.ProposalHub
}

type controllers struct {
	auth     *controller.AuthController
	user     *controller.UserController
	lesson   *controller.LessonController
	proposal *controller.ProposalController
	asset    *controller.AssetController
	health   *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		user:     repository.NewUserRepository(db),
		lesson:   repository.NewLessonRepository(db),
		proposal: repository.NewProposalRepository(db),
		tx:       repository.NewTxManager(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, rdb *redis.Client) *services {
	s := &services{}

	var cache service.LessonCache = repository.NopLessonCache{}
	if rdb != nil {
		cache = repository.NewRedisLessonCache(rdb, time.Duration(cfg.Redis.LessonTTLMinutes)*time.Minute)
	}

	s.storage = service.NewStorageService(cfg)
	s.auth = service.NewAuthService(repos.user, repos.tx, cfg)
	s.user = service.NewUserService(repos.user, repos.tx)
	s.lesson = service.NewLessonService(repos.lesson, cache, cfg.Workflow)
	s.proposal = service.NewProposalService(repos.proposal, repos.user, s.lesson, repos.tx, cfg.Workflow)

	s.hub = service.NewProposalHub(rdb, repos.user, cfg.CORS.AllowedOrigins)
	s.proposal.Events = s.hub
	go s.hub.Run()

	return s
}

func (a *App) initControllers(s *services, repos *repositories, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		auth:     controller.NewAuthController(s.auth),
		user:     controller.NewUserController(s.user),
		lesson:   controller.NewLessonController(s.lesson),
		proposal: controller.NewProposalController(s.proposal, s.hub),
		asset:    controller.NewAssetController(s.storage),
		health:   controller.NewHealthController(db, rdb, repos.proposal),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())

	a.rateLimiter = security.NewRateLimiter(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute)
	router.Use(a.rateLimiter.Middleware())

	// tracing middleware
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// New wires repositories, services and routes on already opened connections.
// rdb may be nil, in which case lesson caching is disabled.
func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client) *App {
	app := &App{
		Config:    cfg,
		ConfigDir: "configs",
		DB:        db,
		Redis:     rdb,
	}

	repos := app.initRepositories(db)
	app.services = app.initServices(repos, cfg, rdb)
	controllers := app.initControllers(app.services, repos, db, rdb)

	// metrics
	monitoring.Init()

	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, controllers, cfg)

	if cfg.Storage.Type == "local" {
		router.Static("/uploads", cfg.Storage.LocalPath)
	}

	app.RegisterConfigCallback(app.applyWorkflowConfig)
	return app
}

// NewApp opens the database, Redis and tracing exporter described by cfg.
func NewApp(cfg *config.Config) (*App, error) {
	logger.InitLogger(cfg)
	logger.Log.Info("Logger initialized successfully")

	gin.SetMode(cfg.Server.Mode)

	db, err := database.InitDB(&cfg.Database, cfg.Server.Mode, cfg.ForceMigrate)
	if err != nil {
		logger.Log.Error("Failed to initialize database", zap.Error(err))
		return nil, err
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = database.InitRedis(&cfg.Redis)
		if err != nil {
			logger.Log.Error("Failed to initialize redis", zap.Error(err))
			return nil, err
		}
	}

	app := New(cfg, db, rdb)

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer(tracing.ServiceName, cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Error("Failed to initialize tracing", zap.Error(err))
			return nil, err
		}
		app.tracer = tp
	}

	return app, nil
}

func (a *App) applyWorkflowConfig(cfg *config.Config) {
	logger.SetMode(cfg.Server.Mode)
	a.services.proposal.SetApproveThreshold(cfg.Workflow.ApproveThreshold)
	if a.rateLimiter != nil {
		a.rateLimiter.SetLimit(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute)
	}
	logger.Log.Info("configuration reloaded",
		zap.Int("approveThreshold", cfg.Workflow.ApproveThreshold),
		zap.Int("rateLimit", cfg.RateLimit.MaxRequests),
	)
}

func (a *App) reload(cfg *config.Config) {
	for _, cb := range a.configCallbacks {
		cb(cfg)
	}
}

func (a *App) Run() error {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.Config.Server.WatchConfig {
		go func() {
			path := filepath.Join(a.ConfigDir, "config.yaml")
			if err := configwatcher.Watch(ctx, path, a.reload); err != nil {
				logger.Log.Error("config watcher stopped", zap.Error(err))
			}
		}()
	}

	// start serving
	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info("Server running", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// wait for an interrupt, then shut down gracefully with a 5 second timeout
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	logger.Log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	a.services.hub.Stop()

	if a.tracer != nil {
		if err := a.tracer.Shutdown(shutdownCtx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}

	logger.Log.Info("Server exiting")
	return nil
}
