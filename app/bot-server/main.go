package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/yoockh/yoobatch/config"
	"github.com/yoockh/yoobatch/internal/agent"
	"github.com/yoockh/yoobatch/internal/api/handlers"
	"github.com/yoockh/yoobatch/internal/api/middleware"
	"github.com/yoockh/yoobatch/internal/api/routes"
	"github.com/yoockh/yoobatch/internal/handlecache"
	"github.com/yoockh/yoobatch/internal/kvstore"
	"github.com/yoockh/yoobatch/internal/logger"
	"github.com/yoockh/yoobatch/internal/notify"
	"github.com/yoockh/yoobatch/internal/providers/llm"
	"github.com/yoockh/yoobatch/internal/repositories/coord"
	mongorepo "github.com/yoockh/yoobatch/internal/repositories/mongo"
	pgrepo "github.com/yoockh/yoobatch/internal/repositories/postgres"
	"github.com/yoockh/yoobatch/internal/services"
	"github.com/yoockh/yoobatch/internal/transport/telegram"
	"github.com/yoockh/yoobatch/internal/utils"
	"github.com/yoockh/yoobatch/internal/workers"
)

const drainTimeout = 30 * time.Second

func main() {
	_ = godotenv.Load()
	log := logger.New()

	settings, err := config.LoadSettings()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Coordination store
	var store kvstore.Store
	var rdb *redis.Client
	switch settings.StoreBackend {
	case "redis":
		rdb, err = config.NewRedis(ctx, settings.RedisAddr)
		if err != nil {
			log.WithError(err).Fatal("Redis init error")
		}
		defer rdb.Close()
		store = kvstore.NewRedisStore(rdb)
		log.Info("Redis connected")
	default:
		emb, err := kvstore.StartEmbedded(0)
		if err != nil {
			log.WithError(err).Fatal("embedded Redis init error")
		}
		defer emb.Close()
		rdb, store = emb.Client, emb
		log.Warn("using embedded in-process Redis; run a single instance only")
	}

	keys := coord.Keys{Prefix: settings.KeyPrefix}
	retry := utils.DefaultRetryPolicy()
	retry.Attempts = settings.RetryAttempts
	retry.OnRetry = func(err error, wait time.Duration) {
		log.WithError(err).WithField("wait", wait.String()).Warn("coordination call failed, retrying")
	}

	markers := coord.NewMarkerRepo(store, keys)
	buffers := services.NewBufferService(coord.NewBufferRepo(store, keys), markers, settings.BufferTTL, retry)
	limiter := services.NewRateLimiter(store, keys)
	locks := services.NewLockService(store, keys)

	// Conversation log (optional)
	var convos services.ConversationService
	if settings.PostgresURI != "" {
		db, err := config.NewPostgres(settings.PostgresURI, log)
		if err != nil {
			log.WithError(err).Fatal("PostgreSQL init error")
		}
		convos = services.NewConversationService(pgrepo.NewConversationRepo(db))
		log.Info("PostgreSQL connected")
	}

	// Batch run archive (optional)
	var runs services.RunService
	var recorder services.RunRecorder
	var archiver *workers.RunArchiverPool
	if settings.MongoURI != "" {
		mc, err := config.NewMongo(ctx, settings.MongoURI)
		if err != nil {
			log.WithError(err).Fatal("MongoDB init error")
		}
		defer func() { _ = mc.Disconnect(context.Background()) }()

		db := mc.Database(settings.MongoDB)
		if err := config.EnsureRunIndexes(ctx, db); err != nil {
			log.WithError(err).Warn("failed to ensure batch_runs indexes")
		}
		runs = services.NewRunService(mongorepo.NewRunRepo(db), 7*24*time.Hour)
		recorder = runs

		if rdb != nil {
			stream := settings.KeyPrefix + workers.DefaultStream
			recorder = &workers.RunQueue{Redis: rdb, Stream: stream}
			archiver = &workers.RunArchiverPool{Redis: rdb, Archive: runs, Logger: log, Stream: stream}
		}
		log.Info("MongoDB connected")
	}

	provider, err := newProvider(ctx, settings)
	if err != nil {
		log.WithError(err).Fatal("LLM provider init error")
	}
	defer provider.Close()

	factory := &agent.Factory{Provider: provider, Convos: convos, Logger: log}
	agents := handlecache.New(factory.Construct, handlecache.Options[*agent.Agent]{
		IdleTimeout:   settings.AgentIdleTimeout,
		SweepInterval: settings.AgentSweepInterval,
		Logger:        log,
	})
	agents.Start()

	// Outbound channels
	var channels notify.Multi
	var notifier *notify.RedisNotifier
	if rdb != nil {
		notifier = notify.NewRedisNotifier(rdb, settings.KeyPrefix, log)
		channels = append(channels, notifier)
	}
	var bot *telegram.Bot
	if settings.TelegramToken != "" {
		if bot, err = telegram.New(settings.TelegramToken, log); err != nil {
			log.WithError(err).Fatal("Telegram init error")
		}
		channels = append(channels, bot)
	}

	deps := services.SchedulerDeps{
		Buffers:   buffers,
		Markers:   markers,
		Limiter:   limiter,
		Processor: agent.NewProcessor(agents),
		Runs:      recorder,
		Logger:    log,
	}
	if len(channels) > 0 {
		deps.Sink, deps.Presence, deps.Failures = channels, channels, channels
	}
	scheduler, err := services.NewScheduler(deps, services.SchedulerConfig{
		DebounceDelay: settings.DebounceDelay,
		RateLimit:     settings.RateLimit,
		RateWindow:    settings.RateWindow,
		Retry:         retry,
	})
	if err != nil {
		log.WithError(err).Fatal("scheduler init error")
	}
	resetter := services.NewResetService(locks, buffers, markers, convos, agents, log)
	resetter.Retry = retry

	srv := &http.Server{
		Addr:              ":" + settings.Port,
		Handler:           newRouter(log, settings, scheduler, resetter, runs, convos, notifier),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("port", settings.Port).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if bot != nil {
		bot.Attach(scheduler, resetter)
		g.Go(func() error { return bot.Run(gctx) })
	}
	if archiver != nil {
		if err := archiver.Start(gctx); err != nil {
			log.WithError(err).Fatal("run archiver init error")
		}
		g.Go(func() error {
			archiver.Wait()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("server stopped with error")
	}

	log.Info("draining scheduled runs")
	dctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := scheduler.Shutdown(dctx); err != nil {
		log.WithError(err).Warn("scheduled runs cancelled before completion")
	}
	agents.Shutdown()
	log.Info("bye")
}

func newProvider(ctx context.Context, s *config.Settings) (llm.Provider, error) {
	opts := llm.Options{Model: s.LLMModel}
	if s.LLMProvider == "vertex" {
		return llm.NewVertexGemini(ctx, s.VertexProject, s.VertexLocation, opts)
	}
	return llm.NewOpenAI(s.OpenAIKey, opts), nil
}

func newRouter(
	log *logrus.Logger,
	s *config.Settings,
	scheduler *services.Scheduler,
	resetter *services.ResetService,
	runs services.RunService,
	convos services.ConversationService,
	notifier *notify.RedisNotifier,
) *gin.Engine {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))

	auth := middleware.JWTConfigFromEnv()
	auth.Secret = s.JWTSecret

	d := routes.Deps{
		Auth:     auth,
		Messages: handlers.NewMessageHandler(scheduler, resetter),
	}
	if runs != nil {
		d.Runs = handlers.NewRunHandler(runs)
	}
	if convos != nil {
		d.Conversation = handlers.NewConversationHandler(convos)
	}
	if notifier != nil {
		d.WS = handlers.NewWSHandler(scheduler, notifier, log)
	}
	routes.RegisterRoutes(r, d)
	return r
}
