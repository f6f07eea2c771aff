package di

import (
	"context"
	"fmt"

	grpcserver "mobile-chat/backend/conversation/grpc"
	"mobile-chat/backend/conversation/redisbus"
	"mobile-chat/backend/conversation/search"
	"mobile-chat/backend/conversation/service"
	"mobile-chat/backend/conversation/store"
	"mobile-chat/backend/conversation/timeline"
	"mobile-chat/backend/conversation/transport"
	"mobile-chat/backend/conversation/ws"
	"mobile-chat/backend/pkg/cache"
	"mobile-chat/backend/pkg/config"
	"mobile-chat/backend/pkg/health"
	"mobile-chat/backend/pkg/logger"
	"mobile-chat/backend/pkg/middleware"
	"mobile-chat/backend/pkg/resilience"
	"mobile-chat/backend/roster/repository"
	rosterservice "mobile-chat/backend/roster/service"
	"mobile-chat/backend/shared/observability"
	sharedredis "mobile-chat/backend/shared/redis"

	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Container holds all the dependencies for the application
type Container struct {
	Config  *config.Config
	Logger  *logger.Logger
	Metrics *observability.Metrics
	DB      *gorm.DB
	Redis   *sharedredis.RedisClient
	Cache   *cache.Cache

	// Client side
	Store               *store.MemoryStore
	Dialer              transport.Dialer
	Roster              timeline.Roster
	Breaker             *resilience.CircuitBreaker
	ConversationService *service.ConversationService

	// Relay side
	Hub         *ws.Hub
	RateLimiter *middleware.RateLimiter
	Health      *health.Checker
	GRPC        *grpcserver.HealthServer
}

// Options holds optional collaborators for the container
type Options struct {
	// DB backs the participant roster. Without it Roster is used as is.
	DB *gorm.DB
	// Roster overrides the roster. Defaults to an empty static roster.
	Roster timeline.Roster
	// History seeds each entered conversation with its earlier messages
	History service.HistorySource
	Logger  *logger.Logger
}

// New creates a new dependency injection container
func New(cfg *config.Config, opts Options) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	log := opts.Logger
	if log == nil {
		logConfig := logger.DefaultConfig()
		logConfig.Level = cfg.Logging.Level
		logConfig.JSON = cfg.Logging.Format != "text"
		log = logger.New(logConfig)
	}

	metrics := observability.DefaultMetrics()

	redisClient := sharedredis.NewRedisClient(sharedredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	var dialer transport.Dialer
	switch cfg.Transport.Kind {
	case config.TransportWebSocket:
		dialer = ws.NewDialer(ws.DialerConfig{
			URL:              cfg.Transport.URL,
			HandshakeTimeout: cfg.Transport.HandshakeTimeout,
			SendBuffer:       cfg.Transport.SendBuffer,
		}, log)
	case config.TransportRedis:
		dialer = redisbus.NewDialer(redisClient, cfg.Redis.ChannelPrefix, log)
	default:
		redisClient.Close()
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport.Kind)
	}

	var nameCache *cache.Cache
	if cfg.Cache.Enabled {
		nameCache = cache.NewCache(cache.Options{
			TTL:             cfg.Cache.TTL,
			CleanupInterval: cfg.Cache.PurgeWindow,
			MaxItems:        cfg.Cache.MaxSize,
		})
	}

	roster := opts.Roster
	if opts.DB != nil {
		roster = rosterservice.NewRosterService(repository.NewGormParticipantRepository(opts.DB), nameCache)
	}
	if roster == nil {
		roster = rosterservice.StaticRoster{}
	}

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "session-open",
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Timeout:          cfg.Transport.HandshakeTimeout,
		RetryTimeout:     cfg.Breaker.RetryTimeout,
		IsFailure:        service.IsBreakerFailure,
	}, log)

	messageStore := store.NewMemoryStore()
	serviceOpts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(metrics),
		service.WithBreaker(breaker),
		service.WithSearchConfig(search.Config{QuiescenceWindow: cfg.Search.QuiescenceWindow}),
	}
	if opts.History != nil {
		serviceOpts = append(serviceOpts, service.WithHistory(opts.History))
	}
	conversations := service.NewConversationService(dialer, messageStore, roster, serviceOpts...)

	hub := ws.NewHub(ws.HubConfig{
		RateLimit:      cfg.Relay.RateLimit,
		RateLimitBurst: cfg.Relay.RateLimitBurst,
		AllowedOrigins: cfg.Relay.AllowedOrigins,
		MaxMessageSize: cfg.Relay.MaxMessageSize,
		SendBuffer:     cfg.Transport.SendBuffer,
	}, log, metrics)

	limiterOpts := middleware.DefaultRateLimiterOptions()
	limiterOpts.Limit = rate.Limit(cfg.Relay.RateLimit)
	limiterOpts.Burst = cfg.Relay.RateLimitBurst
	limiterOpts.KeyFunc = middleware.ParticipantKey

	critical := []string{}
	if cfg.Transport.Kind == config.TransportRedis {
		critical = append(critical, "redis")
	}
	if opts.DB != nil {
		critical = append(critical, "database")
	}
	checker := health.NewChecker(log, 0, critical...)
	checker.RegisterPingCheck("redis", redisClient.Ping)
	checker.RegisterRelayCheck(hub.ActiveConnections)
	if opts.DB != nil {
		checker.RegisterPingCheck("database", func(ctx context.Context) error {
			return opts.DB.WithContext(ctx).Exec("SELECT 1").Error
		})
	}

	return &Container{
		Config:              cfg,
		Logger:              log,
		Metrics:             metrics,
		DB:                  opts.DB,
		Redis:               redisClient,
		Cache:               nameCache,
		Store:               messageStore,
		Dialer:              dialer,
		Roster:              roster,
		Breaker:             breaker,
		ConversationService: conversations,
		Hub:                 hub,
		RateLimiter:         middleware.NewRateLimiter(log, limiterOpts),
		Health:              checker,
		GRPC:                grpcserver.NewHealthServer(log),
	}, nil
}

// Close releases the container's clients
func (c *Container) Close() error {
	if c.Cache != nil {
		c.Cache.Close()
	}
	return c.Redis.Close()
}
