package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cacatua/cacatua/backend/go-services/handlers"
	"github.com/cacatua/cacatua/backend/go-services/internal/chat"
	"github.com/cacatua/cacatua/backend/go-services/internal/config"
	"github.com/cacatua/cacatua/backend/go-services/internal/database"
	"github.com/cacatua/cacatua/backend/go-services/internal/identity"
	"github.com/cacatua/cacatua/backend/go-services/internal/models"
	"github.com/cacatua/cacatua/backend/go-services/internal/oidc"
	"github.com/cacatua/cacatua/backend/go-services/internal/sessions"
	"github.com/cacatua/cacatua/backend/go-services/internal/tokens"
	"github.com/cacatua/cacatua/backend/go-services/internal/users"
	"github.com/cacatua/cacatua/backend/go-services/pkg/logger"
	"github.com/cacatua/cacatua/backend/go-services/pkg/metrics"
	"github.com/cacatua/cacatua/backend/go-services/pkg/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

var startTime = time.Now()

// stores groups the persistence backends selected at startup.
type stores struct {
	refresh  sessions.Repository
	users    users.UserRepository
	messages chat.Repository
	broker   chat.Broker
	mongo    *mongo.Client
	redis    *redis.Client
}

func main() {
	// LOG_LEVEL: debug|info|warn|error|fatal
	logger.Init(os.Getenv("LOG_LEVEL"))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: log=%s store=%s mongo=%v redis=%v identity=%v",
		logger.LevelString(), cfg.Store.Backend, cfg.MongoDB.URI != "", cfg.Redis.Host != "", cfg.Identity.LoginURL != "")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		logger.Fatalf("failed to open stores: %v", err)
	}
	defer st.close()

	codec := tokens.NewCodec(cfg.JWT)
	mgr := sessions.NewManager(st.refresh, cfg.JWT.RefreshTokenTTL)
	if st.redis != nil {
		mgr.WithReuseLedger(sessions.NewReuseLedger(st.redis))
	}
	go sessions.NewSweeper(mgr, cfg.Cleanup.Interval).Run(ctx)

	userSvc := users.NewService(st.users)
	authHandler := handlers.NewAuthHandler(identityProvider(cfg), userSvc, codec, mgr)
	if v := idTokenVerifier(ctx, cfg); v != nil {
		authHandler.WithIDTokenVerifier(v)
	}
	chatSvc := chat.NewService(st.messages, st.broker)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), corsMiddleware(cfg.CORS.AllowedOrigins))
	limit := rateLimiter(cfg, st.redis)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})
	r.GET("/ready", func(c *gin.Context) {
		deps := st.ping(c.Request.Context())
		status, code := "ready", http.StatusOK
		for _, ok := range deps {
			if !ok {
				status, code = "not_ready", http.StatusServiceUnavailable
			}
		}
		c.JSON(code, gin.H{"status": status, "deps": deps, "uptime": time.Since(startTime).String()})
	})

	authHandler.Register(r.Group("/"), limit...)
	handlers.NewMessageHandler(chatSvc).Register(r.Group("/"), middleware.AuthMiddleware(codec), limit...)
	handlers.RegisterSwagger(r)

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		// no WriteTimeout: the message stream is long-lived
		IdleTimeout: 2 * time.Minute,
	}
	go func() {
		logger.Infof("starting cacatua api on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("graceful shutdown failed: %v", err)
	}
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	st := &stores{}

	if addr := cfg.Redis.Addr(); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			if cfg.Store.Backend == config.StoreRedis {
				return nil, fmt.Errorf("redis ping: %w", err)
			}
			logger.Warnf("redis unavailable at %s, continuing without it: %v", addr, err)
			_ = client.Close()
		} else {
			st.redis = client
			logger.Infof("connected to redis at %s", addr)
		}
	}

	if cfg.MongoDB.URI != "" {
		client, err := database.ConnectMongoWithRetry(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout, 5)
		if err != nil {
			if cfg.Store.Backend == config.StoreMongo {
				return nil, err
			}
			logger.Warnf("%v; profiles and messages fall back to memory", err)
		} else {
			st.mongo = client
		}
	}

	if st.mongo != nil {
		db := st.mongo.Database(cfg.MongoDB.Database)
		messages := chat.NewMongoRepo(db.Collection(chat.CollectionName))
		st.users = users.NewMongoUserRepository(db.Collection(users.CollectionName))
		st.messages = messages
		indexed := []database.IndexedStore{messages}
		if cfg.Store.Backend == config.StoreMongo {
			refresh := sessions.NewMongoRepository(db.Collection(sessions.CollectionName))
			st.refresh = refresh
			indexed = append(indexed, refresh)
		}
		if err := database.EnsureIndexes(ctx, indexed...); err != nil {
			logger.Warnf("index bootstrap failed: %v", err)
		}
	} else {
		st.users = users.NewMemoryUserRepository()
		st.messages = chat.NewMemoryRepo()
	}

	switch cfg.Store.Backend {
	case config.StoreRedis:
		st.refresh = sessions.NewRedisRepository(st.redis, "rt:")
	case config.StoreMemory:
		logger.Warnf("refresh tokens are kept in memory and will not survive a restart")
		st.refresh = sessions.NewMemoryRepository()
	}

	if st.redis != nil {
		st.broker = chat.NewRedisBroker(st.redis, "chat:")
	} else {
		st.broker = chat.NewLocalBroker()
	}
	return st, nil
}

func (s *stores) ping(ctx context.Context) map[string]bool {
	deps := map[string]bool{}
	if s.mongo != nil {
		deps["mongo"] = s.mongo.Ping(ctx, nil) == nil
	}
	if s.redis != nil {
		deps["redis"] = s.redis.Ping(ctx).Err() == nil
	}
	return deps
}

func (s *stores) close() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.mongo != nil {
		_ = s.mongo.Disconnect(context.Background())
	}
}

// rateLimiter returns the configured limiter, or none. Handlers mount it
// behind auth so signed-in callers are limited per subject.
func rateLimiter(cfg *config.Config, rdb *redis.Client) []gin.HandlerFunc {
	if !cfg.RateLimit.Enabled {
		return nil
	}
	if cfg.RateLimit.UseRedis && rdb != nil {
		win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
		return []gin.HandlerFunc{middleware.RedisRateLimitMiddleware(rdb, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win)}
	}
	return []gin.HandlerFunc{middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst)}
}

func identityProvider(cfg *config.Config) identity.Provider {
	if cfg.Identity.LoginURL != "" {
		return identity.NewClient(cfg.Identity)
	}
	logger.Warnf("IDENTITY_LOGIN_URL not set; using the in-process development provider")
	p := identity.NewStaticProvider()
	if cfg.Identity.DevEmail != "" && cfg.Identity.DevPassword != "" {
		p.Add(models.Account{UID: "dev-" + strings.SplitN(cfg.Identity.DevEmail, "@", 2)[0], Email: cfg.Identity.DevEmail, DisplayName: "Developer"}, cfg.Identity.DevPassword)
	}
	return p
}

func idTokenVerifier(ctx context.Context, cfg *config.Config) oidc.TokenVerifier {
	if cfg.Identity.Issuer != "" {
		v, err := oidc.NewVerifier(ctx, cfg.Identity.Issuer, cfg.Identity.Audience)
		if err == nil {
			return v
		}
		logger.Warnf("failed to initialize ID token verifier: %v", err)
	}
	if cfg.Identity.AllowInsecure {
		logger.Warn("enabling insecure ID token verifier (integration mode)")
		return oidc.NewInsecureVerifier()
	}
	return nil
}

func corsMiddleware(allowed []string) gin.HandlerFunc {
	origins := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		origins[o] = true
	}
	return func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" && (origins[origin] || origins["*"]) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
