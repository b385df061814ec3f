package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/paperhub/paperhub/handlers"
	"github.com/paperhub/paperhub/internal/config"
	"github.com/paperhub/paperhub/internal/database"
	"github.com/paperhub/paperhub/internal/hub"
	"github.com/paperhub/paperhub/internal/oidc"
	"github.com/paperhub/paperhub/internal/paper/service"
	"github.com/paperhub/paperhub/internal/paper/store"
	"github.com/paperhub/paperhub/internal/sessions"
	"github.com/paperhub/paperhub/internal/storage"
	syncpkg "github.com/paperhub/paperhub/internal/sync"
	"github.com/paperhub/paperhub/internal/tokens"
	"github.com/paperhub/paperhub/internal/users"
	"github.com/paperhub/paperhub/pkg/logger"
	"github.com/paperhub/paperhub/pkg/metrics"
	"github.com/paperhub/paperhub/pkg/middleware"
)

var startTime = time.Now()

func main() {
	// logging first (LOG_LEVEL env: debug|info|warn|error|fatal)
	logger.Init(os.Getenv("LOG_LEVEL"))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: mongo=%v redis=%v minio=%v", cfg.MongoDB.URI != "", cfg.Redis.Host != "", cfg.MinIO.Endpoint != "")

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	// Lightweight CORS for dev/test; production should use a stricter policy.
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(200)
			return
		}
		c.Next()
	})

	// Redis early so the blacklist and rate limiter can use it
	var rdb *redis.Client
	if cfg.Redis.Host != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Host + ":" + cfg.Redis.Port, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(context.Background()).Err(); err == nil {
			sessions.SetBlacklistClient(rdb)
			logger.Infof("connected to Redis at %s:%s", cfg.Redis.Host, cfg.Redis.Port)
		} else {
			logger.Warnf("failed to connect to Redis (%s:%s): %v", cfg.Redis.Host, cfg.Redis.Port, err)
			rdb = nil
		}
	}
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && rdb != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			r.Use(middleware.RedisRateLimitMiddleware(rdb, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
		} else {
			r.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Document store: Mongo when configured, memory fallback otherwise.
	// Retry/backoff tolerates container startup races.
	var st store.Store
	var mongoClient *mongo.Client
	if cfg.MongoDB.URI != "" {
		const maxAttempts = 5
		backoff := time.Second
		var errConn error
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			mongoClient, errConn = database.ConnectMongo(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout)
			if errConn == nil {
				break
			}
			logger.Warnf("attempt %d/%d: failed to connect to MongoDB: %v", attempt, maxAttempts, errConn)
			if attempt < maxAttempts {
				time.Sleep(backoff)
				backoff *= 2
			}
		}
		if errConn != nil {
			logger.Warnf("could not connect to MongoDB after %d attempts: %v", maxAttempts, errConn)
		}
	}
	if mongoClient != nil {
		defer func() { _ = mongoClient.Disconnect(ctx) }()
		st = store.NewMongoStore(mongoClient.Database(cfg.MongoDB.Database))
		logger.Infof("using MongoDB document store (db=%s)", cfg.MongoDB.Database)
	} else {
		st = store.NewMemoryStore()
		logger.Warn("using in-memory document store (no persistence)")
	}

	// optional MinIO attachment store
	var attach *storage.AttachmentStore
	if cfg.MinIO.Endpoint != "" {
		attach, err = storage.NewAttachmentStore(&cfg.MinIO)
		if err != nil {
			logger.Warnf("attachment store unavailable: %v", err)
			attach = nil
		}
	}

	var svc *service.Service
	if attach != nil {
		svc = service.NewWithAttachments(st, attach)
	} else {
		svc = service.New(st)
	}

	// live fanout: session folds store snapshots, hub pushes them to clients
	h := hub.New()
	go h.Run()
	session := syncpkg.NewSession(st)
	h.Bind(session)
	if err := session.Start(ctx); err != nil {
		logger.Fatalf("failed to start sync session: %v", err)
	}

	// auth sessions: Redis preferred, Mongo fallback
	var sessionsSvc *sessions.Service
	if rdb != nil {
		sessionsSvc = sessions.NewService(sessions.NewRedisRepository(rdb, "session:"))
		logger.Infof("using Redis for auth session storage")
	} else if mongoClient != nil {
		sessionsSvc = sessions.NewService(sessions.NewMongoRepository(mongoClient.Database(cfg.MongoDB.Database).Collection("sessions")))
	}

	var userSvc *users.Service
	if mongoClient != nil {
		userSvc = users.NewService(users.NewMongoUserRepository(mongoClient.Database(cfg.MongoDB.Database).Collection("users")))
	}

	// external IdP verifier is optional; local JWT verifier guards the API
	var idpVerifier middleware.Verifier
	if cfg.OIDC.Issuer != "" && cfg.OIDC.ClientID != "" {
		ver, err := oidc.NewVerifier(ctx, cfg.OIDC.Issuer, cfg.OIDC.ClientID)
		if err != nil {
			logger.Warnf("failed to initialize OIDC verifier: %v", err)
		} else {
			idpVerifier = ver
		}
	}
	authMW := middleware.AuthMiddleware(tokens.NewLocalVerifier(cfg.JWT.Secret))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})

	r.GET("/ready", func(c *gin.Context) {
		ready := true
		deps := map[string]bool{}
		deps["store"] = st != nil
		deps["auth"] = sessionsSvc != nil
		if sessionsSvc == nil {
			ready = false
		}
		deps["users"] = userSvc != nil
		deps["redis"] = rdb != nil || cfg.Redis.Host == ""
		if !deps["redis"] {
			ready = false
		}
		status := http.StatusOK
		state := "ready"
		if !ready {
			status = http.StatusServiceUnavailable
			state = "not_ready"
		}
		c.JSON(status, gin.H{"status": state, "deps": deps, "uptime": fmt.Sprintf("%s", time.Since(startTime))})
	})

	if userSvc != nil && sessionsSvc != nil {
		ah := handlers.NewAuthHandler(cfg, userSvc, sessionsSvc, idpVerifier)
		ah.Register(r.Group("/"))
	} else {
		logger.Warnf("auth handlers not registered because user/session services are unavailable")
	}

	ph := handlers.NewPaperHandler(svc, session, attach)
	ph.Register(r, authMW)
	handlers.RegisterSwagger(r)

	r.GET("/ws", func(c *gin.Context) {
		h.ServeWs(c.Writer, c.Request)
	})

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	logger.Infof("starting paperhub on %s", addr)
	if err := r.Run(addr); err != nil {
		logger.Fatalf("server failed: %v", err)
	}
}
