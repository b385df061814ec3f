package main

import (
	"context"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/paperhub/paperhub/handlers"
	"github.com/paperhub/paperhub/internal/database"
	"github.com/paperhub/paperhub/internal/paper/service"
	"github.com/paperhub/paperhub/internal/paper/store"
	syncpkg "github.com/paperhub/paperhub/internal/sync"
	"github.com/paperhub/paperhub/pkg/logger"
)

// papersd is the store-only service: papers/comments REST without the auth
// and fanout layers, useful for integration tooling.
func main() {
	logger.Init(os.Getenv("LOG_LEVEL"))

	port := os.Getenv("PAPERS_SERVICE_PORT")
	if port == "" {
		port = "5090"
	}

	r := gin.New()
	r.Use(gin.Recovery())

	var st store.Store
	if mongoURI := os.Getenv("MONGODB_URI"); mongoURI != "" {
		client, err := database.ConnectMongo(context.Background(), mongoURI, 10*time.Second)
		if err != nil {
			logger.Warnf("cannot connect to MongoDB (%v), using memory store", err)
			st = store.NewMemoryStore()
		} else {
			st = store.NewMongoStore(client.Database(os.Getenv("MONGODB_DATABASE")))
		}
	} else {
		st = store.NewMemoryStore()
	}

	svc := service.New(st)
	session := syncpkg.NewSession(st)
	if err := session.Start(context.Background()); err != nil {
		logger.Fatalf("failed to start sync session: %v", err)
	}

	h := handlers.NewPaperHandler(svc, session, nil)
	// no token verification here; callers pass X-Caller-Id directly
	h.Register(r, func(c *gin.Context) {
		if id := c.GetHeader("X-Caller-Id"); id != "" {
			c.Set("callerId", id)
		}
		c.Next()
	})

	logger.Infof("papersd listening on :%s", port)
	if err := r.Run(":" + port); err != nil {
		logger.Fatalf("server failed: %v", err)
	}
}
