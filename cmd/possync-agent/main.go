package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/possync_backend/config"
	"bitbucket.org/mmdatafocus/possync_backend/possync"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const defaultPort = "7070"

// The agent runs next to the point-of-sale front-end. It owns the durable
// queue file, flushes it against the server on a ticker, and exposes a small
// local HTTP surface so the front-end can enqueue writes and inspect state.
func main() {
	godotenv.Load()

	logger := config.GetLogger()

	port := os.Getenv("POSSYNC_PORT")
	if port == "" {
		port = defaultPort
	}
	serverURL := strings.TrimSpace(os.Getenv("POSSYNC_SERVER_URL"))
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}
	token := strings.TrimSpace(os.Getenv("POSSYNC_TOKEN"))
	locationId := strings.TrimSpace(os.Getenv("POSSYNC_LOCATION_ID"))

	var store possync.QueueStore
	dbPath := strings.TrimSpace(os.Getenv("POSSYNC_DB_PATH"))
	if dbPath == "" {
		logger.Warn("POSSYNC_DB_PATH not set; queued writes will not survive restarts")
		store = possync.NewMemoryStore()
	} else {
		sqliteStore, err := possync.OpenSQLiteStore(dbPath)
		if err != nil {
			logger.Fatalf("open queue store: %v", err)
		}
		store = sqliteStore
	}
	defer store.Close()

	client := possync.NewServerClient(serverURL, token, locationId)
	coordinator := possync.NewCoordinator(store, client, client, logger)
	coordinator.SetAuditReporter(client)

	if recovered, err := coordinator.RecoverStuckOperations(); err != nil {
		logger.Warnf("recover stuck operations: %v", err)
	} else if recovered > 0 {
		logger.WithFields(logrus.Fields{"recovered": recovered}).Info("operations recovered from interrupted flush")
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	flushInterval := time.Duration(intFromEnv("POSSYNC_FLUSH_SECONDS", 30)) * time.Second
	historyRetention := time.Duration(intFromEnv("POSSYNC_HISTORY_RETENTION_DAYS", 7)) * 24 * time.Hour

	go func() {
		ticker := time.NewTicker(flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sigCtx.Done():
				return
			case <-ticker.C:
			}

			result, err := coordinator.Flush(sigCtx)
			if err != nil {
				logger.Errorf("flush: %v", err)
				continue
			}
			if result.Synced > 0 || result.Failed > 0 || result.Conflicts > 0 {
				logger.WithFields(logrus.Fields{
					"synced":    result.Synced,
					"failed":    result.Failed,
					"conflicts": result.Conflicts,
				}).Info("flush complete")
			}

			if _, err := coordinator.PruneHistory(time.Now().Add(-historyRetention)); err != nil {
				logger.Warnf("prune history: %v", err)
			}
		}
	}()

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	r.POST("/queue", func(c *gin.Context) {
		var body struct {
			ID      string          `json:"id"`
			Method  string          `json:"method" binding:"required"`
			URL     string          `json:"url" binding:"required"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		op, err := coordinator.Enqueue(possync.QueuedOperation{
			ID:      body.ID,
			Method:  body.Method,
			URL:     body.URL,
			Payload: body.Payload,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, op)
	})

	r.GET("/queue", func(c *gin.Context) {
		ops, err := coordinator.Operations()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"operations": ops})
	})

	r.POST("/flush", func(c *gin.Context) {
		result, err := coordinator.Flush(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	r.POST("/queue/:id/retry", func(c *gin.Context) {
		ok, err := coordinator.RetryOperation(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "operation not in conflict"})
			return
		}
		c.Status(http.StatusNoContent)
	})

	r.POST("/queue/:id/cancel", func(c *gin.Context) {
		ok, err := coordinator.Cancel(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !ok {
			c.JSON(http.StatusConflict, gin.H{"error": "operation cannot be cancelled"})
			return
		}
		c.Status(http.StatusNoContent)
	})

	r.GET("/history", func(c *gin.Context) {
		entries, err := coordinator.History(c.Query("operation_id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries})
	})

	srv := &http.Server{
		Addr:    "127.0.0.1:" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	select {
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error(err)
		}
	}
}

func intFromEnv(key string, def int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return n
}
