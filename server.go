package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/possync_backend/config"
	"bitbucket.org/mmdatafocus/possync_backend/middlewares"
	"bitbucket.org/mmdatafocus/possync_backend/models"
	"bitbucket.org/mmdatafocus/possync_backend/utils"
	"bitbucket.org/mmdatafocus/possync_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const defaultPort = "8080"

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization",
		middlewares.HeaderIdempotencyKey, middlewares.HeaderLocationId,
		middlewares.HeaderQueuedRequest, middlewares.HeaderQueuedCreatedAt,
		middlewares.HeaderRetryCount)
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	api := r.Group("/api", middlewares.QueuedRequestMiddleware(), middlewares.AuthMiddleware())

	// Business writes behind the idempotent command gateway.
	api.POST("/sales", idempotentWrite("/api/sales", bindSale))
	api.POST("/inventory-batches", idempotentWrite("/api/inventory-batches", bindInventoryBatch))
	api.POST("/expenses", idempotentWrite("/api/expenses", bindExpense))
	api.POST("/payments", idempotentWrite("/api/payments", bindPayment))

	// Sync audit log.
	api.POST("/sync/events", syncEventsIngestHandler())
	api.GET("/sync/events", syncEventsListHandler())
	api.POST("/sync/events/:operation_id/resolve", syncEventResolveHandler())

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	workflow.StartBackgroundJobs(sigCtx)

	select {
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
		}
	}
}

// idempotentWrite binds the request and runs the mutation through the
// gateway. Replays are served from the stored response and flagged so
// clients can tell a replay from a first application.
func idempotentWrite(endpoint string, bind func(c *gin.Context) (workflow.BusinessFn, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		fn, err := bind(c)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}

		response, replayed, err := workflow.RunIdempotent(c.Request.Context(), config.GetDB(), endpoint, fn)
		if err != nil {
			writeBusinessError(c, err)
			return
		}
		if replayed {
			c.Header("X-Idempotent-Replay", "true")
			c.Data(http.StatusOK, "application/json", response)
			return
		}
		c.Data(http.StatusCreated, "application/json", response)
	}
}

// writeBusinessError maps a gateway error onto the wire contract the flush
// engine classifies against: infrastructure failures are 503 (client keeps
// the operation pending and retries), business rejections are 4xx (client
// marks the operation conflict and stops retrying it automatically).
func writeBusinessError(c *gin.Context, err error) {
	logger := config.GetLogger()

	if errors.Is(err, utils.ErrorInsufficientStock) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, gorm.ErrInvalidDB) {
		config.LogError(logger, "server.go", "writeBusinessError", "infrastructure", nil, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
		return
	}

	c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
}

func bindSale(c *gin.Context) (workflow.BusinessFn, error) {
	var input models.NewSale
	if err := c.ShouldBindJSON(&input); err != nil {
		return nil, err
	}
	ctx := c.Request.Context()
	return func(tx *gorm.DB) (interface{}, error) {
		return models.CreateSale(tx, ctx, &input)
	}, nil
}

func bindInventoryBatch(c *gin.Context) (workflow.BusinessFn, error) {
	var input models.NewInventoryBatch
	if err := c.ShouldBindJSON(&input); err != nil {
		return nil, err
	}
	ctx := c.Request.Context()
	return func(tx *gorm.DB) (interface{}, error) {
		return models.CreateInventoryBatch(tx, ctx, &input)
	}, nil
}

func bindExpense(c *gin.Context) (workflow.BusinessFn, error) {
	var input models.NewExpense
	if err := c.ShouldBindJSON(&input); err != nil {
		return nil, err
	}
	ctx := c.Request.Context()
	return func(tx *gorm.DB) (interface{}, error) {
		return models.CreateExpense(tx, ctx, &input)
	}, nil
}

func bindPayment(c *gin.Context) (workflow.BusinessFn, error) {
	var input models.NewPayment
	if err := c.ShouldBindJSON(&input); err != nil {
		return nil, err
	}
	ctx := c.Request.Context()
	return func(tx *gorm.DB) (interface{}, error) {
		return models.CreatePayment(tx, ctx, &input)
	}, nil
}

func syncEventsIngestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Events []models.SyncAuditEvent `json:"events" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		inserted, err := models.RecordSyncEvents(c.Request.Context(), body.Events)
		if err != nil {
			config.LogError(config.GetLogger(), "server.go", "syncEventsIngestHandler", "record events", nil, err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"inserted": inserted})
	}
}

func syncEventsListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.Query("limit"))
		filter := models.SyncAuditFilter{
			LocationId: strings.TrimSpace(c.Query("location_id")),
			Status:     strings.TrimSpace(c.Query("status")),
			Limit:      limit,
		}

		entries, err := models.ListSyncAuditLog(c.Request.Context(), filter)
		if err != nil {
			config.LogError(config.GetLogger(), "server.go", "syncEventsListHandler", "list entries", nil, err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries})
	}
}

func syncEventResolveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		operationId := c.Param("operation_id")

		var body struct {
			Status string `json:"status" binding:"required,oneof=resolved ignored"`
			Note   string `json:"note"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}

		entry, err := models.ResolveSyncAuditEntry(c.Request.Context(), operationId,
			models.SyncAuditResolution(body.Status), body.Note)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
				return
			}
			config.LogError(config.GetLogger(), "server.go", "syncEventResolveHandler", operationId, nil, err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
			return
		}
		c.JSON(http.StatusOK, entry)
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		logger.WithFields(logrus.Fields{
			"status":         c.Writer.Status(),
			"method":         c.Request.Method,
			"path":           c.Request.URL.Path,
			"latency":        latency.String(),
			"correlation_id": cid,
		}).Info("request")
	}
}
