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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"geoattend/internal/auth"
	"geoattend/internal/checkin"
	"geoattend/internal/config"
	"geoattend/internal/httpmiddleware"
	"geoattend/internal/ledger"
	"geoattend/internal/logger"
	"geoattend/internal/metrics"
	"geoattend/internal/offline"
	"geoattend/internal/rotation"
	"geoattend/internal/session"
	"geoattend/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	log := logger.New(cfg.Env)
	defer func() { _ = log.Sync() }()

	if err := runHTTP(cfg, log); err != nil {
		log.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, log *zap.Logger) error {
	redisClient := store.NewRedis(cfg.RedisAddr)

	var (
		ledgerStore ledger.Store
		db          *store.DB
	)
	if cfg.StorageBackend == "memory" {
		ledgerStore = ledger.NewMemoryStore()
		log.Info("using in-memory storage backend")
	} else {
		var err error
		db, err = store.NewDB(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		if err := db.Migrate(context.Background()); err != nil {
			return err
		}
		ledgerStore = ledger.NewPostgresStore(db.Client)
	}

	var queue offline.Queue
	if cfg.QueueBackend == "memory" {
		queue = offline.NewInMemoryQueue()
	} else {
		queue = offline.NewRedisQueue(redisClient.Client, "geoattend:pending-checkins")
	}

	var publisher rotation.Publisher
	if cfg.PublisherBackend == "memory" {
		publisher = rotation.NewInMemoryPublisher()
	} else {
		publisher = rotation.NewRedisPublisher(redisClient.Client, "geoattend:code:", 3*cfg.CodeInterval)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	intervalMs := cfg.CodeInterval.Milliseconds()
	chain := ledger.New(ledgerStore, log)
	sessions := session.NewService(ledgerStore, log, intervalMs)
	gate := checkin.NewService(ledgerStore, chain, log, intervalMs)
	reconciler := offline.NewReconciler(queue, chain, log)

	scheduler := rotation.NewScheduler(publisher, log,
		rotation.WithTick(cfg.RotationTick),
		rotation.WithInterval(intervalMs))
	defer scheduler.StopAll()

	startRotation := func(ctx context.Context, s *ledger.Session) {
		if s.IsActive && s.RequireCode && !scheduler.Running(s.ID) {
			scheduler.Start(ctx, s.ID, s.Secret)
			m.RotatingCodes.Inc()
		}
	}
	stopRotation := func(id string) {
		if scheduler.Running(id) {
			scheduler.Stop(id)
			m.RotatingCodes.Dec()
		}
	}

	// Resume rotation for sessions that were active before a restart.
	rootCtx := context.Background()
	if existing, err := sessions.List(rootCtx); err == nil {
		for i := range existing {
			startRotation(rootCtx, &existing[i])
		}
	} else {
		log.Warn("could not list sessions at startup", zap.Error(err))
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	// IP-keyed limiter at the edge; the authed group re-limits per user below.
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	dbCheck := func(ctx context.Context) bool {
		if cfg.StorageBackend == "memory" {
			return true
		}
		return db != nil && db.Client.PingContext(ctx) == nil
	}
	redisCheck := func(ctx context.Context) bool {
		return cfg.QueueBackend == "memory" || redisClient.Healthy(ctx)
	}
	r.GET("/healthz", healthzHandler(dbCheck, redisCheck))

	// Dev token issuance; a real deployment fronts this with its identity provider.
	r.POST("/v1/auth/token", func(c *gin.Context) {
		var req struct {
			UserID string `json:"user_id" binding:"required"`
			Email  string `json:"email"`
			Name   string `json:"name"`
			Role   string `json:"role"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Role != auth.RoleAdmin {
			req.Role = auth.RoleAttendee
		}
		token, exp, err := auth.Issue(req.UserID, req.Email, req.Name, req.Role,
			cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"access_token": token, "expires_at": exp.Unix()})
	})

	// The per-user limiter must sit behind Bearer so claims are on the context.
	authed := r.Group("/v1",
		auth.Bearer(cfg.JWTSigningKey, cfg.JWTIssuer),
		httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	authed.GET("/sessions", func(c *gin.Context) {
		list, err := sessions.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": list})
	})

	authed.POST("/checkins", func(c *gin.Context) {
		in, ok := bindCheckIn(c)
		if !ok {
			return
		}
		res, err := gate.CheckIn(c.Request.Context(), in)
		if err != nil {
			rejectCheckIn(c, err, m)
			return
		}
		m.CheckIns.WithLabelValues("online").Inc()
		if res.Request != nil {
			c.JSON(http.StatusAccepted, gin.H{"request": res.Request, "status": "pending approval"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"record": res.Record})
	})

	authed.POST("/checkins/offline", func(c *gin.Context) {
		in, ok := bindCheckIn(c)
		if !ok {
			return
		}
		item, err := gate.CaptureOffline(c.Request.Context(), in)
		if err != nil {
			rejectCheckIn(c, err, m)
			return
		}
		id, err := queue.Enqueue(c.Request.Context(), item)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not queue check-in"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"pending_id": id, "proof": item.Proof})
	})

	authed.POST("/sync", func(c *gin.Context) {
		synced, err := reconciler.Sync(c.Request.Context())
		m.OfflineSynced.Add(float64(synced))
		if err != nil {
			c.JSON(http.StatusAccepted, gin.H{"synced": synced, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"synced": synced})
	})

	admin := authed.Group("", auth.RequireRole(auth.RoleAdmin))

	admin.POST("/sessions", func(c *gin.Context) {
		var in session.CreateInput
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sess, err := sessions.Create(c.Request.Context(), in)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		startRotation(rootCtx, sess)
		c.JSON(http.StatusCreated, gin.H{"session": sess})
	})

	admin.PATCH("/sessions/:id/active", func(c *gin.Context) {
		var req struct {
			Active *bool `json:"active" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sess, err := sessions.SetActive(c.Request.Context(), c.Param("id"), *req.Active)
		if err != nil {
			respondError(c, err)
			return
		}
		if sess.IsActive {
			startRotation(rootCtx, sess)
		} else {
			stopRotation(sess.ID)
		}
		c.JSON(http.StatusOK, gin.H{"session": sess})
	})

	admin.GET("/sessions/:id/code", func(c *gin.Context) {
		code, err := sessions.CurrentCode(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		published, _ := publisher.Current(c.Request.Context(), c.Param("id"))
		c.JSON(http.StatusOK, gin.H{"code": code, "published": published})
	})

	admin.GET("/sessions/:id/records", func(c *gin.Context) {
		recs, err := chain.Records(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": recs})
	})

	admin.POST("/sessions/:id/verify", func(c *gin.Context) {
		flagged, err := chain.Verify(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		m.ChainMismatches.Add(float64(len(flagged)))
		c.JSON(http.StatusOK, gin.H{
			"tampered": len(flagged),
			"records":  flagged,
			"clean":    len(flagged) == 0,
		})
	})

	admin.GET("/sessions/:id/requests", func(c *gin.Context) {
		pending, err := ledgerStore.ListPendingRequests(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"requests": pending})
	})

	admin.POST("/requests/:id/approve", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		rec, err := gate.Approve(c.Request.Context(), c.Param("id"), claims.UserID)
		if err != nil {
			respondError(c, err)
			return
		}
		m.CheckIns.WithLabelValues("approved").Inc()
		c.JSON(http.StatusOK, gin.H{"record": rec})
	})

	admin.POST("/requests/:id/reject", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		if err := gate.Reject(c.Request.Context(), c.Param("id"), claims.UserID); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "rejected"})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("starting server", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", zap.Error(err))
	}

	log.Info("server exited")
	return nil
}

// healthzHandler reports readiness from live backend probes.
func healthzHandler(dbCheck, redisCheck func(context.Context) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		redisHealthy := redisCheck(c.Request.Context())
		dbHealthy := dbCheck(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	}
}

func bindCheckIn(c *gin.Context) (checkin.Input, bool) {
	var in checkin.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return in, false
	}
	claims, _ := auth.FromContext(c)
	if claims.UserID != "" {
		in.UserID = claims.UserID
		if in.UserEmail == "" {
			in.UserEmail = claims.Email
		}
		if in.UserName == "" {
			in.UserName = claims.Name
		}
	}
	return in, true
}

// rejectCheckIn maps gate failures to responses and counts them by reason.
func rejectCheckIn(c *gin.Context, err error, m *metrics.Metrics) {
	var oor *checkin.OutOfRangeError
	switch {
	case errors.As(err, &oor):
		m.CheckInRejects.WithLabelValues("out_of_range").Inc()
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "distance": oor.Distance})
	case errors.Is(err, checkin.ErrInvalidCode):
		m.CheckInRejects.WithLabelValues("invalid_code").Inc()
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, checkin.ErrSessionClosed):
		m.CheckInRejects.WithLabelValues("closed").Inc()
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, checkin.ErrDuplicateCheckIn):
		m.CheckInRejects.WithLabelValues("duplicate").Inc()
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		respondError(c, err)
	}
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrSessionNotFound), errors.Is(err, ledger.ErrRequestNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ledger.ErrRequestProcessed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
