package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/payouts_backend/billtrack"
	"bitbucket.org/mmdatafocus/payouts_backend/config"
	"bitbucket.org/mmdatafocus/payouts_backend/controls"
	"bitbucket.org/mmdatafocus/payouts_backend/globalpay"
	"bitbucket.org/mmdatafocus/payouts_backend/ledgerhq"
	"bitbucket.org/mmdatafocus/payouts_backend/meridian"
	"bitbucket.org/mmdatafocus/payouts_backend/middlewares"
	"bitbucket.org/mmdatafocus/payouts_backend/models"
	"bitbucket.org/mmdatafocus/payouts_backend/payouts"
	"bitbucket.org/mmdatafocus/payouts_backend/webhooks"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so the startup probe sees the port open.
	// Until the DB is ready, app endpoints return 503.
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
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
			// Deny all when not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", "X-Request-Id")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))
	r.Use(gin.Recovery())

	// Provider clients are built once and shared; each caches its own
	// session/token state behind its mutex.
	billSource := billtrack.NewClient(config.LoadBillTrackConfig())
	accounting := ledgerhq.NewClient(config.LoadLedgerHQConfig())
	meridianCfg := config.LoadMeridianConfig()
	usRail := meridian.NewClient(meridianCfg)
	globalpayCfg := config.LoadGlobalPayConfig()
	crossRail := globalpay.NewClient(globalpayCfg)
	mailer := payouts.NewSMTPMailer(config.LoadSMTPConfig())

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedis()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		if err := models.Migrate(db); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Panic(err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	payoutStore := models.NewPayoutStore(db)
	recipientStore := models.NewRecipientStore(db)
	tenantStore := models.NewTenantStore(db)
	eventStore := models.NewWebhookEventStore(db)

	engine := controls.NewEngine(accounting, usRail, crossRail, recipientStore, payoutStore, logger)
	svc := payouts.NewService(billSource, tenantStore, engine, usRail, crossRail, recipientStore, payoutStore, config.GetRedisLock(), mailer, logger)

	api := r.Group("/api", middlewares.AuthMiddleware())
	api.GET("/payouts/:billId/controls", controlsHandler(svc))
	api.POST("/payouts/:billId/pay", payHandler(svc))
	api.GET("/payouts/:billId/status", statusHandler(svc))
	api.GET("/payouts/export", exportPayoutsHandler(payoutStore))
	api.POST("/meridian/mfa/challenge", mfaChallengeHandler(usRail))
	api.POST("/meridian/mfa/validate", mfaValidateHandler(usRail))
	api.GET("/recipients", listRecipientsHandler(recipientStore))
	api.POST("/recipients", createRecipientHandler(recipientStore))
	api.PUT("/recipients/:id", updateRecipientHandler(recipientStore))
	api.DELETE("/recipients/:id", deleteRecipientHandler(recipientStore))

	webhookHandler := webhooks.NewHandler(
		payoutStore,
		eventStore,
		meridianWebhookVerifier(meridianCfg, logger),
		globalpayWebhookVerifier(globalpayCfg, logger),
		logger,
	)
	r.POST("/webhooks/meridian", webhookHandler.Meridian())
	r.POST("/webhooks/globalpay", webhookHandler.GlobalPay())

	logger.WithFields(logrus.Fields{"port": port}).Info("payouts backend is ready")
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
}

func meridianWebhookVerifier(cfg config.MeridianConfig, logger *logrus.Logger) webhooks.SignatureVerifier {
	if cfg.WebhookSecret == "" {
		logger.Warn("MERIDIAN_WEBHOOK_SECRET not set; meridian webhooks will be rejected")
		return webhooks.NewRejectingVerifier("meridian webhook secret is not configured")
	}
	return webhooks.NewHMACVerifier(cfg.WebhookSecret)
}

func globalpayWebhookVerifier(cfg config.GlobalPayConfig, logger *logrus.Logger) webhooks.SignatureVerifier {
	if cfg.WebhookPublicKey == "" {
		logger.Warn("GLOBALPAY_WEBHOOK_PUBLIC_KEY not set; globalpay webhooks will be rejected")
		return webhooks.NewRejectingVerifier("globalpay webhook public key is not configured")
	}
	verifier, err := webhooks.NewRSAVerifier(cfg.WebhookPublicKey)
	if err != nil {
		logger.Warn("globalpay webhook public key is invalid; globalpay webhooks will be rejected: " + err.Error())
		return webhooks.NewRejectingVerifier("globalpay webhook public key is invalid")
	}
	return verifier
}

func splitAndTrim(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
