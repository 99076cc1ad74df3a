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
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"personas-registry/internal/auth"
	"personas-registry/internal/config"
	apphttp "personas-registry/internal/http"
	"personas-registry/internal/repository/sqlstore"
	"personas-registry/internal/security/digest"
	"personas-registry/internal/security/password"
	"personas-registry/internal/security/ruttoken"
	"personas-registry/internal/service"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("config: %v", err)
	}
	configureLogger(logger, cfg)

	if cfg.UsesDefaultRUTKey() {
		logger.Warn("RUT_TOKEN_KEY is not set; rut tokens are derived from a public default key")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlstore.Open(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()
	logger.Infof("using %s storage", db.Dialect())

	issuer, err := auth.NewIssuer([]byte(cfg.Auth.SecretKey), cfg.Auth.TokenTTL)
	if err != nil {
		logger.Fatalf("token issuer: %v", err)
	}
	hasher, err := password.NewBcrypt(cfg.Auth.BcryptCost)
	if err != nil {
		logger.Fatalf("password hasher: %v", err)
	}
	tokenizer, err := ruttoken.New(cfg.RUT.TokenKey)
	if err != nil {
		logger.Fatalf("rut tokenizer: %v", err)
	}

	userService := service.NewUserService(db, hasher, issuer)
	personaService := service.NewPersonaService(db, tokenizer, digest.NewArgon2id(digest.DefaultParams()))

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	metrics := apphttp.NewMetrics()
	handler := apphttp.NewHandler(apphttp.Options{
		Users:         userService,
		Personas:      personaService,
		Authenticator: auth.NewAuthenticator(issuer, userService),
		TokenTTL:      issuer.TTL(),
		CookieSecure:  cfg.Auth.CookieSecure,
		Logger:        logger,
		Metrics:       metrics,
	})
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           corsHandler(cfg).Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server: %v", err)
		}
	}()

	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		metricsSrv = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           metricsMux(metrics),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Infof("metrics listening on %s", cfg.Metrics.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatalf("metrics server: %v", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("metrics shutdown: %v", err)
		}
	}

	logger.Info("bye")
}

// metricsMux exposes the Prometheus registry on the internal listener only.
func metricsMux(metrics *apphttp.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func configureLogger(logger *logrus.Logger, cfg config.Config) {
	if cfg.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	// Validate has already rejected unknown levels.
	level, _ := logrus.ParseLevel(cfg.Log.Level)
	logger.SetLevel(level)
}

// corsHandler allows credentialed requests from the configured origins only;
// the session lives in a cookie, so wildcard origins are never used.
func corsHandler(cfg config.Config) *cors.Cors {
	opts := cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
	}
	// an empty list means "*" to rs/cors
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowOriginFunc = func(string) bool { return false }
	}
	return cors.New(opts)
}
