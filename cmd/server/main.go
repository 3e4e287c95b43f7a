// Package main runs the reference secret-tag server over mutual TLS:
// configuration, logging, Postgres, repositories, services and handlers.
package main

import (
	"cmp"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"go.uber.org/zap"

	"github.com/atinyakov/tagkeeper/internal/certgen"
	"github.com/atinyakov/tagkeeper/internal/config"
	"github.com/atinyakov/tagkeeper/internal/db"
	"github.com/atinyakov/tagkeeper/internal/logger"
	"github.com/atinyakov/tagkeeper/internal/opaque"
	"github.com/atinyakov/tagkeeper/internal/repository"
	"github.com/atinyakov/tagkeeper/internal/server/handler/http"
	"github.com/atinyakov/tagkeeper/internal/service"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	configFile := flag.String("config", "", "path to a config file (default: optional .env)")
	flag.Parse()

	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	cfg, err := config.LoadServer(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logger.New()
	if err := log.Init(cfg.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	zapLogger := log.Log
	defer func() { _ = zapLogger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	postgresDB, err := db.InitPostgres(cfg.DatabaseDSN)
	if err != nil {
		zapLogger.Fatal("cannot init database", zap.Error(err))
	}
	defer postgresDB.Close()

	db.StartSoftDeleteCleaner(ctx, postgresDB, cfg.CleanerInterval(), cfg.RetentionPeriod(), zapLogger)

	seed, err := cfg.Seed()
	if err != nil {
		zapLogger.Fatal("invalid protocol seed", zap.Error(err))
	}
	protocol, err := opaque.NewServer(seed)
	if err != nil {
		zapLogger.Fatal("cannot init protocol server", zap.Error(err))
	}

	ca, err := certgen.LoadCA(cfg.CAFile, cfg.CAKeyFile)
	if err != nil {
		zapLogger.Fatal("cannot load CA", zap.Error(err))
	}

	ownerRepo := repository.NewPostgresOwnerRepository(postgresDB)
	tagRepo := repository.NewPostgresSecretTagRepository(postgresDB)

	enrollService := service.NewEnrollmentService(ownerRepo, ca)
	tagService := service.NewSecretTagService(tagRepo, protocol,
		service.WithPendingTTL(cfg.PendingTimeout()),
		service.WithLogger(zapLogger),
	)
	defer tagService.Close()

	enrollHandler := &http.EnrollHandler{Service: enrollService, Logger: zapLogger}
	tagHandler := &http.SecretTagHandler{
		Service: tagService,
		Limiter: http.NewLoginLimiter(cfg.LoginRate, cfg.LoginBurst, 10*time.Minute),
		Logger:  zapLogger,
	}
	router := http.NewRouter(enrollHandler, tagHandler, zapLogger)

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		zapLogger.Fatal("failed to load server TLS cert/key", zap.Error(err))
	}
	caCertPool := x509.NewCertPool()
	caCertPool.AddCert(ca.Cert)

	// Client certificates are optional at the TLS layer so that enrollment
	// works without one; CertAuth enforces them on every other route.
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.VerifyClientCertIfGiven,
		ClientCAs:    caCertPool,
		MinVersion:   tls.VersionTLS12,
	}

	server := &nethttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zapLogger.Error("shutdown failed", zap.Error(err))
		}
	}()

	zapLogger.Info("starting HTTPS server", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		zapLogger.Fatal("failed to start HTTPS server", zap.Error(err))
	}
	zapLogger.Info("server stopped")
}
