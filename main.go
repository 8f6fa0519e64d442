package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	auth "github.com/phillip/schoolfund-go/auth"
	config "github.com/phillip/schoolfund-go/config"
	routes "github.com/phillip/schoolfund-go/routes"
	services "github.com/phillip/schoolfund-go/services"
	store "github.com/phillip/schoolfund-go/store"
	utils "github.com/phillip/schoolfund-go/utils"
)

func main() {
	// 1. Config and logging
	cfg := config.LoadConfig()
	logger := config.NewLogger(cfg, os.Stderr)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// 2. Storage
	st, err := openStore(cfg)
	if err != nil {
		slog.Error("Store initialisation failed", slog.Any("err", err))
		os.Exit(1)
	}

	// 3. Outside systems
	mailer, err := utils.NewMailer(cfg)
	if err != nil {
		slog.Error("Mailer initialisation failed", slog.Any("err", err))
		os.Exit(1)
	}
	files, err := utils.NewFileStore(cfg)
	if err != nil {
		slog.Error("File storage initialisation failed", slog.Any("err", err))
		os.Exit(1)
	}
	var gateway utils.PaymentGateway
	if cfg.StripeSecretKey != "" {
		gateway = utils.NewStripeGateway(cfg.StripeSecretKey)
	} else {
		slog.Warn("STRIPE_SECRET_KEY not set, online checkout disabled")
	}

	// 4. Services and routes
	tokens := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
	svc := services.New(services.Deps{
		Config:  cfg,
		Store:   st,
		Tokens:  tokens,
		Mailer:  mailer,
		Files:   files,
		Gateway: gateway,
	})
	router := routes.NewRouter(cfg, svc, tokens, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 5. Serve until SIGINT/SIGTERM, then drain
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("Server starting", slog.String("env", cfg.Env), slog.String("port", cfg.Port), slog.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server stopped unexpectedly", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	<-stop
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server shutdown failed", slog.Any("err", err))
	}
	if cfg.MongoClient != nil {
		if err := cfg.MongoClient.Disconnect(ctx); err != nil {
			slog.Error("Mongo disconnect failed", slog.Any("err", err))
		} else {
			slog.Info("Database connection closed")
		}
	}
	slog.Info("Server exited")
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.StoreDriver == config.DriverMemory {
		slog.Warn("Using in-memory store, data will not survive a restart")
		return store.NewMemory(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := cfg.ConnectMongo(ctx); err != nil {
		return nil, err
	}
	m := store.NewMongo(cfg.MongoClient, cfg.DBName, cfg.MongoTransactions)
	if err := m.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	slog.Info("Connected to MongoDB", slog.String("db", cfg.DBName), slog.Bool("transactions", cfg.MongoTransactions))
	return m, nil
}
