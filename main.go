package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/SplitSync/split-sync-backend/config"
	"github.com/SplitSync/split-sync-backend/db"
	"github.com/SplitSync/split-sync-backend/internal/clock"
	"github.com/SplitSync/split-sync-backend/internal/identity"
	"github.com/SplitSync/split-sync-backend/internal/processor"
	"github.com/SplitSync/split-sync-backend/internal/service"
	"github.com/SplitSync/split-sync-backend/internal/store/postgres"
	syncx "github.com/SplitSync/split-sync-backend/internal/sync"
	"github.com/SplitSync/split-sync-backend/logger"
	"github.com/SplitSync/split-sync-backend/router"
)

func main() {
	logger.InitLogger()
	log := logger.GetLogger()
	defer func() { _ = logger.Close() }()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.RunMigrations(cfg.Database.URL()); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	pool, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	groupStore := postgres.NewPgGroupStore(pool)
	expenseStore := postgres.NewPgExpenseStore(pool)
	processedStore := postgres.NewPgProcessedEventStore(pool)
	prefsStore := postgres.NewPgPrefsStore(pool)

	idents := identity.NewManager(prefsStore)
	userID, err := idents.UserID(ctx)
	if err != nil {
		log.Fatalf("Failed to resolve local identity: %v", err)
	}

	var transport syncx.Transport
	switch cfg.Sync.Backend {
	case config.BackendRelay:
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = redisClient.Close() }()
		transport = syncx.NewRelayTransport(redisClient, idents)
	case config.BackendMesh:
		hlc := clock.New(userID)
		transport = syncx.NewMeshTransport(syncx.MeshConfig{
			ListenAddr: cfg.Mesh.ListenAddr,
			PeerAddrs:  cfg.Mesh.PeerAddrs,
		}, idents, hlc)
	}

	proc := processor.New(groupStore, expenseStore, processedStore, idents)
	dispatcher := processor.NewDispatcher(proc, cfg.Sync.Workers, cfg.Sync.QueueSize)
	engine := service.NewSyncEngine(transport, dispatcher, proc, groupStore)

	if err := engine.Start(ctx); err != nil {
		log.Fatalf("Failed to start sync engine: %v", err)
	}

	groupService := service.NewGroupService(groupStore, proc, transport, engine, idents)
	expenseService := service.NewExpenseService(expenseStore, proc, transport)
	balanceService := service.NewBalanceService(expenseStore)

	// Periodic garbage collection of idempotency markers.
	retention := time.Duration(cfg.Sync.RetentionHours) * time.Hour
	sweepInterval := time.Duration(cfg.Sync.SweepIntervalHours) * time.Hour
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := engine.SweepProcessedEvents(ctx, retention); err != nil {
					log.Warnw("Processed-event sweep failed", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	r := router.SetupRouter(router.Dependencies{
		Groups:   groupService,
		Expenses: expenseService,
		Balances: balanceService,
		Sync:     engine,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}
	go func() {
		log.Infow("Server listening", "port", cfg.Server.Port, "backend", cfg.Sync.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("Server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownTimeout := time.Duration(cfg.Sync.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("Server shutdown error", "error", err)
	}
	if err := engine.Stop(shutdownCtx, shutdownTimeout); err != nil {
		log.Warnw("Sync engine shutdown error", "error", err)
	}
	log.Info("Shutdown complete")
}
