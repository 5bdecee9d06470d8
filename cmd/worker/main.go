package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/escrow-rooms/backend/internal/config"
	"github.com/escrow-rooms/backend/internal/db"
	"github.com/escrow-rooms/backend/internal/events"
	"github.com/escrow-rooms/backend/internal/proofcheck"
	"github.com/escrow-rooms/backend/internal/repositories"
	"github.com/escrow-rooms/backend/internal/services"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repos
	roomRepo := repositories.NewRoomRepo(pool)
	disputeRepo := repositories.NewDisputeRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Services
	publisher := events.NewRedisPublisher(rdb, log)
	timeoutService := services.NewTimeoutService(roomRepo, auditRepo, publisher, cfg, log)
	checker := proofcheck.NewChecker(cfg.ProofFetchTimeoutMS, cfg.ProofFetchMaxRetries, log)
	proofService := services.NewProofService(disputeRepo, checker, log)

	log.Info("worker started")

	expireTicker := time.NewTicker(cfg.ExpireSweepInterval)
	warningTicker := time.NewTicker(cfg.WarningSweepInterval)
	proofTicker := time.NewTicker(cfg.ProofCheckInterval)
	defer expireTicker.Stop()
	defer warningTicker.Stop()
	defer proofTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-expireTicker.C:
			runExpireSweep(ctx, timeoutService, log)
		case <-warningTicker.C:
			runWarningSweep(ctx, timeoutService, log)
		case <-proofTicker.C:
			runProofChecks(ctx, proofService, log)
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

func runExpireSweep(ctx context.Context, svc *services.TimeoutService, log *zap.Logger) {
	res, err := svc.CheckAndExpireTimedOutRooms(ctx)
	if err != nil {
		log.Error("expire sweep failed", zap.Error(err))
		return
	}
	if res.Expired > 0 {
		log.Info("expired rooms", zap.Int("checked", res.Checked), zap.Int("expired", res.Expired))
	}
}

func runWarningSweep(ctx context.Context, svc *services.TimeoutService, log *zap.Logger) {
	res, err := svc.SendTimeoutWarnings(ctx)
	if err != nil {
		log.Error("warning sweep failed", zap.Error(err))
		return
	}
	if res.Warned > 0 {
		log.Info("timeout warnings sent", zap.Int("warned", res.Warned))
	}
}

func runProofChecks(ctx context.Context, svc *services.ProofService, log *zap.Logger) {
	checked, err := svc.RunOnce(ctx)
	if err != nil {
		log.Error("proof check sweep failed", zap.Error(err))
		return
	}
	if checked > 0 {
		log.Info("dispute proofs checked", zap.Int("checked", checked))
	}
}
