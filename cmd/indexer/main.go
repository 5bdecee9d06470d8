package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/escrow-rooms/backend/internal/chain"
	"github.com/escrow-rooms/backend/internal/config"
	"github.com/escrow-rooms/backend/internal/db"
	"github.com/escrow-rooms/backend/internal/events"
	"github.com/escrow-rooms/backend/internal/repositories"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if len(cfg.Chains) == 0 {
		log.Fatal("CHAINS is empty, nothing to index")
	}

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

	roomRepo := repositories.NewRoomRepo(pool)
	escrowRepo := repositories.NewEscrowRepo(pool)
	cursorRepo := repositories.NewCursorRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	publisher := events.NewRedisPublisher(rdb, log)

	// One goroutine per chain. Cycles within a chain run back to back on
	// the ticker, never overlapping.
	var wg sync.WaitGroup
	for _, chainCfg := range cfg.Chains {
		client, err := chain.Dial(ctx, chainCfg.RPCURL)
		if err != nil {
			log.Fatal("failed to connect to chain RPC",
				zap.Int64("chain_id", chainCfg.ID), zap.Error(err))
		}

		ix := chain.NewIndexer(chainCfg, client, roomRepo, escrowRepo, cursorRepo,
			auditRepo, publisher, cfg.IndexerLookbackBlocks, log)

		wg.Add(1)
		go func(chainCfg config.ChainConfig) {
			defer wg.Done()
			runChain(ctx, ix, chainCfg, cfg.IndexerInterval, log)
		}(chainCfg)
	}

	log.Info("indexer started", zap.Int("chains", len(cfg.Chains)))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down indexer")
	cancel()
	wg.Wait()
}

func runChain(ctx context.Context, ix *chain.Indexer, chainCfg config.ChainConfig, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := ix.RunCycle(ctx); err != nil {
				// The cursor did not move; the next tick retries the window.
				log.Error("index cycle failed",
					zap.Int64("chain_id", chainCfg.ID), zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
