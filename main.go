package main

import (
	"context"
	"fmt"

	"github.com/ethscriptions-protocol/indexer/config"
	"github.com/ethscriptions-protocol/indexer/database"
	"github.com/ethscriptions-protocol/indexer/indexer"
	"github.com/ethscriptions-protocol/indexer/logger"
	"github.com/ethscriptions-protocol/indexer/rpcpool"
)

func main() {
	cfg, err := config.BuildConfig()
	if err != nil {
		fmt.Println("config error:", err)
		return
	}
	config.GlobalConfigCallback.Call(cfg)

	logger.Info(
		"starting ethscriptions indexer: chain_id=%d rpc_endpoints=%d batch_size=%d concurrency=%d",
		cfg.Chain.ChainID, len(cfg.Chain.RPCURLs), cfg.Indexer.BatchSize, cfg.Indexer.Concurrency,
	)

	ctx := context.Background()

	pool, err := rpcpool.Dial(ctx, cfg.Chain.RPCURLs, cfg.Chain.ChainID)
	if err != nil {
		logger.Fatal("rpc pool dial error: %v", err)
		return
	}

	db, err := database.ConnectAndInitialize(cfg.DB)
	if err != nil {
		logger.Fatal("database connect error: %v", err)
		return
	}

	proc := indexer.NewProcessor(pool, db, cfg.Indexer)

	if err := proc.Run(ctx, uint64(cfg.Indexer.StartBlock)); err != nil {
		logger.Fatal("indexer run error: %v", err)
	}
}
