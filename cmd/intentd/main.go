package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/blndgs/erc7806"
	"github.com/blndgs/erc7806/api"
	"github.com/blndgs/erc7806/chain"
	"github.com/blndgs/erc7806/executor"
	"github.com/blndgs/erc7806/internal/config"
	"github.com/blndgs/erc7806/internal/logger"
	"github.com/blndgs/erc7806/ledger"
	"github.com/blndgs/erc7806/relayer"
	"github.com/blndgs/erc7806/replay"
	"github.com/ethereum/go-ethereum/common"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("intentd: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return err
	}
	defer logger.Sync()
	lg := logger.Named("intentd")

	var oracle *chain.Oracle
	if cfg.Chain.RPCURL != "" {
		oracle, err = chain.Dial(ctx, cfg.Chain.RPCURL)
		if err != nil {
			return err
		}
		defer oracle.Close()
	}

	chainID := big.NewInt(cfg.Chain.ChainID)
	if chainID.Sign() == 0 {
		if oracle == nil {
			return errors.New("chain.chain_id is required without chain.rpc_url")
		}
		if chainID, err = oracle.ChainID(ctx); err != nil {
			return err
		}
	}

	registry := erc7806.NewRegistry()
	for _, s := range cfg.Relayer.Standards {
		registry.Register(erc7806.NewRelayedExecutionStandard(common.HexToAddress(s)))
	}

	l, err := seedLedger(ctx, cfg.Ledger, oracle)
	if err != nil {
		return err
	}

	store, err := replay.Open(ctx, replay.Config{
		Driver: cfg.Replay.Driver,
		Redis: replay.RedisConfig{
			Address:   cfg.Replay.Redis.Address,
			Password:  cfg.Replay.Redis.Password,
			DB:        cfg.Replay.Redis.DB,
			KeyPrefix: cfg.Replay.Redis.KeyPrefix,
		},
		MySQL: replay.MySQLConfig{
			DSN:             cfg.Replay.MySQL.DSN,
			MaxOpenConns:    cfg.Replay.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.Replay.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.Replay.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Replay.MySQL.ConnMaxIdleTime,
		},
	})
	if err != nil {
		return err
	}
	defer store.Close()

	queue, err := relayer.OpenQueue(ctx, relayer.QueueConfig{
		Driver: cfg.Queue.Driver,
		Size:   cfg.Queue.Size,
		Redis: relayer.RedisQueueConfig{
			Address:   cfg.Queue.Redis.Address,
			Password:  cfg.Queue.Redis.Password,
			DB:        cfg.Queue.Redis.DB,
			Queue:     cfg.Queue.Redis.Queue,
			BlockWait: cfg.Queue.Redis.BlockWait,
		},
		RabbitMQ: relayer.RabbitMQConfig{
			URL:        cfg.Queue.RabbitMQ.URL,
			Queue:      cfg.Queue.RabbitMQ.Queue,
			Prefetch:   cfg.Queue.RabbitMQ.Prefetch,
			Durable:    cfg.Queue.RabbitMQ.Durable,
			AutoDelete: cfg.Queue.RabbitMQ.AutoDelete,
		},
	})
	if err != nil {
		return err
	}
	defer queue.Close()

	exec := executor.New(l, store, registry)
	service := relayer.NewService(registry, store, l, exec, chainID, common.HexToAddress(cfg.Relayer.Address))

	lg.Info("starting",
		"chain_id", chainID.String(),
		"relayer", cfg.Relayer.Address,
		"standards", cfg.Relayer.Standards,
		"replay", cfg.Replay.Driver,
		"queue", cfg.Queue.Driver,
	)

	errCh := make(chan error, 2)
	go func() { errCh <- service.Run(ctx, queue, cfg.Relayer.Workers) }()
	go func() { errCh <- api.NewServer(cfg.Server.Address, service, queue).Start(ctx) }()

	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	lg.Info("stopped")
	return nil
}

func seedLedger(ctx context.Context, cfg config.LedgerConfig, oracle *chain.Oracle) (*ledger.Ledger, error) {
	l := ledger.New()
	for _, t := range cfg.Tokens {
		l.RegisterToken(common.HexToAddress(t))
	}
	for _, a := range cfg.Accounts {
		account := common.HexToAddress(a.Address)
		token := erc7806.NativeToken
		if a.Token != "" {
			token = common.HexToAddress(a.Token)
		}
		if a.Balance != "" {
			balance, _ := new(big.Int).SetString(a.Balance, 0)
			l.SetBalance(account, token, balance)
			continue
		}
		if oracle == nil {
			return nil, fmt.Errorf("ledger account %s has no balance and no chain to mirror", account.Hex())
		}
		balance, err := oracle.BalanceOf(ctx, account, token)
		if err != nil {
			return nil, err
		}
		l.SetBalance(account, token, balance)
	}
	return l, nil
}
