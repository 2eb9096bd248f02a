package app

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"

	s3blob "github.com/qubex-labs/qupool/internal/blob/s3"
	"github.com/qubex-labs/qupool/internal/cache/redis"
	"github.com/qubex-labs/qupool/internal/chain"
	"github.com/qubex-labs/qupool/internal/config"
	"github.com/qubex-labs/qupool/internal/crypto"
	"github.com/qubex-labs/qupool/internal/domain"
	"github.com/qubex-labs/qupool/internal/escrow"
	"github.com/qubex-labs/qupool/internal/notify"
	"github.com/qubex-labs/qupool/internal/oracle"
	"github.com/qubex-labs/qupool/internal/scheduler"
	"github.com/qubex-labs/qupool/internal/service"
	"github.com/qubex-labs/qupool/internal/solvency"
	"github.com/qubex-labs/qupool/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. Wire builds
// it; the returned cleanup tears it down.
type Dependencies struct {
	// Stores
	Accounts     domain.AccountStore
	Markets      domain.MarketStore
	Bets         domain.BetStore
	Escrows      domain.EscrowStore
	Ledger       domain.LedgerStore
	Attestations domain.AttestationStore
	Solvency     domain.SolvencyStore
	Idempotency  domain.IdempotencyStore
	Nonces       domain.NonceStore

	// Redis
	PriceCache  domain.PriceCache
	RateLimiter *redis.RateLimiter
	LockManager *redis.LockManager
	SignalBus   domain.SignalBus

	// Chain and oracle
	RPC      *chain.Resilient
	Resolver *oracle.Resolver
	Signer   *oracle.Signer

	// Core components
	Engine    *escrow.Engine
	Auditor   *solvency.Auditor
	BetSvc    *service.BetService
	MarketSvc *service.MarketService
	Scheduler *scheduler.Scheduler
	Notifier  *notify.Notifier

	// Clients kept for health probes
	PG    *postgres.Client
	Redis *redis.Client
}

// Wire constructs every concrete dependency from the configuration. The
// cleanup function releases resources in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// PostgreSQL.
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)
	deps.PG = pgClient

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Accounts = postgres.NewAccountStore(pool)
	deps.Markets = postgres.NewMarketStore(pool)
	deps.Bets = postgres.NewBetStore(pool)
	deps.Escrows = postgres.NewEscrowStore(pool)
	deps.Ledger = postgres.NewLedgerStore(pool)
	deps.Attestations = postgres.NewAttestationStore(pool)
	deps.Solvency = postgres.NewSolvencyStore(pool)
	deps.Idempotency = postgres.NewIdempotencyStore(pool)
	deps.Nonces = postgres.NewNonceStore(pool)

	// Redis.
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Redis = redisClient

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// Chain RPC behind failover pool and circuit breaker.
	rpcPool, err := chain.NewPool(cfg.Chain.Endpoints, cfg.Chain.CallTimeout.Duration)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: rpc pool: %w", err)
	}
	breaker := chain.NewBreaker(cfg.Chain.BreakerThreshold, cfg.Chain.BreakerCooldown.Duration)
	deps.RPC = chain.NewResilient(rpcPool, breaker)

	// Notifications.
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// Oracle sources and attestation signer.
	sources := []oracle.PriceSource{
		oracle.NewBinanceSource(cfg.Oracle.BinanceURL, cfg.Oracle.SourceTimeout.Duration),
		oracle.NewGateSource(cfg.Oracle.GateURL, cfg.Oracle.SourceTimeout.Duration),
		oracle.NewMEXCSource(cfg.Oracle.MexcURL, cfg.Oracle.SourceTimeout.Duration),
	}
	deps.Resolver = oracle.NewResolver(sources, deps.PriceCache, cfg.Oracle.SourceTimeout.Duration, logger)

	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		RawKey:           cfg.Oracle.SigningKey,
		EncryptedKeyPath: cfg.Oracle.EncryptedKeyPath,
		Password:         cfg.Oracle.KeyPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: signing key: %w", err)
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: signing key decode: %w", err)
	}
	deps.Signer = oracle.NewSigner(key)

	// Escrow engine and solvency auditor.
	deps.Engine = escrow.NewEngine(
		deps.Escrows, deps.Bets, deps.Markets, deps.RPC, deps.Notifier,
		escrow.Config{
			DepositWindow: cfg.Escrow.DepositWindow.Duration,
			MasterAddress: cfg.Chain.MasterAddress,
		},
		logger,
	)
	deps.Auditor = solvency.NewAuditor(
		deps.Accounts, deps.Solvency, deps.Ledger, deps.RPC, deps.Notifier,
		cfg.Chain.MasterAddress, logger,
	)

	// Services.
	deps.BetSvc = service.NewBetService(
		deps.Markets, deps.Bets, deps.Escrows, deps.Nonces,
		deps.Engine, deps.SignalBus, logger,
	)
	deps.MarketSvc = service.NewMarketService(
		deps.Markets, deps.Bets, deps.Escrows, deps.Attestations, deps.Ledger,
		deps.Resolver, deps.Signer, deps.RPC, deps.Engine, deps.SignalBus,
		deps.Notifier, cfg.Escrow.PayoutFeeBps, logger,
	)

	// Audit exports (optional).
	var exporter *s3blob.Exporter
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		exporter = s3blob.NewExporter(s3blob.NewWriter(s3Client), cfg.S3.Prefix, logger)
	}

	deps.Scheduler = scheduler.NewScheduler(
		deps.Engine, deps.MarketSvc, deps.Auditor, deps.Solvency, deps.Ledger,
		deps.Idempotency, deps.LockManager, deps.RateLimiter, exporter,
		deps.SignalBus, cfg.Scheduler.Interval.Duration,
		cfg.Scheduler.SolvencyInterval.Duration, logger,
	)

	return deps, cleanup, nil
}
