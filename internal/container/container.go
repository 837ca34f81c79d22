package container

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"fab/enumerator/internal/client"
	"fab/enumerator/internal/config"
	"fab/enumerator/internal/discovery"
	"fab/enumerator/internal/domain"
	"fab/enumerator/internal/metrics"
	"fab/enumerator/internal/normalizer"
	"fab/enumerator/internal/planner"
	"fab/enumerator/internal/proxy"
	"fab/enumerator/internal/queue"
	"fab/enumerator/internal/registry"
	"fab/enumerator/internal/repository"
	"fab/enumerator/internal/retry"
	"fab/enumerator/internal/service"
	"fab/enumerator/internal/throttle"
	"fab/enumerator/internal/walker"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Container holds all initialized components
type Container struct {
	Config     *config.Config
	Client     client.FabClient
	Registry   registry.Registry
	Repository repository.RecordRepository
	Queue      queue.Queue

	Service *service.Service

	db    *pgxpool.Pool
	redis *redis.Client
}

// New creates a new container with all dependencies initialized
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	container := &Container{
		Config: cfg,
	}

	if err := container.initStorage(ctx); err != nil {
		container.Close()
		return nil, err
	}

	fetcher, err := newFetcher(ctx, cfg.Fab)
	if err != nil {
		container.Close()
		return nil, err
	}

	fabClient, err := client.NewFabClient(cfg.Fab, fetcher)
	if err != nil {
		_ = fetcher.Close()
		container.Close()
		return nil, fmt.Errorf("failed to initialize client: %w", err)
	}
	container.Client = fabClient

	p, err := planner.New(planner.Options{
		PaginationCap:   cfg.Engine.PaginationCap,
		PriceBoundaries: cfg.Engine.PriceBoundaries,
		SortOrders:      sortOrders(cfg.Engine.SortOrders),
		DefaultSort:     domain.SortOrder(cfg.Engine.DefaultSort),
		MinSplitWidth:   cfg.Engine.MinSplitWidth,
	})
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to initialize planner: %w", err)
	}

	pacer := throttle.NewPacer(cfg.Engine.ShortDelay, cfg.Engine.LongDelay)
	policy := retry.FromRetries(cfg.Engine.MaxRetries, cfg.Engine.MinBackoff, cfg.Engine.MaxBackoff)

	container.Service = service.NewService(
		discovery.New(fabClient, container.Registry, pacer, policy, cfg.Fab.ExcludedNames),
		p,
		walker.New(fabClient, container.Registry, pacer, policy, cfg.Engine.PaginationCap),
		normalizer.New(cfg.Fab.Currency),
		container.Repository,
		container.Registry,
		pacer,
		container.Queue,
		service.Options{
			RootURL:       cfg.Fab.CategoryRoot,
			Workers:       cfg.Engine.Workers,
			ClaimTTL:      cfg.Engine.ClaimTTL,
			AdaptiveSplit: cfg.Engine.AdaptiveSplit,
			MaxSplitDepth: cfg.Engine.MaxSplitDepth,
			MaxRetries:    cfg.Engine.MaxRetries,
			MinIdleTime:   time.Duration(cfg.Redis.MinIdleTime) * time.Second,
		},
	)

	return container, nil
}

// initStorage connects the registry, the work queue and the record sink
func (c *Container) initStorage(ctx context.Context) error {
	cfg := c.Config

	switch cfg.Registry.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.Database,
		})
		c.redis = rdb

		if _, err := rdb.Ping(ctx).Result(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		log.Info("✅ Connected to Redis successfully")

		c.Registry = registry.NewRedisRegistry(rdb, cfg.Registry.KeyPrefix, workerID())

		redisQueue, err := queue.NewRedisQueue(ctx, rdb, cfg.Redis.ConsumerGroup)
		if err != nil {
			return err
		}
		c.Queue = redisQueue
	default:
		log.Warn("⚠️ Using in-memory registry, progress will not survive a restart")
		c.Registry = registry.NewMemoryRegistry()
	}

	switch cfg.Sink.Backend {
	case "postgres":
		db, err := pgxpool.New(ctx, cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("failed to create database pool: %w", err)
		}
		c.db = db

		if err := db.Ping(ctx); err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}

		repo := repository.NewRecordRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
		stored, err := repo.CountRecords(ctx)
		if err != nil {
			return err
		}
		log.Infof("✅ Connected to Postgres successfully (%d records stored)", stored)
		c.Repository = repo
	default:
		log.Warn("⚠️ Using in-memory sink, records are discarded on exit")
		c.Repository = repository.NewMemoryRepository()
	}

	return nil
}

func newFetcher(ctx context.Context, cfg config.FabConfig) (client.Fetcher, error) {
	switch cfg.Fetcher {
	case "browser":
		fetcher, err := client.NewBrowserFetcher(ctx, cfg.Timeout, cfg.Headless)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize browser fetcher: %w", err)
		}
		return fetcher, nil
	default:
		proxySupplier := proxy.NewProxySupplier(ctx, cfg.Proxies, cfg.BaseURL, cfg.Timeout)
		return client.NewHTTPFetcher(cfg.Timeout, proxySupplier), nil
	}
}

func sortOrders(values []string) []domain.SortOrder {
	orders := make([]domain.SortOrder, 0, len(values))
	for _, v := range values {
		orders = append(orders, domain.SortOrder(v))
	}
	return orders
}

// workerID names this process in partition claims
func workerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return host + "-" + strconv.Itoa(os.Getpid())
}

// Run executes fn, serving metrics alongside it when enabled
func (c *Container) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if !c.Config.Server.Metrics {
		return fn(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	metricsCtx, stopMetrics := context.WithCancel(gctx)
	defer stopMetrics()

	addr := net.JoinHostPort(c.Config.Server.Host, strconv.Itoa(c.Config.Server.Port))
	g.Go(func() error {
		return metrics.Serve(metricsCtx, addr)
	})

	g.Go(func() error {
		defer stopMetrics()
		return fn(gctx)
	})

	return g.Wait()
}

// Close performs cleanup when shutting down
func (c *Container) Close() error {
	log.Info("Shutting down container...")

	if c.Client != nil {
		if err := c.Client.Close(); err != nil {
			log.Warnf("⚠️ Failed to close client: %v", err)
		}
	}
	if c.db != nil {
		c.db.Close()
	}
	if c.redis != nil {
		_ = c.redis.Close()
	}

	log.Info("Container shut down successfully")
	return nil
}
