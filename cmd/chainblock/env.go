package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adrg/xdg"
	"github.com/redblock-app/chainblock/antiblock"
	"github.com/redblock-app/chainblock/blocker"
	"github.com/redblock-app/chainblock/chainblock"
	"github.com/redblock-app/chainblock/limiter"
	"github.com/redblock-app/chainblock/models"
	"github.com/redblock-app/chainblock/scraper"
	"github.com/redblock-app/chainblock/store"
	"github.com/redblock-app/chainblock/xrpc"
	cli "github.com/urfave/cli/v2"
	"gorm.io/plugin/opentelemetry/tracing"
)

var sessionFlags = []cli.Flag{
	&cli.StringSliceFlag{
		Name:    "alt-auth",
		Usage:   "alternate reader account as identifier:password, for targets which block the operator",
		EnvVars: []string{"CHAINBLOCK_ALT_AUTH"},
	},
	&cli.IntFlag{
		Name:    "batch-size",
		Usage:   "number of actions buffered before they are written",
		Value:   blocker.DefaultBatchSize,
		EnvVars: []string{"CHAINBLOCK_BATCH_SIZE"},
	},
	&cli.DurationFlag{
		Name:    "write-delay",
		Usage:   "minimum spacing between write requests",
		EnvVars: []string{"CHAINBLOCK_WRITE_DELAY"},
	},
	&cli.StringSliceFlag{
		Name:    "memcached",
		Usage:   "memcached servers for the anti-block cache, when redis isn't configured",
		EnvVars: []string{"CHAINBLOCK_MEMCACHED"},
	},
	&cli.DurationFlag{
		Name:    "reader-cache-ttl",
		Usage:   "how long the account able to read a subject is remembered",
		Value:   time.Hour,
		EnvVars: []string{"CHAINBLOCK_READER_CACHE_TTL"},
	},
	&cli.BoolFlag{
		Name:    "dry-run",
		Usage:   "log actions instead of performing them",
		EnvVars: []string{"CHAINBLOCK_DRY_RUN"},
	},
	&cli.StringFlag{
		Name:    "database-url",
		Usage:   "session history database (sqlite:// or postgres://); 'none' disables history",
		Value:   defaultDatabaseURL(),
		EnvVars: []string{"CHAINBLOCK_DATABASE_URL", "DATABASE_URL"},
	},
	&cli.BoolFlag{
		Name:    "db-tracing",
		Usage:   "trace history database queries",
		EnvVars: []string{"CHAINBLOCK_DB_TRACING"},
	},
}

func defaultDatabaseURL() string {
	path, err := xdg.DataFile("chainblock/history.sqlite")
	if err != nil {
		return "none"
	}
	return "sqlite://" + path
}

// environment is what every session-running command shares: the operator's
// client, the quota, the anti-block retriever and history.
type environment struct {
	logger  *slog.Logger
	client  *xrpc.Client
	alts    []*xrpc.Client
	limiter *limiter.Limiter
	picker  scraper.ClientPicker
	history *store.Store
}

func (env *environment) operator() string {
	return env.client.Auth.Did
}

func newLimiter(cctx *cli.Context, operator string, logger *slog.Logger) (*limiter.Limiter, error) {
	var counts limiter.CountStore = limiter.NewMemCountStore()
	if url := cctx.String("redis-url"); url != "" {
		rcs, err := limiter.NewRedisCountStore(url)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		counts = rcs
	} else {
		logger.Info("no redis configured, the action quota only covers this process")
	}
	return limiter.New(counts, limiter.Config{
		Account: operator,
		Max:     cctx.Int("max-actions"),
		Logger:  logger,
	}), nil
}

func openHistory(cctx *cli.Context, logger *slog.Logger) (*store.Store, error) {
	dburl := cctx.String("database-url")
	if dburl == "" || dburl == "none" {
		return nil, nil
	}
	db, err := store.Open(dburl, logger)
	if err != nil {
		return nil, err
	}
	if cctx.Bool("db-tracing") {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			return nil, err
		}
	}
	return store.New(db, logger)
}

func setupEnv(cctx *cli.Context, logger *slog.Logger) (*environment, error) {
	ctx := cctx.Context
	client, err := loadAuthClient(ctx, logger)
	if err != nil {
		return nil, err
	}
	env := &environment{
		logger: logger,
		client: client,
	}

	env.alts, err = altClients(ctx, cctx.String("pds-host"), cctx.StringSlice("alt-auth"), logger)
	if err != nil {
		return nil, err
	}
	if len(env.alts) > 0 {
		ttl := cctx.Duration("reader-cache-ttl")
		var cache antiblock.Cache
		switch {
		case cctx.String("redis-url") != "":
			cache, err = antiblock.NewRedisCache(cctx.String("redis-url"), ttl)
			if err != nil {
				return nil, fmt.Errorf("connecting to redis: %w", err)
			}
		case len(cctx.StringSlice("memcached")) > 0:
			cache = antiblock.NewMemcacheCache(cctx.StringSlice("memcached"), ttl)
		default:
			cache = antiblock.NewMemCache(10_000, ttl)
		}
		retriever, err := antiblock.New(antiblock.Config{
			Operator:   client,
			Alternates: env.alts,
			Cache:      cache,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		env.picker = retriever
	}

	env.limiter, err = newLimiter(cctx, env.operator(), logger)
	if err != nil {
		return nil, err
	}
	env.history, err = openHistory(cctx, logger)
	if err != nil {
		return nil, err
	}
	return env, nil
}

func (env *environment) sessionDeps(cctx *cli.Context) chainblock.Deps {
	var writer blocker.Writer = blocker.NewBatchWriter(env.client)
	if cctx.Bool("dry-run") {
		writer = &blocker.DryRunWriter{Logger: env.logger}
	}
	clients := append([]*xrpc.Client{env.client}, env.alts...)
	return chainblock.Deps{
		NewScraper: func(req *models.SessionRequest) (scraper.Scraper, error) {
			return scraper.New(req, scraper.Config{
				Client: env.client,
				Picker: env.picker,
				Logger: env.logger,
			})
		},
		Limiter:     env.limiter,
		Writer:      writer,
		LimitStatus: scraper.LimitStatus(clients...),
		Logger:      env.logger,
		BatchSize:   cctx.Int("batch-size"),
		WriteDelay:  cctx.Duration("write-delay"),
	}
}

// saveHistory records a finished run when history is enabled.
func (env *environment) saveHistory(ctx context.Context, info *models.SessionInfo, runErr error) {
	if env.history == nil {
		return
	}
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	rec, err := store.RecordFromInfo(env.operator(), info, errMsg, time.Now())
	if err == nil {
		err = env.history.Save(ctx, rec)
	}
	if err != nil {
		env.logger.Error("failed to save session history", "session", info.SessionID, "err", err)
	}
}
