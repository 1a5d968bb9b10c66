package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redblock-app/chainblock/events"
	"github.com/redblock-app/chainblock/manager"
	"github.com/redblock-app/chainblock/server"
	cli "github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "run the session manager behind the HTTP control API",
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for HTTP APIs",
			Value:   ":2480",
			EnvVars: []string{"CHAINBLOCK_BIND"},
		},
		&cli.StringFlag{
			Name:    "admin-token",
			Usage:   "bearer token required on /api requests",
			EnvVars: []string{"CHAINBLOCK_ADMIN_TOKEN"},
		},
		&cli.BoolFlag{
			Name:    "remove-after-complete",
			Usage:   "forget sessions once they complete",
			EnvVars: []string{"CHAINBLOCK_REMOVE_AFTER_COMPLETE"},
		},
		&cli.DurationFlag{
			Name:    "recurring-interval",
			Usage:   "re-run completed sessions after this long; 0 disables",
			EnvVars: []string{"CHAINBLOCK_RECURRING_INTERVAL"},
		},
		&cli.BoolFlag{
			Name:    "allow-self-chainblock",
			Usage:   "allow targets which include the operator's own account",
			EnvVars: []string{"CHAINBLOCK_ALLOW_SELF_CHAINBLOCK"},
		},
		&cli.Int64Flag{
			Name:    "max-starts-per-day",
			Usage:   "cap on session starts over any 24 hour window; 0 disables",
			EnvVars: []string{"CHAINBLOCK_MAX_STARTS_PER_DAY"},
		},
	}, sessionFlags...),
	Action: runServe,
}

func runServe(cctx *cli.Context) error {
	logger, err := configLogging(cctx, os.Stdout)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTEL, err := configOTEL(ctx, "chainblock")
	if err != nil {
		return err
	}
	defer shutdownOTEL()

	env, err := setupEnv(cctx, logger)
	if err != nil {
		return err
	}

	bus := events.NewBus(logger, 1024)
	defer bus.Shutdown()
	deps := env.sessionDeps(cctx)
	deps.Bus = bus

	mgr, err := manager.New(manager.Config{
		Operator:            env.operator(),
		Session:             deps,
		Store:               env.history,
		Logger:              logger,
		RemoveAfterComplete: cctx.Bool("remove-after-complete"),
		RecurringInterval:   cctx.Duration("recurring-interval"),
		AllowSelfChainBlock: cctx.Bool("allow-self-chainblock"),
		MaxStartsPerDay:     cctx.Int64("max-starts-per-day"),
	})
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Manager:    mgr,
		Bus:        bus,
		Quota:      env.limiter,
		Store:      env.history,
		Logger:     logger,
		Bind:       cctx.String("bind"),
		AdminToken: cctx.String("admin-token"),
	})
	if err != nil {
		return err
	}

	logger.Info("serving", "operator", env.operator(), "handle", env.client.Auth.Handle, "alternates", len(env.alts))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := mgr.Close(closeCtx); err != nil {
			return fmt.Errorf("closing session manager: %w", err)
		}
		return nil
	})
	return g.Wait()
}
