package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/araddon/dateparse"
	"github.com/dustin/go-humanize"
	"github.com/redblock-app/chainblock/store"
	cli "github.com/urfave/cli/v2"
)

var limitCmd = &cli.Command{
	Name:  "limit",
	Usage: "print the operator's action quota",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "reset",
			Usage: "clear the current period's count",
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context
		logger, err := configLogging(cctx, os.Stderr)
		if err != nil {
			return err
		}
		client, err := loadAuthClient(ctx, logger)
		if err != nil {
			return err
		}
		lim, err := newLimiter(cctx, client.Auth.Did, logger)
		if err != nil {
			return err
		}
		if cctx.Bool("reset") {
			if err := lim.Reset(ctx); err != nil {
				return err
			}
		}
		snap, err := lim.Snapshot(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s of %s actions used in the current %s, %s remaining\n",
			humanize.Comma(int64(snap.Current)),
			humanize.Comma(int64(snap.Max)),
			lim.Period(),
			humanize.Comma(int64(snap.Remained)))
		return nil
	},
}

var historyCmd = &cli.Command{
	Name:  "history",
	Usage: "list finished session runs",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Value:   defaultDatabaseURL(),
			EnvVars: []string{"CHAINBLOCK_DATABASE_URL", "DATABASE_URL"},
		},
		&cli.StringFlag{
			Name:  "status",
			Usage: "only runs which ended with this status",
		},
		&cli.StringFlag{
			Name:  "since",
			Usage: "only runs finished since this date (most formats are understood)",
		},
		&cli.IntFlag{
			Name:  "limit",
			Value: 20,
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "print records as JSON lines",
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context
		logger, err := configLogging(cctx, os.Stderr)
		if err != nil {
			return err
		}
		hist, err := openHistory(cctx, logger)
		if err != nil {
			return err
		}
		if hist == nil {
			return fmt.Errorf("session history is disabled")
		}
		opts := store.ListOptions{
			Status: cctx.String("status"),
			Limit:  cctx.Int("limit"),
		}
		if since := cctx.String("since"); since != "" {
			opts.Since, err = dateparse.ParseLocal(since)
			if err != nil {
				return fmt.Errorf("parsing --since: %w", err)
			}
		}
		recs, err := hist.List(ctx, opts)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		for _, rec := range recs {
			if cctx.Bool("json") {
				if err := enc.Encode(rec); err != nil {
					return err
				}
				continue
			}
			fmt.Printf("%s\t%s\t%s %s\t%s\tsuccess=%s skipped=%s errors=%s\n",
				humanize.Time(rec.FinishedAt),
				rec.SessionID,
				rec.Purpose,
				rec.Subject,
				rec.Status,
				humanize.Comma(int64(rec.Success)),
				humanize.Comma(int64(rec.Skipped)),
				humanize.Comma(int64(rec.Errors)))
		}
		return nil
	},
}
