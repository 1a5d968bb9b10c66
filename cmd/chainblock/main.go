package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "chainblock",
		Usage:   "block, mute, or undo them, across whole follower lists",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "pds-host",
			Usage:   "method, hostname, and port of the PDS to log in to",
			Value:   "https://bsky.social",
			EnvVars: []string{"CHAINBLOCK_PDS_HOST", "ATP_PDS_HOST"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			Value:   "info",
			EnvVars: []string{"CHAINBLOCK_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.BoolFlag{
			Name:    "log-json",
			Usage:   "emit logs as JSON instead of text",
			EnvVars: []string{"CHAINBLOCK_LOG_JSON"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL for the action quota and anti-block cache",
			EnvVars: []string{"CHAINBLOCK_REDIS_URL", "REDIS_URL"},
		},
		&cli.IntFlag{
			Name:    "max-actions",
			Usage:   "maximum number of block/mute actions per day",
			Value:   500,
			EnvVars: []string{"CHAINBLOCK_MAX_ACTIONS"},
		},
	}

	app.Commands = []*cli.Command{
		loginCmd,
		runCmd,
		serveCmd,
		limitCmd,
		historyCmd,
	}

	return app.Run(args)
}

// configLogging installs the default logger. Logs go to stderr so that
// command output on stdout stays readable.
func configLogging(cctx *cli.Context, out io.Writer) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(cctx.String("log-level")) {
	case "error":
		level = slog.LevelError
	case "warn":
		level = slog.LevelWarn
	case "info":
		level = slog.LevelInfo
	case "debug":
		level = slog.LevelDebug
	default:
		return nil, fmt.Errorf("unknown log level: %q", cctx.String("log-level"))
	}

	hopts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cctx.Bool("log-json") {
		handler = slog.NewJSONHandler(out, hopts)
	} else {
		handler = slog.NewTextHandler(out, hopts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}
