package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/redblock-app/chainblock/chainblock"
	"github.com/redblock-app/chainblock/events"
	"github.com/redblock-app/chainblock/models"
	cli "github.com/urfave/cli/v2"
)

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run one session to completion in the foreground",
	Flags: append(append([]cli.Flag{
		&cli.BoolFlag{
			Name:    "yes",
			Aliases: []string{"y"},
			Usage:   "don't ask for confirmation",
		},
	}, targetFlags...), sessionFlags...),
	Action: runRun,
}

func runRun(cctx *cli.Context) error {
	ctx := cctx.Context
	logger, err := configLogging(cctx, os.Stderr)
	if err != nil {
		return err
	}
	shutdownOTEL, err := configOTEL(ctx, "chainblock")
	if err != nil {
		return err
	}
	defer shutdownOTEL()

	env, err := setupEnv(cctx, logger)
	if err != nil {
		return err
	}

	rf := requestFlags{
		FollowersOf:   cctx.String("followers-of"),
		FollowsOf:     cctx.String("follows-of"),
		MutualsOf:     cctx.String("mutuals-of"),
		Post:          cctx.String("post"),
		Reposters:     cctx.Bool("reposters"),
		Likers:        cctx.Bool("likers"),
		Search:        cctx.String("search"),
		LockPicker:    cctx.Bool("lockpicker"),
		Purpose:       cctx.String("purpose"),
		MyFollowers:   cctx.String("my-followers"),
		MyFollowings:  cctx.String("my-followings"),
		MutualBlocked: cctx.String("mutual-blocked"),
		MuteBlocked:   cctx.Bool("mute-even-blocked"),
		BioKeywords:   cctx.StringSlice("bio-keyword"),
	}
	if path := cctx.Path("import-file"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		rf.Import = f
	}

	req, err := buildRequest(ctx, rf, env.operator(), &xrpcResolver{client: env.client})
	if err != nil {
		return err
	}

	fmt.Println(describeRequest(req))
	if !cctx.Bool("yes") {
		ok, err := confirm(os.Stdin, os.Stdout)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("cancelled")
			return nil
		}
	}

	bus := events.NewBus(logger, 1024)
	defer bus.Shutdown()
	deps := env.sessionDeps(cctx)
	deps.Bus = bus
	sess, err := chainblock.NewSession(req, deps)
	if err != nil {
		return err
	}

	evts, cleanup, err := bus.Subscribe(ctx, events.SessionFilter(sess.ID()))
	if err != nil {
		return err
	}
	defer cleanup()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printProgress(os.Stdout, evts)
	}()

	sess.SetConfirmed()
	// begun before the signal handler exists, so an early ^C is never lost
	if err := sess.Begin(); err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case <-sigs:
			fmt.Fprintln(os.Stderr, "stopping after the current page...")
			if err := sess.Stop(context.Background()); err != nil {
				logger.Warn("stop request failed", "err", err)
			}
		case <-printed:
		}
	}()

	sess.Prepare(ctx)
	runErr := sess.Run(ctx)

	select {
	case <-printed:
	case <-time.After(2 * time.Second):
	}

	info := sess.Info()
	env.saveHistory(ctx, info, runErr)
	fmt.Println(describeProgress(info))
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func confirm(in io.Reader, out io.Writer) (bool, error) {
	fmt.Fprint(out, "proceed? [y/N] ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func describeRequest(req *models.SessionRequest) string {
	verb, _ := req.Purpose.DefaultVerb()
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s %s", req.Purpose, req.Target.Type, req.Target.Subject())
	if req.Target.Type == models.TargetFollower {
		fmt.Fprintf(&b, " (%s)", req.Target.List)
	}
	if n := req.CountOfUsersToProcess(); n != nil {
		fmt.Fprintf(&b, "\n%s accounts to go through", humanize.Comma(int64(*n)))
	}
	fmt.Fprintf(&b, "\ndefault action: %s; my followers: %s; my followings: %s",
		verb, req.Options.MyFollowers, req.Options.MyFollowings)
	if mb := req.Options.MutualBlocked; mb != nil && req.Purpose == models.PurposeUnChainBlock {
		fmt.Fprintf(&b, "; mutually blocked: %s", *mb)
	}
	if len(req.Options.BioKeywords) > 0 {
		fmt.Fprintf(&b, "\nonly accounts matching %d bio keywords", len(req.Options.BioKeywords))
	}
	return b.String()
}

func describeProgress(info *models.SessionInfo) string {
	p := &info.Progress
	var parts []string
	for _, verb := range models.VerbsSomething {
		if n := p.Success[verb]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %s", strings.ToLower(string(verb)), humanize.Comma(int64(n))))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "no actions")
	}
	total := "?"
	if p.Total != nil {
		total = humanize.Comma(int64(*p.Total))
	}
	return fmt.Sprintf("%s: %s; already %s, skipped %s, failed %s, errors %s; scraped %s of %s",
		info.Status,
		strings.Join(parts, ", "),
		humanize.Comma(int64(p.Already)),
		humanize.Comma(int64(p.Skipped)),
		humanize.Comma(int64(p.Failure)),
		humanize.Comma(int64(p.Error)),
		humanize.Comma(int64(p.Scraped)),
		total,
	)
}

const progressEvery = 100

// printProgress renders the session's events until its terminal event.
func printProgress(out io.Writer, evts <-chan *events.Event) {
	marked := 0
	for evt := range evts {
		switch evt.Kind {
		case events.KindStarted:
			fmt.Fprintf(out, "started %s\n", evt.SessionID)
		case events.KindMarkUser:
			marked++
			if marked%progressEvery == 0 {
				fmt.Fprintf(out, "%s accounts handled\n", humanize.Comma(int64(marked)))
			}
		case events.KindRateLimit:
			if evt.Limit != nil {
				fmt.Fprintf(out, "rate limited, window resets %s\n", humanize.Time(evt.Limit.Reset))
			} else {
				fmt.Fprintln(out, "rate limited")
			}
		case events.KindRateLimitReset:
			fmt.Fprintln(out, "rate limit lifted")
		case events.KindError:
			fmt.Fprintf(out, "error: %s\n", evt.Error)
		}
		if evt.Terminal() {
			return
		}
	}
}
