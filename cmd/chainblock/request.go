package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	appbsky "github.com/redblock-app/chainblock/api/bsky"
	"github.com/redblock-app/chainblock/keyword"
	"github.com/redblock-app/chainblock/models"
	"github.com/redblock-app/chainblock/xrpc"
	cli "github.com/urfave/cli/v2"
)

var targetFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "followers-of",
		Usage: "target the followers of an account (handle or DID)",
	},
	&cli.StringFlag{
		Name:  "follows-of",
		Usage: "target the accounts followed by an account (handle or DID)",
	},
	&cli.StringFlag{
		Name:  "mutuals-of",
		Usage: "target the mutual followers of an account (handle or DID)",
	},
	&cli.StringFlag{
		Name:  "post",
		Usage: "target the reactions to a post (AT-URI or bsky.app URL)",
	},
	&cli.BoolFlag{
		Name:  "reposters",
		Usage: "with --post, include reposters",
	},
	&cli.BoolFlag{
		Name:  "likers",
		Usage: "with --post, include likers",
	},
	&cli.PathFlag{
		Name:  "import-file",
		Usage: "target the DIDs listed in a file, one per line",
	},
	&cli.StringFlag{
		Name:  "search",
		Usage: "target the accounts returned by an actor search",
	},
	&cli.BoolFlag{
		Name:  "lockpicker",
		Usage: "block the operator's own followers which aren't followed back",
	},
	&cli.StringFlag{
		Name:  "purpose",
		Usage: "chainblock, unchainblock, chainmute or unchainmute",
		Value: string(models.PurposeChainBlock),
	},
	&cli.StringFlag{
		Name:  "my-followers",
		Usage: "verb for accounts following the operator (Skip, Block, UnBlock, Mute, UnMute)",
		Value: string(models.VerbSkip),
	},
	&cli.StringFlag{
		Name:  "my-followings",
		Usage: "verb for accounts the operator follows",
		Value: string(models.VerbSkip),
	},
	&cli.StringFlag{
		Name:  "mutual-blocked",
		Usage: "verb for accounts blocking the operator back (unchainblock only)",
		Value: string(models.VerbSkip),
	},
	&cli.BoolFlag{
		Name:  "mute-even-blocked",
		Usage: "mute accounts even when they are already blocked",
	},
	&cli.StringSliceFlag{
		Name:  "bio-keyword",
		Usage: "only act on accounts whose profile matches; prefix with 're:' for a regular expression",
	},
}

// actorResolver looks up what request building needs to know about accounts
// and posts.
type actorResolver interface {
	Profile(ctx context.Context, actor string) (*models.UserRef, error)
	Post(ctx context.Context, uri string) (*models.PostRef, error)
}

type xrpcResolver struct {
	client *xrpc.Client
}

func (r *xrpcResolver) Profile(ctx context.Context, actor string) (*models.UserRef, error) {
	p, err := appbsky.ActorGetProfile(ctx, r.client, actor)
	if err != nil {
		return nil, fmt.Errorf("looking up %s: %w", actor, err)
	}
	return &models.UserRef{
		DID:            p.Did,
		Handle:         p.Handle,
		FollowersCount: p.FollowersCount,
		FollowsCount:   p.FollowsCount,
	}, nil
}

func (r *xrpcResolver) Post(ctx context.Context, uri string) (*models.PostRef, error) {
	out, err := appbsky.FeedGetPosts(ctx, r.client, []string{uri})
	if err != nil {
		return nil, fmt.Errorf("looking up post: %w", err)
	}
	if len(out.Posts) == 0 {
		return nil, fmt.Errorf("post not found: %s", uri)
	}
	p := out.Posts[0]
	return &models.PostRef{
		URI:         p.Uri,
		CID:         p.Cid,
		LikeCount:   p.LikeCount,
		RepostCount: p.RepostCount,
	}, nil
}

// requestFlags is the subset of command flags which shape a request.
type requestFlags struct {
	FollowersOf   string
	FollowsOf     string
	MutualsOf     string
	Post          string
	Reposters     bool
	Likers        bool
	Import        io.Reader
	Search        string
	LockPicker    bool
	Purpose       string
	MyFollowers   string
	MyFollowings  string
	MutualBlocked string
	MuteBlocked   bool
	BioKeywords   []string
}

func parseBioKeywords(raw []string) []keyword.Pattern {
	var out []keyword.Pattern
	for _, w := range raw {
		p := keyword.Pattern{Word: w, Enabled: true}
		if re, ok := strings.CutPrefix(w, "re:"); ok {
			p.Word = re
			p.Regexp = true
		}
		out = append(out, p)
	}
	return out
}

// readDIDList reads one DID per line, skipping blank lines and '#' comments.
func readDIDList(r io.Reader) ([]string, error) {
	var dids []string
	scan := bufio.NewScanner(r)
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !models.ValidDID(line) {
			return nil, fmt.Errorf("not a DID: %q", line)
		}
		dids = append(dids, line)
	}
	if err := scan.Err(); err != nil {
		return nil, err
	}
	return dids, nil
}

// buildRequest turns flags into a validated session request. operator is the
// logged-in account's DID.
func buildRequest(ctx context.Context, rf requestFlags, operator string, res actorResolver) (*models.SessionRequest, error) {
	var targets []string
	for name, set := range map[string]bool{
		"followers-of": rf.FollowersOf != "",
		"follows-of":   rf.FollowsOf != "",
		"mutuals-of":   rf.MutualsOf != "",
		"post":         rf.Post != "",
		"import-file":  rf.Import != nil,
		"search":       rf.Search != "",
		"lockpicker":   rf.LockPicker,
	} {
		if set {
			targets = append(targets, name)
		}
	}
	if len(targets) != 1 {
		return nil, fmt.Errorf("exactly one target flag is needed (got %d)", len(targets))
	}

	purpose, err := models.ParsePurpose(rf.Purpose)
	if err != nil {
		return nil, err
	}
	req := &models.SessionRequest{Purpose: purpose}

	switch {
	case rf.FollowersOf != "", rf.FollowsOf != "", rf.MutualsOf != "":
		actor, list := rf.FollowersOf, models.FollowKindFollowers
		if rf.FollowsOf != "" {
			actor, list = rf.FollowsOf, models.FollowKindFollows
		} else if rf.MutualsOf != "" {
			actor, list = rf.MutualsOf, models.FollowKindMutualFollowers
		}
		user, err := res.Profile(ctx, actor)
		if err != nil {
			return nil, err
		}
		req.Target = models.Target{Type: models.TargetFollower, User: user, List: list}
		req.Options = models.DefaultFollowerOptions()
	case rf.Post != "":
		uri, err := models.ParsePostReference(rf.Post)
		if err != nil {
			return nil, err
		}
		if !models.ValidDID(uri.Authority) {
			author, err := res.Profile(ctx, uri.Authority)
			if err != nil {
				return nil, err
			}
			uri.Authority = author.DID
		}
		post, err := res.Post(ctx, uri.String())
		if err != nil {
			return nil, err
		}
		reposters, likers := rf.Reposters, rf.Likers
		if !reposters && !likers {
			reposters, likers = true, true
		}
		req.Target = models.Target{
			Type:             models.TargetTweetReaction,
			Post:             post,
			IncludeReposters: reposters,
			IncludeLikers:    likers,
		}
		req.Options = models.DefaultReactionOptions()
	case rf.Import != nil:
		dids, err := readDIDList(rf.Import)
		if err != nil {
			return nil, err
		}
		req.Target = models.Target{Type: models.TargetImport, DIDs: dids}
		req.Options = models.DefaultFollowerOptions()
	case rf.Search != "":
		req.Target = models.Target{Type: models.TargetUserSearch, Query: rf.Search}
		req.Options = models.DefaultFollowerOptions()
	case rf.LockPicker:
		me, err := res.Profile(ctx, operator)
		if err != nil {
			return nil, err
		}
		req.Purpose = models.PurposeLockPicker
		req.Target = models.Target{Type: models.TargetLockPicker, User: me, List: models.FollowKindFollowers}
		req.Options = models.DefaultFollowerOptions()
	}

	if req.Options.MyFollowers, err = models.ParseVerb(rf.MyFollowers); err != nil {
		return nil, err
	}
	if req.Options.MyFollowings, err = models.ParseVerb(rf.MyFollowings); err != nil {
		return nil, err
	}
	if req.Purpose == models.PurposeUnChainBlock {
		mb, err := models.ParseVerb(rf.MutualBlocked)
		if err != nil {
			return nil, err
		}
		req.Options.MutualBlocked = &mb
	}
	req.Options.MuteEvenAlreadyBlocking = rf.MuteBlocked
	req.Options.BioKeywords = parseBioKeywords(rf.BioKeywords)

	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}
