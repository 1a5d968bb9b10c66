// Package scraper pages through the accounts a session request targets.
//
// Scrapers never retry: a throttled page comes back as a RateLimited result
// and the next call to Next fetches the same page again.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	appbsky "github.com/redblock-app/chainblock/api/bsky"
	"github.com/redblock-app/chainblock/models"
	"github.com/redblock-app/chainblock/xrpc"
)

type Scraper interface {
	// Prepare starts resolving the total count in the background. Only the
	// first call has any effect.
	Prepare(ctx context.Context)
	// StopPrepare releases pending WaitPrepared calls. The underlying
	// request keeps running.
	StopPrepare()
	WaitPrepared(ctx context.Context) error
	// TotalCount is an upper bound on the number of candidates, or nil.
	TotalCount() *int
	Next(ctx context.Context) Result
	// APIKind is the XRPC method the next page is read from.
	APIKind() string
}

// Result is one of Page, RateLimited, Failed or Done.
type Result interface {
	isResult()
}

type Page struct {
	Users []*models.Candidate
}

type RateLimited struct {
	Err *RateLimitError
}

type Failed struct {
	Err error
}

type Done struct{}

func (Page) isResult()        {}
func (RateLimited) isResult() {}
func (Failed) isResult()      {}
func (Done) isResult()        {}

type RateLimitError struct {
	Method string
	// from the response headers; may be nil
	Ratelimit *xrpc.RatelimitInfo
	Err       error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited on %s: %s", e.Method, e.Err)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

func errorResult(method string, err error) Result {
	var me *methodError
	if errors.As(err, &me) {
		method = me.method
	}
	var xe *xrpc.Error
	if errors.As(err, &xe) && xe.IsThrottled() {
		pagesRateLimited.WithLabelValues(method).Inc()
		return RateLimited{Err: &RateLimitError{Method: method, Ratelimit: xe.Ratelimit, Err: err}}
	}
	return Failed{Err: fmt.Errorf("fetching %s: %w", method, err)}
}

// ClientPicker chooses which account reads a subject's lists. The anti-block
// retriever implements it.
type ClientPicker interface {
	ClientFor(ctx context.Context, subject string) (*xrpc.Client, error)
}

type Config struct {
	// the operator's authenticated client
	Client *xrpc.Client
	// optional; nil reads everything as the operator
	Picker   ClientPicker
	PageSize int64
	Logger   *slog.Logger
}

const DefaultPageSize = 100

func (cfg *Config) normalize() {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
}

// New builds the scraper for req's target.
func New(req *models.SessionRequest, cfg Config) (Scraper, error) {
	cfg.normalize()
	t := &req.Target
	switch t.Type {
	case models.TargetFollower:
		if t.User == nil {
			return nil, fmt.Errorf("follower target without user")
		}
		return NewFollowerScraper(cfg, t.User.DID, t.List), nil
	case models.TargetLockPicker:
		if t.User == nil {
			return nil, fmt.Errorf("lockpicker target without user")
		}
		return NewFollowerScraper(cfg, t.User.DID, models.FollowKindFollowers), nil
	case models.TargetTweetReaction:
		if t.Post == nil {
			return nil, fmt.Errorf("tweet_reaction target without post")
		}
		uri, err := models.ParsePostReference(t.Post.URI)
		if err != nil {
			return nil, err
		}
		return NewReactionScraper(cfg, uri.String(), t.Post.CID, t.IncludeReposters, t.IncludeLikers), nil
	case models.TargetImport:
		return NewImportScraper(cfg, t.DIDs), nil
	case models.TargetUserSearch:
		return NewSearchScraper(cfg, t.Query), nil
	}
	return nil, fmt.Errorf("unsupported target type: %q", t.Type)
}

// LimitStatus reports the last rate-limit window seen for method on any of
// the clients, preferring the most exhausted one.
func LimitStatus(clients ...*xrpc.Client) func(ctx context.Context, method string) (*models.RateLimit, error) {
	return func(ctx context.Context, method string) (*models.RateLimit, error) {
		var best *xrpc.RatelimitInfo
		for _, c := range clients {
			if c == nil {
				continue
			}
			rl := c.LastRatelimit(method)
			if rl != nil && (best == nil || rl.Remaining < best.Remaining) {
				best = rl
			}
		}
		if best == nil {
			return nil, fmt.Errorf("no rate limit status seen for %s", method)
		}
		return &models.RateLimit{
			Limit:     best.Limit,
			Remaining: best.Remaining,
			Reset:     best.Reset,
		}, nil
	}
}

func candidates(pvs []*appbsky.ActorDefs_ProfileView) []*models.Candidate {
	out := make([]*models.Candidate, 0, len(pvs))
	for _, pv := range pvs {
		if pv == nil {
			continue
		}
		out = append(out, models.CandidateFromProfileView(pv))
	}
	return out
}
