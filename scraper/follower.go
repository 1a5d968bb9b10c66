package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	appbsky "github.com/redblock-app/chainblock/api/bsky"
	"github.com/redblock-app/chainblock/models"
	"github.com/redblock-app/chainblock/xrpc"
)

const (
	getFollowersMethod = "app.bsky.graph.getFollowers"
	getFollowsMethod   = "app.bsky.graph.getFollows"
	getProfileMethod   = "app.bsky.actor.getProfile"
)

// FollowerScraper pages through an account's followers or follows. For
// mutual followers it first collects the follows list (yielding empty
// pages), then keeps only followers found in it.
type FollowerScraper struct {
	cfg    Config
	actor  string
	kind   models.FollowKind
	logger *slog.Logger
	prep   *preparer

	mu      sync.Mutex
	current *pager
	lists   []*pager
	follows map[string]bool
}

func NewFollowerScraper(cfg Config, actor string, kind models.FollowKind) *FollowerScraper {
	cfg.normalize()
	s := &FollowerScraper{
		cfg:    cfg,
		actor:  actor,
		kind:   kind,
		logger: cfg.Logger.With("component", "scraper", "actor", actor, "list", kind),
		prep:   newPreparer(),
	}
	switch kind {
	case models.FollowKindFollows:
		s.lists = []*pager{s.listPager(getFollowsMethod, nil)}
	case models.FollowKindMutualFollowers:
		s.follows = make(map[string]bool)
		s.lists = []*pager{
			s.listPager(getFollowsMethod, s.collectFollows),
			s.listPager(getFollowersMethod, s.keepMutuals),
		}
	default:
		s.lists = []*pager{s.listPager(getFollowersMethod, nil)}
	}
	s.current = s.lists[0]
	return s
}

func (s *FollowerScraper) Prepare(ctx context.Context) {
	s.prep.start(ctx, s.logger, s.count)
}

func (s *FollowerScraper) StopPrepare() {
	s.prep.stop()
}

func (s *FollowerScraper) WaitPrepared(ctx context.Context) error {
	return s.prep.wait(ctx)
}

func (s *FollowerScraper) TotalCount() *int {
	return s.prep.totalCount()
}

func (s *FollowerScraper) APIKind() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.method
}

func (s *FollowerScraper) count(ctx context.Context) (*int, error) {
	prof, err := appbsky.ActorGetProfile(ctx, s.cfg.Client, s.actor)
	if err != nil {
		return nil, fmt.Errorf("fetching profile for count: %w", err)
	}
	switch s.kind {
	case models.FollowKindFollows:
		if prof.FollowsCount == nil {
			return nil, nil
		}
		return intPtr(*prof.FollowsCount), nil
	case models.FollowKindMutualFollowers:
		if prof.FollowsCount == nil || prof.FollowersCount == nil {
			return nil, nil
		}
		return intPtr(min(*prof.FollowsCount, *prof.FollowersCount)), nil
	default:
		if prof.FollowersCount == nil {
			return nil, nil
		}
		return intPtr(*prof.FollowersCount), nil
	}
}

func (s *FollowerScraper) Next(ctx context.Context) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		res := s.current.next(ctx)
		if _, ok := res.(Done); !ok {
			return res
		}
		i := 0
		for s.lists[i] != s.current {
			i++
		}
		if i == len(s.lists)-1 {
			return res
		}
		s.current = s.lists[i+1]
	}
}

// reader returns the client to read the actor's lists with, and whether it
// is someone other than the operator.
func (s *FollowerScraper) reader(ctx context.Context) (*xrpc.Client, bool, error) {
	if s.cfg.Picker == nil {
		return s.cfg.Client, false, nil
	}
	c, err := s.cfg.Picker.ClientFor(ctx, s.actor)
	if err != nil {
		return nil, false, err
	}
	return c, c != s.cfg.Client, nil
}

func (s *FollowerScraper) listPager(method string, filter func([]*models.Candidate) []*models.Candidate) *pager {
	return &pager{
		method: method,
		fetch: func(ctx context.Context, cursor string) ([]*models.Candidate, string, error) {
			c, alternate, err := s.reader(ctx)
			if err != nil {
				return nil, "", err
			}
			var users []*models.Candidate
			var next string
			if method == getFollowsMethod {
				out, err := appbsky.GraphGetFollows(ctx, c, s.actor, cursor, s.cfg.PageSize)
				if err != nil {
					return nil, "", err
				}
				users, next = candidates(out.Follows), deref(out.Cursor)
			} else {
				out, err := appbsky.GraphGetFollowers(ctx, c, s.actor, cursor, s.cfg.PageSize)
				if err != nil {
					return nil, "", err
				}
				users, next = candidates(out.Followers), deref(out.Cursor)
			}
			if filter != nil {
				users = filter(users)
			}
			if alternate {
				users, err = hydrate(ctx, s.cfg.Client, users)
				if err != nil {
					return nil, "", err
				}
			}
			return users, next, nil
		},
	}
}

func (s *FollowerScraper) collectFollows(users []*models.Candidate) []*models.Candidate {
	for _, u := range users {
		s.follows[u.DID] = true
	}
	return nil
}

func (s *FollowerScraper) keepMutuals(users []*models.Candidate) []*models.Candidate {
	kept := users[:0]
	for _, u := range users {
		if s.follows[u.DID] {
			kept = append(kept, u)
		}
	}
	return kept
}
