package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	appbsky "github.com/redblock-app/chainblock/api/bsky"
	"github.com/redblock-app/chainblock/models"
)

const (
	getRepostedByMethod = "app.bsky.feed.getRepostedBy"
	getLikesMethod      = "app.bsky.feed.getLikes"
	getPostsMethod      = "app.bsky.feed.getPosts"
)

// ReactionScraper pages through a post's reposters, then its likers.
type ReactionScraper struct {
	cfg              Config
	uri              string
	cid              string
	includeReposters bool
	includeLikers    bool
	logger           *slog.Logger
	prep             *preparer

	mu    sync.Mutex
	lists []*pager
}

func NewReactionScraper(cfg Config, uri, cid string, reposters, likers bool) *ReactionScraper {
	cfg.normalize()
	s := &ReactionScraper{
		cfg:              cfg,
		uri:              uri,
		cid:              cid,
		includeReposters: reposters,
		includeLikers:    likers,
		logger:           cfg.Logger.With("component", "scraper", "post", uri),
		prep:             newPreparer(),
	}
	if reposters {
		s.lists = append(s.lists, &pager{method: getRepostedByMethod, fetch: s.fetchReposters})
	}
	if likers {
		s.lists = append(s.lists, &pager{method: getLikesMethod, fetch: s.fetchLikers})
	}
	return s
}

func (s *ReactionScraper) Prepare(ctx context.Context) {
	s.prep.start(ctx, s.logger, s.count)
}

func (s *ReactionScraper) StopPrepare() {
	s.prep.stop()
}

func (s *ReactionScraper) WaitPrepared(ctx context.Context) error {
	return s.prep.wait(ctx)
}

func (s *ReactionScraper) TotalCount() *int {
	return s.prep.totalCount()
}

func (s *ReactionScraper) APIKind() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lists) == 0 {
		return getPostsMethod
	}
	return s.lists[0].method
}

func (s *ReactionScraper) count(ctx context.Context) (*int, error) {
	out, err := appbsky.FeedGetPosts(ctx, s.cfg.Client, []string{s.uri})
	if err != nil {
		return nil, fmt.Errorf("fetching post for count: %w", err)
	}
	if len(out.Posts) == 0 {
		return nil, fmt.Errorf("post not found: %s", s.uri)
	}
	post := out.Posts[0]
	var n int64
	if s.includeReposters && post.RepostCount != nil {
		n += *post.RepostCount
	}
	if s.includeLikers && post.LikeCount != nil {
		n += *post.LikeCount
	}
	return intPtr(n), nil
}

func (s *ReactionScraper) Next(ctx context.Context) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.lists) > 0 {
		res := s.lists[0].next(ctx)
		if _, ok := res.(Done); !ok {
			return res
		}
		s.lists = s.lists[1:]
	}
	return Done{}
}

func (s *ReactionScraper) fetchReposters(ctx context.Context, cursor string) ([]*models.Candidate, string, error) {
	out, err := appbsky.FeedGetRepostedBy(ctx, s.cfg.Client, s.cid, cursor, s.cfg.PageSize, s.uri)
	if err != nil {
		return nil, "", err
	}
	return candidates(out.RepostedBy), deref(out.Cursor), nil
}

func (s *ReactionScraper) fetchLikers(ctx context.Context, cursor string) ([]*models.Candidate, string, error) {
	out, err := appbsky.FeedGetLikes(ctx, s.cfg.Client, s.cid, cursor, s.cfg.PageSize, s.uri)
	if err != nil {
		return nil, "", err
	}
	users := make([]*models.Candidate, 0, len(out.Likes))
	for _, like := range out.Likes {
		if like.Actor != nil {
			users = append(users, models.CandidateFromProfileView(like.Actor))
		}
	}
	return users, deref(out.Cursor), nil
}
