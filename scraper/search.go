package scraper

import (
	"context"
	"log/slog"
	"sync"

	appbsky "github.com/redblock-app/chainblock/api/bsky"
	"github.com/redblock-app/chainblock/models"
)

const searchActorsMethod = "app.bsky.actor.searchActors"

// SearchScraper pages through actor search results. The total is never
// known up front.
type SearchScraper struct {
	cfg    Config
	query  string
	logger *slog.Logger
	prep   *preparer

	mu    sync.Mutex
	pager *pager
}

func NewSearchScraper(cfg Config, query string) *SearchScraper {
	cfg.normalize()
	s := &SearchScraper{
		cfg:    cfg,
		query:  query,
		logger: cfg.Logger.With("component", "scraper", "query", query),
		prep:   newPreparer(),
	}
	s.pager = &pager{method: searchActorsMethod, fetch: s.fetch}
	return s
}

func (s *SearchScraper) Prepare(ctx context.Context) {
	s.prep.start(ctx, s.logger, func(ctx context.Context) (*int, error) {
		return nil, nil
	})
}

func (s *SearchScraper) StopPrepare() {
	s.prep.stop()
}

func (s *SearchScraper) WaitPrepared(ctx context.Context) error {
	return s.prep.wait(ctx)
}

func (s *SearchScraper) TotalCount() *int {
	return nil
}

func (s *SearchScraper) APIKind() string {
	return searchActorsMethod
}

func (s *SearchScraper) Next(ctx context.Context) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pager.next(ctx)
}

func (s *SearchScraper) fetch(ctx context.Context, cursor string) ([]*models.Candidate, string, error) {
	out, err := appbsky.ActorSearchActors(ctx, s.cfg.Client, cursor, s.cfg.PageSize, s.query)
	if err != nil {
		return nil, "", err
	}
	return candidates(out.Actors), deref(out.Cursor), nil
}
