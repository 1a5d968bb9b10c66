package scraper

import (
	"context"
	"log/slog"
	"sync"

	appbsky "github.com/redblock-app/chainblock/api/bsky"
)

// ImportScraper looks up a fixed list of accounts, one getProfiles chunk per
// page.
type ImportScraper struct {
	cfg    Config
	dids   []string
	logger *slog.Logger
	prep   *preparer

	mu     sync.Mutex
	offset int
}

func NewImportScraper(cfg Config, dids []string) *ImportScraper {
	cfg.normalize()
	return &ImportScraper{
		cfg:    cfg,
		dids:   dids,
		logger: cfg.Logger.With("component", "scraper", "import", len(dids)),
		prep:   newPreparer(),
	}
}

func (s *ImportScraper) Prepare(ctx context.Context) {
	s.prep.start(ctx, s.logger, func(ctx context.Context) (*int, error) {
		return intPtr(int64(len(s.dids))), nil
	})
}

func (s *ImportScraper) StopPrepare() {
	s.prep.stop()
}

func (s *ImportScraper) WaitPrepared(ctx context.Context) error {
	return s.prep.wait(ctx)
}

func (s *ImportScraper) TotalCount() *int {
	return s.prep.totalCount()
}

func (s *ImportScraper) APIKind() string {
	return getProfilesMethod
}

func (s *ImportScraper) Next(ctx context.Context) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offset >= len(s.dids) {
		return Done{}
	}
	end := min(s.offset+appbsky.ActorGetProfilesMaxActors, len(s.dids))
	users, err := fetchProfiles(ctx, s.cfg.Client, s.dids[s.offset:end])
	if err != nil {
		return errorResult(getProfilesMethod, err)
	}
	pagesFetched.WithLabelValues(getProfilesMethod).Inc()
	s.offset = end
	return Page{Users: users}
}
