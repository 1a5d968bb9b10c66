package chainblock

import (
	"context"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/redblock-app/chainblock/blocker"
	"github.com/redblock-app/chainblock/events"
	"github.com/redblock-app/chainblock/internal/fakegraph"
	"github.com/redblock-app/chainblock/limiter"
	"github.com/redblock-app/chainblock/models"
	"github.com/redblock-app/chainblock/scraper"
	"github.com/redblock-app/chainblock/xrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainBlockAgainstFakeGraph(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	g := fakegraph.New()
	g.PageSize = 3
	dids := g.Populate(gofakeit.New(11), 10)
	srv := fakegraph.NewServer(g)
	t.Cleanup(srv.Close)

	me, target := dids[0], dids[1]
	for _, did := range dids[2:] {
		g.Follow(did, target)
	}
	g.Follow(me, dids[2])
	g.Follow(dids[3], me)
	g.Block(me, dids[4])
	g.Throttle("app.bsky.graph.getFollowers", 1)

	client := &xrpc.Client{
		Host:   srv.URL,
		Auth:   &xrpc.AuthInfo{AccessJwt: me, Did: me},
		Client: xrpc.RobustHTTPClient(nil),
	}
	bus := &recordingBus{}
	var sleeps int
	req := chainblockRequest()
	req.Target.User.DID = target

	s, err := NewSession(req, Deps{
		NewScraper: func(r *models.SessionRequest) (scraper.Scraper, error) {
			return scraper.New(r, scraper.Config{Client: client})
		},
		Limiter:     limiter.New(limiter.NewMemCountStore(), limiter.Config{Account: me}),
		Writer:      blocker.NewBatchWriter(client),
		LimitStatus: scraper.LimitStatus(client),
		Bus:         bus,
		Sleep: func(ctx context.Context, d time.Duration) error {
			sleeps++
			return nil
		},
	})
	require.NoError(t, err)
	s.SetConfirmed()
	require.NoError(t, s.Start(ctx))

	info := s.Info()
	assert.Equal(models.StatusCompleted, info.Status)
	assert.Equal(5, info.Progress.Success[models.VerbBlock])
	assert.Equal(2, info.Progress.Skipped)
	assert.Equal(1, info.Progress.Already)
	assert.Equal(8, info.Progress.Scraped)
	if info.Progress.Total != nil {
		assert.Equal(8, *info.Progress.Total)
	}
	assert.Equal(1, sleeps)

	assert.Equal(6, g.BlockCount(me))
	for _, did := range dids[5:] {
		assert.True(g.IsBlocking(me, did), did)
	}
	assert.False(g.IsBlocking(me, dids[2]))
	assert.False(g.IsBlocking(me, dids[3]))

	// the very first page was throttled, so the run never left Initial
	// through a successful page and there is no started event
	assert.Equal([]events.Kind{
		events.KindRateLimit,
		events.KindRateLimitReset,
		events.KindComplete,
	}, bus.kinds())
}
