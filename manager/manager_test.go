package manager

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redblock-app/chainblock/chainblock"
	"github.com/redblock-app/chainblock/limiter"
	"github.com/redblock-app/chainblock/models"
	"github.com/redblock-app/chainblock/scraper"
	"github.com/redblock-app/chainblock/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const operator = "did:plc:operator"

// pageScraper yields one account per page; pages < 0 never ends.
type pageScraper struct {
	pages int
	n     atomic.Int32
}

func (s *pageScraper) Prepare(ctx context.Context)            {}
func (s *pageScraper) StopPrepare()                           {}
func (s *pageScraper) WaitPrepared(ctx context.Context) error { return nil }
func (s *pageScraper) TotalCount() *int                       { return nil }
func (s *pageScraper) APIKind() string                        { return "app.bsky.graph.getFollowers" }

func (s *pageScraper) Next(ctx context.Context) scraper.Result {
	n := int(s.n.Add(1))
	if s.pages >= 0 && n > s.pages {
		return scraper.Done{}
	}
	if s.pages < 0 {
		time.Sleep(time.Millisecond)
	}
	f := false
	return scraper.Page{Users: []*models.Candidate{{
		DID:        fmt.Sprintf("did:plc:user%d", n),
		Following:  &f,
		FollowedBy: &f,
	}}}
}

type countingWriter struct {
	mu    sync.Mutex
	count int
}

func (w *countingWriter) do() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.count++
	return nil
}

func (w *countingWriter) Block(ctx context.Context, c *models.Candidate) error   { return w.do() }
func (w *countingWriter) UnBlock(ctx context.Context, c *models.Candidate) error { return w.do() }
func (w *countingWriter) Mute(ctx context.Context, c *models.Candidate) error    { return w.do() }
func (w *countingWriter) UnMute(ctx context.Context, c *models.Candidate) error  { return w.do() }

func testConfig(t *testing.T, pages int) Config {
	return Config{
		Operator: operator,
		Session: chainblock.Deps{
			NewScraper: func(req *models.SessionRequest) (scraper.Scraper, error) {
				return &pageScraper{pages: pages}, nil
			},
			Limiter: limiter.New(limiter.NewMemCountStore(), limiter.Config{Account: operator, Max: 1_000_000}),
			Writer:  &countingWriter{},
		},
	}
}

func newManager(t *testing.T, cfg Config) *Manager {
	m, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		assert.NoError(t, m.Close(ctx))
	})
	return m
}

func testStore(t *testing.T) *store.Store {
	db, err := store.Open("sqlite://"+filepath.Join(t.TempDir(), "history.sqlite"), nil)
	require.NoError(t, err)
	s, err := store.New(db, nil)
	require.NoError(t, err)
	return s
}

func followersOf(did string) *models.SessionRequest {
	return &models.SessionRequest{
		Purpose: models.PurposeChainBlock,
		Target: models.Target{
			Type: models.TargetFollower,
			User: &models.UserRef{DID: did},
			List: models.FollowKindFollowers,
		},
		Options: models.DefaultFollowerOptions(),
	}
}

func waitStatus(t *testing.T, m *Manager, id string, want models.Status) *View {
	t.Helper()
	var v *View
	require.Eventually(t, func() bool {
		var err error
		v, err = m.Get(id)
		return err == nil && v.Status == want
	}, 10*time.Second, time.Millisecond)
	return v
}

func TestAddAndList(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	m := newManager(t, testConfig(t, 1))

	a, err := m.Add(ctx, followersOf("did:plc:alice"))
	require.NoError(t, err)
	b, err := m.Add(ctx, followersOf("did:plc:bob"))
	require.NoError(t, err)

	assert.NotEqual(a.SessionID, b.SessionID)
	assert.NotEmpty(a.Label)
	assert.Equal(models.StatusInitial, a.Status)
	assert.False(a.Confirmed)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(a.SessionID, list[0].SessionID)
	assert.Equal(b.SessionID, list[1].SessionID)

	_, err = m.Get("session/0")
	assert.ErrorIs(err, ErrNotFound)

	_, err = m.Add(ctx, &models.SessionRequest{Purpose: "nope"})
	assert.ErrorIs(err, models.ErrInvalidRequest)
}

func TestDuplicateTarget(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, testConfig(t, 1))

	first, err := m.Add(ctx, followersOf("did:plc:alice"))
	require.NoError(t, err)

	other := followersOf("did:plc:alice")
	other.Target.List = models.FollowKindFollows
	_, err = m.Add(ctx, other)
	assert.ErrorIs(t, err, ErrDuplicateTarget)

	// imports never collide
	imp := &models.SessionRequest{
		Purpose: models.PurposeChainBlock,
		Target:  models.Target{Type: models.TargetImport, DIDs: []string{"did:plc:x"}},
		Options: models.DefaultFollowerOptions(),
	}
	_, err = m.Add(ctx, imp)
	require.NoError(t, err)
	_, err = m.Add(ctx, imp)
	require.NoError(t, err)

	_, err = m.Confirm(first.SessionID)
	require.NoError(t, err)
	_, err = m.Start(first.SessionID)
	require.NoError(t, err)
	waitStatus(t, m, first.SessionID, models.StatusCompleted)

	// a finished session no longer blocks the target
	_, err = m.Add(ctx, other)
	assert.NoError(t, err)
}

func TestSelfTarget(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, testConfig(t, 1))
	_, err := m.Add(ctx, followersOf(operator))
	assert.ErrorIs(t, err, ErrSelfTarget)

	post := &models.SessionRequest{
		Purpose: models.PurposeChainBlock,
		Target: models.Target{
			Type:          models.TargetTweetReaction,
			Post:          &models.PostRef{URI: "at://" + operator + "/app.bsky.feed.post/3kabc"},
			IncludeLikers: true,
		},
		Options: models.DefaultReactionOptions(),
	}
	_, err = m.Add(ctx, post)
	assert.ErrorIs(t, err, ErrSelfTarget)

	// lockpicker always targets the operator
	_, err = m.Add(ctx, &models.SessionRequest{
		Purpose: models.PurposeLockPicker,
		Target:  models.Target{Type: models.TargetLockPicker, User: &models.UserRef{DID: operator}},
		Options: models.DefaultFollowerOptions(),
	})
	assert.NoError(t, err)

	cfg := testConfig(t, 1)
	cfg.AllowSelfChainBlock = true
	allowed := newManager(t, cfg)
	_, err = allowed.Add(ctx, followersOf(operator))
	assert.NoError(t, err)
}

func TestStartRunsAndRecordsHistory(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	cfg := testConfig(t, 3)
	cfg.Store = testStore(t)
	m := newManager(t, cfg)

	v, err := m.Add(ctx, followersOf("did:plc:alice"))
	require.NoError(t, err)

	_, err = m.Start(v.SessionID)
	assert.ErrorIs(err, chainblock.ErrNotConfirmed)

	_, err = m.Confirm(v.SessionID)
	require.NoError(t, err)
	_, err = m.Start(v.SessionID)
	require.NoError(t, err)

	done := waitStatus(t, m, v.SessionID, models.StatusCompleted)
	assert.Equal(3, done.Progress.Success[models.VerbBlock])
	assert.Equal(1, done.Runs)

	require.Eventually(t, func() bool {
		recs, err := cfg.Store.List(ctx, store.ListOptions{SessionID: v.SessionID})
		return err == nil && len(recs) == 1
	}, 10*time.Second, time.Millisecond)
	recs, err := cfg.Store.List(ctx, store.ListOptions{Operator: operator})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal("completed", recs[0].Status)
	assert.Equal(3, recs[0].Success)

	_, err = m.Start(v.SessionID)
	assert.ErrorIs(err, chainblock.ErrFinished)

	_, err = m.Rewind(v.SessionID)
	require.NoError(t, err)
	_, err = m.Start(v.SessionID)
	require.NoError(t, err)
	done = waitStatus(t, m, v.SessionID, models.StatusCompleted)
	assert.Equal(2, done.Runs)
}

func TestStopAndRemove(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	cfg := testConfig(t, -1)
	cfg.Store = testStore(t)
	m := newManager(t, cfg)

	v, err := m.Add(ctx, followersOf("did:plc:alice"))
	require.NoError(t, err)
	_, err = m.Confirm(v.SessionID)
	require.NoError(t, err)
	_, err = m.Start(v.SessionID)
	require.NoError(t, err)
	waitStatus(t, m, v.SessionID, models.StatusRunning)

	_, err = m.Start(v.SessionID)
	assert.ErrorIs(err, chainblock.ErrAlreadyRunning)

	stopped, err := m.Stop(ctx, v.SessionID)
	require.NoError(t, err)
	assert.Equal(models.StatusStopped, stopped.Status)
	require.NotNil(t, stopped.FinishedAt)

	// history is written before Stop returns
	recs, err := cfg.Store.List(ctx, store.ListOptions{SessionID: v.SessionID})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal("stopped", recs[0].Status)

	require.NoError(t, m.Remove(ctx, v.SessionID))
	_, err = m.Get(v.SessionID)
	assert.ErrorIs(err, ErrNotFound)
	assert.ErrorIs(m.Remove(ctx, v.SessionID), ErrNotFound)
}

func TestStopRightAfterStart(t *testing.T) {
	assert := assert.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	m := newManager(t, testConfig(t, 300))

	v, err := m.Add(ctx, followersOf("did:plc:alice"))
	require.NoError(t, err)
	_, err = m.Confirm(v.SessionID)
	require.NoError(t, err)
	_, err = m.Start(v.SessionID)
	require.NoError(t, err)

	stopped, err := m.Stop(ctx, v.SessionID)
	require.NoError(t, err)
	assert.Equal(models.StatusStopped, stopped.Status)
	assert.Less(stopped.Progress.Scraped, 300)
}

func TestCloseRightAfterStart(t *testing.T) {
	ctx := context.Background()
	m, err := New(testConfig(t, 300))
	require.NoError(t, err)

	v, err := m.Add(ctx, followersOf("did:plc:alice"))
	require.NoError(t, err)
	_, err = m.Confirm(v.SessionID)
	require.NoError(t, err)
	_, err = m.Start(v.SessionID)
	require.NoError(t, err)

	closeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, m.Close(closeCtx))

	got, err := m.Get(v.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusStopped, got.Status)
}

func TestRemoveAfterComplete(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, 2)
	cfg.RemoveAfterComplete = true
	m := newManager(t, cfg)

	v, err := m.Add(ctx, followersOf("did:plc:alice"))
	require.NoError(t, err)
	_, err = m.Confirm(v.SessionID)
	require.NoError(t, err)
	_, err = m.Start(v.SessionID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := m.Get(v.SessionID)
		return err != nil
	}, 10*time.Second, time.Millisecond)
	assert.Empty(t, m.List())
}

func TestRecurringSessionReruns(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, 1)
	cfg.RecurringInterval = 5 * time.Millisecond
	cfg.RecurringCheck = 2 * time.Millisecond
	cfg.RemoveAfterComplete = true
	cfg.Store = testStore(t)
	m := newManager(t, cfg)

	v, err := m.Add(ctx, followersOf("did:plc:alice"))
	require.NoError(t, err)
	_, err = m.Confirm(v.SessionID)
	require.NoError(t, err)
	_, err = m.Start(v.SessionID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := m.Get(v.SessionID)
		return err == nil && got.Runs >= 3
	}, 10*time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		recs, err := cfg.Store.List(ctx, store.ListOptions{SessionID: v.SessionID})
		return err == nil && len(recs) >= 2
	}, 10*time.Second, time.Millisecond)
}

func TestStartCap(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, 1)
	cfg.MaxStartsPerDay = 1
	m := newManager(t, cfg)

	v, err := m.Add(ctx, followersOf("did:plc:alice"))
	require.NoError(t, err)
	_, err = m.Confirm(v.SessionID)
	require.NoError(t, err)
	_, err = m.Start(v.SessionID)
	require.NoError(t, err)
	waitStatus(t, m, v.SessionID, models.StatusCompleted)

	_, err = m.Rewind(v.SessionID)
	require.NoError(t, err)
	_, err = m.Start(v.SessionID)
	assert.ErrorIs(t, err, ErrTooManyStarts)
}

func TestCloseStopsRunningSessions(t *testing.T) {
	ctx := context.Background()
	m, err := New(testConfig(t, -1))
	require.NoError(t, err)

	v, err := m.Add(ctx, followersOf("did:plc:alice"))
	require.NoError(t, err)
	_, err = m.Confirm(v.SessionID)
	require.NoError(t, err)
	_, err = m.Start(v.SessionID)
	require.NoError(t, err)
	waitStatus(t, m, v.SessionID, models.StatusRunning)

	closeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, m.Close(closeCtx))

	got, err := m.Get(v.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusStopped, got.Status)

	_, err = m.Add(ctx, followersOf("did:plc:bob"))
	assert.ErrorIs(t, err, ErrClosed)
}
