package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redblock-app/chainblock/chainblock"
	"github.com/redblock-app/chainblock/events"
	"github.com/redblock-app/chainblock/limiter"
	"github.com/redblock-app/chainblock/manager"
	"github.com/redblock-app/chainblock/models"
	"github.com/redblock-app/chainblock/scraper"
	"github.com/redblock-app/chainblock/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const operator = "did:plc:operator"

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
	if n > s.pages {
		return scraper.Done{}
	}
	f := false
	return scraper.Page{Users: []*models.Candidate{{
		DID:        fmt.Sprintf("did:plc:user%d", n),
		Following:  &f,
		FollowedBy: &f,
	}}}
}

type nopWriter struct{}

func (nopWriter) Block(ctx context.Context, c *models.Candidate) error   { return nil }
func (nopWriter) UnBlock(ctx context.Context, c *models.Candidate) error { return nil }
func (nopWriter) Mute(ctx context.Context, c *models.Candidate) error    { return nil }
func (nopWriter) UnMute(ctx context.Context, c *models.Candidate) error  { return nil }

type testEnv struct {
	srv   *httptest.Server
	mgr   *manager.Manager
	token string
}

func newTestEnv(t *testing.T, token string) *testEnv {
	bus := events.NewBus(nil, 64)
	t.Cleanup(bus.Shutdown)

	db, err := store.Open("sqlite://"+filepath.Join(t.TempDir(), "history.sqlite"), nil)
	require.NoError(t, err)
	st, err := store.New(db, nil)
	require.NoError(t, err)

	lim := limiter.New(limiter.NewMemCountStore(), limiter.Config{Account: operator, Max: 100})
	mgr, err := manager.New(manager.Config{
		Operator: operator,
		Store:    st,
		Session: chainblock.Deps{
			NewScraper: func(req *models.SessionRequest) (scraper.Scraper, error) {
				return &pageScraper{pages: 3}, nil
			},
			Limiter: lim,
			Writer:  nopWriter{},
			Bus:     bus,
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, mgr.Close(ctx))
	})

	s, err := New(Config{
		Manager:    mgr,
		Bus:        bus,
		Quota:      lim,
		Store:      st,
		AdminToken: token,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return &testEnv{srv: ts, mgr: mgr, token: token}
}

func (env *testEnv) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, env.srv.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if env.token != "" {
		req.Header.Set("Authorization", "Bearer "+env.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
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

// shortID turns "session/123" into "123" for use in a path
func shortID(id string) string {
	return strings.TrimPrefix(id, "session/")
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, "")
	var st GenericStatus
	code := env.do(t, http.MethodGet, "/_health", nil, &st)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", st.Status)
}

func TestSessionLifecycle(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t, "")

	var created manager.View
	code := env.do(t, http.MethodPost, "/api/sessions", followersOf("did:plc:alice"), &created)
	require.Equal(t, http.StatusCreated, code)
	require.NotNil(t, created.SessionInfo)
	assert.Equal(models.StatusInitial, created.Status)
	id := shortID(created.SessionID)

	// starting before confirmation conflicts
	var st GenericStatus
	code = env.do(t, http.MethodPost, "/api/sessions/"+id+"/start", nil, &st)
	assert.Equal(http.StatusConflict, code)
	assert.Equal("error", st.Status)

	// subscribe first so that no event is missed
	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/api/sessions/" + id + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	code = env.do(t, http.MethodPost, "/api/sessions/"+id+"/confirm", nil, nil)
	require.Equal(t, http.StatusOK, code)
	code = env.do(t, http.MethodPost, "/api/sessions/"+id+"/start", nil, nil)
	require.Equal(t, http.StatusAccepted, code)

	var kinds []events.Kind
	marks := 0
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	for {
		var evt events.Event
		require.NoError(t, conn.ReadJSON(&evt))
		assert.Equal(created.SessionID, evt.SessionID)
		if evt.Kind == events.KindMarkUser {
			marks++
			continue
		}
		kinds = append(kinds, evt.Kind)
		if evt.Terminal() {
			require.NotNil(t, evt.Info)
			assert.Equal(3, evt.Info.Progress.Success[models.VerbBlock])
			break
		}
	}
	assert.Equal([]events.Kind{events.KindStarted, events.KindComplete}, kinds)
	assert.Equal(3, marks)

	// the finished run is recorded
	var hist historyOutput
	require.Eventually(t, func() bool {
		hist = historyOutput{}
		code := env.do(t, http.MethodGet, "/api/history?session="+created.SessionID, nil, &hist)
		return code == http.StatusOK && len(hist.Records) == 1
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(3, hist.Records[0].Success)

	var v manager.View
	code = env.do(t, http.MethodGet, "/api/sessions/"+id, nil, &v)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(models.StatusCompleted, v.Status)
	assert.NotNil(v.FinishedAt)
	assert.Equal(1, v.Runs)

	var lim limiter.Limit
	code = env.do(t, http.MethodGet, "/api/limit", nil, &lim)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(3, lim.Current)
	assert.Equal(97, lim.Remained)

	// a second start on a finished session conflicts; rewind reopens it
	code = env.do(t, http.MethodPost, "/api/sessions/"+id+"/start", nil, nil)
	assert.Equal(http.StatusConflict, code)
	code = env.do(t, http.MethodPost, "/api/sessions/"+id+"/rewind", nil, &v)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(models.StatusInitial, v.Status)

	code = env.do(t, http.MethodDelete, "/api/sessions/"+id, nil, nil)
	assert.Equal(http.StatusNoContent, code)
	code = env.do(t, http.MethodGet, "/api/sessions/"+id, nil, nil)
	assert.Equal(http.StatusNotFound, code)
}

func TestFullSessionIDInPath(t *testing.T) {
	env := newTestEnv(t, "")
	var created manager.View
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/sessions", followersOf("did:plc:alice"), &created))

	var v manager.View
	code := env.do(t, http.MethodGet, "/api/sessions/session%2F"+shortID(created.SessionID), nil, &v)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, created.SessionID, v.SessionID)
}

func TestCreateErrors(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t, "")

	code := env.do(t, http.MethodPost, "/api/sessions", followersOf(operator), nil)
	assert.Equal(http.StatusBadRequest, code)

	code = env.do(t, http.MethodPost, "/api/sessions", &models.SessionRequest{Purpose: "nope"}, nil)
	assert.Equal(http.StatusBadRequest, code)

	code = env.do(t, http.MethodPost, "/api/sessions", followersOf("did:plc:alice"), nil)
	require.Equal(t, http.StatusCreated, code)
	code = env.do(t, http.MethodPost, "/api/sessions", followersOf("did:plc:alice"), nil)
	assert.Equal(http.StatusConflict, code)

	var list sessionList
	code = env.do(t, http.MethodGet, "/api/sessions", nil, &list)
	require.Equal(t, http.StatusOK, code)
	assert.Len(list.Sessions, 1)

	code = env.do(t, http.MethodPost, "/api/sessions/42/confirm", nil, nil)
	assert.Equal(http.StatusNotFound, code)

	code = env.do(t, http.MethodGet, "/api/history?limit=0", nil, nil)
	assert.Equal(http.StatusBadRequest, code)
}

func TestAdminToken(t *testing.T) {
	env := newTestEnv(t, "sekrit")

	code := env.do(t, http.MethodGet, "/api/sessions", nil, nil)
	assert.Equal(t, http.StatusOK, code)

	env.token = "wrong"
	code = env.do(t, http.MethodGet, "/api/sessions", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	// health stays open
	code = env.do(t, http.MethodGet, "/_health", nil, nil)
	assert.Equal(t, http.StatusOK, code)
}
