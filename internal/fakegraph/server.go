package fakegraph

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	comatproto "github.com/redblock-app/chainblock/api/atproto"
	appbsky "github.com/redblock-app/chainblock/api/bsky"
)

const rateLimitWindow = 3000

type xrpcError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func errResp(c echo.Context, code int, name, msg string) error {
	return c.JSON(code, xrpcError{Error: name, Message: msg})
}

// NewServer serves g over XRPC. The caller closes the returned server.
func NewServer(g *Graph) *httptest.Server {
	return httptest.NewServer(g.Handler())
}

func (g *Graph) Handler() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.Use(g.rateLimitMiddleware)

	e.POST("/xrpc/com.atproto.server.createSession", g.handleCreateSession)
	e.POST("/xrpc/com.atproto.server.refreshSession", g.handleRefreshSession)

	e.GET("/xrpc/app.bsky.actor.getProfile", g.handleGetProfile)
	e.GET("/xrpc/app.bsky.actor.getProfiles", g.handleGetProfiles)
	e.GET("/xrpc/app.bsky.actor.searchActors", g.handleSearchActors)
	e.GET("/xrpc/app.bsky.graph.getFollowers", g.handleGetFollowers)
	e.GET("/xrpc/app.bsky.graph.getFollows", g.handleGetFollows)
	e.GET("/xrpc/app.bsky.feed.getPosts", g.handleGetPosts)
	e.GET("/xrpc/app.bsky.feed.getLikes", g.handleGetLikes)
	e.GET("/xrpc/app.bsky.feed.getRepostedBy", g.handleGetRepostedBy)

	e.POST("/xrpc/com.atproto.repo.createRecord", g.handleCreateRecord)
	e.POST("/xrpc/com.atproto.repo.deleteRecord", g.handleDeleteRecord)
	e.POST("/xrpc/com.atproto.repo.applyWrites", g.handleApplyWrites)
	e.POST("/xrpc/app.bsky.graph.muteActor", g.handleMuteActor)
	e.POST("/xrpc/app.bsky.graph.unmuteActor", g.handleUnmuteActor)
	return e
}

func (g *Graph) rateLimitMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		method := strings.TrimPrefix(c.Request().URL.Path, "/xrpc/")

		g.mu.Lock()
		g.calls[method]++
		calls := g.calls[method]
		throttle := g.throttled[method] > 0
		if throttle {
			g.throttled[method]--
		}
		g.mu.Unlock()

		h := c.Response().Header()
		h.Set("ratelimit-limit", strconv.Itoa(rateLimitWindow))
		h.Set("ratelimit-policy", fmt.Sprintf("%d;w=900", rateLimitWindow))
		h.Set("ratelimit-reset", strconv.FormatInt(time.Now().Add(15*time.Minute).Unix(), 10))
		if throttle {
			h.Set("ratelimit-remaining", "0")
			return errResp(c, http.StatusTooManyRequests, "RateLimitExceeded", "Rate Limit Exceeded")
		}
		h.Set("ratelimit-remaining", strconv.Itoa(max(rateLimitWindow-calls, 0)))
		return next(c)
	}
}

func viewerOf(c echo.Context) string {
	return strings.TrimPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
}

func (g *Graph) pageParams(c echo.Context) (int, int, error) {
	offset := 0
	if cur := c.QueryParam("cursor"); cur != "" {
		n, err := strconv.Atoi(cur)
		if err != nil || n < 0 {
			return 0, 0, fmt.Errorf("bad cursor %q", cur)
		}
		offset = n
	}
	limit := 50
	if l := c.QueryParam("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 || n > 100 {
			return 0, 0, fmt.Errorf("bad limit %q", l)
		}
		limit = n
	}
	if g.PageSize > 0 && limit > g.PageSize {
		limit = g.PageSize
	}
	return offset, limit, nil
}

// page returns the slice for this request, and the cursor of the next one
func page(all []string, offset, limit int) ([]string, *string) {
	if offset >= len(all) {
		return nil, nil
	}
	end := min(offset+limit, len(all))
	if end == len(all) {
		return all[offset:end], nil
	}
	next := strconv.Itoa(end)
	return all[offset:end], &next
}

func (g *Graph) handleCreateSession(c echo.Context) error {
	var in comatproto.ServerCreateSession_Input
	if err := c.Bind(&in); err != nil {
		return errResp(c, http.StatusBadRequest, "InvalidRequest", err.Error())
	}
	g.mu.Lock()
	p := g.resolve(in.Identifier)
	g.mu.Unlock()
	if p == nil || in.Password != DefaultPassword {
		return errResp(c, http.StatusUnauthorized, "AuthenticationRequired", "Invalid identifier or password")
	}
	return c.JSON(http.StatusOK, comatproto.ServerCreateSession_Output{
		AccessJwt:  p.DID,
		RefreshJwt: "refresh:" + p.DID,
		Did:        p.DID,
		Handle:     p.Handle,
	})
}

func (g *Graph) handleRefreshSession(c echo.Context) error {
	tok := viewerOf(c)
	did, ok := strings.CutPrefix(tok, "refresh:")
	g.mu.Lock()
	p := g.resolve(did)
	g.mu.Unlock()
	if !ok || p == nil {
		return errResp(c, http.StatusUnauthorized, "ExpiredToken", "Token has expired")
	}
	return c.JSON(http.StatusOK, comatproto.ServerRefreshSession_Output{
		AccessJwt:  p.DID,
		RefreshJwt: "refresh:" + p.DID,
		Did:        p.DID,
		Handle:     p.Handle,
	})
}

func (g *Graph) handleGetProfile(c echo.Context) error {
	viewer := viewerOf(c)
	g.mu.Lock()
	defer g.mu.Unlock()
	p := g.resolve(c.QueryParam("actor"))
	if p == nil {
		return errResp(c, http.StatusBadRequest, "InvalidRequest", "Profile not found")
	}
	return c.JSON(http.StatusOK, g.profileViewDetailed(viewer, p))
}

func (g *Graph) handleGetProfiles(c echo.Context) error {
	viewer := viewerOf(c)
	actors := c.QueryParams()["actors"]
	if len(actors) > appbsky.ActorGetProfilesMaxActors {
		return errResp(c, http.StatusBadRequest, "InvalidRequest", "too many actors")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := appbsky.ActorGetProfiles_Output{Profiles: []*appbsky.ActorDefs_ProfileViewDetailed{}}
	for _, a := range actors {
		// unknown actors are silently left out, like the real AppView
		if p := g.resolve(a); p != nil {
			out.Profiles = append(out.Profiles, g.profileViewDetailed(viewer, p))
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (g *Graph) handleSearchActors(c echo.Context) error {
	viewer := viewerOf(c)
	offset, limit, err := g.pageParams(c)
	if err != nil {
		return errResp(c, http.StatusBadRequest, "InvalidRequest", err.Error())
	}
	q := strings.ToLower(c.QueryParam("q"))
	g.mu.Lock()
	defer g.mu.Unlock()
	var matched []string
	for _, did := range g.order {
		p := g.profiles[did]
		text := strings.ToLower(p.Handle + "\n" + p.DisplayName + "\n" + p.Description)
		if q != "" && strings.Contains(text, q) {
			matched = append(matched, did)
		}
	}
	dids, cursor := page(matched, offset, limit)
	return c.JSON(http.StatusOK, appbsky.ActorSearchActors_Output{
		Actors: g.profileViews(viewer, dids),
		Cursor: cursor,
	})
}

// checkBlocks returns the error name when a block between viewer and actor
// hides actor's graph.
func (g *Graph) checkBlocks(viewer, actor string) string {
	if _, ok := g.blocks[actor][viewer]; ok {
		return "BlockedByActor"
	}
	if _, ok := g.blocks[viewer][actor]; ok {
		return "BlockedActor"
	}
	return ""
}

func (g *Graph) handleGetFollowers(c echo.Context) error {
	return g.handleGraphList(c, g.followers, func(subject *appbsky.ActorDefs_ProfileView, cursor *string, list []*appbsky.ActorDefs_ProfileView) any {
		return appbsky.GraphGetFollowers_Output{Subject: subject, Cursor: cursor, Followers: list}
	})
}

func (g *Graph) handleGetFollows(c echo.Context) error {
	return g.handleGraphList(c, g.follows, func(subject *appbsky.ActorDefs_ProfileView, cursor *string, list []*appbsky.ActorDefs_ProfileView) any {
		return appbsky.GraphGetFollows_Output{Subject: subject, Cursor: cursor, Follows: list}
	})
}

func (g *Graph) handleGraphList(c echo.Context, lists map[string][]string, build func(*appbsky.ActorDefs_ProfileView, *string, []*appbsky.ActorDefs_ProfileView) any) error {
	viewer := viewerOf(c)
	offset, limit, err := g.pageParams(c)
	if err != nil {
		return errResp(c, http.StatusBadRequest, "InvalidRequest", err.Error())
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	p := g.resolve(c.QueryParam("actor"))
	if p == nil {
		return errResp(c, http.StatusBadRequest, "InvalidRequest", "Profile not found")
	}
	if name := g.checkBlocks(viewer, p.DID); name != "" {
		return errResp(c, http.StatusBadRequest, name, "Blocked")
	}
	dids, cursor := page(lists[p.DID], offset, limit)
	return c.JSON(http.StatusOK, build(g.profileView(viewer, p), cursor, g.profileViews(viewer, dids)))
}

func (g *Graph) handleGetPosts(c echo.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := appbsky.FeedGetPosts_Output{Posts: []*appbsky.FeedDefs_PostView{}}
	for _, uri := range c.QueryParams()["uris"] {
		post, ok := g.posts[uri]
		if !ok {
			continue
		}
		likes := int64(len(post.Likers))
		reposts := int64(len(post.Reposters))
		author := &appbsky.ActorDefs_ProfileViewBasic{Did: post.Author}
		if p, ok := g.profiles[post.Author]; ok {
			author.Handle = p.Handle
		}
		out.Posts = append(out.Posts, &appbsky.FeedDefs_PostView{
			Uri:         post.URI,
			Cid:         post.CID,
			Author:      author,
			LikeCount:   &likes,
			RepostCount: &reposts,
			IndexedAt:   time.Now().UTC().Format(time.RFC3339),
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (g *Graph) postFor(c echo.Context) (*Post, int, int, error) {
	offset, limit, err := g.pageParams(c)
	if err != nil {
		return nil, 0, 0, err
	}
	post, ok := g.posts[c.QueryParam("uri")]
	if !ok {
		return nil, 0, 0, fmt.Errorf("post not found")
	}
	return post, offset, limit, nil
}

func (g *Graph) handleGetLikes(c echo.Context) error {
	viewer := viewerOf(c)
	g.mu.Lock()
	defer g.mu.Unlock()
	post, offset, limit, err := g.postFor(c)
	if err != nil {
		return errResp(c, http.StatusBadRequest, "InvalidRequest", err.Error())
	}
	dids, cursor := page(post.Likers, offset, limit)
	now := time.Now().UTC().Format(time.RFC3339)
	out := appbsky.FeedGetLikes_Output{Uri: post.URI, Cursor: cursor, Likes: []*appbsky.FeedGetLikes_Like{}}
	for _, pv := range g.profileViews(viewer, dids) {
		out.Likes = append(out.Likes, &appbsky.FeedGetLikes_Like{Actor: pv, CreatedAt: now, IndexedAt: now})
	}
	return c.JSON(http.StatusOK, out)
}

func (g *Graph) handleGetRepostedBy(c echo.Context) error {
	viewer := viewerOf(c)
	g.mu.Lock()
	defer g.mu.Unlock()
	post, offset, limit, err := g.postFor(c)
	if err != nil {
		return errResp(c, http.StatusBadRequest, "InvalidRequest", err.Error())
	}
	dids, cursor := page(post.Reposters, offset, limit)
	return c.JSON(http.StatusOK, appbsky.FeedGetRepostedBy_Output{
		Uri:        post.URI,
		Cursor:     cursor,
		RepostedBy: g.profileViews(viewer, dids),
	})
}

// writeAllowed checks a write by viewer against subject. When it returns
// false the error response was already sent.
func (g *Graph) writeAllowed(c echo.Context, viewer, repo, subject string) (bool, error) {
	if viewer == "" {
		return false, errResp(c, http.StatusUnauthorized, "AuthenticationRequired", "Authentication Required")
	}
	if repo != "" && repo != viewer {
		return false, errResp(c, http.StatusBadRequest, "InvalidRequest", "repo does not match session")
	}
	if g.failSubject[subject] {
		return false, errResp(c, http.StatusBadRequest, "InvalidRequest", "write rejected")
	}
	return true, nil
}

func (g *Graph) handleCreateRecord(c echo.Context) error {
	viewer := viewerOf(c)
	var in struct {
		Collection string             `json:"collection"`
		Repo       string             `json:"repo"`
		Record     appbsky.GraphBlock `json:"record"`
	}
	if err := c.Bind(&in); err != nil {
		return errResp(c, http.StatusBadRequest, "InvalidRequest", err.Error())
	}
	if in.Collection != appbsky.GraphBlockNSID {
		return errResp(c, http.StatusBadRequest, "InvalidRequest", "unsupported collection")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if ok, err := g.writeAllowed(c, viewer, in.Repo, in.Record.Subject); !ok {
		return err
	}
	rkey := g.blockLocked(viewer, in.Record.Subject)
	return c.JSON(http.StatusOK, comatproto.RepoCreateRecord_Output{
		Uri: fmt.Sprintf("at://%s/%s/%s", viewer, appbsky.GraphBlockNSID, rkey),
		Cid: "bafyrei" + rkey,
	})
}

// lookup the subject of viewer's block record by rkey
func (g *Graph) blockSubject(viewer, rkey string) string {
	for subject, k := range g.blocks[viewer] {
		if k == rkey {
			return subject
		}
	}
	return ""
}

func (g *Graph) handleDeleteRecord(c echo.Context) error {
	viewer := viewerOf(c)
	var in comatproto.RepoDeleteRecord_Input
	if err := c.Bind(&in); err != nil {
		return errResp(c, http.StatusBadRequest, "InvalidRequest", err.Error())
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	subject := g.blockSubject(viewer, in.Rkey)
	if ok, err := g.writeAllowed(c, viewer, in.Repo, subject); !ok {
		return err
	}
	// deleting a missing record succeeds
	delete(g.blocks[viewer], subject)
	return c.JSON(http.StatusOK, map[string]any{})
}

func (g *Graph) handleApplyWrites(c echo.Context) error {
	viewer := viewerOf(c)
	var in struct {
		Repo   string `json:"repo"`
		Writes []struct {
			Type       string          `json:"$type"`
			Collection string          `json:"collection"`
			Rkey       string          `json:"rkey"`
			Value      json.RawMessage `json:"value"`
		} `json:"writes"`
	}
	if err := c.Bind(&in); err != nil {
		return errResp(c, http.StatusBadRequest, "InvalidRequest", err.Error())
	}
	if len(in.Writes) > comatproto.RepoApplyWritesMaxWrites {
		return errResp(c, http.StatusBadRequest, "InvalidRequest", "too many writes")
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	// validate everything first: the batch is atomic
	subjects := make([]string, len(in.Writes))
	for i, w := range in.Writes {
		if w.Collection != appbsky.GraphBlockNSID {
			return errResp(c, http.StatusBadRequest, "InvalidRequest", "unsupported collection")
		}
		switch w.Type {
		case "com.atproto.repo.applyWrites#create":
			var rec appbsky.GraphBlock
			if err := json.Unmarshal(w.Value, &rec); err != nil {
				return errResp(c, http.StatusBadRequest, "InvalidRequest", err.Error())
			}
			subjects[i] = rec.Subject
		case "com.atproto.repo.applyWrites#delete":
			subjects[i] = g.blockSubject(viewer, w.Rkey)
		default:
			return errResp(c, http.StatusBadRequest, "InvalidRequest", "unsupported write")
		}
		if ok, err := g.writeAllowed(c, viewer, in.Repo, subjects[i]); !ok {
			return err
		}
	}

	out := comatproto.RepoApplyWrites_Output{}
	for i, w := range in.Writes {
		if strings.HasSuffix(w.Type, "#create") {
			rkey := g.blockLocked(viewer, subjects[i])
			res, _ := json.Marshal(map[string]string{
				"$type": "com.atproto.repo.applyWrites#createResult",
				"uri":   fmt.Sprintf("at://%s/%s/%s", viewer, appbsky.GraphBlockNSID, rkey),
				"cid":   "bafyrei" + rkey,
			})
			out.Results = append(out.Results, res)
		} else {
			delete(g.blocks[viewer], subjects[i])
			res, _ := json.Marshal(map[string]string{"$type": "com.atproto.repo.applyWrites#deleteResult"})
			out.Results = append(out.Results, res)
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (g *Graph) handleMuteActor(c echo.Context) error {
	return g.handleMute(c, true)
}

func (g *Graph) handleUnmuteActor(c echo.Context) error {
	return g.handleMute(c, false)
}

func (g *Graph) handleMute(c echo.Context, mute bool) error {
	viewer := viewerOf(c)
	var in appbsky.GraphMuteActor_Input
	if err := c.Bind(&in); err != nil {
		return errResp(c, http.StatusBadRequest, "InvalidRequest", err.Error())
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	p := g.resolve(in.Actor)
	if p == nil {
		return errResp(c, http.StatusBadRequest, "InvalidRequest", "Actor not found")
	}
	if ok, err := g.writeAllowed(c, viewer, "", p.DID); !ok {
		return err
	}
	if g.mutes[viewer] == nil {
		g.mutes[viewer] = make(map[string]bool)
	}
	if mute {
		g.mutes[viewer][p.DID] = true
	} else {
		delete(g.mutes[viewer], p.DID)
	}
	return c.NoContent(http.StatusOK)
}
