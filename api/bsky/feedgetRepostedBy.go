package bsky

import (
	"context"

	"github.com/redblock-app/chainblock/xrpc"
)

// schema: app.bsky.feed.getRepostedBy

type FeedGetRepostedBy_Params struct {
	Cid    string `url:"cid,omitempty"`
	Cursor string `url:"cursor,omitempty"`
	Limit  int64  `url:"limit,omitempty"`
	Uri    string `url:"uri"`
}

type FeedGetRepostedBy_Output struct {
	Cid        *string                  `json:"cid,omitempty"`
	Cursor     *string                  `json:"cursor,omitempty"`
	RepostedBy []*ActorDefs_ProfileView `json:"repostedBy"`
	Uri        string                   `json:"uri"`
}

func FeedGetRepostedBy(ctx context.Context, c *xrpc.Client, cid string, cursor string, limit int64, uri string) (*FeedGetRepostedBy_Output, error) {
	var out FeedGetRepostedBy_Output

	params := FeedGetRepostedBy_Params{
		Cid:    cid,
		Cursor: cursor,
		Limit:  limit,
		Uri:    uri,
	}
	if err := c.Do(ctx, xrpc.Query, "", "app.bsky.feed.getRepostedBy", params, nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}
