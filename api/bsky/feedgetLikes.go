package bsky

import (
	"context"

	"github.com/redblock-app/chainblock/xrpc"
)

// schema: app.bsky.feed.getLikes

type FeedGetLikes_Params struct {
	Cid    string `url:"cid,omitempty"`
	Cursor string `url:"cursor,omitempty"`
	Limit  int64  `url:"limit,omitempty"`
	Uri    string `url:"uri"`
}

type FeedGetLikes_Like struct {
	Actor     *ActorDefs_ProfileView `json:"actor"`
	CreatedAt string                 `json:"createdAt"`
	IndexedAt string                 `json:"indexedAt"`
}

type FeedGetLikes_Output struct {
	Cid    *string              `json:"cid,omitempty"`
	Cursor *string              `json:"cursor,omitempty"`
	Likes  []*FeedGetLikes_Like `json:"likes"`
	Uri    string               `json:"uri"`
}

func FeedGetLikes(ctx context.Context, c *xrpc.Client, cid string, cursor string, limit int64, uri string) (*FeedGetLikes_Output, error) {
	var out FeedGetLikes_Output

	params := FeedGetLikes_Params{
		Cid:    cid,
		Cursor: cursor,
		Limit:  limit,
		Uri:    uri,
	}
	if err := c.Do(ctx, xrpc.Query, "", "app.bsky.feed.getLikes", params, nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}
