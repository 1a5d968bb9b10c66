package bsky

import (
	"context"

	"github.com/redblock-app/chainblock/xrpc"
)

// schema: app.bsky.feed.getPosts

type FeedGetPosts_Params struct {
	Uris []string `url:"uris"`
}

type FeedGetPosts_Output struct {
	Posts []*FeedDefs_PostView `json:"posts"`
}

func FeedGetPosts(ctx context.Context, c *xrpc.Client, uris []string) (*FeedGetPosts_Output, error) {
	var out FeedGetPosts_Output

	params := FeedGetPosts_Params{
		Uris: uris,
	}
	if err := c.Do(ctx, xrpc.Query, "", "app.bsky.feed.getPosts", params, nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}
