package bsky

import (
	"context"

	"github.com/redblock-app/chainblock/xrpc"
)

// schema: app.bsky.graph.getFollows

type GraphGetFollows_Params struct {
	Actor  string `url:"actor"`
	Cursor string `url:"cursor,omitempty"`
	Limit  int64  `url:"limit,omitempty"`
}

type GraphGetFollows_Output struct {
	Cursor  *string                  `json:"cursor,omitempty"`
	Follows []*ActorDefs_ProfileView `json:"follows"`
	Subject *ActorDefs_ProfileView   `json:"subject"`
}

func GraphGetFollows(ctx context.Context, c *xrpc.Client, actor string, cursor string, limit int64) (*GraphGetFollows_Output, error) {
	var out GraphGetFollows_Output

	params := GraphGetFollows_Params{
		Actor:  actor,
		Cursor: cursor,
		Limit:  limit,
	}
	if err := c.Do(ctx, xrpc.Query, "", "app.bsky.graph.getFollows", params, nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}
