package bsky

import (
	"context"

	"github.com/redblock-app/chainblock/xrpc"
)

// schema: app.bsky.graph.getFollowers

type GraphGetFollowers_Params struct {
	Actor  string `url:"actor"`
	Cursor string `url:"cursor,omitempty"`
	Limit  int64  `url:"limit,omitempty"`
}

type GraphGetFollowers_Output struct {
	Cursor    *string                  `json:"cursor,omitempty"`
	Followers []*ActorDefs_ProfileView `json:"followers"`
	Subject   *ActorDefs_ProfileView   `json:"subject"`
}

func GraphGetFollowers(ctx context.Context, c *xrpc.Client, actor string, cursor string, limit int64) (*GraphGetFollowers_Output, error) {
	var out GraphGetFollowers_Output

	params := GraphGetFollowers_Params{
		Actor:  actor,
		Cursor: cursor,
		Limit:  limit,
	}
	if err := c.Do(ctx, xrpc.Query, "", "app.bsky.graph.getFollowers", params, nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}
