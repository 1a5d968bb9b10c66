package bsky

import (
	"context"

	"github.com/redblock-app/chainblock/xrpc"
)

// schema: app.bsky.actor.searchActors

type ActorSearchActors_Params struct {
	Cursor string `url:"cursor,omitempty"`
	Limit  int64  `url:"limit,omitempty"`
	Q      string `url:"q"`
}

type ActorSearchActors_Output struct {
	Actors []*ActorDefs_ProfileView `json:"actors"`
	Cursor *string                  `json:"cursor,omitempty"`
}

func ActorSearchActors(ctx context.Context, c *xrpc.Client, cursor string, limit int64, q string) (*ActorSearchActors_Output, error) {
	var out ActorSearchActors_Output

	params := ActorSearchActors_Params{
		Cursor: cursor,
		Limit:  limit,
		Q:      q,
	}
	if err := c.Do(ctx, xrpc.Query, "", "app.bsky.actor.searchActors", params, nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}
