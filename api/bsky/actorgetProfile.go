package bsky

import (
	"context"

	"github.com/redblock-app/chainblock/xrpc"
)

// schema: app.bsky.actor.getProfile

type ActorGetProfile_Params struct {
	Actor string `url:"actor"`
}

func ActorGetProfile(ctx context.Context, c *xrpc.Client, actor string) (*ActorDefs_ProfileViewDetailed, error) {
	var out ActorDefs_ProfileViewDetailed

	params := ActorGetProfile_Params{
		Actor: actor,
	}
	if err := c.Do(ctx, xrpc.Query, "", "app.bsky.actor.getProfile", params, nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}
