package bsky

import (
	"context"

	"github.com/redblock-app/chainblock/xrpc"
)

// schema: app.bsky.actor.getProfiles

// Maximum number of actors per getProfiles request.
const ActorGetProfilesMaxActors = 25

type ActorGetProfiles_Params struct {
	Actors []string `url:"actors"`
}

type ActorGetProfiles_Output struct {
	Profiles []*ActorDefs_ProfileViewDetailed `json:"profiles"`
}

func ActorGetProfiles(ctx context.Context, c *xrpc.Client, actors []string) (*ActorGetProfiles_Output, error) {
	var out ActorGetProfiles_Output

	params := ActorGetProfiles_Params{
		Actors: actors,
	}
	if err := c.Do(ctx, xrpc.Query, "", "app.bsky.actor.getProfiles", params, nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}
