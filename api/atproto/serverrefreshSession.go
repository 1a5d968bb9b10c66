package atproto

import (
	"context"

	"github.com/redblock-app/chainblock/xrpc"
)

// schema: com.atproto.server.refreshSession

type ServerRefreshSession_Output struct {
	AccessJwt  string `json:"accessJwt"`
	Did        string `json:"did"`
	Handle     string `json:"handle"`
	RefreshJwt string `json:"refreshJwt"`
}

// ServerRefreshSession expects the client's AccessJwt to hold the refresh token.
func ServerRefreshSession(ctx context.Context, c *xrpc.Client) (*ServerRefreshSession_Output, error) {
	var out ServerRefreshSession_Output
	if err := c.Do(ctx, xrpc.Procedure, "", "com.atproto.server.refreshSession", nil, nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}
