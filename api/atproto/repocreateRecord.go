package atproto

import (
	"context"

	"github.com/redblock-app/chainblock/xrpc"
)

// schema: com.atproto.repo.createRecord

type RepoCreateRecord_Input struct {
	Collection string  `json:"collection"`
	Record     any     `json:"record"`
	Repo       string  `json:"repo"`
	Rkey       *string `json:"rkey,omitempty"`
	Validate   *bool   `json:"validate,omitempty"`
}

type RepoCreateRecord_Output struct {
	Cid string `json:"cid"`
	Uri string `json:"uri"`
}

func RepoCreateRecord(ctx context.Context, c *xrpc.Client, input *RepoCreateRecord_Input) (*RepoCreateRecord_Output, error) {
	var out RepoCreateRecord_Output
	if err := c.Do(ctx, xrpc.Procedure, "application/json", "com.atproto.repo.createRecord", nil, input, &out); err != nil {
		return nil, err
	}

	return &out, nil
}
