package atproto

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redblock-app/chainblock/xrpc"
)

// schema: com.atproto.repo.applyWrites

// Maximum number of writes the PDS accepts in a single applyWrites call.
const RepoApplyWritesMaxWrites = 200

type RepoApplyWrites_Input struct {
	Repo     string                               `json:"repo"`
	Validate *bool                                `json:"validate,omitempty"`
	Writes   []*RepoApplyWrites_Input_Writes_Elem `json:"writes"`
}

// One of Create or Delete is set. Marshalled as the bare union member, with its $type.
type RepoApplyWrites_Input_Writes_Elem struct {
	RepoApplyWrites_Create *RepoApplyWrites_Create
	RepoApplyWrites_Delete *RepoApplyWrites_Delete
}

func (t *RepoApplyWrites_Input_Writes_Elem) MarshalJSON() ([]byte, error) {
	if t.RepoApplyWrites_Create != nil {
		t.RepoApplyWrites_Create.LexiconTypeID = "com.atproto.repo.applyWrites#create"
		return json.Marshal(t.RepoApplyWrites_Create)
	}
	if t.RepoApplyWrites_Delete != nil {
		t.RepoApplyWrites_Delete.LexiconTypeID = "com.atproto.repo.applyWrites#delete"
		return json.Marshal(t.RepoApplyWrites_Delete)
	}
	return nil, fmt.Errorf("cannot marshal empty enum")
}

type RepoApplyWrites_Create struct {
	LexiconTypeID string  `json:"$type"`
	Collection    string  `json:"collection"`
	Rkey          *string `json:"rkey,omitempty"`
	Value         any     `json:"value"`
}

type RepoApplyWrites_Delete struct {
	LexiconTypeID string `json:"$type"`
	Collection    string `json:"collection"`
	Rkey          string `json:"rkey"`
}

type RepoApplyWrites_Output struct {
	Results []json.RawMessage `json:"results,omitempty"`
}

func RepoApplyWrites(ctx context.Context, c *xrpc.Client, input *RepoApplyWrites_Input) (*RepoApplyWrites_Output, error) {
	var out RepoApplyWrites_Output
	if err := c.Do(ctx, xrpc.Procedure, "application/json", "com.atproto.repo.applyWrites", nil, input, &out); err != nil {
		return nil, err
	}

	return &out, nil
}
