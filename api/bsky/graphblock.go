package bsky

// schema: app.bsky.graph.block

const GraphBlockNSID = "app.bsky.graph.block"

// RECORDTYPE: GraphBlock
type GraphBlock struct {
	LexiconTypeID string `json:"$type,const=app.bsky.graph.block"`
	CreatedAt     string `json:"createdAt"`
	// DID of the account to be blocked
	Subject string `json:"subject"`
}

func NewGraphBlock(subject, createdAt string) *GraphBlock {
	return &GraphBlock{
		LexiconTypeID: GraphBlockNSID,
		CreatedAt:     createdAt,
		Subject:       subject,
	}
}
