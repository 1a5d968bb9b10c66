package bsky

// schema: app.bsky.feed.defs

type FeedDefs_PostView struct {
	Author      *ActorDefs_ProfileViewBasic `json:"author"`
	Cid         string                      `json:"cid"`
	IndexedAt   string                      `json:"indexedAt"`
	LikeCount   *int64                      `json:"likeCount,omitempty"`
	QuoteCount  *int64                      `json:"quoteCount,omitempty"`
	ReplyCount  *int64                      `json:"replyCount,omitempty"`
	RepostCount *int64                      `json:"repostCount,omitempty"`
	Uri         string                      `json:"uri"`
}
