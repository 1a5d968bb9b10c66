package bsky

// schema: app.bsky.actor.defs

type ActorDefs_ProfileView struct {
	Avatar      *string                `json:"avatar,omitempty"`
	CreatedAt   *string                `json:"createdAt,omitempty"`
	Description *string                `json:"description,omitempty"`
	Did         string                 `json:"did"`
	DisplayName *string                `json:"displayName,omitempty"`
	Handle      string                 `json:"handle"`
	IndexedAt   *string                `json:"indexedAt,omitempty"`
	Viewer      *ActorDefs_ViewerState `json:"viewer,omitempty"`
}

type ActorDefs_ProfileViewBasic struct {
	Avatar      *string                `json:"avatar,omitempty"`
	Did         string                 `json:"did"`
	DisplayName *string                `json:"displayName,omitempty"`
	Handle      string                 `json:"handle"`
	Viewer      *ActorDefs_ViewerState `json:"viewer,omitempty"`
}

type ActorDefs_ProfileViewDetailed struct {
	Avatar         *string                `json:"avatar,omitempty"`
	Banner         *string                `json:"banner,omitempty"`
	CreatedAt      *string                `json:"createdAt,omitempty"`
	Description    *string                `json:"description,omitempty"`
	Did            string                 `json:"did"`
	DisplayName    *string                `json:"displayName,omitempty"`
	FollowersCount *int64                 `json:"followersCount,omitempty"`
	FollowsCount   *int64                 `json:"followsCount,omitempty"`
	Handle         string                 `json:"handle"`
	IndexedAt      *string                `json:"indexedAt,omitempty"`
	PostsCount     *int64                 `json:"postsCount,omitempty"`
	Viewer         *ActorDefs_ViewerState `json:"viewer,omitempty"`
}

// Metadata about the requesting account's relationship with the subject
// account. Only has meaningful content for authed requests.
type ActorDefs_ViewerState struct {
	// AT-URI of the viewer's block record for the subject, if any
	Blocking *string `json:"blocking,omitempty"`
	// whether the subject has blocked the viewer
	BlockedBy *bool `json:"blockedBy,omitempty"`
	// AT-URI of the subject's follow record for the viewer, if any
	FollowedBy *string `json:"followedBy,omitempty"`
	// AT-URI of the viewer's follow record for the subject, if any
	Following *string `json:"following,omitempty"`
	Muted     *bool   `json:"muted,omitempty"`
}

// ToProfileView drops the fields that only appear on detailed views.
func (pv *ActorDefs_ProfileViewDetailed) ToProfileView() *ActorDefs_ProfileView {
	return &ActorDefs_ProfileView{
		Avatar:      pv.Avatar,
		CreatedAt:   pv.CreatedAt,
		Description: pv.Description,
		Did:         pv.Did,
		DisplayName: pv.DisplayName,
		Handle:      pv.Handle,
		IndexedAt:   pv.IndexedAt,
		Viewer:      pv.Viewer,
	}
}
