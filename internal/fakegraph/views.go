package fakegraph

import (
	"fmt"
	"slices"
	"strings"

	appbsky "github.com/redblock-app/chainblock/api/bsky"
)

func (g *Graph) viewerState(viewer, subject string) *appbsky.ActorDefs_ViewerState {
	if viewer == "" {
		return nil
	}
	vs := &appbsky.ActorDefs_ViewerState{}
	if slices.Contains(g.follows[viewer], subject) {
		uri := fmt.Sprintf("at://%s/app.bsky.graph.follow/%s", viewer, strings.TrimPrefix(subject, "did:plc:"))
		vs.Following = &uri
	}
	if slices.Contains(g.follows[subject], viewer) {
		uri := fmt.Sprintf("at://%s/app.bsky.graph.follow/%s", subject, strings.TrimPrefix(viewer, "did:plc:"))
		vs.FollowedBy = &uri
	}
	if rkey, ok := g.blocks[viewer][subject]; ok {
		uri := fmt.Sprintf("at://%s/%s/%s", viewer, appbsky.GraphBlockNSID, rkey)
		vs.Blocking = &uri
	}
	blockedBy := false
	if _, ok := g.blocks[subject][viewer]; ok {
		blockedBy = true
	}
	vs.BlockedBy = &blockedBy
	muted := g.mutes[viewer][subject]
	vs.Muted = &muted
	return vs
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (g *Graph) profileView(viewer string, p *Profile) *appbsky.ActorDefs_ProfileView {
	return &appbsky.ActorDefs_ProfileView{
		Did:         p.DID,
		Handle:      p.Handle,
		DisplayName: optString(p.DisplayName),
		Description: optString(p.Description),
		Viewer:      g.viewerState(viewer, p.DID),
	}
}

func (g *Graph) profileViewDetailed(viewer string, p *Profile) *appbsky.ActorDefs_ProfileViewDetailed {
	followers := int64(len(g.followers[p.DID]))
	follows := int64(len(g.follows[p.DID]))
	return &appbsky.ActorDefs_ProfileViewDetailed{
		Did:            p.DID,
		Handle:         p.Handle,
		DisplayName:    optString(p.DisplayName),
		Description:    optString(p.Description),
		FollowersCount: &followers,
		FollowsCount:   &follows,
		Viewer:         g.viewerState(viewer, p.DID),
	}
}

func (g *Graph) profileViews(viewer string, dids []string) []*appbsky.ActorDefs_ProfileView {
	out := make([]*appbsky.ActorDefs_ProfileView, 0, len(dids))
	for _, did := range dids {
		if p, ok := g.profiles[did]; ok {
			out = append(out, g.profileView(viewer, p))
		}
	}
	return out
}
